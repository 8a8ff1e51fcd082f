// Package main is the entry point for the treeseg command line client
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/ontree-co/treeseg/internal/cli"
	"github.com/ontree-co/treeseg/internal/config"
	"github.com/ontree-co/treeseg/internal/database"
	"github.com/ontree-co/treeseg/internal/dss"
	"github.com/ontree-co/treeseg/internal/logging"
	"github.com/ontree-co/treeseg/internal/migrations"
	"github.com/ontree-co/treeseg/internal/progress"
	"github.com/ontree-co/treeseg/internal/restclient"
	"github.com/ontree-co/treeseg/internal/telemetry"
	"github.com/ontree-co/treeseg/internal/version"
	"github.com/ontree-co/treeseg/internal/worker"
	"github.com/ontree-co/treeseg/internal/workspace"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	// Load .env file if it exists (for development)
	if err := godotenv.Load(); err != nil && os.Getenv("DEBUG") == "true" {
		fmt.Fprintf(os.Stderr, "No .env file found or error loading it: %v\n", err)
	}

	// stdout carries command output only
	logging.SetOutput(os.Stderr)

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		return cli.ExitRuntimeError
	}
	logging.SetDebug(cfg.Debug)

	if cfg.LogDir != "" {
		if err := logging.Initialize(cfg.LogDir); err != nil {
			logging.Warnf("Failed to initialize file logging: %v", err)
		} else {
			defer logging.Close() //nolint:errcheck // Best effort on exit
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if telemetry.Enabled() {
		shutdown, err := telemetry.InitializeFromEnv(ctx, version.Get().Version)
		if err != nil {
			logging.Warnf("Failed to initialize telemetry: %v", err)
		} else {
			defer func() {
				if err := shutdown(context.Background()); err != nil {
					logging.Warnf("Error shutting down telemetry: %v", err)
				}
			}()
		}
	}

	if err := database.Initialize(cfg.DatabasePath); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize database: %v\n", err)
		return cli.ExitRuntimeError
	}
	defer func() {
		if err := database.Close(); err != nil {
			logging.Warnf("Failed to close database: %v", err)
		}
	}()

	client, err := restclient.New(cfg.Servers[0], cfg.HTTPTimeout.Duration)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create REST client: %v\n", err)
		return cli.ExitRuntimeError
	}

	prefs := database.NewPreferenceStore(database.GetDB())
	history := database.NewSubmissionStore(database.GetDB())

	model := dss.NewModel(client, workspace.NewStore(client, ""), cfg.Servers)
	model.SetHistory(history)
	if err := model.LoadPreferences(prefs); err != nil {
		logging.Warnf("Failed to load preferences: %v", err)
	}
	if cfg.Token != "" {
		model.SetToken(cfg.Token)
	}

	loop := worker.NewLoop(model, 0)
	loop.Start()
	defer loop.Stop()

	manager := cli.NewManagerAdapter(cli.AdapterOptions{
		Model:        model,
		Loop:         loop,
		Preferences:  prefs,
		History:      history,
		Tracker:      progress.NewTracker(),
		DatabasePath: cfg.DatabasePath,
		SchemaVersion: func() (int64, error) {
			return migrations.Version(database.GetDB())
		},
	})

	logging.Debugf("Configuration: %s", cfg)
	return cli.ExecuteContext(ctx, args, manager, os.Stdout, os.Stderr)
}
