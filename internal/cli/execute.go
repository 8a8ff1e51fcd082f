package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ontree-co/treeseg/internal/version"
)

// Execute runs the CLI with the provided args and manager.
func Execute(args []string, manager Manager, out, errOut io.Writer) int {
	return ExecuteContext(context.Background(), args, manager, out, errOut)
}

// ExecuteContext is Execute with a context that cancels running commands.
func ExecuteContext(ctx context.Context, args []string, manager Manager, out, errOut io.Writer) int {
	cmd := NewRootCommand(manager, out, errOut)
	cmd.SetArgs(args)
	if err := cmd.ExecuteContext(ctx); err != nil {
		var usageErr *usageError
		if errors.As(err, &usageErr) {
			fmt.Fprintf(errOut, "Error: %v\n", err)
			return ExitInvalidUsage
		}
		var runtimeErr *runtimeError
		if !errors.As(err, &runtimeErr) || !runtimeErr.reported {
			fmt.Fprintf(errOut, "Error: %v\n", err)
		}
		return ExitRuntimeError
	}
	return ExitSuccess
}

// NewRootCommand builds the root CLI command tree.
func NewRootCommand(manager Manager, out, errOut io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:           "treeseg",
		Short:         "submit workspaces to a distributed segmentation service",
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			serverURL, _ := cmd.Flags().GetString("server")
			token, _ := cmd.Flags().GetString("token")
			if serverURL == "" && token == "" {
				return nil
			}
			if serverURL != "" && !strings.HasPrefix(serverURL, "http://") && !strings.HasPrefix(serverURL, "https://") {
				return &usageError{err: fmt.Errorf("server URL %q must start with http:// or https://", serverURL)}
			}
			if err := manager.UseServer(cmd.Context(), serverURL, token); err != nil {
				return writeError(cmd, err)
			}
			return nil
		},
	}
	root.SetOut(out)
	root.SetErr(errOut)
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return &usageError{err: err}
	})

	root.PersistentFlags().Bool("json", false, "output JSONL")
	root.PersistentFlags().String("server", "", "service URL to use instead of the preferred one")
	root.PersistentFlags().String("token", "", "access token for the first login")

	root.AddCommand(newServerCommand(manager))
	root.AddCommand(newServicesCommand(manager))
	root.AddCommand(newTagsCommand(manager))
	root.AddCommand(newSubmitCommand(manager))
	root.AddCommand(newTicketsCommand(manager))
	root.AddCommand(newDBCommand(manager))
	root.AddCommand(newVersionCommand())

	return root
}

type usageError struct {
	err error
}

func (u *usageError) Error() string {
	if u.err == nil {
		return "invalid usage"
	}
	return u.err.Error()
}

func requireArgs(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if len(args) < n {
			return &usageError{err: fmt.Errorf("requires %d argument(s)", n)}
		}
		return nil
	}
}

func parseTicketID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, &usageError{err: fmt.Errorf("invalid ticket id %q", arg)}
	}
	return id, nil
}

// parseBindings reads tag=objectID pairs
func parseBindings(pairs []string) (map[string]uint64, error) {
	set := make(map[string]uint64, len(pairs))
	for _, pair := range pairs {
		name, value, ok := strings.Cut(pair, "=")
		if !ok || name == "" {
			return nil, &usageError{err: fmt.Errorf("binding %q must have the form tag=id", pair)}
		}
		id, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return nil, &usageError{err: fmt.Errorf("binding %q: object id must be a number", pair)}
		}
		set[name] = id
	}
	return set, nil
}

func newServerCommand(manager Manager) *cobra.Command {
	server := &cobra.Command{
		Use:   "server",
		Short: "manage service servers",
	}

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "probe the selected server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			status, err := manager.ServerStatus(cmd.Context())
			if err != nil {
				return writeError(cmd, err)
			}
			var b strings.Builder
			fmt.Fprintf(&b, "%s: %s", status.URL, status.Status)
			for _, s := range status.Services {
				fmt.Fprintf(&b, "\n  [%d] %s", s.Index, s.Label)
			}
			return writeEvent(cmd, ProgressEvent{Type: "result", Message: b.String(), Data: status})
		},
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "list servers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			servers, err := manager.ServerList(cmd.Context())
			if err != nil {
				return writeError(cmd, err)
			}
			lines := make([]string, 0, len(servers))
			for _, s := range servers {
				marker := " "
				if s.Selected {
					marker = "*"
				}
				origin := "user"
				if s.System {
					origin = "system"
				}
				lines = append(lines, fmt.Sprintf("%s [%d] %s (%s)", marker, s.Index, s.URL, origin))
			}
			return writeEvent(cmd, ProgressEvent{Type: "result", Message: strings.Join(lines, "\n"), Data: servers})
		},
	}

	addCmd := &cobra.Command{
		Use:   "add <url>",
		Short: "add a server to the user list",
		Args:  requireArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := manager.ServerAdd(cmd.Context(), args[0]); err != nil {
				return writeError(cmd, err)
			}
			return writeEvent(cmd, ProgressEvent{Type: "success", Message: "added " + args[0]})
		},
	}

	removeCmd := &cobra.Command{
		Use:   "remove <url>",
		Short: "remove a server from the user list",
		Args:  requireArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := manager.ServerRemove(cmd.Context(), args[0]); err != nil {
				return writeError(cmd, err)
			}
			return writeEvent(cmd, ProgressEvent{Type: "success", Message: "removed " + args[0]})
		},
	}

	selectCmd := &cobra.Command{
		Use:   "select <index>",
		Short: "select the preferred server",
		Args:  requireArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			index, err := strconv.Atoi(args[0])
			if err != nil {
				return &usageError{err: fmt.Errorf("invalid server index %q", args[0])}
			}
			if err := manager.ServerSelect(cmd.Context(), index); err != nil {
				return writeError(cmd, err)
			}
			return writeEvent(cmd, ProgressEvent{Type: "success", Message: fmt.Sprintf("selected server %d", index)})
		},
	}

	server.AddCommand(statusCmd, listCmd, addCmd, removeCmd, selectCmd)
	return server
}

func newServicesCommand(manager Manager) *cobra.Command {
	services := &cobra.Command{
		Use:   "services",
		Short: "browse the service catalog",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "list services",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rows, err := manager.ServiceList(cmd.Context())
			if err != nil {
				return writeError(cmd, err)
			}
			lines := make([]string, 0, len(rows))
			for _, s := range rows {
				lines = append(lines, fmt.Sprintf("[%d] %s  (%s)", s.Index, s.Label, s.Hash))
			}
			return writeEvent(cmd, ProgressEvent{Type: "result", Message: strings.Join(lines, "\n"), Data: rows})
		},
	}

	detailCmd := &cobra.Command{
		Use:   "detail <index|hash>",
		Short: "show a service and its tag requirements",
		Args:  requireArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			workspacePath, _ := cmd.Flags().GetString("workspace")
			detail, err := manager.ServiceDetail(cmd.Context(), args[0], workspacePath)
			if err != nil {
				return writeError(cmd, err)
			}
			return writeEvent(cmd, ProgressEvent{Type: "result", Message: formatDetail(detail), Data: detail})
		},
	}
	detailCmd.Flags().String("workspace", "", "workspace to match tags against")

	services.AddCommand(listCmd, detailCmd)
	return services
}

func newTagsCommand(manager Manager) *cobra.Command {
	tags := &cobra.Command{
		Use:   "tags",
		Short: "bind workspace objects to service tags",
	}

	bindCmd := &cobra.Command{
		Use:   "bind <workspace>",
		Short: "show and change tag bindings",
		Args:  requireArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			service, _ := cmd.Flags().GetString("service")
			pairs, _ := cmd.Flags().GetStringArray("set")
			apply, _ := cmd.Flags().GetBool("apply")
			if service == "" {
				return &usageError{err: fmt.Errorf("--service is required")}
			}
			set, err := parseBindings(pairs)
			if err != nil {
				return err
			}

			bindings, err := manager.TagsBind(cmd.Context(), args[0], service, set, apply)
			if err != nil {
				return writeError(cmd, err)
			}
			message := formatDetail(bindings.ServiceDetail)
			if bindings.Saved {
				message += "\nsaved " + bindings.Workspace
			}
			return writeEvent(cmd, ProgressEvent{Type: "result", Message: message, Data: bindings})
		},
	}
	bindCmd.Flags().String("service", "", "service index, hash or name")
	bindCmd.Flags().StringArray("set", nil, "bind tag=objectID (repeatable, 0 unbinds)")
	bindCmd.Flags().Bool("apply", false, "write the bindings into the workspace file")

	tags.AddCommand(bindCmd)
	return tags
}

func newSubmitCommand(manager Manager) *cobra.Command {
	submit := &cobra.Command{
		Use:   "submit <workspace>",
		Short: "submit a saved workspace to a service",
		Args:  requireArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			service, _ := cmd.Flags().GetString("service")
			if service == "" {
				return &usageError{err: fmt.Errorf("--service is required")}
			}
			return streamEvents(cmd, manager.Submit(cmd.Context(), args[0], service))
		},
	}
	submit.Flags().String("service", "", "service index, hash or name")
	return submit
}

func newTicketsCommand(manager Manager) *cobra.Command {
	tickets := &cobra.Command{
		Use:   "tickets",
		Short: "track submitted tickets",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "list tickets",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rows, err := manager.TicketList(cmd.Context())
			if err != nil {
				return writeError(cmd, err)
			}
			lines := make([]string, 0, len(rows))
			for _, r := range rows {
				lines = append(lines, fmt.Sprintf("%6d  %-12s %s", r.ID, r.Status, r.Service))
			}
			return writeEvent(cmd, ProgressEvent{Type: "result", Message: strings.Join(lines, "\n"), Data: rows})
		},
	}

	logCmd := &cobra.Command{
		Use:   "log <id>",
		Short: "show a ticket's progress and log",
		Args:  requireArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseTicketID(args[0])
			if err != nil {
				return err
			}
			follow, _ := cmd.Flags().GetBool("follow")
			interval, _ := cmd.Flags().GetDuration("interval")
			return streamEvents(cmd, manager.TicketLog(cmd.Context(), id, follow, interval))
		},
	}
	logCmd.Flags().Bool("follow", false, "keep polling until the ticket finishes")
	logCmd.Flags().Duration("interval", 5*time.Second, "poll interval for --follow")

	deleteCmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "delete a ticket",
		Args:  requireArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseTicketID(args[0])
			if err != nil {
				return err
			}
			if err := manager.TicketDelete(cmd.Context(), id); err != nil {
				return writeError(cmd, err)
			}
			return writeEvent(cmd, ProgressEvent{Type: "success", Message: fmt.Sprintf("deleted ticket %d", id)})
		},
	}

	downloadCmd := &cobra.Command{
		Use:   "download <id>",
		Short: "download the results of a successful ticket",
		Args:  requireArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseTicketID(args[0])
			if err != nil {
				return err
			}
			files, err := manager.TicketDownload(cmd.Context(), id)
			if err != nil {
				return writeError(cmd, err)
			}
			return writeEvent(cmd, ProgressEvent{Type: "result", Message: strings.Join(files, "\n"), Data: files})
		},
	}

	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "list tickets submitted from this machine",
		RunE: func(cmd *cobra.Command, _ []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			rows, err := manager.TicketHistory(cmd.Context(), limit)
			if err != nil {
				return writeError(cmd, err)
			}
			lines := make([]string, 0, len(rows))
			for _, r := range rows {
				lines = append(lines, fmt.Sprintf("%6d  %s  %s  %s", r.TicketID, r.SubmittedAt.Local().Format(time.DateTime), r.ServerURL, r.WorkspacePath))
			}
			return writeEvent(cmd, ProgressEvent{Type: "result", Message: strings.Join(lines, "\n"), Data: rows})
		},
	}
	historyCmd.Flags().Int("limit", 20, "maximum number of entries, 0 for all")

	tickets.AddCommand(listCmd, logCmd, deleteCmd, downloadCmd, historyCmd)
	return tickets
}

func newDBCommand(manager Manager) *cobra.Command {
	db := &cobra.Command{
		Use:   "db",
		Short: "inspect the local database",
	}

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "show the schema version",
		RunE: func(cmd *cobra.Command, _ []string) error {
			status, err := manager.DBStatus(cmd.Context())
			if err != nil {
				return writeError(cmd, err)
			}
			message := fmt.Sprintf("%s: schema version %d", status.Path, status.Version)
			return writeEvent(cmd, ProgressEvent{Type: "result", Message: message, Data: status})
		},
	}

	db.AddCommand(statusCmd)
	return db
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "print version information",
		RunE: func(cmd *cobra.Command, _ []string) error {
			info := version.Get()
			message := fmt.Sprintf("treeseg version %s\n  commit: %s\n  built: %s\n  go: %s\n  platform: %s",
				info.Version, info.Commit, info.BuildDate, info.GoVersion, info.Platform)
			return writeEvent(cmd, ProgressEvent{Type: "result", Message: message, Data: info})
		},
	}
}

func formatDetail(detail ServiceDetail) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n%s", detail.Service.Label, detail.Description)
	if detail.InfoURL != "" {
		fmt.Fprintf(&b, "\n%s", detail.InfoURL)
	}
	for _, tag := range detail.Tags {
		required := ""
		if tag.Required {
			required = " (required)"
		}
		fmt.Fprintf(&b, "\n  %s [%s]%s -> %s", tag.Name, tag.Kind, required, tag.Description)
		if tag.ObjectID != 0 {
			fmt.Fprintf(&b, " #%d", tag.ObjectID)
		}
		if tag.LoadAction != "" {
			fmt.Fprintf(&b, " (%s)", tag.LoadAction)
		}
	}
	if detail.Complete {
		b.WriteString("\nall required tags are assigned")
	} else {
		b.WriteString("\nrequired tags are missing")
	}
	return b.String()
}

func streamEvents(cmd *cobra.Command, events <-chan ProgressEvent) error {
	ctx := cmd.Context()
	jsonOutput, _ := cmd.Flags().GetBool("json")
	var failure error
	for event := range events {
		if err := writeEventWithContext(ctx, cmd, event, jsonOutput); err != nil {
			return err
		}
		if event.Type == "error" {
			failure = errors.New(event.Message)
		}
	}
	if failure != nil {
		return &runtimeError{err: failure, reported: true}
	}
	return nil
}

type runtimeError struct {
	err      error
	reported bool
}

func (r *runtimeError) Error() string {
	if r.err == nil {
		return "runtime error"
	}
	return r.err.Error()
}

func (r *runtimeError) Unwrap() error {
	return r.err
}

func writeError(cmd *cobra.Command, err error) error {
	jsonOutput, _ := cmd.Flags().GetBool("json")
	if jsonOutput {
		_ = writeEventWithContext(cmd.Context(), cmd, ProgressEvent{
			Type:    "error",
			Message: err.Error(),
			Code:    errorCode(err),
		}, true)
	}
	return &runtimeError{err: err, reported: jsonOutput}
}

func writeEvent(cmd *cobra.Command, event ProgressEvent) error {
	jsonOutput, _ := cmd.Flags().GetBool("json")
	return writeEventWithContext(cmd.Context(), cmd, event, jsonOutput)
}

func writeEventWithContext(ctx context.Context, cmd *cobra.Command, event ProgressEvent, jsonOutput bool) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	if jsonOutput {
		encoder := json.NewEncoder(cmd.OutOrStdout())
		return encoder.Encode(event)
	}
	if event.Message != "" {
		_, err := fmt.Fprintln(cmd.OutOrStdout(), event.Message)
		return err
	}
	return nil
}
