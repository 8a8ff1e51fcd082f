package cli

import (
	"context"
	"errors"

	"github.com/ontree-co/treeseg/internal/dss"
)

var (
	ErrNotAuthorized   = errors.New("not authorized")
	ErrUnknownService  = errors.New("unknown service")
	ErrHistoryDisabled = errors.New("submission history is not available")
)

var errorCodes = []struct {
	err  error
	code string
}{
	{ErrNotAuthorized, "not_authorized"},
	{ErrUnknownService, "unknown_service"},
	{ErrHistoryDisabled, "history_disabled"},
	{dss.ErrNoService, "no_service"},
	{dss.ErrIncompleteBindings, "incomplete_bindings"},
	{dss.ErrNoTicketSelected, "no_ticket"},
	{dss.ErrUnknownTicket, "unknown_ticket"},
	{dss.ErrResultsUnavailable, "results_unavailable"},
	{dss.ErrWorkspaceNotSaved, "workspace_not_saved"},
	{context.DeadlineExceeded, "timeout"},
	{context.Canceled, "canceled"},
}

// errorCode maps well known failures to a stable machine readable code
func errorCode(err error) string {
	for _, c := range errorCodes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return ""
}
