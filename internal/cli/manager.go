package cli

import (
	"context"
	"time"
)

// Manager abstracts core operations for the CLI.
type Manager interface {
	// UseServer overrides the selected server and token for this run
	UseServer(ctx context.Context, serverURL, token string) error

	ServerStatus(ctx context.Context) (ServerStatus, error)
	ServerList(ctx context.Context) ([]ServerEntry, error)
	ServerAdd(ctx context.Context, serverURL string) error
	ServerRemove(ctx context.Context, serverURL string) error
	ServerSelect(ctx context.Context, index int) error

	ServiceList(ctx context.Context) ([]ServiceRow, error)
	ServiceDetail(ctx context.Context, service, workspacePath string) (ServiceDetail, error)
	TagsBind(ctx context.Context, workspacePath, service string, set map[string]uint64, apply bool) (TagBindings, error)

	Submit(ctx context.Context, workspacePath, service string) <-chan ProgressEvent

	TicketList(ctx context.Context) ([]TicketRow, error)
	TicketLog(ctx context.Context, ticketID int64, follow bool, interval time.Duration) <-chan ProgressEvent
	TicketDelete(ctx context.Context, ticketID int64) error
	TicketDownload(ctx context.Context, ticketID int64) ([]string, error)
	TicketHistory(ctx context.Context, limit int) ([]HistoryRow, error)

	DBStatus(ctx context.Context) (DBStatus, error)
}
