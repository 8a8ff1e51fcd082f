package cli

import "time"

// Exit codes returned by Execute
const (
	ExitSuccess      = 0
	ExitRuntimeError = 1
	ExitInvalidUsage = 2
)

// ProgressEvent streams progress updates from long-running operations.
type ProgressEvent struct {
	Type    string      `json:"type"`
	Message string      `json:"message,omitempty"`
	Code    string      `json:"code,omitempty"`
	Percent int         `json:"percent,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

// ServerEntry is one configured server
type ServerEntry struct {
	Index    int    `json:"index"`
	URL      string `json:"url"`
	System   bool   `json:"system"`
	Selected bool   `json:"selected"`
}

// ServerStatus is the outcome of probing the selected server
type ServerStatus struct {
	URL      string       `json:"url"`
	Status   string       `json:"status"`
	Services []ServiceRow `json:"services,omitempty"`
}

// ServiceRow is one catalog entry
type ServiceRow struct {
	Index            int    `json:"index"`
	Label            string `json:"label"`
	Name             string `json:"name"`
	Version          string `json:"version"`
	Hash             string `json:"hash"`
	ShortDescription string `json:"short_description,omitempty"`
}

// TagRow is a tag requirement together with its current binding
type TagRow struct {
	Name        string          `json:"name"`
	Kind        string          `json:"kind"`
	Required    bool            `json:"required"`
	Hint        string          `json:"hint,omitempty"`
	ObjectID    uint64          `json:"object_id"`
	Description string          `json:"description"`
	LoadAction  string          `json:"load_action,omitempty"`
	Candidates  []CandidateInfo `json:"candidates,omitempty"`
}

// CandidateInfo is an object a tag can be bound to
type CandidateInfo struct {
	ID   uint64 `json:"id"`
	Name string `json:"name"`
}

// ServiceDetail describes a service and how a workspace satisfies its tags
type ServiceDetail struct {
	Service     ServiceRow `json:"service"`
	Description string     `json:"description"`
	InfoURL     string     `json:"info_url,omitempty"`
	Tags        []TagRow   `json:"tags"`
	Complete    bool       `json:"complete"`
}

// TagBindings is the result of binding a workspace to a service
type TagBindings struct {
	ServiceDetail
	Workspace string `json:"workspace"`
	Saved     bool   `json:"saved"`
}

// TicketRow is one ticket of the listing
type TicketRow struct {
	ID      int64  `json:"id"`
	Service string `json:"service"`
	Status  string `json:"status"`
}

// LogLine is one ticket log entry
type LogLine struct {
	ID          int64    `json:"id"`
	Category    string   `json:"category"`
	Timestamp   string   `json:"timestamp,omitempty"`
	Text        string   `json:"text"`
	Attachments []string `json:"attachments,omitempty"`
}

// HistoryRow is a locally recorded submission
type HistoryRow struct {
	TicketID      int64     `json:"ticket_id"`
	ServerURL     string    `json:"server_url"`
	ServiceHash   string    `json:"service_hash"`
	WorkspacePath string    `json:"workspace_path"`
	SubmittedAt   time.Time `json:"submitted_at"`
}

// DBStatus reports the local database schema
type DBStatus struct {
	Path    string `json:"path"`
	Version int64  `json:"version"`
}
