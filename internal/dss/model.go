// Package dss is the client side of the distributed segmentation service:
// connection state, the service catalog, tag bindings, submission and ticket
// tracking.
//
// A Model is owned by a single goroutine. Fetch* and Probe* methods only read
// immutable collaborators and may run anywhere; they return plain response
// values that the owner hands to the matching Apply* method.
package dss

import (
	"context"
	"errors"

	"github.com/ontree-co/treeseg/internal/workspace"
)

var (
	ErrNoService          = errors.New("no service selected")
	ErrIncompleteBindings = errors.New("required tags are not assigned")
	ErrNoTicketSelected   = errors.New("no ticket selected")
	ErrUnknownTicket      = errors.New("ticket is not in the listing")
	ErrResultsUnavailable = errors.New("results are only available for successful tickets")
	ErrWorkspaceNotSaved  = errors.New("workspace must be saved before submission")
)

// Transport is the blocking REST client
type Transport interface {
	Get(ctx context.Context, pathFormat string, args ...interface{}) (bool, string)
	Authenticate(ctx context.Context, serverURL, token string) bool
	SetServerURL(serverURL string)
}

// Objects is the layer graph of the loaded workspace
type Objects interface {
	IsMainLoaded() bool
	FindLayersByTag(tag string, roles workspace.Role) []*workspace.Layer
	FindLayer(id uint64) *workspace.Layer
	Layers(roles workspace.Role) []*workspace.Layer
}

// Store moves saved workspaces to the service and results back
type Store interface {
	ReadDefinition(path string) (*workspace.Definition, error)
	CreateTicket(ctx context.Context, def *workspace.Definition, serviceHash string, progress workspace.ProgressFunc) (int64, error)
	DownloadResultFiles(ctx context.Context, ticketID int64, destDir, area string) ([]string, error)
	TempDirectory() (string, error)
}

// PreferenceStore persists simple settings between runs
type PreferenceStore interface {
	GetStrings(key string) ([]string, error)
	PutStrings(key string, values []string) error
	GetInt(key string) (int, bool, error)
	PutInt(key string, value int) error
}

// SubmissionRecorder keeps a local history of created tickets
type SubmissionRecorder interface {
	RecordSubmission(ctx context.Context, serverURL, serviceHash, workspacePath string, ticketID int64) error
}

// UIState is a derived condition the front end gates actions on
type UIState int

const (
	StateAuthenticated UIState = iota
	StateTagsAssigned
)

// Model holds all orchestrator state. Only the owning goroutine may call
// methods that are not documented as safe elsewhere.
type Model struct {
	transport Transport
	store     Store
	objects   Objects
	history   SubmissionRecorder
	topics    Topics

	systemServers []string
	servers       []string
	serverIndex   int
	token         string
	status        ServerStatus

	services        []ServiceSummary
	labels          []string
	serviceIndex    int
	serviceDesc     string
	serviceInfoURL  string
	serviceDetailOf string

	tags     []TagTargetSpec
	tagIndex int

	lastSubmitted int64

	listing        TicketListing
	selectedTicket int64
	detail         TicketDetail
	detailValid    bool

	listingSeq     uint64
	lastListingSeq uint64
	detailSeq      uint64
	lastDetailSeq  uint64
}

// NewModel creates a model talking through transport. systemServers are the
// built-in server URLs; at least one is required.
func NewModel(transport Transport, store Store, systemServers []string) *Model {
	system := append([]string(nil), systemServers...)
	return &Model{
		transport:     transport,
		store:         store,
		topics:        newTopics(),
		systemServers: system,
		servers:       append([]string(nil), system...),
		serviceIndex:  -1,
		tagIndex:      -1,
		listing:       TicketListing{},
	}
}

// Topics returns the change notification channels
func (m *Model) Topics() Topics {
	return m.topics
}

// SetObjects replaces the workspace graph used for tag binding
func (m *Model) SetObjects(objects Objects) {
	m.objects = objects
}

// SetHistory enables local submission history
func (m *Model) SetHistory(history SubmissionRecorder) {
	m.history = history
}

// CheckState evaluates a derived UI condition
func (m *Model) CheckState(state UIState) bool {
	switch state {
	case StateAuthenticated:
		return m.status == ConnectedAuthorized
	case StateTagsAssigned:
		return m.IsComplete()
	}
	return false
}
