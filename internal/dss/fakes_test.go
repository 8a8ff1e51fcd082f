package dss

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ontree-co/treeseg/internal/workspace"
)

type fakeResponse struct {
	ok   bool
	body string
}

type fakeTransport struct {
	mu        sync.Mutex
	responses map[string]fakeResponse
	authOK    bool
	panicOn   string
	serverURL string
	authCalls int
	gets      []string
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{responses: make(map[string]fakeResponse), authOK: true}
}

func (f *fakeTransport) on(path string, ok bool, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses[path] = fakeResponse{ok: ok, body: body}
}

func (f *fakeTransport) Get(_ context.Context, pathFormat string, args ...interface{}) (bool, string) {
	path := fmt.Sprintf(pathFormat, args...)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gets = append(f.gets, path)
	if path == f.panicOn {
		panic("connection reset")
	}
	resp, ok := f.responses[path]
	if !ok {
		return false, "404 Not Found"
	}
	return resp.ok, resp.body
}

func (f *fakeTransport) Authenticate(_ context.Context, serverURL, _ string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.authCalls++
	f.serverURL = serverURL
	return f.authOK
}

func (f *fakeTransport) SetServerURL(serverURL string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.serverURL = serverURL
}

func (f *fakeTransport) requested(path string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.gets {
		if p == path {
			return true
		}
	}
	return false
}

type fakeStore struct {
	def        *workspace.Definition
	readErr    error
	ticketID   int64
	createErr  error
	created    []string
	files      []string
	downloadTo string
	area       string
}

func (s *fakeStore) ReadDefinition(string) (*workspace.Definition, error) {
	if s.readErr != nil {
		return nil, s.readErr
	}
	return s.def, nil
}

func (s *fakeStore) CreateTicket(_ context.Context, _ *workspace.Definition, serviceHash string, progress workspace.ProgressFunc) (int64, error) {
	if s.createErr != nil {
		return s.ticketID, s.createErr
	}
	s.created = append(s.created, serviceHash)
	if progress != nil {
		progress(1, "done")
	}
	return s.ticketID, nil
}

func (s *fakeStore) DownloadResultFiles(_ context.Context, _ int64, destDir, area string) ([]string, error) {
	s.downloadTo = destDir
	s.area = area
	return s.files, nil
}

func (s *fakeStore) TempDirectory() (string, error) {
	return "/tmp/treeseg-test", nil
}

type fakePrefs struct {
	strings map[string][]string
	ints    map[string]int
	err     error
}

func newFakePrefs() *fakePrefs {
	return &fakePrefs{strings: map[string][]string{}, ints: map[string]int{}}
}

func (p *fakePrefs) GetStrings(key string) ([]string, error) {
	return p.strings[key], p.err
}

func (p *fakePrefs) PutStrings(key string, values []string) error {
	p.strings[key] = values
	return p.err
}

func (p *fakePrefs) GetInt(key string) (int, bool, error) {
	v, ok := p.ints[key]
	return v, ok, p.err
}

func (p *fakePrefs) PutInt(key string, value int) error {
	p.ints[key] = value
	return p.err
}

type recordedSubmission struct {
	server, hash, path string
	ticket             int64
}

type fakeHistory struct {
	records []recordedSubmission
	err     error
}

func (h *fakeHistory) RecordSubmission(_ context.Context, serverURL, serviceHash, workspacePath string, ticketID int64) error {
	h.records = append(h.records, recordedSubmission{serverURL, serviceHash, workspacePath, ticketID})
	return h.err
}

var errBoom = errors.New("boom")

func newTestModel(t *testing.T) (*Model, *fakeTransport, *fakeStore) {
	t.Helper()
	transport := newFakeTransport()
	store := &fakeStore{}
	return NewModel(transport, store, []string{"https://dss.example.org"}), transport, store
}

// testGraph builds a workspace graph from layers
func testGraph(layers ...*workspace.Layer) *workspace.Graph {
	return workspace.NewGraph(&workspace.Definition{Name: "test", Layers: layers})
}

// expectChange waits briefly for a notification on ch
func expectChange(t *testing.T, ch <-chan Change, want ChangeKind) {
	t.Helper()
	select {
	case c := <-ch:
		if c.Kind != want {
			t.Fatalf("change kind = %s, want %s", c.Kind, want)
		}
	case <-time.After(time.Second):
		t.Fatalf("no %s change delivered", want)
	}
}

func expectNoChange(t *testing.T, ch <-chan Change) {
	t.Helper()
	select {
	case c := <-ch:
		t.Fatalf("unexpected %s change on %s", c.Kind, c.Entity)
	default:
	}
}
