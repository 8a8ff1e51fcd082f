package worker

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/ontree-co/treeseg/internal/dss"
	"github.com/ontree-co/treeseg/internal/workspace"
)

type fakeTransport struct {
	mu        sync.Mutex
	bodies    map[string]string
	calls     map[string]int
	serverURL string

	// beforeReply runs off the loop while a request is outstanding
	beforeReply func(path string)
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{bodies: make(map[string]string), calls: make(map[string]int)}
}

func (f *fakeTransport) on(path, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bodies[path] = body
}

func (f *fakeTransport) count(path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[path]
}

func (f *fakeTransport) Get(_ context.Context, pathFormat string, args ...interface{}) (bool, string) {
	path := fmt.Sprintf(pathFormat, args...)
	f.mu.Lock()
	f.calls[path]++
	body, ok := f.bodies[path]
	hook := f.beforeReply
	f.mu.Unlock()

	if hook != nil {
		hook(path)
	}
	if !ok {
		return false, "404 Not Found"
	}
	return true, body
}

func (f *fakeTransport) Authenticate(_ context.Context, serverURL, _ string) bool {
	f.SetServerURL(serverURL)
	return true
}

func (f *fakeTransport) SetServerURL(serverURL string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.serverURL = serverURL
}

type nopStore struct{}

func (nopStore) ReadDefinition(string) (*workspace.Definition, error) {
	return nil, fmt.Errorf("not supported")
}

func (nopStore) CreateTicket(context.Context, *workspace.Definition, string, workspace.ProgressFunc) (int64, error) {
	return 0, fmt.Errorf("not supported")
}

func (nopStore) DownloadResultFiles(context.Context, int64, string, string) ([]string, error) {
	return nil, fmt.Errorf("not supported")
}

func (nopStore) TempDirectory() (string, error) {
	return "", fmt.Errorf("not supported")
}

// startLoop runs a loop over a fresh model until the test ends
func startLoop(t *testing.T, transport *fakeTransport) *Loop {
	t.Helper()
	model := dss.NewModel(transport, nopStore{}, []string{"https://dss.example.org"})
	loop := NewLoop(model, 8)
	loop.Start()
	t.Cleanup(loop.Stop)
	return loop
}

// inspect runs fn on the loop and fails the test if the loop is gone
func inspect(t *testing.T, loop *Loop, fn func(*dss.Model)) {
	t.Helper()
	if err := loop.Do(context.Background(), fn); err != nil {
		t.Fatalf("Do: %v", err)
	}
}
