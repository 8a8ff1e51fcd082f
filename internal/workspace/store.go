package workspace

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/ontree-co/treeseg/internal/logging"
)

// ResultsArea is the file area a service writes its outputs to
const ResultsArea = "results"

// ProgressFunc receives overall progress in [0,1] and a short message
type ProgressFunc func(fraction float64, message string)

// Transport is the part of the REST client the store needs
type Transport interface {
	Get(ctx context.Context, pathFormat string, args ...interface{}) (bool, string)
	Post(ctx context.Context, path string, form url.Values) (bool, string)
	Upload(ctx context.Context, path, filename string, r io.Reader, size int64, progress func(sent, total int64)) (bool, string)
	Download(ctx context.Context, path string, w io.Writer) (int64, error)
}

// Store moves workspaces to and from the service
type Store struct {
	transport Transport
	tempRoot  string
}

// NewStore creates a store using transport. tempRoot may be empty for the system default.
func NewStore(transport Transport, tempRoot string) *Store {
	return &Store{transport: transport, tempRoot: tempRoot}
}

// ReadDefinition loads the saved workspace at path
func (s *Store) ReadDefinition(path string) (*Definition, error) {
	return Load(path)
}

// TempDirectory creates a fresh directory for downloads
func (s *Store) TempDirectory() (string, error) {
	dir, err := os.MkdirTemp(s.tempRoot, "treeseg-")
	if err != nil {
		return "", fmt.Errorf("failed to create temporary directory: %w", err)
	}
	return dir, nil
}

type upload struct {
	layer *Layer
	path  string
	size  int64
}

// CreateTicket registers the workspace with the service identified by
// serviceHash, uploads every layer file and queues the ticket.
func (s *Store) CreateTicket(ctx context.Context, def *Definition, serviceHash string, progress ProgressFunc) (int64, error) {
	if progress == nil {
		progress = func(float64, string) {}
	}

	// Check every file before the service creates anything
	var uploads []upload
	var total int64
	names := make(map[string]*Layer)
	for _, l := range def.Layers {
		if l.Path == "" {
			continue
		}
		// Uploads are stored flat on the service
		name := filepath.Base(l.Path)
		if other, dup := names[name]; dup {
			return 0, fmt.Errorf("layers %q and %q share the file name %s", other.DisplayName(), l.DisplayName(), name)
		}
		names[name] = l
		path := def.ResolvePath(l)
		info, err := os.Stat(path)
		if err != nil {
			return 0, fmt.Errorf("failed to access layer %q: %w", l.DisplayName(), err)
		}
		uploads = append(uploads, upload{layer: l, path: path, size: info.Size()})
		total += info.Size()
	}

	// The service sees bare file names; the files follow as uploads
	remote := &Definition{Name: def.Name}
	for _, l := range def.Layers {
		copied := *l
		if copied.Path != "" {
			copied.Path = filepath.Base(copied.Path)
		}
		copied.Tags = append([]string(nil), l.Tags...)
		remote.Layers = append(remote.Layers, &copied)
	}
	body, err := remote.Marshal()
	if err != nil {
		return 0, fmt.Errorf("failed to encode workspace: %w", err)
	}

	progress(0, "Creating ticket")
	form := url.Values{}
	form.Set("service", serviceHash)
	form.Set("workspace", string(body))
	ok, resp := s.transport.Post(ctx, "api/tickets", form)
	if !ok {
		return 0, fmt.Errorf("failed to create ticket: %s", resp)
	}
	ticketID, err := parseTicketID(resp)
	if err != nil {
		return 0, err
	}
	logging.Infof("Created ticket %d for service %s", ticketID, serviceHash)

	var sentBefore int64
	for _, u := range uploads {
		if err := s.uploadLayer(ctx, ticketID, u, sentBefore, total, progress); err != nil {
			return ticketID, err
		}
		sentBefore += u.size
	}

	ok, resp = s.transport.Post(ctx, fmt.Sprintf("api/tickets/%d/queue", ticketID), url.Values{})
	if !ok {
		return ticketID, fmt.Errorf("failed to queue ticket %d: %s", ticketID, resp)
	}
	progress(1, "Ticket queued")
	return ticketID, nil
}

func (s *Store) uploadLayer(ctx context.Context, ticketID int64, u upload, sentBefore, total int64, progress ProgressFunc) error {
	f, err := os.Open(u.path) //nolint:gosec // Path from the workspace definition
	if err != nil {
		return fmt.Errorf("failed to open layer %q: %w", u.layer.DisplayName(), err)
	}
	defer f.Close() //nolint:errcheck // Read-only file

	name := filepath.Base(u.path)
	message := "Uploading " + name
	progress(fraction(sentBefore, total), message)

	ok, resp := s.transport.Upload(ctx, fmt.Sprintf("api/tickets/%d/files/input", ticketID), name, f, u.size,
		func(sent, _ int64) {
			progress(fraction(sentBefore+sent, total), message)
		})
	if !ok {
		return fmt.Errorf("failed to upload %s to ticket %d: %s", name, ticketID, resp)
	}
	return nil
}

// DownloadResultFiles fetches every file in area of a ticket into destDir
// and returns the local paths.
func (s *Store) DownloadResultFiles(ctx context.Context, ticketID int64, destDir, area string) ([]string, error) {
	ok, resp := s.transport.Get(ctx, "api/tickets/%d/files/%s", ticketID, area)
	if !ok {
		return nil, fmt.Errorf("failed to list files of ticket %d: %s", ticketID, resp)
	}
	if !gjson.Valid(resp) {
		return nil, fmt.Errorf("failed to list files of ticket %d: malformed response", ticketID)
	}

	var files []string
	var downloadErr error
	gjson.Get(resp, "result").ForEach(func(_, entry gjson.Result) bool {
		index := entry.Get("index").Int()
		name := filepath.Base(entry.Get("name").String())
		if name == "." || name == "/" || name == "" {
			name = fmt.Sprintf("file-%d", index)
		}

		target := filepath.Join(destDir, name)
		if err := s.downloadFile(ctx, fmt.Sprintf("api/tickets/%d/files/%s/%d", ticketID, area, index), target); err != nil {
			downloadErr = err
			return false
		}
		files = append(files, target)
		return true
	})
	if downloadErr != nil {
		return files, downloadErr
	}
	return files, nil
}

func (s *Store) downloadFile(ctx context.Context, path, target string) (err error) {
	f, err := os.Create(target) //nolint:gosec // Target inside a directory we created
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", target, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("failed to close %s: %w", target, cerr)
		}
	}()

	if _, err := s.transport.Download(ctx, path, f); err != nil {
		return err
	}
	return nil
}

func parseTicketID(body string) (int64, error) {
	trimmed := strings.TrimSpace(body)
	if gjson.Valid(trimmed) {
		if id := gjson.Get(trimmed, "result.id").Int(); id > 0 {
			return id, nil
		}
	}
	if id, err := strconv.ParseInt(trimmed, 10, 64); err == nil && id > 0 {
		return id, nil
	}
	return 0, errors.New("service did not return a ticket id: " + trimmed)
}

func fraction(done, total int64) float64 {
	if total <= 0 {
		return 0
	}
	f := float64(done) / float64(total)
	if f > 1 {
		return 1
	}
	return f
}
