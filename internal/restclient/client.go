// Package restclient is the blocking request/response transport used to talk
// to a distributed segmentation service.
package restclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/ontree-co/treeseg/internal/logging"
	"github.com/ontree-co/treeseg/internal/telemetry"
	"github.com/ontree-co/treeseg/internal/version"
)

// maxResponseBody caps how much of a JSON response is buffered
const maxResponseBody = 16 * 1024 * 1024

// Client talks to one service at a time. Session cookies from a successful
// login are kept in the jar, so later requests are authorized without the token.
type Client struct {
	mu         sync.RWMutex
	serverURL  string
	httpClient *http.Client
}

// New creates a client for serverURL with the given per-request timeout
func New(serverURL string, timeout time.Duration) (*Client, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}
	return &Client{
		serverURL: strings.TrimRight(serverURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
			Jar:     jar,
		},
	}, nil
}

// SetServerURL points subsequent requests at a different service
func (c *Client) SetServerURL(serverURL string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.serverURL = strings.TrimRight(serverURL, "/")
}

// ServerURL returns the service currently targeted
func (c *Client) ServerURL() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.serverURL
}

// URL joins path onto the current server URL
func (c *Client) URL(path string) string {
	server := c.ServerURL()
	if path == "" {
		return server
	}
	return server + "/" + strings.TrimLeft(path, "/")
}

// Authenticate switches to serverURL and exchanges token for a session.
// It returns false for rejected tokens as well as transport errors.
func (c *Client) Authenticate(ctx context.Context, serverURL, token string) bool {
	c.SetServerURL(serverURL)

	form := url.Values{}
	form.Set("token", token)
	ok, body := c.Post(ctx, "api/login", form)
	if !ok {
		logging.Debugf("Authentication against %s failed: %s", serverURL, body)
	}
	return ok
}

// Get issues a GET for the path built from pathFormat and args. The boolean
// is true for 2xx responses; the string is the response body, or the error
// text when no response was received.
func (c *Client) Get(ctx context.Context, pathFormat string, args ...interface{}) (bool, string) {
	path := pathFormat
	if len(args) > 0 {
		path = fmt.Sprintf(pathFormat, args...)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.URL(path), nil)
	if err != nil {
		return false, fmt.Sprintf("failed to create request: %v", err)
	}
	return c.do(ctx, req, path)
}

// Post submits form as application/x-www-form-urlencoded
func (c *Client) Post(ctx context.Context, path string, form url.Values) (bool, string) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL(path), strings.NewReader(form.Encode()))
	if err != nil {
		return false, fmt.Sprintf("failed to create request: %v", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.do(ctx, req, path)
}

// Upload streams a single file as multipart form field "myfile". progress,
// if non-nil, receives the number of bytes written so far and the total size.
func (c *Client) Upload(ctx context.Context, path, filename string, r io.Reader, size int64, progress func(sent, total int64)) (bool, string) {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	done := make(chan struct{})

	go func() {
		defer close(done)
		part, err := mw.CreateFormFile("myfile", filename)
		if err != nil {
			pw.CloseWithError(err)
			return
		}
		counter := &countingWriter{w: part, total: size, progress: progress}
		if _, err := io.Copy(counter, r); err != nil {
			pw.CloseWithError(err)
			return
		}
		pw.CloseWithError(mw.Close())
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL(path), pr)
	if err != nil {
		_ = pr.Close()
		<-done
		return false, fmt.Sprintf("failed to create request: %v", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	ok, body := c.do(ctx, req, path)

	// No progress callbacks after return
	_ = pr.Close()
	<-done
	return ok, body
}

// Download copies the body of a GET on path into w
func (c *Client) Download(ctx context.Context, path string, w io.Writer) (int64, error) {
	ctx, span := telemetry.StartSpan(ctx, "restclient.Download")
	defer span.End()
	span.SetAttributes(attribute.String("http.path", path))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.URL(path), nil)
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	c.decorate(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("failed to download %s: %w", path, err)
	}
	defer resp.Body.Close() //nolint:errcheck // Read-only body

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		span.SetStatus(codes.Error, resp.Status)
		return 0, fmt.Errorf("failed to download %s (HTTP %d)", path, resp.StatusCode)
	}

	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return n, fmt.Errorf("failed to read download body: %w", err)
	}
	return n, nil
}

func (c *Client) decorate(req *http.Request) {
	req.Header.Set("User-Agent", version.UserAgent())
	req.Header.Set("X-Request-ID", uuid.New().String())
}

func (c *Client) do(ctx context.Context, req *http.Request, path string) (bool, string) {
	ctx, span := telemetry.StartSpan(ctx, "restclient."+req.Method)
	defer span.End()
	span.SetAttributes(
		attribute.String("http.method", req.Method),
		attribute.String("http.path", path),
	)
	req = req.WithContext(ctx)
	c.decorate(req)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logging.Debugf("%s %s failed after %s: %v", req.Method, path, time.Since(start), err)
		return false, err.Error()
	}
	defer resp.Body.Close() //nolint:errcheck // Read-only body

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil && !errors.Is(err, io.EOF) {
		span.RecordError(err)
		return false, fmt.Sprintf("failed to read response: %v", err)
	}

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	logging.Debugf("%s %s -> %d in %s", req.Method, path, resp.StatusCode, time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		span.SetStatus(codes.Error, resp.Status)
		text := strings.TrimSpace(string(body))
		if text == "" {
			text = resp.Status
		}
		return false, text
	}
	return true, string(body)
}

// countingWriter reports bytes passed through to w
type countingWriter struct {
	w        io.Writer
	sent     int64
	total    int64
	progress func(sent, total int64)
}

func (cw *countingWriter) Write(p []byte) (int, error) {
	n, err := cw.w.Write(p)
	if n > 0 {
		cw.sent += int64(n)
		if cw.progress != nil {
			cw.progress(cw.sent, cw.total)
		}
	}
	return n, err
}
