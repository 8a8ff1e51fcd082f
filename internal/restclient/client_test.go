package restclient

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/login", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, "bad form", http.StatusBadRequest)
			return
		}
		if r.PostForm.Get("token") != "good-token" {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}
		http.SetCookie(w, &http.Cookie{Name: "session", Value: "s1", Path: "/"})
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/api/services", func(w http.ResponseWriter, r *http.Request) {
		if c, err := r.Cookie("session"); err != nil || c.Value != "s1" {
			http.Error(w, "not logged in", http.StatusUnauthorized)
			return
		}
		if r.Header.Get("X-Request-ID") == "" {
			http.Error(w, "missing request id", http.StatusBadRequest)
			return
		}
		_, _ = io.WriteString(w, `{"result":[]}`)
	})
	mux.HandleFunc("/api/tickets/7/files/input", func(w http.ResponseWriter, r *http.Request) {
		file, header, err := r.FormFile("myfile")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		defer file.Close() //nolint:errcheck // Test handler
		data, _ := io.ReadAll(file)
		_, _ = io.WriteString(w, header.Filename+":"+string(data))
	})
	mux.HandleFunc("/api/files/blob", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "binary-content")
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestAuthenticateKeepsSession(t *testing.T) {
	srv := newTestServer(t)
	c, err := New("http://unused.invalid", 5*time.Second)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	ctx := context.Background()

	if c.Authenticate(ctx, srv.URL, "bad-token") {
		t.Fatal("expected authentication with bad token to fail")
	}
	if ok, body := c.Get(ctx, "api/services?format=json"); ok {
		t.Fatalf("expected unauthorized listing, got %q", body)
	}

	if !c.Authenticate(ctx, srv.URL, "good-token") {
		t.Fatal("expected authentication to succeed")
	}
	if c.ServerURL() != srv.URL {
		t.Errorf("ServerURL() = %s, want %s", c.ServerURL(), srv.URL)
	}

	ok, body := c.Get(ctx, "api/services?format=json")
	if !ok {
		t.Fatalf("expected listing to succeed, got %q", body)
	}
	if body != `{"result":[]}` {
		t.Errorf("unexpected body %q", body)
	}
}

func TestGetReturnsErrorText(t *testing.T) {
	srv := newTestServer(t)
	c, _ := New(srv.URL+"/", 5*time.Second)

	ok, body := c.Get(context.Background(), "api/tickets/%d/delete", 99)
	if ok {
		t.Fatal("expected 404 to report failure")
	}
	if !strings.Contains(body, "404") && !strings.Contains(body, "not found") {
		t.Errorf("expected diagnostic text, got %q", body)
	}
}

func TestGetTransportFailure(t *testing.T) {
	c, _ := New("http://127.0.0.1:1", time.Second)
	ok, body := c.Get(context.Background(), "api/services")
	if ok {
		t.Fatal("expected connection failure")
	}
	if body == "" {
		t.Error("expected error text for transport failure")
	}
}

func TestPostForm(t *testing.T) {
	var got url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		got = r.PostForm
		_, _ = io.WriteString(w, "42")
	}))
	defer srv.Close()

	c, _ := New(srv.URL, 5*time.Second)
	form := url.Values{}
	form.Set("service", "abc")
	ok, body := c.Post(context.Background(), "api/tickets", form)
	if !ok || body != "42" {
		t.Fatalf("Post() = %v, %q", ok, body)
	}
	if got.Get("service") != "abc" {
		t.Errorf("server saw form %v", got)
	}
}

func TestUploadReportsProgress(t *testing.T) {
	srv := newTestServer(t)
	c, _ := New(srv.URL, 5*time.Second)

	payload := []byte("voxels")
	var lastSent, lastTotal int64
	ok, body := c.Upload(context.Background(), "api/tickets/7/files/input", "main.nii.gz",
		bytes.NewReader(payload), int64(len(payload)), func(sent, total int64) {
			lastSent, lastTotal = sent, total
		})
	if !ok {
		t.Fatalf("Upload() failed: %s", body)
	}
	if body != "main.nii.gz:voxels" {
		t.Errorf("unexpected body %q", body)
	}
	if lastSent != int64(len(payload)) || lastTotal != int64(len(payload)) {
		t.Errorf("progress = %d/%d, want %d/%d", lastSent, lastTotal, len(payload), len(payload))
	}
}

func TestDownload(t *testing.T) {
	srv := newTestServer(t)
	c, _ := New(srv.URL, 5*time.Second)

	var buf bytes.Buffer
	n, err := c.Download(context.Background(), "api/files/blob", &buf)
	if err != nil {
		t.Fatalf("Download() error = %v", err)
	}
	if n != int64(len("binary-content")) || buf.String() != "binary-content" {
		t.Errorf("Download() = %d, %q", n, buf.String())
	}

	if _, err := c.Download(context.Background(), "api/files/missing", &buf); err == nil {
		t.Error("expected error for missing file")
	}
}
