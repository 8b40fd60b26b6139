package storage

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

// fakeObjectAPI is a minimal S3-compatible endpoint backed by a map.
// GET responses flush the first half of the body, pause, then send the
// rest, so readers are forced to keep reading after Open has returned.
type fakeObjectAPI struct {
	mu      sync.Mutex
	objects map[string][]byte
	puts    []string
}

func newFakeObjectAPI() *fakeObjectAPI {
	return &fakeObjectAPI{objects: make(map[string][]byte)}
}

func (f *fakeObjectAPI) key(path string) string {
	return strings.TrimPrefix(strings.TrimPrefix(path, "/blobs"), "/")
}

func (f *fakeObjectAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	key := f.key(r.URL.Path)

	switch r.Method {
	case http.MethodHead:
		if key == "" {
			w.WriteHeader(http.StatusOK) // bucket probe
			return
		}
		f.mu.Lock()
		_, ok := f.objects[key]
		f.mu.Unlock()
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)

	case http.MethodGet:
		f.mu.Lock()
		data, ok := f.objects[key]
		f.mu.Unlock()
		if !ok {
			w.Header().Set("Content-Type", "application/xml")
			w.WriteHeader(http.StatusNotFound)
			io.WriteString(w, `<?xml version="1.0" encoding="UTF-8"?>`+
				`<Error><Code>NoSuchKey</Code><Message>The specified key does not exist.</Message></Error>`)
			return
		}
		half := len(data) / 2
		w.WriteHeader(http.StatusOK)
		w.Write(data[:half])
		if fl, ok := w.(http.Flusher); ok {
			fl.Flush()
		}
		time.Sleep(50 * time.Millisecond)
		w.Write(data[half:])

	case http.MethodPut:
		io.Copy(io.Discard, r.Body)
		f.mu.Lock()
		f.objects[key] = nil
		f.puts = append(f.puts, key)
		f.mu.Unlock()
		w.WriteHeader(http.StatusOK)

	case http.MethodDelete:
		f.mu.Lock()
		delete(f.objects, key)
		f.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)

	default:
		w.WriteHeader(http.StatusBadRequest)
	}
}

func (f *fakeObjectAPI) seed(key string, data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[key] = data
}

func newTestS3Store(t *testing.T, api *fakeObjectAPI) *S3Store {
	t.Helper()
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)

	store, err := NewS3Store(S3Config{
		Endpoint:        srv.URL,
		Region:          "us-east-1",
		AccessKeyID:     "test",
		SecretAccessKey: "test",
		Bucket:          "blobs",
		UsePathStyle:    true,
	})
	if err != nil {
		t.Fatalf("NewS3Store failed: %v", err)
	}
	return store
}

func TestS3Store(t *testing.T) {
	t.Run("body stays readable after Open returns", func(t *testing.T) {
		api := newFakeObjectAPI()
		content := strings.Repeat("s", 32*1024)
		api.seed("k1", []byte(content))
		store := newTestS3Store(t, api)

		r, err := store.Open("k1")
		if err != nil {
			t.Fatalf("Open failed: %v", err)
		}
		defer r.Close()

		data, err := io.ReadAll(r)
		if err != nil {
			t.Fatalf("read after Open failed: %v", err)
		}
		if string(data) != content {
			t.Errorf("expected %d bytes back, got %d", len(content), len(data))
		}
	})

	t.Run("open missing blob fails", func(t *testing.T) {
		store := newTestS3Store(t, newFakeObjectAPI())
		if _, err := store.Open("nope"); err == nil {
			t.Error("expected error for missing blob")
		}
	})

	t.Run("exists", func(t *testing.T) {
		api := newFakeObjectAPI()
		api.seed("k1", []byte("x"))
		store := newTestS3Store(t, api)

		if ok, err := store.Exists("k1"); err != nil || !ok {
			t.Errorf("expected k1 to exist, got ok=%v err=%v", ok, err)
		}
		if ok, err := store.Exists("k2"); err != nil || ok {
			t.Errorf("expected k2 to be absent, got ok=%v err=%v", ok, err)
		}
	})

	t.Run("delete is idempotent", func(t *testing.T) {
		api := newFakeObjectAPI()
		api.seed("k1", []byte("x"))
		store := newTestS3Store(t, api)

		if err := store.Delete("k1"); err != nil {
			t.Fatalf("Delete failed: %v", err)
		}
		if err := store.Delete("k1"); err != nil {
			t.Errorf("second delete should be a no-op, got %v", err)
		}
		if ok, _ := store.Exists("k1"); ok {
			t.Error("expected blob to be gone after delete")
		}
	})

	t.Run("writer uploads on close", func(t *testing.T) {
		api := newFakeObjectAPI()
		store := newTestS3Store(t, api)

		w, err := store.Create("k1")
		if err != nil {
			t.Fatalf("Create failed: %v", err)
		}
		if _, err := io.Copy(w, strings.NewReader("payload")); err != nil {
			t.Fatalf("write failed: %v", err)
		}

		api.mu.Lock()
		uploads := len(api.puts)
		api.mu.Unlock()
		if uploads != 0 {
			t.Fatal("nothing should be uploaded before Close")
		}

		if err := w.Close(); err != nil {
			t.Fatalf("Close failed: %v", err)
		}
		api.mu.Lock()
		defer api.mu.Unlock()
		if len(api.puts) != 1 || api.puts[0] != "k1" {
			t.Errorf("expected one upload for k1, got %v", api.puts)
		}
	})

	t.Run("EnsureReady probes the bucket", func(t *testing.T) {
		store := newTestS3Store(t, newFakeObjectAPI())
		if err := store.EnsureReady(); err != nil {
			t.Errorf("EnsureReady failed: %v", err)
		}
	})

	t.Run("missing credentials are rejected", func(t *testing.T) {
		if _, err := NewS3Store(S3Config{Bucket: "blobs"}); err == nil {
			t.Error("expected error for missing credentials")
		}
	})
}
