package host

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bundleup/bundleup/internal/errs"
	"github.com/bundleup/bundleup/internal/logger"
	"github.com/bundleup/bundleup/internal/service"
)

func TestMain(m *testing.M) {
	logger.UseTestMode()
	os.Exit(m.Run())
}

func TestBundlePathLayout(t *testing.T) {
	r := NewFSRuntime("/data/bundles", nil)
	got := r.BundlePath("v7")
	want := filepath.Join("/data/bundles", "v7", BundleFileName)
	if got != want {
		t.Fatalf("BundlePath = %q, want %q", got, want)
	}
}

func TestBundleDirectoryCreates(t *testing.T) {
	root := t.TempDir()
	r := NewFSRuntime(root, nil)

	dir, err := r.BundleDirectory("v1")
	if err != nil {
		t.Fatal(err)
	}
	st, err := os.Stat(dir)
	if err != nil {
		t.Fatal(err)
	}
	if !st.IsDir() {
		t.Fatalf("%s is not a directory", dir)
	}
}

func TestDownloadFullBundle(t *testing.T) {
	content := []byte("bundle payload for download")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(content)
	}))
	defer srv.Close()

	root := t.TempDir()
	r := NewFSRuntime(root, service.NewHTTPClient(5*time.Second))

	var lastReceived, lastTotal int64
	path, err := r.DownloadFullBundle(context.Background(), srv.URL, "v3",
		func(received, total int64) { lastReceived, lastTotal = received, total })
	if err != nil {
		t.Fatal(err)
	}
	if path != r.BundlePath("v3") {
		t.Fatalf("downloaded to %q, want %q", path, r.BundlePath("v3"))
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != string(content) {
		t.Fatalf("downloaded content = %q", data)
	}
	if lastReceived != int64(len(content)) || lastTotal != int64(len(content)) {
		t.Fatalf("progress ended at %d/%d, want %d/%d", lastReceived, lastTotal, len(content), len(content))
	}
}

func TestDownloadFullBundle_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusInternalServerError)
	}))
	defer srv.Close()

	r := NewFSRuntime(t.TempDir(), service.NewHTTPClient(5*time.Second))
	_, err := r.DownloadFullBundle(context.Background(), srv.URL, "v3", nil)
	if err == nil {
		t.Fatal("expected error from 500 response")
	}
	if !errs.IsCode(err, errs.NetworkError) {
		t.Fatalf("expected NetworkError, got %v", err)
	}
}

func TestEnsureBaseline_SeedsOnce(t *testing.T) {
	root := t.TempDir()
	seed := filepath.Join(t.TempDir(), "seed.bundle")
	if err := os.WriteFile(seed, []byte("baseline code"), 0o644); err != nil {
		t.Fatal(err)
	}

	r := NewFSRuntime(root, nil, WithBaselineSeed(seed))

	path, err := r.EnsureBaseline()
	if err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "baseline code" {
		t.Fatalf("baseline content = %q", data)
	}

	// Second call must return the existing file, not re-copy the seed.
	if err := os.Remove(seed); err != nil {
		t.Fatal(err)
	}
	again, err := r.EnsureBaseline()
	if err != nil {
		t.Fatal(err)
	}
	if again != path {
		t.Fatalf("second EnsureBaseline = %q, want %q", again, path)
	}
}

func TestEnsureBaseline_NoSeedConfigured(t *testing.T) {
	r := NewFSRuntime(t.TempDir(), nil)
	_, err := r.EnsureBaseline()
	if err == nil {
		t.Fatal("expected error without seed or existing baseline")
	}
	if !errs.IsCode(err, errs.HostUnavailable) {
		t.Fatalf("expected HostUnavailable, got %v", err)
	}
}

func TestReload(t *testing.T) {
	var got string
	r := NewFSRuntime(t.TempDir(), nil, WithReload(func(path string) error {
		got = path
		return nil
	}))
	if err := r.Reload("/b/v2/index.bundle"); err != nil {
		t.Fatal(err)
	}
	if got != "/b/v2/index.bundle" {
		t.Fatalf("reload hook got %q", got)
	}
}

func TestReload_NoHookIsNoop(t *testing.T) {
	r := NewFSRuntime(t.TempDir(), nil)
	if err := r.Reload("/b/v2/index.bundle"); err != nil {
		t.Fatal(err)
	}
}

func TestReload_HookFailureWrapped(t *testing.T) {
	r := NewFSRuntime(t.TempDir(), nil, WithReload(func(string) error {
		return os.ErrPermission
	}))
	err := r.Reload("/b/v2/index.bundle")
	if !errs.IsCode(err, errs.HostUnavailable) {
		t.Fatalf("expected HostUnavailable, got %v", err)
	}
}
