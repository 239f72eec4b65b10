package updater

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bundleup/bundleup/internal/assets"
	"github.com/bundleup/bundleup/internal/errs"
	"github.com/bundleup/bundleup/internal/host"
	"github.com/bundleup/bundleup/internal/logger"
	"github.com/bundleup/bundleup/internal/models"
	"github.com/bundleup/bundleup/internal/service"
	"github.com/bundleup/bundleup/internal/state"
	"github.com/bundleup/bundleup/internal/verify"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	logger.UseTestMode()
	os.Exit(m.Run())
}

type fakeChecker struct {
	info   *models.UpdateInfo
	err    error
	gotReq models.CheckRequest
}

func (f *fakeChecker) Check(_ context.Context, req models.CheckRequest) (*models.UpdateInfo, error) {
	f.gotReq = req
	return f.info, f.err
}

type tenv struct {
	mux         *http.ServeMux
	srv         *httptest.Server
	rt          *host.FSRuntime
	preBackend  *state.MemoryBackend
	postBackend *state.MemoryBackend
	pre         *state.Store
	post        *state.Store
	reloads     []string
	root        string

	bundleFetches atomic.Int32
	patchFetches  atomic.Int32
}

func newTestEnv(t *testing.T) *tenv {
	t.Helper()
	e := &tenv{mux: http.NewServeMux()}
	e.srv = httptest.NewServer(e.mux)
	t.Cleanup(e.srv.Close)

	e.root = filepath.Join(t.TempDir(), "bundles")
	e.rt = host.NewFSRuntime(e.root, service.NewHTTPClient(5*time.Second),
		host.WithReload(func(path string) error {
			e.reloads = append(e.reloads, path)
			return nil
		}))

	e.preBackend = state.NewMemoryBackend()
	e.postBackend = state.NewMemoryBackend()
	e.pre = state.New(e.preBackend)
	e.post = state.New(e.postBackend)
	return e
}

func (e *tenv) serveBundle(content []byte) {
	e.mux.HandleFunc("/bundle", func(w http.ResponseWriter, r *http.Request) {
		e.bundleFetches.Add(1)
		_, _ = w.Write(content)
	})
}

func (e *tenv) servePatch(doc string) {
	e.mux.HandleFunc("/patch", func(w http.ResponseWriter, r *http.Request) {
		e.patchFetches.Add(1)
		_, _ = w.Write([]byte(doc))
	})
}

func (e *tenv) writeLocalBundle(t *testing.T, label string, content []byte) string {
	t.Helper()
	dir := filepath.Join(e.root, label)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	path := filepath.Join(dir, host.BundleFileName)
	require.NoError(t, os.WriteFile(path, content, 0o644))
	return path
}

func (e *tenv) coordinator(chk Checker, hooks Hooks) *Coordinator {
	client := service.NewHTTPClient(5 * time.Second)
	syncer := assets.NewSynchronizer(client, filepath.Join(e.root, "..", "assets"))
	identity := models.CheckRequest{
		DeploymentKey: "dk", DeviceID: "dev-1", Platform: "test", AppVersion: "1.0.0",
	}
	return New(chk, e.rt, syncer, e.pre, e.post, nil, client, identity, hooks)
}

func TestRunUpdateCycle_NoUpdate_NoSideEffects(t *testing.T) {
	e := newTestEnv(t)
	require.NoError(t, e.pre.SetActiveLabel("v1"))
	e.preBackend.Writes = nil

	var sawNilInfo bool
	chk := &fakeChecker{info: nil}
	c := e.coordinator(chk, Hooks{
		CheckComplete: func(info *models.UpdateInfo) { sawNilInfo = info == nil },
	})

	require.NoError(t, c.RunUpdateCycle(context.Background()))
	assert.True(t, sawNilInfo)
	assert.Equal(t, "v1", chk.gotReq.Label, "check must carry the confirmed label")
	assert.Empty(t, e.preBackend.Writes, "no update means no writes")
	assert.Empty(t, e.postBackend.Writes)
	assert.Empty(t, e.reloads)
}

func TestRunUpdateCycle_FullDownload_InstallsPending(t *testing.T) {
	e := newTestEnv(t)
	content := []byte("brand new bundle code")
	e.serveBundle(content)

	info := &models.UpdateInfo{
		IsAvailable: true,
		ReleaseID:   "rel-2",
		Label:       "v2",
		DownloadURL: e.srv.URL + "/bundle",
		PackageHash: verify.Digest(content),
		PackageSize: int64(len(content)),
	}

	var phases []string
	hooks := Hooks{
		CheckStart:       func() { phases = append(phases, "check-start") },
		CheckComplete:    func(*models.UpdateInfo) { phases = append(phases, "check-complete") },
		DownloadStart:    func(*models.UpdateInfo) { phases = append(phases, "download-start") },
		DownloadComplete: func(string) { phases = append(phases, "download-complete") },
		InstallStart:     func(string) { phases = append(phases, "install-start") },
		InstallComplete:  func(string) { phases = append(phases, "install-complete") },
		Error:            func(stage string, err error) { t.Errorf("unexpected error at %s: %v", stage, err) },
	}

	c := e.coordinator(&fakeChecker{info: info}, hooks)
	require.NoError(t, c.RunUpdateCycle(context.Background()))

	want := []string{"check-start", "check-complete", "download-start",
		"download-complete", "install-start", "install-complete"}
	assert.Equal(t, want, phases)

	for name, st := range map[string]*state.Store{"pre": e.pre, "post": e.post} {
		rec, err := st.Pending()
		require.NoError(t, err, name)
		require.NotNil(t, rec, name)
		assert.Equal(t, "v2", rec.Label, name)
		assert.Equal(t, "rel-2", rec.ReleaseID, name)
		assert.Positive(t, rec.AppliedAt, name)
	}

	require.Len(t, e.reloads, 1)
	data, err := os.ReadFile(e.reloads[0])
	require.NoError(t, err)
	assert.Equal(t, content, data)
}

// Concrete scenario: packageSize=1,000,000, patchSize=500,000 chooses the
// patch path, and the reconstructed file's hash must equal packageHash.
func TestRunUpdateCycle_PatchPath(t *testing.T) {
	e := newTestEnv(t)

	base := []byte("shared prefix|old tail")
	newContent := []byte("shared prefix|new tail!")
	e.writeLocalBundle(t, "v1", base)
	require.NoError(t, e.pre.SetActiveLabel("v1"))

	doc := fmt.Sprintf(`{"algorithm":"chunk-v1","baseHash":%q,"ops":[["copy",0,14],["literal","new tail!"]]}`,
		verify.Digest(base))
	e.servePatch(doc)
	e.serveBundle(newContent)

	info := &models.UpdateInfo{
		IsAvailable:    true,
		ReleaseID:      "rel-2",
		Label:          "v2",
		DownloadURL:    e.srv.URL + "/bundle",
		PackageHash:    verify.Digest(newContent),
		PackageSize:    1_000_000,
		PatchURL:       e.srv.URL + "/patch",
		PatchSize:      500_000,
		PatchAlgorithm: "chunk-v1",
		PatchBaseLabel: "v1",
	}

	c := e.coordinator(&fakeChecker{info: info}, Hooks{})
	require.NoError(t, c.RunUpdateCycle(context.Background()))

	assert.Equal(t, int32(1), e.patchFetches.Load())
	assert.Equal(t, int32(0), e.bundleFetches.Load(), "patch success must skip the full download")

	got, err := os.ReadFile(e.rt.BundlePath("v2"))
	require.NoError(t, err)
	assert.Equal(t, newContent, got)

	rec, err := e.pre.Pending()
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "v1", rec.FromLabel)
}

// Concrete scenario: a patch whose reconstruction hashes wrong must fall
// back to a full download of the same URL, and the cycle still succeeds.
func TestRunUpdateCycle_PatchResultMismatch_FallsBackToFull(t *testing.T) {
	e := newTestEnv(t)

	base := []byte("the base bundle")
	newContent := []byte("the real new bundle")
	e.writeLocalBundle(t, "v1", base)

	// Patch reconstructs something that does not hash to packageHash.
	e.servePatch(`{"algorithm":"chunk-v1","ops":[["literal","wrong output"]]}`)
	e.serveBundle(newContent)

	info := &models.UpdateInfo{
		IsAvailable:    true,
		Label:          "v2",
		DownloadURL:    e.srv.URL + "/bundle",
		PackageHash:    verify.Digest(newContent),
		PackageSize:    1_000_000,
		PatchURL:       e.srv.URL + "/patch",
		PatchSize:      500_000,
		PatchBaseLabel: "v1",
	}

	var errHookCalls int
	c := e.coordinator(&fakeChecker{info: info}, Hooks{
		Error: func(string, error) { errHookCalls++ },
	})
	require.NoError(t, c.RunUpdateCycle(context.Background()))

	assert.Equal(t, int32(1), e.patchFetches.Load())
	assert.Equal(t, int32(1), e.bundleFetches.Load(), "fallback must fetch the full bundle")
	assert.Zero(t, errHookCalls, "patch fallback is silent, not an error")

	got, err := os.ReadFile(e.rt.BundlePath("v2"))
	require.NoError(t, err)
	assert.Equal(t, newContent, got)
}

// Patch threshold: patchSize >= 0.7 x packageSize must not even attempt
// the patch fetch.
func TestRunUpdateCycle_PatchTooLarge_GoesStraightToFull(t *testing.T) {
	e := newTestEnv(t)
	content := []byte("full bundle content")
	e.writeLocalBundle(t, "v1", []byte("base"))
	e.serveBundle(content)
	e.servePatch(`{"algorithm":"chunk-v1","ops":[]}`)

	info := &models.UpdateInfo{
		IsAvailable:    true,
		Label:          "v2",
		DownloadURL:    e.srv.URL + "/bundle",
		PackageHash:    verify.Digest(content),
		PackageSize:    1_000_000,
		PatchURL:       e.srv.URL + "/patch",
		PatchSize:      700_000,
		PatchBaseLabel: "v1",
	}

	c := e.coordinator(&fakeChecker{info: info}, Hooks{})
	require.NoError(t, c.RunUpdateCycle(context.Background()))
	assert.Equal(t, int32(0), e.patchFetches.Load())
	assert.Equal(t, int32(1), e.bundleFetches.Load())
}

func TestRunUpdateCycle_MissingBaseBundle_FallsBackToFull(t *testing.T) {
	e := newTestEnv(t)
	content := []byte("full bundle content")
	e.serveBundle(content)
	e.servePatch(`{"algorithm":"chunk-v1","ops":[]}`)

	info := &models.UpdateInfo{
		IsAvailable:    true,
		Label:          "v2",
		DownloadURL:    e.srv.URL + "/bundle",
		PackageHash:    verify.Digest(content),
		PatchURL:       e.srv.URL + "/patch",
		PatchBaseLabel: "vgone", // not on disk
	}

	c := e.coordinator(&fakeChecker{info: info}, Hooks{})
	require.NoError(t, c.RunUpdateCycle(context.Background()))
	assert.Equal(t, int32(0), e.patchFetches.Load(), "no patch fetch without a local base")
	assert.Equal(t, int32(1), e.bundleFetches.Load())
}

// Integrity gate: an artifact whose digest does not match must never be
// selected as the next-boot bundle.
func TestRunUpdateCycle_FullHashMismatch_Fatal(t *testing.T) {
	e := newTestEnv(t)
	e.serveBundle([]byte("tampered content"))

	info := &models.UpdateInfo{
		IsAvailable: true,
		Label:       "v2",
		DownloadURL: e.srv.URL + "/bundle",
		PackageHash: verify.Digest([]byte("expected content")),
	}

	var hookErr error
	c := e.coordinator(&fakeChecker{info: info}, Hooks{
		Error: func(_ string, err error) { hookErr = err },
	})

	err := c.RunUpdateCycle(context.Background())
	require.Error(t, err)
	assert.True(t, errs.IsCode(err, errs.BundleHashMismatch), "got %v", err)
	assert.Equal(t, err, hookErr, "error must also reach the hook")

	rec, _ := e.pre.Pending()
	assert.Nil(t, rec, "failed verification must not write a pending record")
	rec, _ = e.post.Pending()
	assert.Nil(t, rec)
	assert.Empty(t, e.reloads)
}

func TestRunUpdateCycle_AssetMismatch_Fatal(t *testing.T) {
	e := newTestEnv(t)
	content := []byte("bundle ok")
	e.serveBundle(content)

	manifest := fmt.Sprintf(`{"baseUrl":%q,"files":[{"path":"logo.png","hash":%q}]}`,
		e.srv.URL+"/a", verify.Digest([]byte("expected asset")))
	e.mux.HandleFunc("/manifest.json", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(manifest))
	})
	e.mux.HandleFunc("/a/logo.png", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("corrupted asset"))
	})

	info := &models.UpdateInfo{
		IsAvailable:       true,
		Label:             "v2",
		DownloadURL:       e.srv.URL + "/bundle",
		PackageHash:       verify.Digest(content),
		AssetsManifestURL: e.srv.URL + "/manifest.json",
	}

	c := e.coordinator(&fakeChecker{info: info}, Hooks{})
	err := c.RunUpdateCycle(context.Background())
	require.Error(t, err)
	assert.True(t, errs.IsCode(err, errs.AssetHashMismatch), "got %v", err)

	rec, _ := e.pre.Pending()
	assert.Nil(t, rec, "asset failure must abort before install")
}

// A crash between the two store writes leaves only the pre-boot record.
// The cycle reports the failure; reconciliation is the confirmation
// guard's job on the next healthy boot.
func TestRunUpdateCycle_CrashBetweenStoreWrites(t *testing.T) {
	e := newTestEnv(t)
	content := []byte("bundle code")
	e.serveBundle(content)

	boom := errors.New("simulated crash")
	e.postBackend.PutHook = func(string, string) error { return boom }

	info := &models.UpdateInfo{
		IsAvailable: true,
		Label:       "v2",
		DownloadURL: e.srv.URL + "/bundle",
		PackageHash: verify.Digest(content),
	}

	c := e.coordinator(&fakeChecker{info: info}, Hooks{})
	err := c.RunUpdateCycle(context.Background())
	require.Error(t, err)

	preRec, _ := e.pre.Pending()
	require.NotNil(t, preRec, "pre-boot store was written before the crash")
	postRec, _ := e.post.Pending()
	assert.Nil(t, postRec, "post-boot store never got the record")
}

func TestRunUpdateCycle_CheckFailure_ReachesHook(t *testing.T) {
	e := newTestEnv(t)
	boom := errs.New(errs.NetworkError, "server unreachable")

	var stage string
	c := e.coordinator(&fakeChecker{err: boom}, Hooks{
		Error: func(s string, _ error) { stage = s },
	})

	err := c.RunUpdateCycle(context.Background())
	require.Error(t, err)
	assert.Equal(t, "check", stage)
}
