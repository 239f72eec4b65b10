// Package assets incrementally mirrors a manifest-described set of
// auxiliary files into a per-label directory. Files already present with
// a matching digest are skipped; everything else is fetched and
// re-verified. A single mismatch fails the whole sync; callers never see
// success over a half-applied asset set.
package assets

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/bundleup/bundleup/internal/errs"
	"github.com/bundleup/bundleup/internal/logger"
	"github.com/bundleup/bundleup/internal/service"
	"github.com/bundleup/bundleup/internal/utils"
	"github.com/bundleup/bundleup/internal/verify"
)

// maxManifestBytes caps the manifest document itself; asset payloads are
// not size-limited.
const maxManifestBytes = 4 << 20

type Entry struct {
	Path string `json:"path"`
	URL  string `json:"url,omitempty"`
	Hash string `json:"hash"`
}

type Manifest struct {
	BaseURL string  `json:"baseUrl,omitempty"`
	Files   []Entry `json:"files"`
}

type Synchronizer struct {
	client service.HTTPClient
	root   string // assets root; files land under <root>/<label>/<path>
}

func NewSynchronizer(client service.HTTPClient, root string) *Synchronizer {
	return &Synchronizer{client: client, root: root}
}

// Sync fetches the manifest and brings the label's asset directory up to
// date, strictly sequentially. When expectedManifestHash is set, the raw
// manifest text is verified before any file is touched.
func (s *Synchronizer) Sync(ctx context.Context, manifestURL, label, expectedManifestHash string) error {
	raw, err := service.FetchBytes(ctx, s.client, manifestURL, maxManifestBytes)
	if err != nil {
		return errs.Wrap(errs.NetworkError, err, "failed to fetch assets manifest")
	}

	if err := verify.VerifyBytes(raw, expectedManifestHash); err != nil {
		return errs.Wrap(errs.ManifestHashMismatch, err, "assets manifest failed verification")
	}

	var m Manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return errs.Wrap(errs.ManifestHashMismatch, err, "assets manifest is not valid JSON")
	}

	for _, entry := range m.Files {
		if err := s.syncFile(ctx, &m, entry, label); err != nil {
			return err
		}
	}
	return nil
}

func (s *Synchronizer) syncFile(ctx context.Context, m *Manifest, entry Entry, label string) error {
	local, err := s.localPath(label, entry.Path)
	if err != nil {
		return err
	}

	if ok, _ := utils.FileExists(local); ok {
		if verify.VerifyFile(local, entry.Hash) == nil {
			logger.Debug("asset %s up to date", entry.Path)
			return nil
		}
	}

	url := entry.URL
	if url == "" {
		url = strings.TrimSuffix(m.BaseURL, "/") + "/" + entry.Path
	}

	if err := service.DownloadToFile(ctx, s.client, url, local, 0); err != nil {
		return errs.Wrap(errs.NetworkError, err, "failed to download asset %s", entry.Path)
	}
	if err := verify.VerifyFile(local, entry.Hash); err != nil {
		return errs.Wrap(errs.AssetHashMismatch, err, "asset %s failed verification", entry.Path)
	}
	logger.Debug("asset %s synced", entry.Path)
	return nil
}

// localPath scopes entry paths under <root>/<label> and rejects entries
// that would escape it.
func (s *Synchronizer) localPath(label, rel string) (string, error) {
	if rel == "" || filepath.IsAbs(rel) {
		return "", errs.New(errs.AssetHashMismatch, "manifest entry has invalid path %q", rel)
	}
	dir := filepath.Join(s.root, label)
	local := filepath.Join(dir, filepath.FromSlash(rel))
	if !strings.HasPrefix(local, dir+string(filepath.Separator)) {
		return "", errs.New(errs.AssetHashMismatch, "manifest entry escapes asset directory: %q", rel)
	}
	if err := os.MkdirAll(filepath.Dir(local), 0o755); err != nil {
		return "", errs.Wrap(errs.StorageError, err, "failed to create asset directory for %s", rel)
	}
	return local, nil
}
