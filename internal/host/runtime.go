// Package host is the boundary to the environment that actually executes
// bundles. The engine never runs downloaded code itself; it only places
// files where the host expects them and asks the host to reload.
package host

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/bundleup/bundleup/internal/errs"
	"github.com/bundleup/bundleup/internal/logger"
	"github.com/bundleup/bundleup/internal/service"
)

// BundleFileName is the file every bundle directory must contain.
const BundleFileName = "index.bundle"

// BaselineLabel names the embedded fallback bundle that is always loadable.
const BaselineLabel = "base"

// Runtime is the contract the update coordinator requires from its
// environment.
type Runtime interface {
	DownloadFullBundle(ctx context.Context, url, label string, progress service.ProgressFunc) (string, error)
	BundleDirectory(label string) (string, error)
	BundlePath(label string) string
	EnsureBaseline() (string, error)
	Reload(path string) error
}

// FSRuntime keeps bundles under <root>/<label>/index.bundle and delegates
// the actual restart to an injected reload func, since what "reload"
// means belongs to the embedding application.
type FSRuntime struct {
	root         string
	client       service.HTTPClient
	baselineSeed string
	reloadFn     func(path string) error
}

type Option func(*FSRuntime)

// WithBaselineSeed sets the file copied into the baseline bundle slot the
// first time the baseline is needed.
func WithBaselineSeed(path string) Option {
	return func(r *FSRuntime) { r.baselineSeed = path }
}

// WithReload sets the host restart primitive.
func WithReload(fn func(path string) error) Option {
	return func(r *FSRuntime) { r.reloadFn = fn }
}

func NewFSRuntime(root string, client service.HTTPClient, opts ...Option) *FSRuntime {
	r := &FSRuntime{root: root, client: client}
	for _, o := range opts {
		o(r)
	}
	return r
}

func (r *FSRuntime) BundleDirectory(label string) (string, error) {
	dir := filepath.Join(r.root, label)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", errs.Wrap(errs.HostUnavailable, err, "failed to create bundle directory %s", dir)
	}
	return dir, nil
}

func (r *FSRuntime) BundlePath(label string) string {
	return filepath.Join(r.root, label, BundleFileName)
}

func (r *FSRuntime) DownloadFullBundle(ctx context.Context, url, label string, progress service.ProgressFunc) (string, error) {
	dir, err := r.BundleDirectory(label)
	if err != nil {
		return "", err
	}
	dst := filepath.Join(dir, BundleFileName)
	if err := service.DownloadToFileProgress(ctx, r.client, url, dst, 0, progress); err != nil {
		return "", errs.Wrap(errs.NetworkError, err, "failed to download bundle for %s", label)
	}
	return dst, nil
}

// EnsureBaseline materializes the embedded baseline bundle and returns its
// path. The baseline is the bundle of last resort: rollback always has
// somewhere safe to land.
func (r *FSRuntime) EnsureBaseline() (string, error) {
	dst := r.BundlePath(BaselineLabel)
	if _, err := os.Stat(dst); err == nil {
		return dst, nil
	}

	if r.baselineSeed == "" {
		return "", errs.New(errs.HostUnavailable, "no baseline bundle at %s and no seed configured", dst)
	}

	if _, err := r.BundleDirectory(BaselineLabel); err != nil {
		return "", err
	}
	if err := copyFile(r.baselineSeed, dst); err != nil {
		return "", errs.Wrap(errs.HostUnavailable, err, "failed to seed baseline bundle")
	}
	logger.Debug("seeded baseline bundle from %s", r.baselineSeed)
	return dst, nil
}

func (r *FSRuntime) Reload(path string) error {
	if r.reloadFn == nil {
		logger.Info("reload requested for %s (no reload hook installed)", path)
		return nil
	}
	if err := r.reloadFn(path); err != nil {
		return errs.Wrap(errs.HostUnavailable, err, "host reload failed")
	}
	return nil
}

func copyFile(src, dst string) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := in.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close failed: %w", cerr)
		}
	}()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
