// Package updater orchestrates one update cycle: check, download (patch
// or full, with fallback), asset sync, atomic install, reload. It is the
// only component application code calls directly; everything else it
// drives as a collaborator.
package updater

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/bundleup/bundleup/internal/errs"
	"github.com/bundleup/bundleup/internal/host"
	"github.com/bundleup/bundleup/internal/logger"
	"github.com/bundleup/bundleup/internal/models"
	"github.com/bundleup/bundleup/internal/patch"
	"github.com/bundleup/bundleup/internal/service"
	"github.com/bundleup/bundleup/internal/state"
	"github.com/bundleup/bundleup/internal/telemetry"
	"github.com/bundleup/bundleup/internal/utils"
	"github.com/bundleup/bundleup/internal/verify"
)

// patchSizeRatio gates incremental delivery: the patch path is only worth
// its extra failure surface when the diff is meaningfully smaller than
// the full package.
const patchSizeRatio = 0.7

// maxPatchDocBytes caps the in-memory patch document download.
const maxPatchDocBytes = 64 << 20

type Checker interface {
	Check(ctx context.Context, req models.CheckRequest) (*models.UpdateInfo, error)
}

type AssetSyncer interface {
	Sync(ctx context.Context, manifestURL, label, expectedManifestHash string) error
}

type Coordinator struct {
	checker  Checker
	rt       host.Runtime
	assets   AssetSyncer
	pre      *state.Store // pre-boot store, read by the launcher's guard
	post     *state.Store // post-boot store, read by the application
	reporter telemetry.Reporter
	client   service.HTTPClient
	hooks    Hooks
	identity models.CheckRequest // deployment key, device id, platform, app version
	now      func() time.Time
}

func New(chk Checker, rt host.Runtime, syncer AssetSyncer, pre, post *state.Store,
	reporter telemetry.Reporter, client service.HTTPClient, identity models.CheckRequest, hooks Hooks,
) *Coordinator {
	if reporter == nil {
		reporter = telemetry.Nop{}
	}
	if client == nil {
		client = service.NewHTTPClient(30 * time.Second)
	}
	return &Coordinator{
		checker:  chk,
		rt:       rt,
		assets:   syncer,
		pre:      pre,
		post:     post,
		reporter: reporter,
		client:   client,
		identity: identity,
		hooks:    hooks,
		now:      time.Now,
	}
}

// RunUpdateCycle performs one full check-to-install cycle. The returned
// error exists for logging; every outcome is also delivered through the
// hooks, and the method never panics past this boundary. It is not
// reentrant: at most one cycle per process may be in flight.
func (c *Coordinator) RunUpdateCycle(ctx context.Context) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("update cycle panicked: %v", rec)
			c.fail(ctx, "cycle", err, nil)
		}
	}()

	c.hooks.checkStart()

	fromLabel, err := c.pre.ActiveLabel()
	if err != nil {
		logger.Warn("active label unreadable, checking without it: %v", err)
		fromLabel = ""
	}

	req := c.identity
	req.Label = fromLabel

	info, err := c.checker.Check(ctx, req)
	if err != nil {
		c.fail(ctx, "check", err, nil)
		return err
	}
	c.hooks.checkComplete(info)
	if info == nil {
		return nil
	}

	c.hooks.downloadStart(info)
	c.reporter.DownloadStart(ctx, c.event(info, "", nil))

	bundlePath, err := c.obtainBundle(ctx, info)
	if err != nil {
		c.fail(ctx, "download", err, info)
		return err
	}
	c.hooks.downloadComplete(bundlePath)

	if info.AssetsManifestURL != "" {
		if err := c.assets.Sync(ctx, info.AssetsManifestURL, info.Label, info.AssetsManifestHash); err != nil {
			c.fail(ctx, "assets", err, info)
			return err
		}
	}

	c.hooks.installStart(info.Label)

	rec := state.PendingUpdate{
		Label:      info.Label,
		BundlePath: bundlePath,
		ReleaseID:  info.ReleaseID,
		FromLabel:  fromLabel,
		AppliedAt:  c.now().UnixMilli(),
	}

	// Commit point. The two writes are not transactional; a crash in
	// between leaves the stores diverged, which the confirmation guard
	// reconciles on the next healthy boot.
	if err := c.pre.SetPending(rec); err != nil {
		c.fail(ctx, "install", err, info)
		return err
	}
	if err := c.post.SetPending(rec); err != nil {
		c.fail(ctx, "install", err, info)
		return err
	}

	c.hooks.installComplete(info.Label)
	c.reporter.InstallComplete(ctx, c.event(info, "", nil))
	logger.Success("bundle %s installed, pending confirmation on next boot", info.Label)

	// The install is committed even if the reload itself fails; the next
	// process start picks the pending bundle up.
	if err := c.rt.Reload(bundlePath); err != nil {
		c.fail(ctx, "reload", err, info)
		return err
	}
	return nil
}

// obtainBundle picks incremental or full delivery and returns the path of
// a hash-verified bundle. Patch-path failures of any kind downgrade to
// the full download; only a full-download failure is fatal.
func (c *Coordinator) obtainBundle(ctx context.Context, info *models.UpdateInfo) (string, error) {
	if c.shouldUsePatch(info) {
		path, err := c.applyPatch(ctx, info)
		if err == nil {
			logger.Info("bundle %s reconstructed from patch against %s", info.Label, info.PatchBaseLabel)
			return path, nil
		}
		logger.Warn("patch path failed, falling back to full download: %v", err)
	}

	path, err := c.rt.DownloadFullBundle(ctx, info.DownloadURL, info.Label, c.hooks.DownloadProgress)
	if err != nil {
		return "", err
	}
	if err := verify.VerifyFile(path, info.PackageHash); err != nil {
		return "", errs.Wrap(errs.BundleHashMismatch, err, "downloaded bundle %s failed verification", info.Label)
	}
	return path, nil
}

// shouldUsePatch applies the size gate: patch delivery only when a patch
// and its base label exist, and either size is unknown or the patch is
// under the ratio threshold.
func (c *Coordinator) shouldUsePatch(info *models.UpdateInfo) bool {
	if info.PatchURL == "" || info.PatchBaseLabel == "" {
		return false
	}
	if info.PatchSize == 0 || info.PackageSize == 0 {
		return true
	}
	return float64(info.PatchSize) < patchSizeRatio*float64(info.PackageSize)
}

func (c *Coordinator) applyPatch(ctx context.Context, info *models.UpdateInfo) (string, error) {
	base := c.rt.BundlePath(info.PatchBaseLabel)
	if ok, _ := utils.FileExists(base); !ok {
		return "", errs.New(errs.BaseBundleMissing, "no local bundle for diff base label %s", info.PatchBaseLabel)
	}

	raw, err := service.FetchBytes(ctx, c.client, info.PatchURL, maxPatchDocBytes)
	if err != nil {
		return "", errs.Wrap(errs.NetworkError, err, "failed to download patch document")
	}
	if err := verify.VerifyBytes(raw, info.PatchHash); err != nil {
		return "", fmt.Errorf("patch document failed verification: %w", err)
	}

	doc, err := patch.Parse(raw)
	if err != nil {
		return "", err
	}
	if info.PatchAlgorithm != "" && doc.Algorithm == "" {
		doc.Algorithm = info.PatchAlgorithm
	}

	outDir, err := c.rt.BundleDirectory(info.Label)
	if err != nil {
		return "", err
	}
	out := filepath.Join(outDir, host.BundleFileName)

	if _, err := patch.Apply(doc, base, out); err != nil {
		return "", err
	}

	// The reconstructed file must hash to the full package's digest; the
	// diff is never trusted on its own.
	if err := verify.VerifyFile(out, info.PackageHash); err != nil {
		return "", errs.Wrap(errs.PatchResultHashMismatch, err, "reconstructed bundle %s failed verification", info.Label)
	}
	return out, nil
}

func (c *Coordinator) fail(ctx context.Context, stage string, err error, info *models.UpdateInfo) {
	logger.LogError("update cycle failed at %s: %v", stage, err)
	c.hooks.error(stage, err)
	c.reporter.ReportError(ctx, c.event(info, stage, err))
}

func (c *Coordinator) event(info *models.UpdateInfo, stage string, err error) telemetry.Event {
	ev := telemetry.Event{DeviceID: c.identity.DeviceID, Stage: stage}
	if info != nil {
		ev.ReleaseID = info.ReleaseID
		ev.Label = info.Label
	}
	if err != nil {
		ev.Message = err.Error()
	}
	return ev
}
