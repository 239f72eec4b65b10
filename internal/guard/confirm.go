package guard

import (
	"context"
	"time"

	"github.com/bundleup/bundleup/internal/logger"
	"github.com/bundleup/bundleup/internal/state"
	"github.com/bundleup/bundleup/internal/telemetry"
)

// DefaultConfirmWindow is how long a freshly booted bundle has to call
// NotifyAppReady before InitStartupGuard on a later run treats it as
// failed.
const DefaultConfirmWindow = 30 * time.Second

// ConfirmGuard runs inside the updatable code after startup. It owns the
// post-boot store and reconciles the pre-boot store on confirmation, so
// the post-boot store stays a read-mostly mirror of the pre-boot one.
type ConfirmGuard struct {
	post     *state.Store
	pre      *state.Store
	window   time.Duration
	reporter telemetry.Reporter
	deviceID string
	now      func() time.Time
}

func NewConfirmGuard(post, pre *state.Store, window time.Duration, reporter telemetry.Reporter, deviceID string) *ConfirmGuard {
	if window <= 0 {
		window = DefaultConfirmWindow
	}
	if reporter == nil {
		reporter = telemetry.Nop{}
	}
	return &ConfirmGuard{
		post:     post,
		pre:      pre,
		window:   window,
		reporter: reporter,
		deviceID: deviceID,
		now:      time.Now,
	}
}

// InitStartupGuard is the elapsed-time safety net, run shortly after the
// application boots. A pending record older than twice the confirmation
// window means a previous run never reached NotifyAppReady; it is rolled
// back at this layer too, independently of the boot guard's attempt
// counting. It reports whether a rollback happened so callers know to
// withhold NotifyAppReady for the rest of this run.
func (g *ConfirmGuard) InitStartupGuard() (bool, error) {
	rec, err := g.post.Pending()
	if err != nil {
		// Fail closed, same policy as the boot guard.
		logger.LogError("post-boot pending record unreadable, clearing: %v", err)
		return true, g.post.ClearPending()
	}
	if rec == nil {
		return false, nil
	}

	age := g.now().UnixMilli() - rec.AppliedAt
	if age <= 2*g.window.Milliseconds() {
		return false, nil
	}

	rec.FailCount++
	if rec.FailCount >= 1 {
		logger.Warn("bundle %s unconfirmed after %dms, rolling back", rec.Label, age)
		return true, g.post.ClearPending()
	}
	return false, g.post.SetFailCount(rec.FailCount)
}

// NotifyAppReady is the health confirmation, called once after the app
// has run for the confirmation delay. It promotes the pending label to
// active in both stores, marks the pre-boot record verified, and reports
// install-complete. With no pending record in either store it is a no-op.
func (g *ConfirmGuard) NotifyAppReady(ctx context.Context) error {
	rec, err := g.post.Pending()
	if err != nil {
		return err
	}

	if rec == nil {
		// The two stores are not written transactionally; a crash between
		// the install step's two writes can leave the pre-boot store with
		// a record the post-boot store never got. Reaching this point
		// means whatever bundle is running is healthy, so confirm from
		// the pre-boot side.
		preRec, err := g.pre.Pending()
		if err != nil || preRec == nil {
			return err
		}
		logger.Warn("store divergence: confirming %s from pre-boot record", preRec.Label)
		rec = preRec
	}

	if err := g.post.SetActiveLabel(rec.Label); err != nil {
		return err
	}
	if err := g.post.ClearPending(); err != nil {
		return err
	}
	if err := g.pre.MarkVerified(rec.Label); err != nil {
		return err
	}

	logger.Success("bundle %s confirmed and now active", rec.Label)
	g.reporter.InstallComplete(ctx, telemetry.Event{
		DeviceID:  g.deviceID,
		ReleaseID: rec.ReleaseID,
		Label:     rec.Label,
	})
	return nil
}
