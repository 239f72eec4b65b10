// Package guard implements the two independent rollback safety nets. The
// boot guard runs in the launcher before any updatable code executes and
// uses an attempt-count rule: a pending bundle gets exactly one try, and
// any process start that finds it already attempted rolls it back. The
// confirmation guard runs inside the updatable code itself and uses an
// elapsed-time rule. Either layer alone recovers the device; together
// they cover both "the bundle crashes instantly" and "the app runs but
// never becomes healthy".
package guard

import (
	"time"

	"github.com/bundleup/bundleup/internal/host"
	"github.com/bundleup/bundleup/internal/logger"
	"github.com/bundleup/bundleup/internal/state"
	"github.com/bundleup/bundleup/internal/utils"
)

// Decision tells the launcher which bundle to load and how it got there.
type Decision struct {
	BundlePath string
	Label      string
	Pending    bool // true when loading an unconfirmed bundle (its one try)
	RolledBack bool // true when a pending record was cleared this boot
}

type BootGuard struct {
	store *state.Store // pre-boot store
	rt    host.Runtime
	now   func() time.Time
}

func NewBootGuard(store *state.Store, rt host.Runtime) *BootGuard {
	return &BootGuard{store: store, rt: rt, now: time.Now}
}

// SelectBundle runs once per process start, before the updatable code is
// loaded. A freshly installed bundle (AttemptAt==0) is tried exactly
// once; any later start that still finds the record pending rolls back
// unconditionally, regardless of elapsed time.
func (g *BootGuard) SelectBundle() (Decision, error) {
	rec, err := g.store.Pending()
	if err != nil {
		// Fail closed: an unreadable pending record must never select an
		// unverified bundle. Clear it and land on known-good code.
		logger.LogError("pending record unreadable, rolling back: %v", err)
		_ = g.store.ClearPending()
		return g.fallback(true)
	}

	if rec == nil {
		return g.fallback(false)
	}

	if ok, _ := utils.FileExists(rec.BundlePath); !ok {
		logger.Warn("pending bundle %s missing on disk, rolling back", rec.BundlePath)
		if err := g.store.ClearPending(); err != nil {
			return Decision{}, err
		}
		return g.fallback(true)
	}

	if rec.AttemptAt > 0 {
		// At least the second boot while still pending.
		rec.FailCount++
		if err := g.store.SetFailCount(rec.FailCount); err != nil {
			logger.LogError("failed to persist fail count, rolling back: %v", err)
			_ = g.store.ClearPending()
			return g.fallback(true)
		}
	}

	if rec.FailCount >= 1 {
		logger.Warn("bundle %s failed to confirm (failCount=%d), rolling back", rec.Label, rec.FailCount)
		if err := g.store.ClearPending(); err != nil {
			return Decision{}, err
		}
		return g.fallback(true)
	}

	if err := g.store.SetAttemptAt(g.now().UnixMilli()); err != nil {
		logger.LogError("failed to persist attempt timestamp, rolling back: %v", err)
		_ = g.store.ClearPending()
		return g.fallback(true)
	}

	logger.Info("booting pending bundle %s (one attempt permitted)", rec.Label)
	return Decision{BundlePath: rec.BundlePath, Label: rec.Label, Pending: true}, nil
}

// fallback resolves the last confirmed bundle, or the embedded baseline
// when the labeled bundle vanished from disk.
func (g *BootGuard) fallback(rolledBack bool) (Decision, error) {
	label, err := g.store.ActiveLabel()
	if err != nil {
		logger.LogError("active label unreadable, using baseline: %v", err)
		label = ""
	}

	if label != "" {
		path := g.rt.BundlePath(label)
		if ok, _ := utils.FileExists(path); ok {
			return Decision{BundlePath: path, Label: label, RolledBack: rolledBack}, nil
		}
		logger.Warn("active bundle %s missing on disk, using baseline", label)
	}

	path, err := g.rt.EnsureBaseline()
	if err != nil {
		return Decision{}, err
	}
	return Decision{BundlePath: path, Label: host.BaselineLabel, RolledBack: rolledBack}, nil
}
