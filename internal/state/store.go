// Package state persists the pending-update record and the active label.
// Two physically separate instances of the same logical record exist: the
// pre-boot store read by the launcher's boot guard before any updatable
// code runs, and the post-boot store read by the running application. The
// key names are shared so both layers agree on what they observe.
package state

import (
	"strconv"

	"github.com/bundleup/bundleup/internal/errs"
)

const (
	keyPendingPath      = "pendingPath"
	keyPendingLabel     = "pendingLabel"
	keyPendingReleaseID = "pendingReleaseId"
	keyPendingFromLabel = "pendingFromLabel"
	keyPendingAppliedAt = "pendingAppliedAt"
	keyPendingAttemptAt = "pendingAttemptAt"
	keyPendingFailCount = "pendingFailCount"
	keyPendingVerified  = "pendingVerified"
	keyActiveLabel      = "activeLabel"
)

var pendingKeys = []string{
	keyPendingPath,
	keyPendingLabel,
	keyPendingReleaseID,
	keyPendingFromLabel,
	keyPendingAppliedAt,
	keyPendingAttemptAt,
	keyPendingFailCount,
}

// PendingUpdate describes an installed-but-unconfirmed bundle selected for
// the next boot. At most one exists per store at a time. Timestamps are
// unix milliseconds; zero AttemptAt means the bundle has never been tried.
type PendingUpdate struct {
	Label      string
	BundlePath string
	ReleaseID  string
	FromLabel  string
	AppliedAt  int64
	AttemptAt  int64
	FailCount  int
}

type Store struct {
	b Backend
}

func New(b Backend) *Store {
	return &Store{b: b}
}

// Pending returns the current record, or nil when none exists. Read
// failures surface as StorageError so guards can fail closed.
func (s *Store) Pending() (*PendingUpdate, error) {
	path, ok, err := s.get(keyPendingPath)
	if err != nil {
		return nil, err
	}
	label, ok2, err := s.get(keyPendingLabel)
	if err != nil {
		return nil, err
	}
	if !ok || !ok2 || path == "" || label == "" {
		return nil, nil
	}

	rec := &PendingUpdate{Label: label, BundlePath: path}
	if rec.ReleaseID, _, err = s.get(keyPendingReleaseID); err != nil {
		return nil, err
	}
	if rec.FromLabel, _, err = s.get(keyPendingFromLabel); err != nil {
		return nil, err
	}
	if rec.AppliedAt, err = s.getInt64(keyPendingAppliedAt); err != nil {
		return nil, err
	}
	if rec.AttemptAt, err = s.getInt64(keyPendingAttemptAt); err != nil {
		return nil, err
	}
	fc, err := s.getInt64(keyPendingFailCount)
	if err != nil {
		return nil, err
	}
	rec.FailCount = int(fc)
	return rec, nil
}

// SetPending installs rec as the one pending record, resetting the
// attempt timestamp and fail counter so the next boot counts as the
// single permitted try.
func (s *Store) SetPending(rec PendingUpdate) error {
	puts := [][2]string{
		{keyPendingPath, rec.BundlePath},
		{keyPendingLabel, rec.Label},
		{keyPendingReleaseID, rec.ReleaseID},
		{keyPendingFromLabel, rec.FromLabel},
		{keyPendingAppliedAt, strconv.FormatInt(rec.AppliedAt, 10)},
		{keyPendingAttemptAt, "0"},
		{keyPendingFailCount, "0"},
		{keyPendingVerified, "false"},
	}
	for _, kv := range puts {
		if err := s.put(kv[0], kv[1]); err != nil {
			return err
		}
	}
	return nil
}

// ClearPending removes the record. This is the rollback primitive.
func (s *Store) ClearPending() error {
	if err := s.b.Delete(pendingKeys...); err != nil {
		return errs.Wrap(errs.StorageError, err, "failed to clear pending record")
	}
	return nil
}

func (s *Store) SetAttemptAt(ts int64) error {
	return s.put(keyPendingAttemptAt, strconv.FormatInt(ts, 10))
}

func (s *Store) SetFailCount(n int) error {
	return s.put(keyPendingFailCount, strconv.Itoa(n))
}

// ActiveLabel names the last confirmed bundle, or "" when the device has
// only ever run the embedded baseline.
func (s *Store) ActiveLabel() (string, error) {
	v, _, err := s.get(keyActiveLabel)
	return v, err
}

func (s *Store) SetActiveLabel(label string) error {
	return s.put(keyActiveLabel, label)
}

// MarkVerified promotes label to active, clears the pending record and
// leaves the verified marker behind for the confirmed label.
func (s *Store) MarkVerified(label string) error {
	if err := s.put(keyActiveLabel, label); err != nil {
		return err
	}
	if err := s.put(keyPendingVerified, "true"); err != nil {
		return err
	}
	return s.ClearPending()
}

// Verified reports whether the last pending record reached confirmation.
func (s *Store) Verified() (bool, error) {
	v, _, err := s.get(keyPendingVerified)
	if err != nil {
		return false, err
	}
	return v == "true", nil
}

// ---- backend plumbing ----

func (s *Store) get(key string) (string, bool, error) {
	v, ok, err := s.b.Get(key)
	if err != nil {
		return "", false, errs.Wrap(errs.StorageError, err, "failed to read %s", key)
	}
	return v, ok, nil
}

func (s *Store) put(key, value string) error {
	if err := s.b.Put(key, value); err != nil {
		return errs.Wrap(errs.StorageError, err, "failed to write %s", key)
	}
	return nil
}

func (s *Store) getInt64(key string) (int64, error) {
	v, ok, err := s.get(key)
	if err != nil {
		return 0, err
	}
	if !ok || v == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		// A mangled counter is treated as zero rather than wedging the
		// guard; the attempt-count rule still converges on rollback.
		return 0, nil
	}
	return n, nil
}
