package errs

import (
	"errors"
	"fmt"
)

type Code string

const (
	NetworkError              Code = "NETWORK_ERROR"
	UnsupportedPatchAlgorithm Code = "UNSUPPORTED_PATCH_ALGORITHM"
	BaseHashMismatch          Code = "BASE_HASH_MISMATCH"
	PatchResultHashMismatch   Code = "PATCH_RESULT_HASH_MISMATCH"
	BaseBundleMissing         Code = "BASE_BUNDLE_MISSING"
	BundleHashMismatch        Code = "BUNDLE_HASH_MISMATCH"
	ManifestHashMismatch      Code = "MANIFEST_HASH_MISMATCH"
	AssetHashMismatch         Code = "ASSET_HASH_MISMATCH"
	HostUnavailable           Code = "HOST_UNAVAILABLE"
	StorageError              Code = "STORAGE_ERROR"
)

// recoverable codes downgrade the patch path to a full download instead of
// failing the whole update cycle.
var recoverable = map[Code]bool{
	UnsupportedPatchAlgorithm: true,
	BaseHashMismatch:          true,
	PatchResultHashMismatch:   true,
	BaseBundleMissing:         true,
}

type Error struct {
	Code Code
	msg  string
	err  error
}

func New(code Code, format string, a ...any) *Error {
	return &Error{Code: code, msg: fmt.Sprintf(format, a...)}
}

func Wrap(code Code, err error, format string, a ...any) *Error {
	return &Error{Code: code, msg: fmt.Sprintf(format, a...), err: err}
}

func (e *Error) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.msg, e.err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.msg)
}

func (e *Error) Unwrap() error { return e.err }

// Is matches two *Error values on their code, so errors.Is(err, errs.New(code, ""))
// and sentinel comparisons via CodeOf both work.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Code == t.Code
	}
	return false
}

// CodeOf extracts the taxonomy code from err, or "" if err carries none.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsRecoverable reports whether err is a patch-path failure that should
// silently fall back to the full-download path.
func IsRecoverable(err error) bool {
	return recoverable[CodeOf(err)]
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code Code) bool {
	return CodeOf(err) == code
}
