// Package verify computes and checks SHA-256 content digests. It is the
// single integrity gate for bundles, patch results, manifests and assets:
// nothing downloaded or reconstructed is trusted until its digest matches
// the value the update server asserted for it.
package verify

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"
)

// Digest returns the SHA-256 hash of data as a lowercase hex string.
func Digest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// FileDigest streams path through SHA-256 and returns the hex digest.
func FileDigest(path string) (digest string, err error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open file %s: %w", path, err)
	}

	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close failed: %w", cerr)
		}
	}()

	hasher := sha256.New()
	if _, err := io.Copy(hasher, f); err != nil {
		return "", fmt.Errorf("failed to compute SHA256 for %s: %w", path, err)
	}

	return hex.EncodeToString(hasher.Sum(nil)), err
}

// VerifyBytes checks data against expected. An empty expected hash is a
// skip, not a failure: the server simply did not assert one.
func VerifyBytes(data []byte, expected string) error {
	if expected == "" {
		return nil
	}
	actual := Digest(data)
	if !equalHex(actual, expected) {
		return fmt.Errorf("checksum mismatch: expected %s, got %s", expected, actual)
	}
	return nil
}

// VerifyFile checks the file at path against expected.
func VerifyFile(path, expected string) error {
	if expected == "" {
		return nil
	}
	actual, err := FileDigest(path)
	if err != nil {
		return err
	}
	if !equalHex(actual, expected) {
		return fmt.Errorf("checksum mismatch for %s: expected %s, got %s", path, expected, actual)
	}
	return nil
}

func equalHex(a, b string) bool {
	return strings.EqualFold(a, b)
}
