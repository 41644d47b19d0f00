// Package fileid derives stable source keys for imported files.
package fileid

import (
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
)

const prefix = "file:"

// SourceKey returns a stable key for the given path. The path is made absolute and
// cleaned first, so the same file always yields the same key regardless of how it was named.
// An error is returned only when the working directory cannot be determined.
func SourceKey(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	return keyFor(abs), nil
}

func keyFor(absolutePath string) string {
	hash := sha256.Sum256([]byte(filepath.Clean(absolutePath)))
	return prefix + hex.EncodeToString(hash[:])
}

// IsSourceKey reports whether key looks like a value produced by SourceKey.
func IsSourceKey(key string) bool {
	return len(key) == len(prefix)+sha256.Size*2 && key[:len(prefix)] == prefix
}
