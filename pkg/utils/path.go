// Package utils holds small path helpers used to keep scratch files inside their session.
package utils

import (
	"path/filepath"
	"strings"

	"github.com/objectfs/imageop/pkg/errors"
)

// IsWithin reports whether target, once cleaned, is base itself or lies below it.
func IsWithin(base, target string) bool {
	cleanBase := filepath.Clean(base)
	cleanTarget := filepath.Clean(target)
	if cleanTarget == cleanBase {
		return true
	}
	rel, err := filepath.Rel(cleanBase, cleanTarget)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) && !filepath.IsAbs(rel)
}

// SecureJoin joins elements onto base and fails with PATH_INVALID if the
// result escapes base. Absolute elements are treated as relative to base,
// as with filepath.Join.
//
//	dir, err := SecureJoin(sessionRoot, "tiles", name)
func SecureJoin(base string, elements ...string) (string, error) {
	if base == "" {
		return "", errors.NewError(errors.ErrCodePathInvalid, "base path cannot be empty")
	}

	cleanBase := filepath.Clean(base)
	fullPath := filepath.Join(append([]string{cleanBase}, elements...)...)

	if !IsWithin(cleanBase, fullPath) {
		return "", errors.Newf(errors.ErrCodePathInvalid, "path %q escapes base directory", filepath.Join(elements...)).
			WithDetail("base", cleanBase)
	}

	return fullPath, nil
}

// ValidateName checks that name can be used as part of a single file name:
// no separators, no parent references. The empty string is accepted.
func ValidateName(name string) error {
	if name == "" {
		return nil
	}
	if strings.ContainsAny(name, `/\`) || strings.ContainsRune(name, filepath.Separator) {
		return errors.Newf(errors.ErrCodePathInvalid, "name %q contains a path separator", name)
	}
	if name == "." || name == ".." {
		return errors.Newf(errors.ErrCodePathInvalid, "name %q is a directory reference", name)
	}
	return nil
}
