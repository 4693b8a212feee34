// Package security keeps output files inside the directory the user chose.
package security

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// ErrPathEscape is returned when a path resolves outside its directory.
var ErrPathEscape = errors.New("path escapes output directory")

// OutputPath joins dir and name and checks lexically that the result stays
// inside dir. It does not touch the filesystem, so it also serves
// in-memory output.
func OutputPath(dir, name string) (string, error) {
	if name == "" || filepath.IsAbs(name) {
		return "", fmt.Errorf("%w: %q", ErrPathEscape, name)
	}
	p := filepath.Join(dir, name)
	if err := within(filepath.Clean(dir), p); err != nil {
		return "", fmt.Errorf("%w: %q", err, name)
	}
	return p, nil
}

// ValidatePathWithinDirectory checks that filePath, with symlinks resolved,
// lies inside safeDir. Paths that do not exist yet are resolved through
// their nearest existing parent, so a symlinked parent cannot redirect a
// new file elsewhere.
func ValidatePathWithinDirectory(filePath, safeDir string) error {
	absPath, err := filepath.Abs(filepath.Clean(filePath))
	if err != nil {
		return fmt.Errorf("failed to resolve absolute path: %w", err)
	}
	absSafeDir, err := filepath.Abs(safeDir)
	if err != nil {
		return fmt.Errorf("failed to resolve output directory path: %w", err)
	}
	canonicalSafeDir, err := filepath.EvalSymlinks(absSafeDir)
	if err != nil {
		return fmt.Errorf("failed to resolve output directory symlinks: %w", err)
	}
	if err := within(canonicalSafeDir, canonical(absPath)); err != nil {
		return fmt.Errorf("%w: %s is outside %s", err, filePath, safeDir)
	}
	return nil
}

// canonical resolves symlinks in the longest existing prefix of absPath.
func canonical(absPath string) string {
	if resolved, err := filepath.EvalSymlinks(absPath); err == nil {
		return resolved
	}
	for check := absPath; ; {
		parent := filepath.Dir(check)
		if parent == check {
			return absPath
		}
		if resolved, err := filepath.EvalSymlinks(parent); err == nil {
			rel, _ := filepath.Rel(parent, absPath)
			return filepath.Join(resolved, rel)
		}
		check = parent
	}
}

func within(dir, path string) error {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return ErrPathEscape
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(rel) {
		return ErrPathEscape
	}
	return nil
}

// SanitizeFilename makes a file stem from an arbitrary run or station
// name. ASCII letters, digits and ". _ - +" are kept; every other run of
// characters becomes one underscore. The result is trimmed of leading and
// trailing dots and underscores and capped at 128 bytes.
func SanitizeFilename(s string) string {
	const maxLen = 128
	var b strings.Builder
	lastUnderscore := false
	for _, r := range s {
		if b.Len() >= maxLen {
			break
		}
		switch {
		case (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'),
			r == '.' || r == '_' || r == '-' || r == '+':
			b.WriteRune(r)
			lastUnderscore = false
		default:
			if !lastUnderscore {
				b.WriteRune('_')
				lastUnderscore = true
			}
		}
	}
	out := strings.Trim(b.String(), "._")
	if out == "" {
		return "unknown"
	}
	return out
}
