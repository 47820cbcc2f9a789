// Package security holds filesystem safety helpers for export and backup
// paths.
package security

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ValidatePathWithinDirectory reports an error unless filePath resolves to a
// location inside safeDir. Symlinks in both paths are resolved first, so a
// link pointing outside safeDir is rejected even when the literal path looks
// contained.
func ValidatePathWithinDirectory(filePath, safeDir string) error {
	absPath, err := filepath.Abs(filepath.Clean(filePath))
	if err != nil {
		return fmt.Errorf("failed to resolve absolute path: %w", err)
	}
	absSafeDir, err := filepath.Abs(safeDir)
	if err != nil {
		return fmt.Errorf("failed to resolve safe directory path: %w", err)
	}

	canonicalPath := canonicalize(absPath)

	canonicalSafeDir, err := filepath.EvalSymlinks(absSafeDir)
	if err != nil {
		return fmt.Errorf("failed to resolve safe directory symlinks: %w", err)
	}

	relPath, err := filepath.Rel(canonicalSafeDir, canonicalPath)
	if err != nil {
		return fmt.Errorf("path is outside safe directory: %w", err)
	}
	if relPath == ".." || strings.HasPrefix(relPath, ".."+string(filepath.Separator)) || filepath.IsAbs(relPath) {
		return fmt.Errorf("path traversal detected: %s attempts to escape %s", filePath, safeDir)
	}
	return nil
}

// canonicalize resolves symlinks in path. When the path does not exist yet
// (the usual case for an output file), the nearest existing ancestor is
// resolved instead and the remaining components are rejoined, so a symlinked
// parent directory cannot smuggle the file elsewhere.
func canonicalize(absPath string) string {
	if resolved, err := filepath.EvalSymlinks(absPath); err == nil {
		return resolved
	}
	checkPath := absPath
	for {
		parentDir := filepath.Dir(checkPath)
		if parentDir == checkPath {
			return absPath
		}
		if resolved, err := filepath.EvalSymlinks(parentDir); err == nil {
			relToParent, _ := filepath.Rel(parentDir, absPath)
			return filepath.Join(resolved, relToParent)
		}
		checkPath = parentDir
	}
}

// ValidatePathWithinAllowedDirs accepts filePath if it sits inside any of the
// allowed directories.
func ValidatePathWithinAllowedDirs(filePath string, allowedDirs []string) error {
	if len(allowedDirs) == 0 {
		return fmt.Errorf("no allowed directories specified")
	}
	for _, dir := range allowedDirs {
		if err := ValidatePathWithinDirectory(filePath, dir); err == nil {
			return nil
		}
	}
	return fmt.Errorf("path must be within one of the allowed directories: %v", allowedDirs)
}

// ValidateExportPath restricts chart and backup outputs to the temp directory
// or the current working directory.
func ValidateExportPath(filePath string) error {
	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("failed to get working directory: %w", err)
	}
	return ValidatePathWithinAllowedDirs(filePath, []string{os.TempDir(), cwd})
}

// SanitizeFilename reduces an arbitrary string to a safe filename: anything
// outside ASCII letters, digits, dot, underscore or dash becomes an
// underscore, runs of underscores collapse, and the result is capped at 128
// characters.
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
			r == '.' || r == '_' || r == '-':
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
