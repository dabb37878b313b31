// Package pathutil names recording files and keeps them inside the
// directory they are written to.
package pathutil

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// RecordingExt is the extension of point cloud recordings.
const RecordingExt = ".bfpc"

const maxNameLen = 128

// SanitizeName makes a file name component from an arbitrary string, such
// as a device serial number. Runs of characters other than ASCII letters,
// digits, dot, underscore and dash become a single underscore.
func SanitizeName(s string) string {
	var b strings.Builder
	lastUnderscore := false
	for _, r := range s {
		if b.Len() >= maxNameLen {
			break
		}
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-':
			b.WriteRune(r)
			lastUnderscore = false
		case !lastUnderscore:
			b.WriteByte('_')
			lastUnderscore = true
		}
	}
	out := strings.Trim(b.String(), "._")
	if out == "" {
		return "unknown"
	}
	return out
}

// RecordingName is the file name of a recording of device started at t,
// like "SN-1234_20260115T101500Z.bfpc".
func RecordingName(device string, t time.Time) string {
	return SanitizeName(device) + "_" + t.UTC().Format("20060102T150405Z") + RecordingExt
}

// WithinDir checks that path stays inside dir once relative components and
// symlinks are resolved. path does not need to exist; its deepest existing
// parent is resolved instead, so a symlinked parent cannot escape dir.
func WithinDir(path, dir string) error {
	absPath, err := filepath.Abs(filepath.Clean(path))
	if err != nil {
		return fmt.Errorf("resolve %s: %w", path, err)
	}
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", dir, err)
	}
	realDir, err := filepath.EvalSymlinks(absDir)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", dir, err)
	}

	rel, err := filepath.Rel(realDir, resolveExisting(absPath))
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(rel) {
		return fmt.Errorf("%s is outside %s", path, dir)
	}
	return nil
}

// resolveExisting resolves symlinks in the longest existing prefix of p.
func resolveExisting(p string) string {
	if r, err := filepath.EvalSymlinks(p); err == nil {
		return r
	}
	for parent := filepath.Dir(p); ; parent = filepath.Dir(parent) {
		if r, err := filepath.EvalSymlinks(parent); err == nil {
			rest, _ := filepath.Rel(parent, p)
			return filepath.Join(r, rest)
		}
		if filepath.Dir(parent) == parent {
			return p
		}
	}
}
