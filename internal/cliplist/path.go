package cliplist

import (
	"path/filepath"
	"strings"
)

// Relativize returns target relative to dir when both live under the same
// root, using forward slashes. Otherwise target is returned unchanged.
func Relativize(dir, target string) string {
	if dir == "" || target == "" {
		return target
	}
	if !filepath.IsAbs(dir) || !filepath.IsAbs(target) {
		return target
	}
	if filepath.VolumeName(dir) != filepath.VolumeName(target) {
		return target
	}
	rel, err := filepath.Rel(dir, target)
	if err != nil {
		return target
	}
	return filepath.ToSlash(rel)
}

// Resolve turns a stored path into a usable one. Rooted paths are kept,
// anything else is joined onto dir. Backslashes from lists written on
// Windows are treated as separators.
func Resolve(dir, stored string) string {
	p := filepath.FromSlash(strings.ReplaceAll(stored, `\`, "/"))
	if filepath.IsAbs(p) || isWindowsRooted(stored) {
		return p
	}
	return filepath.Clean(filepath.Join(dir, p))
}

// isWindowsRooted catches drive-letter paths ("C:\...") read on other systems.
func isWindowsRooted(p string) bool {
	return len(p) >= 3 && p[1] == ':' && (p[2] == '\\' || p[2] == '/') &&
		((p[0] >= 'a' && p[0] <= 'z') || (p[0] >= 'A' && p[0] <= 'Z'))
}
