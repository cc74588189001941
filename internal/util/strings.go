package util

import "strings"

// NormalizeKey lowercases and trims a string for use as a consistent lookup key.
func NormalizeKey(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// PathSegment makes a display name safe for use as a directory name by
// replacing spaces and path separators with underscores.
func PathSegment(s string) string {
	r := strings.NewReplacer(" ", "_", "/", "_", "\\", "_")
	return r.Replace(strings.TrimSpace(s))
}
