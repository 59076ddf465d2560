package upload

import (
	"path/filepath"
	"regexp"
	"strings"
)

var unsafeFilenameChars = regexp.MustCompile(`[^A-Za-z0-9._-]`)

// sanitizeFilename strips any path component (Windows and POSIX separators
// alike) and replaces any character outside [A-Za-z0-9._-] with an
// underscore, matching Storage._sanitize_filename in the reference
// implementation.
func sanitizeFilename(name string) string {
	candidate := strings.ReplaceAll(name, "\\", "/")
	candidate = filepath.Base(candidate)
	if candidate == "" || candidate == "." || candidate == ".." || candidate == "/" {
		candidate = "file"
	}
	candidate = unsafeFilenameChars.ReplaceAllString(candidate, "_")
	if candidate == "" {
		candidate = "file"
	}
	return candidate
}
