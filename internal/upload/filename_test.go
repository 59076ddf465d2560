package upload

import (
	"regexp"
	"testing"
)

var validFilenamePattern = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

func TestSanitizeFilename_Idempotent(t *testing.T) {
	cases := []string{
		"report.pdf",
		"../../etc/passwd",
		`C:\Users\me\weird name?.txt`,
		"",
		".",
		"..",
		"/",
		"résumé.docx",
		"a b c!@#$.png",
	}
	for _, name := range cases {
		once := sanitizeFilename(name)
		twice := sanitizeFilename(once)
		if once != twice {
			t.Fatalf("sanitizeFilename not idempotent for %q: once=%q twice=%q", name, once, twice)
		}
		if !validFilenamePattern.MatchString(once) {
			t.Fatalf("sanitized name %q (from %q) doesn't match [A-Za-z0-9._-]+", once, name)
		}
	}
}

func TestSanitizeFilename_StripsPathComponents(t *testing.T) {
	if got := sanitizeFilename("../../etc/passwd"); got != "passwd" {
		t.Fatalf("expected path stripped to base name, got %q", got)
	}
	if got := sanitizeFilename(`C:\Users\me\report.pdf`); got != "report.pdf" {
		t.Fatalf("expected windows path stripped to base name, got %q", got)
	}
}

func TestSanitizeFilename_EmptyAndDotFallback(t *testing.T) {
	for _, name := range []string{"", ".", "..", "/"} {
		if got := sanitizeFilename(name); got != "file" {
			t.Fatalf("expected fallback %q -> \"file\", got %q", name, got)
		}
	}
}
