// Package sanitize cleans text taken from CI output before it is stored in
// the backlog system.
package sanitize

import (
	"strings"

	"github.com/charmbracelet/x/ansi"
)

// StripANSI removes terminal escape sequences.
func StripANSI(s string) string {
	return ansi.Strip(s)
}

// CommitMessage returns a commit message fit for a Changeset: escape
// sequences and control characters other than newline and tab removed, line
// endings normalized to \n, surrounding space trimmed.
func CommitMessage(s string) string {
	s = strings.ReplaceAll(StripANSI(s), "\r\n", "\n")
	s = strings.Map(func(r rune) rune {
		switch {
		case r == '\n' || r == '\t':
			return r
		case r == '\r':
			return '\n'
		case r < 0x20 || r == 0x7f:
			return -1
		}
		return r
	}, s)
	return strings.TrimSpace(s)
}
