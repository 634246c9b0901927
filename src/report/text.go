package report

import (
	"strings"

	"github.com/mattn/go-runewidth"
)

// VisualWidth returns the display width of text, accounting for multi-byte characters
func VisualWidth(s string) int {
	return runewidth.StringWidth(s)
}

// Truncate cuts s to maxLen columns, ending in "..." when ellipsis is set.
func Truncate(s string, maxLen int, ellipsis bool) string {
	s = strings.TrimSpace(s)
	if maxLen <= 0 {
		return ""
	}
	if VisualWidth(s) <= maxLen {
		return s
	}
	if ellipsis && maxLen > 3 {
		return runewidth.Truncate(s, maxLen-3, "") + "..."
	}
	return runewidth.Truncate(s, maxLen, "")
}

// Column truncates s and pads it to exactly width columns, like %-N.Ns for
// text that may hold wide characters.
func Column(s string, width int) string {
	return runewidth.FillRight(Truncate(s, width, false), width)
}

// RightColumn is Column aligned to the right.
func RightColumn(s string, width int) string {
	return runewidth.FillLeft(Truncate(s, width, false), width)
}
