// Package linker attaches backlog Changesets, and the work items their commit
// messages mention, to the builds being recorded.
package linker

import (
	"regexp"
	"sort"
	"strings"
)

// CompilePrefixes builds the case-insensitive pattern matching a FormattedID:
// one of prefixes followed by digits. Longer prefixes are tried first.
// It returns nil when prefixes is empty.
func CompilePrefixes(prefixes []string) *regexp.Regexp {
	var alts []string
	seen := make(map[string]bool)
	for _, p := range prefixes {
		p = strings.ToUpper(strings.TrimSpace(p))
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		alts = append(alts, regexp.QuoteMeta(p))
	}
	if len(alts) == 0 {
		return nil
	}
	sort.Slice(alts, func(i, j int) bool {
		if len(alts[i]) != len(alts[j]) {
			return len(alts[i]) > len(alts[j])
		}
		return alts[i] < alts[j]
	})
	return regexp.MustCompile(`(?i)(` + strings.Join(alts, "|") + `)(\d+)`)
}

// ExtractIdentifiers returns the upper cased FormattedIDs in message, in the
// order they appear. No word boundary is required around a match.
func ExtractIdentifiers(message string, pattern *regexp.Regexp) []string {
	if pattern == nil {
		return nil
	}
	matches := pattern.FindAllString(message, -1)
	if len(matches) == 0 {
		return nil
	}
	ids := make([]string, len(matches))
	for i, m := range matches {
		ids[i] = strings.ToUpper(m)
	}
	return ids
}
