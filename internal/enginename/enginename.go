// Package enginename canonicalizes free-text chess engine names so that
// "RookieMonster 1.9.9 64-bit" and "rookiemonster" compare equal.
package enginename

import (
	"regexp"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

var (
	bitnessSuffix = regexp.MustCompile(`\s+64-bit$`)
	versionSuffix = regexp.MustCompile(`\s+v?\d+(\.\d+)?(\.\d+)?$`)
)

// Normalize returns the comparison form of an engine name: case-folded, with a
// trailing "64-bit" marker and a trailing version token removed. It is total and
// idempotent.
func Normalize(raw string) string {
	cur := raw
	for {
		next := normalizePass(cur)
		if next == cur {
			return next
		}
		cur = next
	}
}

func normalizePass(s string) string {
	// cases.Caser is stateful; build one per call.
	s = norm.NFC.String(cases.Fold().String(s))
	s = strings.TrimSpace(s)
	s = stripSuffix(s, bitnessSuffix)
	// a run of version tokens goes in one pass
	for {
		next := stripSuffix(s, versionSuffix)
		if next == s {
			return s
		}
		s = next
	}
}

// stripSuffix removes the match of re at the end of s. A match that would leave
// nothing behind is ignored, so a name that is only a version stays as is.
func stripSuffix(s string, re *regexp.Regexp) string {
	loc := re.FindStringIndex(s)
	if loc == nil {
		return s
	}
	rest := strings.TrimSpace(s[:loc[0]])
	if rest == "" {
		return s
	}
	return rest
}

// Name is an engine name as printed by the broadcast together with its
// normalized form.
type Name struct {
	display    string
	normalized string
}

func New(display string) Name {
	return Name{display: display, normalized: Normalize(display)}
}

func (n Name) Display() string    { return n.display }
func (n Name) Normalized() string { return n.normalized }
func (n Name) String() string     { return n.display }

// Is reports whether raw names the same engine. Matching is exact on the
// normalized forms; "Luna" is not "Lunar".
func (n Name) Is(raw string) bool {
	return n.normalized == Normalize(raw)
}

// Matches reports whether both names normalize to the same engine.
func (n Name) Matches(other Name) bool {
	return n.normalized == other.normalized
}
