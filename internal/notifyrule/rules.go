// Package notifyrule decides which users hear about a game. Each user
// subscribes to a set of engines and filters tournaments with an ordered list
// of regex rules.
package notifyrule

import (
	"fmt"
	"regexp"
	"strings"
)

type Action int

const (
	ActionNotify Action = iota
	ActionIgnore
)

func (a Action) String() string {
	switch a {
	case ActionNotify:
		return "notify"
	case ActionIgnore:
		return "ignore"
	default:
		return fmt.Sprintf("action(%d)", int(a))
	}
}

// ParseAction accepts "notify" or "ignore" in any case.
func ParseAction(s string) (Action, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "notify":
		return ActionNotify, nil
	case "ignore":
		return ActionIgnore, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownAction, s)
}

type Rule struct {
	Pattern *regexp.Regexp
	Action  Action
}

// NewRule compiles pattern. Matching is a search, not a full-string match, so
// "WC" matches "CCRL WC 2025".
func NewRule(pattern string, action Action) (Rule, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return Rule{}, fmt.Errorf("%w: %q: %v", ErrBadPattern, pattern, err)
	}
	return Rule{Pattern: re, Action: action}, nil
}

func (r Rule) source() string {
	if r.Pattern == nil {
		return ""
	}
	return r.Pattern.String()
}

type Rules []Rule

// ShouldNotify applies the first rule whose pattern matches event. With no
// match the user is notified.
func (rs Rules) ShouldNotify(event string) bool {
	for _, r := range rs {
		if r.Pattern != nil && r.Pattern.MatchString(event) {
			return r.Action == ActionNotify
		}
	}
	return true
}

// Equal compares pattern source text and action pairwise.
func (rs Rules) Equal(other Rules) bool {
	if len(rs) != len(other) {
		return false
	}
	for i := range rs {
		if rs[i].source() != other[i].source() || rs[i].Action != other[i].Action {
			return false
		}
	}
	return true
}

// UserConfig is one subscriber's tournament filter.
type UserConfig struct {
	UserID string
	Rules  Rules
}

func (u UserConfig) Equal(other UserConfig) bool {
	return u.UserID == other.UserID && u.Rules.Equal(other.Rules)
}
