package notifyrule

import (
	"fmt"
	"slices"
	"sort"
	"strings"

	yaml "gopkg.in/yaml.v3"

	"github.com/park285/ccrl-live-notifier/internal/enginename"
)

var (
	ErrUnknownAction = errf("unknown rule action")
	ErrBadPattern    = errf("invalid rule pattern")
	ErrBlankEngine   = errf("blank engine name")
	ErrBlankUser     = errf("blank user id")
)

type staticErr string

func (e staticErr) Error() string { return string(e) }
func errf(s string) error         { return staticErr(s) }

// NotifyConfig maps a normalized engine name to the users subscribed to it.
// Users under one engine are ordered by id.
type NotifyConfig struct {
	engines map[string][]UserConfig
	// spellings keeps each user's engine list as written, so respelling an
	// engine counts as a change even when its normalized key stays the same.
	spellings map[string][]string
}

type fileDoc struct {
	Users map[string]userDoc `yaml:"users"`
}

type userDoc struct {
	Engines []string  `yaml:"engines"`
	Rules   []ruleDoc `yaml:"rules"`
}

type ruleDoc struct {
	Pattern string `yaml:"pattern"`
	Action  string `yaml:"action"`
}

// Parse decodes a YAML (or JSON) subscription document:
//
//	users:
//	  "<user id>":
//	    engines: ["Lunar", "RookieMonster"]
//	    rules:
//	      - {pattern: "WC.*", action: ignore}
//
// Engine spellings are normalized, so "Lunar 2.1" and "lunar" subscribe to the
// same engine.
func Parse(raw []byte) (*NotifyConfig, error) {
	var doc fileDoc
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode notify config: %w", err)
	}

	ids := make([]string, 0, len(doc.Users))
	for id := range doc.Users {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	cfg := &NotifyConfig{
		engines:   make(map[string][]UserConfig),
		spellings: make(map[string][]string, len(ids)),
	}
	for _, id := range ids {
		u := doc.Users[id]
		uid := strings.TrimSpace(id)
		if uid == "" {
			return nil, ErrBlankUser
		}
		rules := make(Rules, 0, len(u.Rules))
		for i, rd := range u.Rules {
			action, err := ParseAction(rd.Action)
			if err != nil {
				return nil, fmt.Errorf("user %s rule %d: %w", uid, i, err)
			}
			rule, err := NewRule(rd.Pattern, action)
			if err != nil {
				return nil, fmt.Errorf("user %s rule %d: %w", uid, i, err)
			}
			rules = append(rules, rule)
		}
		uc := UserConfig{UserID: uid, Rules: rules}
		written := make([]string, 0, len(u.Engines))

		added := make(map[string]bool, len(u.Engines))
		for _, engine := range u.Engines {
			key := enginename.Normalize(engine)
			if key == "" {
				return nil, fmt.Errorf("user %s: %w", uid, ErrBlankEngine)
			}
			written = append(written, strings.TrimSpace(engine))
			if added[key] {
				continue
			}
			added[key] = true
			cfg.engines[key] = append(cfg.engines[key], uc)
		}
		cfg.spellings[uid] = append(cfg.spellings[uid], written...)
	}
	return cfg, nil
}

// Subscribers returns the users watching name.
func (c *NotifyConfig) Subscribers(name enginename.Name) []UserConfig {
	if c == nil {
		return nil
	}
	return c.engines[name.Normalized()]
}

// Recipients returns the sorted, de-duplicated ids of users who watch any of
// players and whose rules allow event.
func (c *NotifyConfig) Recipients(event string, players ...enginename.Name) []string {
	set := make(map[string]struct{})
	for _, p := range players {
		for _, u := range c.Subscribers(p) {
			if u.Rules.ShouldNotify(event) {
				set[u.UserID] = struct{}{}
			}
		}
	}
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Engines lists the normalized engine keys in sorted order.
func (c *NotifyConfig) Engines() []string {
	if c == nil {
		return nil
	}
	out := make([]string, 0, len(c.engines))
	for k := range c.engines {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// UserCount returns the number of distinct subscribers.
func (c *NotifyConfig) UserCount() int {
	if c == nil {
		return 0
	}
	seen := make(map[string]struct{})
	for _, users := range c.engines {
		for _, u := range users {
			seen[u.UserID] = struct{}{}
		}
	}
	return len(seen)
}

// Equal reports whether both configs list the same engines, spelled the same
// way, for the same users with the same rules.
func (c *NotifyConfig) Equal(other *NotifyConfig) bool {
	if c == nil || other == nil {
		return c == other
	}
	if len(c.spellings) != len(other.spellings) || len(c.engines) != len(other.engines) {
		return false
	}
	for id, names := range c.spellings {
		theirs, ok := other.spellings[id]
		if !ok || !slices.Equal(names, theirs) {
			return false
		}
	}
	for key, users := range c.engines {
		theirs, ok := other.engines[key]
		if !ok || len(theirs) != len(users) {
			return false
		}
		for i := range users {
			if !users[i].Equal(theirs[i]) {
				return false
			}
		}
	}
	return true
}
