package obslog

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap/zapcore"
)

// Discord rejects message content above 2000 characters.
const maxAlertLen = 1900

type Sender interface {
	Send(ctx context.Context, params *discordgo.WebhookParams) error
}

// Alert is what the webhook core hands to its formatter.
type Alert struct {
	Level   zapcore.Level
	Message string
	Fields  string // "k=v k=v", keys sorted
	Error   bool   // level is error or above
	Mention string // user pinged on errors, empty otherwise
}

type AlertFormatter func(Alert) (string, error)

func defaultFormatter(a Alert) (string, error) {
	var b strings.Builder
	if a.Mention != "" {
		fmt.Fprintf(&b, "<@!%s> ", a.Mention)
	}
	if a.Error {
		b.WriteString(":red_circle: ")
	}
	b.WriteString(a.Message)
	if a.Fields != "" {
		fmt.Fprintf(&b, " `%s`", a.Fields)
	}
	return b.String(), nil
}

type WebhookOption func(*webhookCore)

func WithFormatter(f AlertFormatter) WebhookOption {
	return func(c *webhookCore) {
		if f != nil {
			c.format = f
		}
	}
}

// WithMention pings userID on error alerts.
func WithMention(userID string) WebhookOption {
	return func(c *webhookCore) { c.mention = strings.TrimSpace(userID) }
}

func WithUsername(name string) WebhookOption {
	return func(c *webhookCore) { c.username = name }
}

func WithSendTimeout(d time.Duration) WebhookOption {
	return func(c *webhookCore) { c.timeout = d }
}

type webhookCore struct {
	zapcore.LevelEnabler
	sender   Sender
	format   AlertFormatter
	mention  string
	username string
	timeout  time.Duration
	fields   []zapcore.Field
}

// NewWebhookCore forwards entries at or above level to a Discord webhook.
func NewWebhookCore(sender Sender, level zapcore.LevelEnabler, opts ...WebhookOption) zapcore.Core {
	c := &webhookCore{
		LevelEnabler: level,
		sender:       sender,
		format:       defaultFormatter,
		username:     "ccrl-live-notifier",
		timeout:      10 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *webhookCore) With(fields []zapcore.Field) zapcore.Core {
	clone := *c
	clone.fields = make([]zapcore.Field, 0, len(c.fields)+len(fields))
	clone.fields = append(clone.fields, c.fields...)
	clone.fields = append(clone.fields, fields...)
	return &clone
}

func (c *webhookCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(ent.Level) {
		return ce.AddCore(ent, c)
	}
	return ce
}

func (c *webhookCore) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	a := Alert{
		Level:   ent.Level,
		Message: ent.Message,
		Fields:  encodeFields(c.fields, fields),
		Error:   ent.Level >= zapcore.ErrorLevel,
	}
	if a.Error {
		a.Mention = c.mention
	}
	text, err := c.format(a)
	if err != nil {
		text, _ = defaultFormatter(a)
	}
	text = clip(text, maxAlertLen)

	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()
	params := &discordgo.WebhookParams{Username: c.username, Content: text}
	if a.Mention != "" {
		params.AllowedMentions = &discordgo.MessageAllowedMentions{Users: []string{a.Mention}}
	} else {
		params.AllowedMentions = &discordgo.MessageAllowedMentions{}
	}
	return c.sender.Send(ctx, params)
}

func (c *webhookCore) Sync() error { return nil }

func encodeFields(groups ...[]zapcore.Field) string {
	enc := zapcore.NewMapObjectEncoder()
	for _, g := range groups {
		for _, f := range g {
			f.AddTo(enc)
		}
	}
	if len(enc.Fields) == 0 {
		return ""
	}
	keys := make([]string, 0, len(enc.Fields))
	for k := range enc.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, enc.Fields[k]))
	}
	return strings.Join(parts, " ")
}

// clip cuts s to at most n bytes on a rune boundary and marks the cut.
func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "…"
}
