package obslog

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"unicode/utf8"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type fakeSender struct {
	mu   sync.Mutex
	sent []*discordgo.WebhookParams
	err  error
}

func (f *fakeSender) Send(_ context.Context, p *discordgo.WebhookParams) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, p)
	return f.err
}

func TestWebhookCoreLevels(t *testing.T) {
	s := &fakeSender{}
	log := zap.New(NewWebhookCore(s, zapcore.WarnLevel))

	log.Info("cycle_done")
	log.Warn("pgn_parse_failed", zap.String("room", "133"))
	if len(s.sent) != 1 { t.Fatalf("sent %d alerts, want 1", len(s.sent)) }
	got := s.sent[0]
	if got.Content != "pgn_parse_failed `room=133`" { t.Fatalf("content = %q", got.Content) }
	if got.Username != "ccrl-live-notifier" { t.Fatalf("username = %q", got.Username) }
	if got.AllowedMentions == nil || len(got.AllowedMentions.Users) != 0 { t.Fatalf("warnings must not ping anyone") }
}

func TestWebhookCoreErrorMention(t *testing.T) {
	s := &fakeSender{}
	log := zap.New(NewWebhookCore(s, zapcore.InfoLevel, WithMention("42"))).With(zap.String("component", "watcher"))

	log.Error("fetch_failed", zap.Error(errors.New("boom")), zap.String("room", "7"))
	if len(s.sent) != 1 { t.Fatalf("sent %d", len(s.sent)) }
	want := "<@!42> :red_circle: fetch_failed `component=watcher error=boom room=7`"
	if s.sent[0].Content != want { t.Fatalf("content = %q", s.sent[0].Content) }
	if u := s.sent[0].AllowedMentions.Users; len(u) != 1 || u[0] != "42" { t.Fatalf("allowed mentions = %v", u) }

	log.Info("started")
	if strings.Contains(s.sent[1].Content, "<@!42>") { t.Fatalf("info should not mention: %q", s.sent[1].Content) }
}

func TestWebhookCoreFormatterAndTruncation(t *testing.T) {
	s := &fakeSender{}
	log := zap.New(NewWebhookCore(s, zapcore.InfoLevel,
		WithUsername("bot"),
		WithFormatter(func(a Alert) (string, error) { return "[" + a.Level.String() + "] " + a.Message, nil }),
	))
	log.Info("hello")
	if s.sent[0].Content != "[info] hello" || s.sent[0].Username != "bot" { t.Fatalf("got %+v", s.sent[0]) }

	log.Info(strings.Repeat("x", 3000))
	if n := len(s.sent[1].Content); n > 2000 { t.Fatalf("alert not truncated: %d bytes", n) }

	broken := zap.New(NewWebhookCore(s, zapcore.InfoLevel,
		WithFormatter(func(Alert) (string, error) { return "", errors.New("bad template") }),
	))
	broken.Info("fallback")
	if s.sent[2].Content != "fallback" { t.Fatalf("fallback content = %q", s.sent[2].Content) }
}

func TestWebhookCoreTruncatesOnRuneBoundary(t *testing.T) {
	s := &fakeSender{}
	log := zap.New(NewWebhookCore(s, zapcore.InfoLevel))
	log.Info("x" + strings.Repeat("é", 1500))
	got := s.sent[0].Content
	if !utf8.ValidString(got) { t.Fatalf("alert is not valid UTF-8") }
	if !strings.HasSuffix(got, "é…") { t.Fatalf("cut marker missing: %q", got[len(got)-8:]) }
	if len(got) > maxAlertLen+len("…") { t.Fatalf("alert too long: %d bytes", len(got)) }
}

func TestClip(t *testing.T) {
	if got := clip("short", 10); got != "short" { t.Fatalf("got %q", got) }
	if got := clip("aé", 2); got != "a…" { t.Fatalf("got %q", got) }
	if got := clip("abc", 2); got != "ab…" { t.Fatalf("got %q", got) }
}

func TestReportPanic(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	log := zap.New(core)

	func() {
		defer func() {
			if r := recover(); r != "kaboom" { t.Fatalf("panic not re-raised: %v", r) }
		}()
		func() {
			defer ReportPanic(log)
			panic("kaboom")
		}()
	}()

	entries := logs.FilterMessage("panic").All()
	if len(entries) != 1 { t.Fatalf("want one panic entry, got %d", len(entries)) }
	if entries[0].ContextMap()["panic"] != "kaboom" { t.Fatalf("fields = %v", entries[0].ContextMap()) }
}

func TestReportPanicNoPanic(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	func() {
		defer ReportPanic(zap.New(core))
	}()
	if logs.Len() != 0 { t.Fatalf("unexpected log entries") }
}

func TestParseLevel(t *testing.T) {
	cases := map[string]zapcore.Level{"debug": zapcore.DebugLevel, " WARNING ": zapcore.WarnLevel, "error": zapcore.ErrorLevel, "": zapcore.InfoLevel, "nope": zapcore.InfoLevel}
	for in, want := range cases {
		if got := ParseLevel(in); got != want { t.Fatalf("ParseLevel(%q) = %v, want %v", in, got, want) }
	}
}

func TestInitFromEnvTeesExtraCores(t *testing.T) {
	t.Setenv("LOG_TO_CONSOLE", "false")
	t.Setenv("LOG_TO_FILE", "false")
	prev := L()
	t.Cleanup(func() { Set(prev) })

	core, logs := observer.New(zapcore.InfoLevel)
	if err := InitFromEnv(core); err != nil { t.Fatalf("init: %v", err) }
	L().Info("hello", zap.String("k", "v"))
	if logs.FilterMessage("hello").Len() != 1 { t.Fatalf("extra core did not receive entry") }
}
