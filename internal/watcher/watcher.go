// Package watcher polls broadcast rooms and announces new games to their
// subscribers.
package watcher

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/park285/ccrl-live-notifier/internal/ccrlpgn"
	"github.com/park285/ccrl-live-notifier/internal/notify"
	"github.com/park285/ccrl-live-notifier/internal/notifyrule"
	"github.com/park285/ccrl-live-notifier/internal/obslog"
	"github.com/park285/ccrl-live-notifier/internal/seen"
)

// Fetcher returns a room's current PGN; ok is false when nothing is broadcast.
type Fetcher interface {
	FetchPGN(ctx context.Context, room string) (doc string, ok bool, err error)
}

type ConfigLoader interface {
	Load(ctx context.Context) (*notifyrule.NotifyConfig, error)
}

// Recorder keeps an audit trail of sent notifications.
type Recorder interface {
	Record(ctx context.Context, n notify.Notification, fp ccrlpgn.Fingerprint) error
}

type Options struct {
	Rooms                 []string
	PollInterval          time.Duration
	ConfigRefreshInterval time.Duration // zero disables refresh
	FetchConcurrency      int
	RoomURL               func(room string) string
	LabelOpenings         bool
}

// Outcome is what HandleGame decided for one game.
type Outcome int

const (
	OutcomeInBook Outcome = iota
	OutcomeAlreadySeen
	OutcomeNoRecipients
	OutcomeNotified
	OutcomeNotifyFailed
	OutcomeStoreError
	OutcomeNoConfig
)

func (o Outcome) String() string {
	switch o {
	case OutcomeInBook:
		return "in_book"
	case OutcomeAlreadySeen:
		return "already_seen"
	case OutcomeNoRecipients:
		return "no_recipients"
	case OutcomeNotified:
		return "notified"
	case OutcomeNotifyFailed:
		return "notify_failed"
	case OutcomeStoreError:
		return "store_error"
	case OutcomeNoConfig:
		return "no_config"
	default:
		return "unknown"
	}
}

var ErrNoConfig = errf("notify config not loaded")

type staticErr string

func (e staticErr) Error() string { return string(e) }
func errf(s string) error         { return staticErr(s) }

type Watcher struct {
	opts     Options
	fetcher  Fetcher
	loader   ConfigLoader
	store    seen.Store
	notifier notify.Notifier
	recorder Recorder
	log      *zap.Logger
	now      func() time.Time

	mu          sync.RWMutex
	cfg         *notifyrule.NotifyConfig
	lastRefresh time.Time
}

func New(opts Options, f Fetcher, l ConfigLoader, s seen.Store, n notify.Notifier, log *zap.Logger) *Watcher {
	if log == nil {
		log = obslog.L()
	}
	if opts.FetchConcurrency <= 0 {
		opts.FetchConcurrency = 1
	}
	if opts.RoomURL == nil {
		opts.RoomURL = func(room string) string { return room }
	}
	return &Watcher{opts: opts, fetcher: f, loader: l, store: s, notifier: n, log: log, now: time.Now}
}

func (w *Watcher) SetRecorder(r Recorder) { w.recorder = r }

// Config returns the notify config currently in effect.
func (w *Watcher) Config() *notifyrule.NotifyConfig {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.cfg
}

// LoadConfig loads the initial notify config. Startup treats failure as fatal.
func (w *Watcher) LoadConfig(ctx context.Context) error {
	cfg, err := w.loader.Load(ctx)
	if err != nil {
		return err
	}
	w.mu.Lock()
	w.cfg = cfg
	w.lastRefresh = w.now()
	w.mu.Unlock()
	w.log.Info("notify_config_loaded",
		zap.Int("engines", len(cfg.Engines())),
		zap.Int("users", cfg.UserCount()),
	)
	return nil
}

// RefreshConfig reloads the notify config. On failure the previous config
// stays in effect. It reports whether the content changed.
func (w *Watcher) RefreshConfig(ctx context.Context) bool {
	cfg, err := w.loader.Load(ctx)
	w.mu.Lock()
	w.lastRefresh = w.now()
	prev := w.cfg
	if err == nil {
		w.cfg = cfg
	}
	w.mu.Unlock()

	if err != nil {
		w.log.Error("notify_config_refresh_failed", zap.Error(err))
		return false
	}
	if prev.Equal(cfg) {
		w.log.Debug("notify_config_unchanged")
		return false
	}
	w.log.Info("notify_config_changed",
		zap.Int("engines", len(cfg.Engines())),
		zap.Int("users", cfg.UserCount()),
	)
	return true
}

func (w *Watcher) refreshDue() bool {
	if w.opts.ConfigRefreshInterval <= 0 {
		return false
	}
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.now().Sub(w.lastRefresh) >= w.opts.ConfigRefreshInterval
}

// HandleGame runs the per-game decision: skip games still in book or already
// seen, claim the fingerprint, then notify the users whose subscriptions and
// rules match. The fingerprint stays claimed even when delivery fails.
func (w *Watcher) HandleGame(ctx context.Context, room string, g *ccrlpgn.Game) (Outcome, error) {
	if !g.OutOfBook() {
		return OutcomeInBook, nil
	}
	fp := g.Fingerprint()
	log := w.log.With(zap.String("room", room), zap.String("game", fp.Short()))

	known, err := w.store.Contains(ctx, fp)
	if err != nil {
		log.Error("seen_lookup_failed", zap.Error(err))
		return OutcomeStoreError, err
	}
	if known {
		return OutcomeAlreadySeen, nil
	}

	cfg := w.Config()
	// Run and the service load a config before the first cycle. A game seen
	// without one stays unclaimed so it is announced once a config arrives.
	if cfg == nil {
		log.Error("notify_config_missing")
		return OutcomeNoConfig, ErrNoConfig
	}
	recipients := cfg.Recipients(g.Event, g.White, g.Black)

	claimed, err := w.store.Add(ctx, fp)
	if err != nil {
		log.Error("seen_add_failed", zap.Error(err))
		return OutcomeStoreError, err
	}
	if !claimed {
		return OutcomeAlreadySeen, nil
	}

	log.Info("game_started",
		zap.String("white", g.White.Display()),
		zap.String("black", g.Black.Display()),
		zap.String("event", g.Event),
		zap.Int("recipients", len(recipients)),
	)
	if len(recipients) == 0 {
		return OutcomeNoRecipients, nil
	}

	n := notify.Notification{
		White:      g.White.Display(),
		Black:      g.Black.Display(),
		Event:      g.Event,
		Room:       room,
		RoomURL:    w.opts.RoomURL(room),
		Recipients: recipients,
	}
	if w.opts.LabelOpenings {
		n.OpeningCode, n.OpeningTitle = ccrlpgn.Opening(g)
	}

	if err := w.notifier.Notify(ctx, n); err != nil {
		log.Error("notify_failed", zap.Error(err), zap.Strings("recipients", recipients))
		return OutcomeNotifyFailed, err
	}
	log.Info("notify_sent", zap.Strings("recipients", recipients))

	if w.recorder != nil {
		if err := w.recorder.Record(ctx, n, fp); err != nil {
			log.Warn("history_record_failed", zap.Error(err))
		}
	}
	return OutcomeNotified, nil
}

// Result is one room's share of a cycle.
type Result struct {
	Room    string
	Outcome Outcome
	Active  bool // the room had a parseable game
	Err     error
}

type fetched struct {
	doc string
	ok  bool
	err error
}

// Cycle fetches every room concurrently, then decides room by room in
// configured order. Errors are logged and reported per room; they never stop
// the cycle.
func (w *Watcher) Cycle(ctx context.Context) []Result {
	if w.refreshDue() {
		w.RefreshConfig(ctx)
	}

	docs := make([]fetched, len(w.opts.Rooms))
	var g errgroup.Group
	g.SetLimit(w.opts.FetchConcurrency)
	for i, room := range w.opts.Rooms {
		g.Go(func() error {
			doc, ok, err := w.fetcher.FetchPGN(ctx, room)
			docs[i] = fetched{doc: doc, ok: ok, err: err}
			return nil
		})
	}
	_ = g.Wait()

	results := make([]Result, 0, len(w.opts.Rooms))
	for i, room := range w.opts.Rooms {
		r := Result{Room: room}
		f := docs[i]
		switch {
		case f.err != nil:
			w.log.Error("pgn_fetch_failed", zap.String("room", room), zap.Error(f.err))
			r.Err = f.err
		case !f.ok:
			w.log.Debug("room_idle", zap.String("room", room))
		default:
			game, err := ccrlpgn.Parse(f.doc)
			if err != nil {
				w.log.Warn("pgn_parse_failed", zap.String("room", room), zap.Error(err))
				r.Err = err
				break
			}
			r.Active = true
			r.Outcome, r.Err = w.HandleGame(ctx, room, game)
		}
		results = append(results, r)
	}
	return results
}

// Run polls until ctx is cancelled. The first cycle starts immediately.
func (w *Watcher) Run(ctx context.Context) error {
	if w.Config() == nil {
		if err := w.LoadConfig(ctx); err != nil {
			return err
		}
	}
	w.log.Info("watcher_started",
		zap.Strings("rooms", w.opts.Rooms),
		zap.Duration("poll_interval", w.opts.PollInterval),
	)

	ticker := time.NewTicker(w.opts.PollInterval)
	defer ticker.Stop()
	for {
		w.Cycle(ctx)
		select {
		case <-ctx.Done():
			w.log.Info("watcher_stopped")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
