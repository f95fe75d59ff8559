package watcher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/park285/ccrl-live-notifier/internal/ccrlpgn"
	"github.com/park285/ccrl-live-notifier/internal/notify"
	"github.com/park285/ccrl-live-notifier/internal/notifyrule"
	"github.com/park285/ccrl-live-notifier/internal/seen"
)

const headers = `[Site "114th Amateur D11"]
[Date "2025.01.06"]
[White "RookieMonster 1.9.9 64-bit"]
[Black "Betsabe_II 2023"]

`

const (
	bookOnly   = headers + `1. d4 {(Book)} Nf6 {(Book)} 2. c4 {(Book)} g6 {(Book)} 3. Nf3 {(Book)} Bg7 {(Book)}`
	outOfBook  = bookOnly + ` 4. Nc3 {+0.20/18 12}`
	laterMoves = outOfBook + ` d5 {-0.10/17 9} 5. Qa4+ {+0.31/19 15}`
)

type reply struct {
	doc string
	ok  bool
	err error
}

// fakeFetcher serves queued replies per room and repeats the last one.
type fakeFetcher struct {
	mu      sync.Mutex
	replies map[string][]reply
}

func newFetcher() *fakeFetcher { return &fakeFetcher{replies: make(map[string][]reply)} }

func (f *fakeFetcher) queue(room string, rs ...reply) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replies[room] = append(f.replies[room], rs...)
}

func (f *fakeFetcher) FetchPGN(_ context.Context, room string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rs := f.replies[room]
	if len(rs) == 0 {
		return "", false, nil
	}
	r := rs[0]
	if len(rs) > 1 {
		f.replies[room] = rs[1:]
	}
	return r.doc, r.ok, r.err
}

func live(doc string) reply { return reply{doc: doc, ok: true} }

type fakeLoader struct {
	mu    sync.Mutex
	docs  []string
	err   error
	calls int
}

func (l *fakeLoader) Load(context.Context) (*notifyrule.NotifyConfig, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	if l.err != nil {
		return nil, l.err
	}
	doc := l.docs[0]
	if len(l.docs) > 1 {
		l.docs = l.docs[1:]
	}
	return notifyrule.Parse([]byte(doc))
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []notify.Notification
	err  error
}

func (n *fakeNotifier) Notify(_ context.Context, msg notify.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, msg)
	return n.err
}

type fakeRecorder struct {
	fps []ccrlpgn.Fingerprint
	err error
}

func (r *fakeRecorder) Record(_ context.Context, _ notify.Notification, fp ccrlpgn.Fingerprint) error {
	r.fps = append(r.fps, fp)
	return r.err
}

type failingStore struct{ err error }

func (s failingStore) Contains(context.Context, ccrlpgn.Fingerprint) (bool, error) { return false, s.err }
func (s failingStore) Add(context.Context, ccrlpgn.Fingerprint) (bool, error)      { return false, s.err }

const rookieConfig = `users:
  "1":
    engines: [rookiemonster]
  "2":
    engines: ["RookieMonster 2.0", Betsabe_II]
    rules:
      - {pattern: "WC", action: ignore}
`

type harness struct {
	w        *Watcher
	fetcher  *fakeFetcher
	loader   *fakeLoader
	store    *seen.MemoryStore
	notifier *fakeNotifier
	logs     *observer.ObservedLogs
}

func newHarness(t *testing.T, rooms []string, configs ...string) *harness {
	t.Helper()
	if len(configs) == 0 {
		configs = []string{rookieConfig}
	}
	core, logs := observer.New(zapcore.DebugLevel)
	h := &harness{
		fetcher:  newFetcher(),
		loader:   &fakeLoader{docs: configs},
		store:    seen.NewMemoryStore(),
		notifier: &fakeNotifier{},
		logs:     logs,
	}
	h.w = New(Options{
		Rooms:            rooms,
		PollInterval:     time.Millisecond,
		FetchConcurrency: 2,
		RoomURL:          func(room string) string { return "https://ccrl.live/" + room },
	}, h.fetcher, h.loader, h.store, h.notifier, zap.New(core))
	require.NoError(t, h.w.LoadConfig(context.Background()))
	return h
}

func TestThreeFetchScenario(t *testing.T) {
	h := newHarness(t, []string{"133"})
	h.fetcher.queue("133", live(bookOnly), live(outOfBook), live(laterMoves))
	ctx := context.Background()

	res := h.w.Cycle(ctx)
	require.Len(t, res, 1)
	assert.Equal(t, OutcomeInBook, res[0].Outcome)
	assert.True(t, res[0].Active)
	assert.Equal(t, 0, h.store.Len())
	assert.Empty(t, h.notifier.sent)

	res = h.w.Cycle(ctx)
	assert.Equal(t, OutcomeNotified, res[0].Outcome)
	require.Len(t, h.notifier.sent, 1)
	n := h.notifier.sent[0]
	assert.Equal(t, "RookieMonster 1.9.9 64-bit", n.White)
	assert.Equal(t, "Betsabe_II 2023", n.Black)
	assert.Equal(t, "114th Amateur D11", n.Event)
	assert.Equal(t, "133", n.Room)
	assert.Equal(t, "https://ccrl.live/133", n.RoomURL)
	assert.Equal(t, []string{"1", "2"}, n.Recipients)
	assert.Equal(t, 1, h.store.Len())

	g, err := ccrlpgn.Parse(outOfBook)
	require.NoError(t, err)
	ok, err := h.store.Contains(ctx, g.Fingerprint())
	require.NoError(t, err)
	assert.True(t, ok)

	res = h.w.Cycle(ctx)
	assert.Equal(t, OutcomeAlreadySeen, res[0].Outcome)
	assert.Len(t, h.notifier.sent, 1)
}

func TestRulesFilterRecipients(t *testing.T) {
	h := newHarness(t, []string{"1"})
	wc := `[Site "CCRL WC 2025"]
[Date "2025.02.01"]
[White "RookieMonster 1.9.9 64-bit"]
[Black "Betsabe_II 2023"]

1. e4 {(Book)} e5 {+0.1/20 3}`
	h.fetcher.queue("1", live(wc))
	res := h.w.Cycle(context.Background())
	assert.Equal(t, OutcomeNotified, res[0].Outcome)
	assert.Equal(t, []string{"1"}, h.notifier.sent[0].Recipients)
}

func TestNoRecipientsStillMarksSeen(t *testing.T) {
	h := newHarness(t, []string{"1"}, `users: {"9": {engines: [Stockfish]}}`)
	h.fetcher.queue("1", live(outOfBook))
	ctx := context.Background()

	res := h.w.Cycle(ctx)
	assert.Equal(t, OutcomeNoRecipients, res[0].Outcome)
	assert.Empty(t, h.notifier.sent)
	assert.Equal(t, 1, h.store.Len())

	res = h.w.Cycle(ctx)
	assert.Equal(t, OutcomeAlreadySeen, res[0].Outcome)
}

func TestNotifyFailureStaysSeen(t *testing.T) {
	h := newHarness(t, []string{"1"})
	h.notifier.err = errors.New("webhook down")
	h.fetcher.queue("1", live(outOfBook))
	ctx := context.Background()

	res := h.w.Cycle(ctx)
	assert.Equal(t, OutcomeNotifyFailed, res[0].Outcome)
	assert.Error(t, res[0].Err)
	assert.Equal(t, 1, h.logs.FilterMessage("notify_failed").Len())

	res = h.w.Cycle(ctx)
	assert.Equal(t, OutcomeAlreadySeen, res[0].Outcome)
	assert.Len(t, h.notifier.sent, 1)
}

func TestSameGameInTwoRoomsNotifiesOnce(t *testing.T) {
	h := newHarness(t, []string{"a", "b"})
	h.fetcher.queue("a", live(outOfBook))
	h.fetcher.queue("b", live(laterMoves))

	res := h.w.Cycle(context.Background())
	require.Len(t, res, 2)
	assert.Equal(t, "a", res[0].Room)
	assert.Equal(t, OutcomeNotified, res[0].Outcome)
	assert.Equal(t, OutcomeAlreadySeen, res[1].Outcome)
	assert.Len(t, h.notifier.sent, 1)
}

func TestRoomFailuresAreIsolated(t *testing.T) {
	h := newHarness(t, []string{"down", "garbled", "idle", "ok"})
	h.fetcher.queue("down", reply{err: errors.New("connection refused")})
	h.fetcher.queue("garbled", live(headers+`{orphan} 1. e4 {x}`))
	h.fetcher.queue("ok", live(outOfBook))

	res := h.w.Cycle(context.Background())
	require.Len(t, res, 4)
	assert.Error(t, res[0].Err)
	assert.False(t, res[0].Active)
	assert.ErrorIs(t, res[1].Err, ccrlpgn.ErrOrphanComment)
	assert.False(t, res[2].Active)
	assert.NoError(t, res[2].Err)
	assert.Equal(t, OutcomeNotified, res[3].Outcome)

	assert.Equal(t, 1, h.logs.FilterMessage("pgn_fetch_failed").Len())
	assert.Equal(t, 1, h.logs.FilterMessage("pgn_parse_failed").FilterField(zap.String("room", "garbled")).Len())
}

func TestStoreErrorSkipsGame(t *testing.T) {
	h := newHarness(t, []string{"1"})
	w := New(Options{Rooms: []string{"1"}, PollInterval: time.Millisecond}, h.fetcher, h.loader, failingStore{err: errors.New("redis down")}, h.notifier, zap.NewNop())
	require.NoError(t, w.LoadConfig(context.Background()))
	h.fetcher.queue("1", live(outOfBook))

	res := w.Cycle(context.Background())
	assert.Equal(t, OutcomeStoreError, res[0].Outcome)
	assert.Empty(t, h.notifier.sent)
}

func TestHandleGameWithoutConfig(t *testing.T) {
	store := seen.NewMemoryStore()
	notifier := &fakeNotifier{}
	w := New(Options{}, newFetcher(), &fakeLoader{docs: []string{rookieConfig}}, store, notifier, zap.NewNop())
	g, err := ccrlpgn.Parse(outOfBook)
	require.NoError(t, err)
	ctx := context.Background()

	out, err := w.HandleGame(ctx, "1", g)
	assert.Equal(t, OutcomeNoConfig, out)
	assert.ErrorIs(t, err, ErrNoConfig)
	assert.Equal(t, 0, store.Len(), "game must stay unclaimed without a config")

	require.NoError(t, w.LoadConfig(ctx))
	out, err = w.HandleGame(ctx, "1", g)
	require.NoError(t, err)
	assert.Equal(t, OutcomeNotified, out)
	assert.Len(t, notifier.sent, 1)
}

func TestRecorderAndOpeningLabel(t *testing.T) {
	h := newHarness(t, []string{"1"})
	h.w.opts.LabelOpenings = true
	rec := &fakeRecorder{err: errors.New("db down")}
	h.w.SetRecorder(rec)
	h.fetcher.queue("1", live(outOfBook))

	res := h.w.Cycle(context.Background())
	assert.Equal(t, OutcomeNotified, res[0].Outcome)
	require.Len(t, rec.fps, 1)
	assert.Equal(t, 1, h.logs.FilterMessage("history_record_failed").Len())
	assert.NotEmpty(t, h.notifier.sent[0].OpeningCode)
}

func TestConfigRefresh(t *testing.T) {
	h := newHarness(t, []string{"1"}, rookieConfig, rookieConfig, `users: {"3": {engines: [Betsabe_II]}}`)
	ctx := context.Background()

	assert.False(t, h.w.RefreshConfig(ctx))
	assert.Equal(t, 1, h.logs.FilterMessage("notify_config_unchanged").Len())

	assert.True(t, h.w.RefreshConfig(ctx))
	assert.Equal(t, 1, h.logs.FilterMessage("notify_config_changed").Len())
	assert.Equal(t, []string{"betsabe_ii"}, h.w.Config().Engines())

	h.loader.err = errors.New("config host down")
	assert.False(t, h.w.RefreshConfig(ctx))
	assert.Equal(t, []string{"betsabe_ii"}, h.w.Config().Engines(), "previous config must stay in effect")
	assert.Equal(t, 1, h.logs.FilterMessage("notify_config_refresh_failed").Len())
}

func TestCycleRefreshesWhenDue(t *testing.T) {
	h := newHarness(t, []string{"1"})
	now := time.Date(2025, 1, 6, 0, 0, 0, 0, time.UTC)
	h.w.now = func() time.Time { return now }
	h.w.opts.ConfigRefreshInterval = time.Minute
	require.NoError(t, h.w.LoadConfig(context.Background()))
	calls := h.loader.calls

	h.w.Cycle(context.Background())
	assert.Equal(t, calls, h.loader.calls)

	now = now.Add(time.Minute)
	h.w.Cycle(context.Background())
	assert.Equal(t, calls+1, h.loader.calls)
}

func TestRunStopsOnCancel(t *testing.T) {
	h := newHarness(t, []string{"1"})
	h.fetcher.queue("1", live(outOfBook))
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := h.w.Run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	h.notifier.mu.Lock()
	defer h.notifier.mu.Unlock()
	assert.Len(t, h.notifier.sent, 1)
}

func TestRunFailsWithoutInitialConfig(t *testing.T) {
	w := New(Options{Rooms: []string{"1"}, PollInterval: time.Millisecond}, newFetcher(), &fakeLoader{err: errors.New("404")}, seen.NewMemoryStore(), &fakeNotifier{}, zap.NewNop())
	assert.Error(t, w.Run(context.Background()))
}

func TestOutcomeString(t *testing.T) {
	assert.Equal(t, "notified", OutcomeNotified.String())
	assert.Equal(t, "unknown", Outcome(99).String())
}
