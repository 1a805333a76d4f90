package app

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/mmengine/internal/domain"
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type published struct {
	channel string
	payload []byte
}

type fakeBus struct {
	mu      sync.Mutex
	pubs    []published
	streams map[string][][]byte
	subs    map[string]chan []byte
}

func newFakeBus() *fakeBus {
	return &fakeBus{streams: map[string][][]byte{}, subs: map[string]chan []byte{}}
}

func (b *fakeBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pubs = append(b.pubs, published{channel, payload})
	return nil
}

func (b *fakeBus) Subscribe(_ context.Context, channel string) (<-chan []byte, error) {
	return b.inbox(channel), nil
}

// inbox returns the channel subscribers of channel read from.
func (b *fakeBus) inbox(channel string) chan []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch, ok := b.subs[channel]
	if !ok {
		ch = make(chan []byte, 16)
		b.subs[channel] = ch
	}
	return ch
}

func (b *fakeBus) StreamAppend(_ context.Context, stream string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.streams[stream] = append(b.streams[stream], payload)
	return nil
}

func (b *fakeBus) StreamRead(ctx context.Context, _, _ string, _ int) ([]domain.StreamMessage, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (b *fakeBus) published(channel string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, p := range b.pubs {
		if p.channel == channel {
			n++
		}
	}
	return n
}

func (b *fakeBus) streamLen(stream string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.streams[stream])
}

type fakeBooks struct {
	mu    sync.Mutex
	count map[string]int
	stats map[string]domain.BookStats
}

func newFakeBooks() *fakeBooks {
	return &fakeBooks{count: map[string]int{}, stats: map[string]domain.BookStats{}}
}

func (f *fakeBooks) SetSnapshot(_ context.Context, snap domain.OrderBookSnapshot, stats domain.BookStats) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count[snap.Symbol]++
	f.stats[snap.Symbol] = stats
	return nil
}

func (f *fakeBooks) GetSnapshot(context.Context, string) (domain.OrderBookSnapshot, error) {
	return domain.OrderBookSnapshot{}, domain.ErrNotFound
}

func (f *fakeBooks) GetStats(_ context.Context, symbol string) (domain.BookStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.stats[symbol]
	if !ok {
		return domain.BookStats{}, domain.ErrNotFound
	}
	return s, nil
}

func (f *fakeBooks) updates(symbol string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.count[symbol]
}

type fakeStates struct {
	mu    sync.Mutex
	snaps map[string]domain.StateSnapshot
	saves int
}

func newFakeStates() *fakeStates { return &fakeStates{snaps: map[string]domain.StateSnapshot{}} }

func (f *fakeStates) Save(_ context.Context, snap domain.StateSnapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snaps[snap.Symbol] = snap
	f.saves++
	return nil
}

func (f *fakeStates) Load(_ context.Context, symbol string) (domain.StateSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.snaps[symbol]
	if !ok {
		return domain.StateSnapshot{}, fmt.Errorf("state %s: %w", symbol, domain.ErrNotFound)
	}
	return s, nil
}

func (f *fakeStates) Delete(_ context.Context, symbol string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.snaps, symbol)
	return nil
}

func (f *fakeStates) get(symbol string) (domain.StateSnapshot, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.snaps[symbol]
	return s, ok
}

type fakeLocks struct {
	mu   sync.Mutex
	held map[string]*fakeLease
}

func newFakeLocks() *fakeLocks { return &fakeLocks{held: map[string]*fakeLease{}} }

func (f *fakeLocks) Acquire(_ context.Context, key string, _ time.Duration) (domain.Lease, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.held[key] != nil {
		return nil, fmt.Errorf("lock %s: %w", key, domain.ErrLockHeld)
	}
	l := &fakeLease{lost: make(chan struct{})}
	l.release = func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.held[key] == l {
			delete(f.held, key)
		}
	}
	f.held[key] = l
	return l, nil
}

func (f *fakeLocks) isHeld(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.held[key] != nil
}

// revoke simulates the lock expiring underneath its owner.
func (f *fakeLocks) revoke(key string) {
	f.mu.Lock()
	l := f.held[key]
	delete(f.held, key)
	f.mu.Unlock()
	if l != nil {
		l.lostOnce.Do(func() { close(l.lost) })
	}
}

type fakeLease struct {
	lost     chan struct{}
	lostOnce sync.Once
	once     sync.Once
	release  func()
}

func (l *fakeLease) Lost() <-chan struct{} { return l.lost }

func (l *fakeLease) Release() { l.once.Do(l.release) }

// slowBooks is a book cache whose writes take delay each.
type slowBooks struct {
	*fakeBooks
	delay time.Duration
}

func (s slowBooks) SetSnapshot(ctx context.Context, snap domain.OrderBookSnapshot, stats domain.BookStats) error {
	time.Sleep(s.delay)
	return s.fakeBooks.SetSnapshot(ctx, snap, stats)
}

type fakeBreaches struct {
	mu  sync.Mutex
	all []domain.LimitBreach
}

func (f *fakeBreaches) Insert(_ context.Context, b domain.LimitBreach) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.all = append(f.all, b)
	return nil
}

func (f *fakeBreaches) ListRecent(context.Context, string, int) ([]domain.LimitBreach, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.LimitBreach(nil), f.all...), nil
}

func (f *fakeBreaches) list() []domain.LimitBreach {
	out, _ := f.ListRecent(context.Background(), "", 0)
	return out
}

type fakeAlerter struct {
	mu     sync.Mutex
	alerts []domain.LimitBreach
}

func (f *fakeAlerter) Alert(_ context.Context, b domain.LimitBreach) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alerts = append(f.alerts, b)
	return true, nil
}

func (f *fakeAlerter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.alerts)
}

type fakePositions struct {
	mu   sync.Mutex
	last map[string]float64
	n    int
}

func newFakePositions() *fakePositions { return &fakePositions{last: map[string]float64{}} }

func (f *fakePositions) PositionChanged(symbol string, qty float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.last[symbol] = qty
	f.n++
}

func (f *fakePositions) get(symbol string) (float64, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.last[symbol], f.n
}

type fakeBacktestStore struct {
	mu      sync.Mutex
	results []domain.BacktestResult
	err     error
}

func (f *fakeBacktestStore) SaveResult(_ context.Context, res domain.BacktestResult) error {
	if f.err != nil {
		return f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results = append(f.results, res)
	return nil
}

func (f *fakeBacktestStore) GetResult(context.Context, string) (domain.BacktestResult, error) {
	return domain.BacktestResult{}, domain.ErrNotFound
}

func (f *fakeBacktestStore) ListRecent(context.Context, string, int) ([]domain.BacktestResult, error) {
	return nil, nil
}

type fakeArchiver struct {
	mu    sync.Mutex
	paths []string
}

func (f *fakeArchiver) ArchiveResult(_ context.Context, res domain.BacktestResult) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := "backtests/" + res.Symbol + "/" + res.RunID
	f.paths = append(f.paths, p)
	return p, nil
}

type recordingSender struct {
	mu     sync.Mutex
	titles []string
}

func (r *recordingSender) Send(_ context.Context, title, _ string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.titles = append(r.titles, title)
	return nil
}

func (r *recordingSender) Name() string { return "recording" }

type fakeBlobs map[string][]byte

func (f fakeBlobs) Get(_ context.Context, path string) (io.ReadCloser, error) {
	b, ok := f[path]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (f fakeBlobs) Exists(_ context.Context, path string) (bool, error) {
	_, ok := f[path]
	return ok, nil
}
