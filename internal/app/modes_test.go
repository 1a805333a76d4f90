package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/mmengine/internal/config"
	"github.com/alanyoungcy/mmengine/internal/domain"
	"github.com/alanyoungcy/mmengine/internal/metrics"
	"github.com/alanyoungcy/mmengine/internal/notify"
)

func writeTicks(t *testing.T, ticks []domain.MarketTick) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ticks.jsonl")
	f, err := os.Create(path)
	require.NoError(t, err)
	enc := json.NewEncoder(f)
	for _, tk := range ticks {
		require.NoError(t, enc.Encode(tk))
	}
	require.NoError(t, f.Close())
	return path
}

// wave interleaves two symbols oscillating around their base prices.
func wave(n int) []domain.MarketTick {
	out := make([]domain.MarketTick, 0, 2*n)
	for i := 0; i < n; i++ {
		es := 100 + math.Sin(float64(i)/7)*0.8
		nq := 250 + math.Cos(float64(i)/5)*1.5
		out = append(out, tick("ES", i, es), tick("NQ", i, nq))
	}
	return out
}

func TestBacktestModeStoresArchivesAndNotifies(t *testing.T) {
	cfg := config.Defaults()
	cfg.Backtest.InputPath = writeTicks(t, wave(300))
	cfg.Backtest.StoreResults = true
	cfg.Backtest.ArchiveResults = true

	store := &fakeBacktestStore{}
	archiver := &fakeArchiver{}
	sender := &recordingSender{}
	deps := &Dependencies{
		BacktestStore: store,
		Archiver:      archiver,
		Notifier:      notify.NewNotifier([]notify.Sender{sender}, cfg.Notify.Events, discard()),
	}

	a := New(&cfg, discard())
	require.NoError(t, a.BacktestMode(context.Background(), deps))

	require.Len(t, store.results, 2)
	bySymbol := map[string]domain.BacktestResult{}
	for _, r := range store.results {
		bySymbol[r.Symbol] = r
	}
	for _, sym := range []string{"ES", "NQ"} {
		r, ok := bySymbol[sym]
		require.True(t, ok, sym)
		assert.Equal(t, 300, r.Ticks)
		assert.Equal(t, 1_000_000.0, r.InitialCapital)
		assert.NotEmpty(t, r.RunID)
	}
	assert.Len(t, archiver.paths, 2)
	assert.Equal(t, []string{"Backtest ES complete", "Backtest NQ complete"}, sender.titles)
}

func TestBacktestModeMissingInput(t *testing.T) {
	cfg := config.Defaults()
	cfg.Backtest.InputPath = filepath.Join(t.TempDir(), "missing.jsonl")
	err := New(&cfg, discard()).BacktestMode(context.Background(), &Dependencies{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load ticks")
}

func TestBacktestModeS3InputNeedsReader(t *testing.T) {
	cfg := config.Defaults()
	cfg.Backtest.InputS3Key = "ticks/es.jsonl.gz"
	err := New(&cfg, discard()).BacktestMode(context.Background(), &Dependencies{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "requires s3")
}

func TestBacktestModeReadsS3Input(t *testing.T) {
	cfg := config.Defaults()
	cfg.Backtest.InputS3Key = "ticks/es.jsonl"
	cfg.Backtest.StoreResults = true
	store := &fakeBacktestStore{}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, tk := range wave(120) {
		require.NoError(t, enc.Encode(tk))
	}
	blobs := fakeBlobs{"ticks/es.jsonl": buf.Bytes()}

	a := New(&cfg, discard())
	require.NoError(t, a.BacktestMode(context.Background(), &Dependencies{BlobReader: blobs, BacktestStore: store}))
	require.Len(t, store.results, 2)
	assert.Equal(t, 120, store.results[0].Ticks)

	cfg.Backtest.InputS3Key = "ticks/missing.jsonl"
	err := a.BacktestMode(context.Background(), &Dependencies{BlobReader: blobs})
	require.ErrorIs(t, err, domain.ErrNotFound)
	assert.Contains(t, err.Error(), "ticks/missing.jsonl")
}

func TestPublishResultsCollectsSinkErrors(t *testing.T) {
	cfg := config.Defaults()
	cfg.Backtest.StoreResults = true
	cfg.Backtest.ArchiveResults = true
	store := &fakeBacktestStore{err: errors.New("db down")}
	archiver := &fakeArchiver{}

	a := New(&cfg, discard())
	err := a.publishResults(context.Background(), &Dependencies{BacktestStore: store, Archiver: archiver},
		map[string]*domain.BacktestResult{
			"NQ": {RunID: "r2", Symbol: "NQ"},
			"ES": {RunID: "r1", Symbol: "ES"},
		})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store ES: db down")
	assert.Contains(t, err.Error(), "store NQ: db down")
	assert.Equal(t, []string{"backtests/ES/r1", "backtests/NQ/r2"}, archiver.paths)
}

func TestLiveModeFromRedisFeed(t *testing.T) {
	cfg := config.Defaults()
	cfg.Mode = "live"
	cfg.Engine.Symbols = []string{"ES"}
	cfg.Feed.Source = "redis"
	cfg.Feed.RedisChannel = "ticks"
	cfg.Metrics.Enabled = false

	bus := newFakeBus()
	books := newFakeBooks()
	states := newFakeStates()
	sender := &recordingSender{}
	deps := &Dependencies{
		SignalBus:   bus,
		BookCache:   books,
		StateStore:  states,
		LockManager: newFakeLocks(),
		Metrics:     metrics.New(nil),
		Notifier:    notify.NewNotifier([]notify.Sender{sender}, nil, discard()),
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- New(&cfg, discard()).LiveMode(ctx, deps) }()

	feed := bus.inbox("ticks")
	for i := 0; i < 3; i++ {
		b, err := json.Marshal(tick("ES", i, 100))
		require.NoError(t, err)
		feed <- b
	}
	require.Eventually(t, func() bool { return bus.published("quotes:ES") == 3 }, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		s, err := books.GetStats(context.Background(), "ES")
		return err == nil && math.Abs(s.Mid-100) < 1e-9
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("live mode did not stop")
	}

	_, ok := states.get("ES")
	assert.True(t, ok)
	sender.mu.Lock()
	defer sender.mu.Unlock()
	assert.Equal(t, []string{"Engine started", "Engine stopped"}, sender.titles)
}

func TestLiveSourceSelection(t *testing.T) {
	cfg := config.Defaults()
	cfg.Engine.Symbols = []string{"ES"}
	a := New(&cfg, discard())

	src, err := a.liveSource(&Dependencies{})
	require.NoError(t, err)
	assert.NotNil(t, src)

	cfg.Feed.Source = "redis"
	_, err = a.liveSource(&Dependencies{})
	require.Error(t, err)

	cfg.Feed.Source = "fax"
	_, err = a.liveSource(&Dependencies{})
	require.Error(t, err)
}
