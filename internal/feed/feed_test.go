package feed

import (
	"bytes"
	"compress/gzip"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/mmengine/internal/domain"
)

const sampleJSONL = `{"symbol":"ES","timestamp":"2024-01-02T14:30:00Z","last_price":4750.25,"bid_price":4750,"ask_price":4750.5,"bid_size":12,"ask_size":9,"volume":3}

{"symbol":"ES","timestamp":"2024-01-02T14:30:01Z","last_price":0,"bid_price":4750.25,"ask_price":4750.75,"bid_size":4,"ask_size":6,"volume":0}
`

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestDecodeJSONL(t *testing.T) {
	var got []domain.MarketTick
	err := DecodeJSONL(strings.NewReader(sampleJSONL), func(t domain.MarketTick) error {
		got = append(got, t)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "ES", got[0].Symbol)
	assert.Equal(t, 4750.0, got[0].BidPrice)
	assert.Equal(t, time.Date(2024, 1, 2, 14, 30, 1, 0, time.UTC), got[1].Timestamp.UTC())

	err = DecodeJSONL(strings.NewReader("{\"symbol\":\"ES\"}\nnot json\n"), func(domain.MarketTick) error { return nil })
	assert.ErrorContains(t, err, "line 2")
}

func TestFileSourcePlainAndGzip(t *testing.T) {
	dir := t.TempDir()
	plain := filepath.Join(dir, "ticks.jsonl")
	require.NoError(t, os.WriteFile(plain, []byte(sampleJSONL), 0o600))

	var gz bytes.Buffer
	zw := gzip.NewWriter(&gz)
	_, err := zw.Write([]byte(sampleJSONL))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	packed := filepath.Join(dir, "ticks.jsonl.gz")
	require.NoError(t, os.WriteFile(packed, gz.Bytes(), 0o600))

	for _, p := range []string{plain, packed} {
		ticks, err := Collect(context.Background(), FileSource{Path: p})
		require.NoError(t, err, p)
		assert.Len(t, ticks, 2, p)
	}

	_, err = Collect(context.Background(), FileSource{Path: filepath.Join(dir, "missing.jsonl")})
	assert.Error(t, err)
}

type memReader map[string]string

func (m memReader) Get(_ context.Context, path string) (io.ReadCloser, error) {
	s, ok := m[path]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return io.NopCloser(strings.NewReader(s)), nil
}
func (m memReader) Exists(_ context.Context, path string) (bool, error) {
	_, ok := m[path]
	return ok, nil
}

func TestBlobSource(t *testing.T) {
	r := memReader{"ticks/es.jsonl": sampleJSONL}
	ticks, err := Collect(context.Background(), BlobSource{Reader: r, Key: "ticks/es.jsonl"})
	require.NoError(t, err)
	assert.Len(t, ticks, 2)

	_, err = Collect(context.Background(), BlobSource{Reader: r, Key: "nope"})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

type fakeBus struct {
	mu       sync.Mutex
	sub      chan []byte
	stream   []domain.StreamMessage
	readFrom []string
}

func (b *fakeBus) Publish(context.Context, string, []byte) error { return nil }
func (b *fakeBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	return b.sub, nil
}
func (b *fakeBus) StreamAppend(context.Context, string, []byte) error { return nil }
func (b *fakeBus) StreamRead(ctx context.Context, _ string, lastID string, _ int) ([]domain.StreamMessage, error) {
	b.mu.Lock()
	b.readFrom = append(b.readFrom, lastID)
	msgs := b.stream
	b.stream = nil
	b.mu.Unlock()
	if len(msgs) == 0 {
		select {
		case <-ctx.Done():
		case <-time.After(5 * time.Millisecond):
		}
	}
	return msgs, nil
}

func TestBusSourceSubscribe(t *testing.T) {
	bus := &fakeBus{sub: make(chan []byte, 3)}
	bus.sub <- []byte(`{"symbol":"NQ","bid_price":1,"ask_price":2}`)
	bus.sub <- []byte(`garbage`)
	bus.sub <- []byte(`{"symbol":"ES","bid_price":3,"ask_price":4}`)

	ctx, cancel := context.WithCancel(context.Background())
	out := make(chan domain.MarketTick, 4)
	done := make(chan error, 1)
	go func() { done <- BusSource{Bus: bus, Channel: "ticks", Logger: discard()}.Run(ctx, out) }()

	assert.Equal(t, "NQ", (<-out).Symbol)
	assert.Equal(t, "ES", (<-out).Symbol)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestBusSourceStreamAdvancesCursor(t *testing.T) {
	bus := &fakeBus{stream: []domain.StreamMessage{
		{ID: "1-0", Payload: []byte(`{"symbol":"ES"}`)},
		{ID: "2-0", Payload: []byte(`{"symbol":"ES"}`)},
	}}
	ctx, cancel := context.WithCancel(context.Background())
	out := make(chan domain.MarketTick, 4)
	done := make(chan error, 1)
	go func() { done <- BusSource{Bus: bus, Stream: "ticks", LastID: "0", Logger: discard()}.Run(ctx, out) }()

	<-out
	<-out
	require.Eventually(t, func() bool {
		bus.mu.Lock()
		defer bus.mu.Unlock()
		return len(bus.readFrom) >= 2
	}, time.Second, time.Millisecond)
	cancel()
	<-done

	bus.mu.Lock()
	defer bus.mu.Unlock()
	assert.Equal(t, "0", bus.readFrom[0])
	assert.Equal(t, "2-0", bus.readFrom[1])
}

func TestWSSourceSubscribesAndFilters(t *testing.T) {
	var upgrader websocket.Upgrader
	subs := make(chan subscribeCommand, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		var cmd subscribeCommand
		if err := conn.ReadJSON(&cmd); err != nil {
			return
		}
		subs <- cmd
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"heartbeat"}`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`[{"symbol":"CL","bid_price":70},{"symbol":"ES","bid_price":4750}]`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"symbol":"ES","bid_price":4751}`))
		// Hold the connection until the client leaves.
		_, _, _ = conn.ReadMessage()
	}))
	defer srv.Close()

	src := NewWSSource("ws"+strings.TrimPrefix(srv.URL, "http"), []string{"ES"}, discard())
	ctx, cancel := context.WithCancel(context.Background())
	out := make(chan domain.MarketTick, 4)
	done := make(chan error, 1)
	go func() { done <- src.Run(ctx, out) }()

	assert.Equal(t, subscribeCommand{Op: "subscribe", Symbols: []string{"ES"}}, <-subs)
	assert.Equal(t, 4750.0, (<-out).BidPrice)
	assert.Equal(t, 4751.0, (<-out).BidPrice)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestDecodeFrame(t *testing.T) {
	ticks, err := decodeFrame([]byte("  "))
	require.NoError(t, err)
	assert.Empty(t, ticks)

	_, err = decodeFrame([]byte("[1,2"))
	assert.Error(t, err)
}
