package feed

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/mmengine/internal/domain"
)

const (
	writeWait         = 10 * time.Second
	pongWait          = 60 * time.Second
	pingPeriod        = (pongWait * 9) / 10
	reconnectDelay    = time.Second
	maxReconnectDelay = 60 * time.Second
)

// subscribeCommand is sent after every (re)connect.
type subscribeCommand struct {
	Op      string   `json:"op"`
	Symbols []string `json:"symbols"`
}

// WSSource streams ticks from a websocket market data gateway. Frames carry
// one tick object or an array of them; objects without a symbol
// (heartbeats, acks) are ignored. The source reconnects with exponential
// backoff until ctx ends.
type WSSource struct {
	url     string
	symbols []string
	want    map[string]bool
	dialer  websocket.Dialer
	logger  *slog.Logger
}

// NewWSSource creates a source for the given symbols. An empty list
// subscribes to everything the gateway sends.
func NewWSSource(url string, symbols []string, logger *slog.Logger) *WSSource {
	want := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		want[s] = true
	}
	return &WSSource{
		url:     url,
		symbols: symbols,
		want:    want,
		dialer:  websocket.Dialer{HandshakeTimeout: 15 * time.Second},
		logger:  logger.With(slog.String("component", "ws_feed")),
	}
}

// Run connects and forwards ticks until ctx is cancelled.
func (s *WSSource) Run(ctx context.Context, out chan<- domain.MarketTick) error {
	delay := reconnectDelay
	for {
		connected, err := s.session(ctx, out)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if connected {
			delay = reconnectDelay
		}
		s.logger.Warn("ws feed disconnected, reconnecting",
			slog.String("error", err.Error()),
			slog.Duration("backoff", delay),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay = min(delay*2, maxReconnectDelay)
	}
}

// session runs one connection. It reports whether the handshake succeeded
// and always returns a non-nil error describing why the session ended.
func (s *WSSource) session(ctx context.Context, out chan<- domain.MarketTick) (bool, error) {
	conn, _, err := s.dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return false, fmt.Errorf("feed: dial %s: %w", s.url, err)
	}
	defer conn.Close()

	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(subscribeCommand{Op: "subscribe", Symbols: s.symbols}); err != nil {
		return true, fmt.Errorf("feed: subscribe: %w", err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	s.logger.Info("ws feed connected", slog.String("url", s.url), slog.Int("symbols", len(s.symbols)))

	sessCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		// Closing the connection unblocks ReadMessage on shutdown.
		<-sessCtx.Done()
		_ = conn.Close()
	}()
	go s.pingLoop(sessCtx, conn)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return true, errors.Join(domain.ErrWSDisconnect, err)
		}
		ticks, err := decodeFrame(data)
		if err != nil {
			s.logger.Debug("dropping undecodable frame", slog.String("error", err.Error()))
			continue
		}
		for _, t := range ticks {
			if t.Symbol == "" || (len(s.want) > 0 && !s.want[t.Symbol]) {
				continue
			}
			if err := emit(ctx, out, t); err != nil {
				return true, err
			}
		}
	}
}

func (s *WSSource) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

// decodeFrame accepts a single tick object or an array of ticks.
func decodeFrame(data []byte) ([]domain.MarketTick, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, nil
	}
	if data[0] == '[' {
		var ticks []domain.MarketTick
		if err := json.Unmarshal(data, &ticks); err != nil {
			return nil, err
		}
		return ticks, nil
	}
	var t domain.MarketTick
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, err
	}
	return []domain.MarketTick{t}, nil
}

var _ domain.TickSource = (*WSSource)(nil)
