package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/mmengine/internal/domain"
)

// BusSource reads ticks published by an upstream collector on the signal
// bus. With Stream set it tails the Redis stream of that name from LastID
// (default "$", new entries only); otherwise it subscribes to Channel.
type BusSource struct {
	Bus     domain.SignalBus
	Channel string
	Stream  string
	LastID  string
	// RetryInterval is the wait after a failed stream read.
	RetryInterval time.Duration
	Logger       *slog.Logger
}

// Run forwards decoded ticks until ctx ends. Undecodable payloads are
// logged and dropped.
func (s BusSource) Run(ctx context.Context, out chan<- domain.MarketTick) error {
	if s.Logger == nil {
		s.Logger = slog.Default()
	}
	logger := s.Logger.With(slog.String("component", "bus_feed"))
	if s.Stream != "" {
		return s.tail(ctx, out, logger)
	}

	ch, err := s.Bus.Subscribe(ctx, s.Channel)
	if err != nil {
		return fmt.Errorf("feed: subscribe %s: %w", s.Channel, err)
	}
	logger.Info("bus feed subscribed", slog.String("channel", s.Channel))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case payload, ok := <-ch:
			if !ok {
				return ctx.Err()
			}
			if err := s.forward(ctx, out, payload, logger); err != nil {
				return err
			}
		}
	}
}

func (s BusSource) tail(ctx context.Context, out chan<- domain.MarketTick, logger *slog.Logger) error {
	lastID := s.LastID
	if lastID == "" {
		lastID = "$"
	}
	retry := s.RetryInterval
	if retry <= 0 {
		retry = time.Second
	}
	logger.Info("bus feed tailing stream", slog.String("stream", s.Stream), slog.String("from", lastID))

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		msgs, err := s.Bus.StreamRead(ctx, s.Stream, lastID, 512)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logger.Warn("stream read failed", slog.String("error", err.Error()))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(retry):
			}
			continue
		}
		for _, m := range msgs {
			lastID = m.ID
			if err := s.forward(ctx, out, m.Payload, logger); err != nil {
				return err
			}
		}
	}
}

func (s BusSource) forward(ctx context.Context, out chan<- domain.MarketTick, payload []byte, logger *slog.Logger) error {
	var t domain.MarketTick
	if err := json.Unmarshal(payload, &t); err != nil {
		logger.Debug("dropping undecodable tick",
			slog.String("error", err.Error()),
			slog.Int("payload_len", len(payload)),
		)
		return nil
	}
	return emit(ctx, out, t)
}

var _ domain.TickSource = BusSource{}
