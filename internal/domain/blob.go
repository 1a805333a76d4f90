package domain

import (
	"context"
	"io"
)

// BlobWriter uploads data to object storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
	PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
}

// BlobReader retrieves data from object storage.
type BlobReader interface {
	Get(ctx context.Context, path string) (io.ReadCloser, error)
	Exists(ctx context.Context, path string) (bool, error)
}

// ReportArchiver writes completed backtest reports to cold storage and
// returns the object path.
type ReportArchiver interface {
	ArchiveResult(ctx context.Context, res BacktestResult) (string, error)
}

// TickSource produces market ticks until ctx is cancelled or the source is
// exhausted.
type TickSource interface {
	Run(ctx context.Context, out chan<- MarketTick) error
}
