// Package feed implements market data sources that produce domain.MarketTick
// values: websocket, Redis, local JSONL files and JSONL objects in blob
// storage.
package feed

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/alanyoungcy/mmengine/internal/domain"
)

// maxLineBytes bounds one JSONL record.
const maxLineBytes = 1 << 20

// DecodeJSONL calls fn for every tick in r, one JSON object per line. Blank
// lines are skipped. Decoding stops at the first malformed line or when fn
// returns an error.
func DecodeJSONL(r io.Reader, fn func(domain.MarketTick) error) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxLineBytes)
	line := 0
	for sc.Scan() {
		line++
		b := sc.Bytes()
		if len(bytes.TrimSpace(b)) == 0 {
			continue
		}
		var t domain.MarketTick
		if err := json.Unmarshal(b, &t); err != nil {
			return fmt.Errorf("feed: line %d: %w", line, err)
		}
		if err := fn(t); err != nil {
			return err
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("feed: read: %w", err)
	}
	return nil
}

// Collect drains src into a slice. It is how batch consumers load a finite
// source.
func Collect(ctx context.Context, src domain.TickSource) ([]domain.MarketTick, error) {
	ch := make(chan domain.MarketTick, 1024)
	errc := make(chan error, 1)
	go func() {
		defer close(ch)
		errc <- src.Run(ctx, ch)
	}()
	var out []domain.MarketTick
	for t := range ch {
		out = append(out, t)
	}
	if err := <-errc; err != nil {
		return nil, err
	}
	return out, nil
}

// emit sends t on out unless ctx ends first.
func emit(ctx context.Context, out chan<- domain.MarketTick, t domain.MarketTick) error {
	select {
	case out <- t:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// FileSource replays a JSONL tick file. Paths ending in .gz are
// decompressed.
type FileSource struct {
	Path string
}

// Run streams the file into out and returns nil at end of file.
func (s FileSource) Run(ctx context.Context, out chan<- domain.MarketTick) error {
	f, err := os.Open(s.Path)
	if err != nil {
		return fmt.Errorf("feed: open %s: %w", s.Path, err)
	}
	defer f.Close()
	return streamJSONL(ctx, s.Path, f, out)
}

func streamJSONL(ctx context.Context, name string, r io.Reader, out chan<- domain.MarketTick) error {
	if strings.HasSuffix(name, ".gz") {
		gz, err := gzip.NewReader(r)
		if err != nil {
			return fmt.Errorf("feed: gzip %s: %w", name, err)
		}
		defer gz.Close()
		r = gz
	}
	return DecodeJSONL(r, func(t domain.MarketTick) error {
		return emit(ctx, out, t)
	})
}

// BlobSource replays a JSONL tick object from blob storage.
type BlobSource struct {
	Reader domain.BlobReader
	Key    string
}

// Run streams the object into out.
func (s BlobSource) Run(ctx context.Context, out chan<- domain.MarketTick) error {
	body, err := s.Reader.Get(ctx, s.Key)
	if err != nil {
		return err
	}
	defer body.Close()
	return streamJSONL(ctx, s.Key, body, out)
}

var (
	_ domain.TickSource = FileSource{}
	_ domain.TickSource = BlobSource{}
)
