package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"

	"github.com/alanyoungcy/mmengine/internal/domain"
)

// ReportArchiver implements domain.ReportArchiver. Each run is written under
//
//	{prefix}/{symbol}/{yyyy-mm-dd}/{run_id}/summary.json
//	{prefix}/{symbol}/{yyyy-mm-dd}/{run_id}/trades.jsonl
//	{prefix}/{symbol}/{yyyy-mm-dd}/{run_id}/equity.jsonl
//
// where the date is the first tick of the run.
type ReportArchiver struct {
	writer domain.BlobWriter
	prefix string
}

// NewReportArchiver creates an archiver writing through w.
func NewReportArchiver(w domain.BlobWriter, prefix string) *ReportArchiver {
	if prefix == "" {
		prefix = "backtests"
	}
	return &ReportArchiver{writer: w, prefix: prefix}
}

// ArchiveResult uploads the report and returns its directory.
func (a *ReportArchiver) ArchiveResult(ctx context.Context, res domain.BacktestResult) (string, error) {
	dir := reportDir(a.prefix, res)

	summary := res
	summary.Trades, summary.EquityCurve = nil, nil
	raw, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return "", fmt.Errorf("s3blob: marshal summary %s: %w", res.RunID, err)
	}
	if err := a.writer.Put(ctx, path.Join(dir, "summary.json"), bytes.NewReader(raw), "application/json"); err != nil {
		return "", err
	}

	if err := putJSONL(ctx, a.writer, path.Join(dir, "trades.jsonl"), res.Trades); err != nil {
		return "", err
	}
	if err := putJSONL(ctx, a.writer, path.Join(dir, "equity.jsonl"), res.EquityCurve); err != nil {
		return "", err
	}
	return dir, nil
}

func putJSONL[T any](ctx context.Context, w domain.BlobWriter, key string, records []T) error {
	buf, err := marshalJSONL(records)
	if err != nil {
		return fmt.Errorf("s3blob: marshal %s: %w", key, err)
	}
	if int64(len(buf)) > minPartSize {
		return w.PutMultipart(ctx, key, bytes.NewReader(buf), minPartSize)
	}
	return w.Put(ctx, key, bytes.NewReader(buf), "application/x-ndjson")
}

func reportDir(prefix string, res domain.BacktestResult) string {
	return path.Join(prefix, res.Symbol, res.StartTime.UTC().Format("2006-01-02"), res.RunID)
}

// marshalJSONL encodes one compact JSON document per line.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

var _ domain.ReportArchiver = (*ReportArchiver)(nil)
