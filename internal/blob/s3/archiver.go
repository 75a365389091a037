package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/alanyoungcy/signalboard/internal/domain"
)

const jsonlContentType = "application/x-ndjson"

// multipartThreshold switches uploads to the multipart manager.
const multipartThreshold = 32 * 1024 * 1024

// SignalSource is the part of the signal store the archiver reads.
type SignalSource interface {
	ListBetween(ctx context.Context, from, before time.Time) ([]domain.Signal, error)
}

const signalsKind = "signals"

// SignalArchiver implements domain.Archiver. It exports signals older than a
// cutoff to JSONL objects; signals stay in the primary store. The export
// watermark is persisted, so restarts and other instances resume where the
// last successful run stopped.
type SignalArchiver struct {
	writer     domain.BlobWriter
	source     SignalSource
	watermarks domain.WatermarkStore
	audit      domain.AuditStore

	mu sync.Mutex
}

// NewSignalArchiver creates a SignalArchiver. audit may be nil.
func NewSignalArchiver(writer domain.BlobWriter, source SignalSource, watermarks domain.WatermarkStore, audit domain.AuditStore) *SignalArchiver {
	return &SignalArchiver{writer: writer, source: source, watermarks: watermarks, audit: audit}
}

var _ domain.Archiver = (*SignalArchiver)(nil)

// ArchiveSignals uploads signals with watermark <= ts < before and returns
// how many were written.
func (a *SignalArchiver) ArchiveSignals(ctx context.Context, before time.Time) (int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	watermark, err := a.watermarks.Watermark(ctx, signalsKind)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive signals watermark: %w", err)
	}
	if !before.After(watermark) {
		return 0, nil
	}
	signals, err := a.source.ListBetween(ctx, watermark, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive signals query: %w", err)
	}
	if len(signals) == 0 {
		if err := a.watermarks.SetWatermark(ctx, signalsKind, before); err != nil {
			return 0, fmt.Errorf("s3blob: archive signals watermark: %w", err)
		}
		return 0, nil
	}

	buf, err := marshalJSONL(signals)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive signals marshal: %w", err)
	}

	p := archivePath(signalsKind, before)
	if len(buf) >= multipartThreshold {
		err = a.writer.PutMultipart(ctx, p, bytes.NewReader(buf), minPartSize)
	} else {
		err = a.writer.Put(ctx, p, bytes.NewReader(buf), jsonlContentType)
	}
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive signals upload: %w", err)
	}
	if err := a.watermarks.SetWatermark(ctx, signalsKind, before); err != nil {
		return 0, fmt.Errorf("s3blob: archive signals watermark: %w", err)
	}

	count := int64(len(signals))
	if a.audit != nil {
		if err := a.audit.Log(ctx, "archive.signals", map[string]any{
			"path":   p,
			"count":  count,
			"before": before.UTC().Format(time.RFC3339),
		}); err != nil {
			return count, fmt.Errorf("s3blob: archive signals audit log: %w", err)
		}
	}
	return count, nil
}

// archivePath partitions archives by month and names each by its cutoff. The
// writer adds its configured prefix:
//
//	signals/2024-01/20240115T000000Z.jsonl
func archivePath(kind string, before time.Time) string {
	before = before.UTC()
	return fmt.Sprintf("%s/%s/%s.jsonl", kind, before.Format("2006-01"), before.Format("20060102T150405Z"))
}

// marshalJSONL encodes records as newline-delimited JSON.
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
