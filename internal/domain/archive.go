package domain

import (
	"context"
	"io"
	"time"
)

// BlobWriter stores archive objects. Small objects go through Put; larger
// ones through PutMultipart with the given part size.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
	PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
}

// Archiver exports signals fired before a cutoff to cold storage and
// returns how many were written. The primary store keeps them.
type Archiver interface {
	ArchiveSignals(ctx context.Context, before time.Time) (int64, error)
}
