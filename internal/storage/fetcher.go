package storage

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/clipcast/publisher/internal/model"
)

// ErrTooLarge reports an artifact over the configured size cap. The guard
// runs before any bytes move.
var ErrTooLarge = errors.New("artifact exceeds size limit")

// Artifact is one media file staged in invocation-scoped temp storage.
type Artifact struct {
	LocalPath string
	Size      int64
}

// Cleanup removes the staged file. Safe to call more than once; callers
// defer it so the file is gone on success, failure, and panic paths alike.
func (a *Artifact) Cleanup() {
	if a == nil || a.LocalPath == "" {
		return
	}
	_ = os.Remove(a.LocalPath)
	a.LocalPath = ""
}

// Fetcher stages artifacts and companion metadata for one invocation.
type Fetcher struct {
	store   ObjectStore
	maxSize int64
}

func NewFetcher(store ObjectStore, maxSize int64) *Fetcher {
	return &Fetcher{store: store, maxSize: maxSize}
}

// Fetch downloads the event's object into a temp file carrying the original
// extension (some platform SDKs sniff it). The size guard prefers the
// notification's size and falls back to a Head call when it is absent.
func (f *Fetcher) Fetch(ctx context.Context, evt model.ObjectFinalizedEvent) (*Artifact, error) {
	size := evt.Size
	if size <= 0 {
		info, err := f.store.Head(ctx, evt.Bucket, evt.Name)
		if err != nil {
			return nil, fmt.Errorf("failed to stat artifact %s: %w", evt.Name, err)
		}
		size = info.Size
	}
	if f.maxSize > 0 && size > f.maxSize {
		return nil, fmt.Errorf("%w: %s is %d bytes (limit %d)", ErrTooLarge, evt.Name, size, f.maxSize)
	}

	tmp, err := os.CreateTemp("", "publish-*"+evt.Ext())
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file: %w", err)
	}

	n, err := f.store.Download(ctx, evt.Bucket, evt.Name, tmp)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(tmp.Name())
		return nil, fmt.Errorf("failed to download %s: %w", evt.Name, err)
	}

	return &Artifact{LocalPath: tmp.Name(), Size: n}, nil
}

// FetchCompanion fetches the sibling metadata document. A missing companion
// is not an error: (nil, false, nil). Any other failure is reported so the
// caller can log it, but publishing proceeds on defaults either way.
func (f *Fetcher) FetchCompanion(ctx context.Context, evt model.ObjectFinalizedEvent) ([]byte, bool, error) {
	data, err := f.store.Get(ctx, evt.Bucket, evt.CompanionKey())
	if err != nil {
		if errors.Is(err, ErrObjectNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return data, true, nil
}
