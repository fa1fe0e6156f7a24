package storage

import (
	"context"
	"errors"
	"io"
	"time"
)

var (
	// ErrObjectNotFound reports a key with no object behind it.
	ErrObjectNotFound = errors.New("object not found")
	// ErrObjectExists reports a failed create-if-absent put.
	ErrObjectExists = errors.New("object already exists")
)

// ObjectInfo describes one stored object.
type ObjectInfo struct {
	Key         string
	Size        int64
	ContentType string
	Updated     time.Time
}

// ObjectStore is the blob-store abstraction the S3 and GCS drivers implement.
type ObjectStore interface {
	Head(ctx context.Context, bucket, key string) (ObjectInfo, error)
	Download(ctx context.Context, bucket, key string, dst io.Writer) (int64, error)
	Get(ctx context.Context, bucket, key string) ([]byte, error)
	List(ctx context.Context, bucket, prefix string, max int) ([]ObjectInfo, error)
	// Put stores data under key. With ifAbsent set the write must not
	// replace an existing object; ErrObjectExists reports the conflict.
	Put(ctx context.Context, bucket, key string, data []byte, contentType string, ifAbsent bool) error
}
