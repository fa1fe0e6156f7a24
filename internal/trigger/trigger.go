package trigger

import (
	"context"
	"errors"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/clipcast/publisher/internal/config"
	"github.com/clipcast/publisher/internal/model"
	"github.com/clipcast/publisher/internal/storage"
)

// Eligible decides whether an object event is a publishable artifact.
// Nothing here talks to the store; the hook handler calls it on every
// notification. Returns the skip reason when the event is filtered out.
func Eligible(cfg *config.IngestConfig, evt model.ObjectFinalizedEvent) (bool, string) {
	if !strings.HasPrefix(evt.Name, cfg.Prefix) {
		return false, "outside ingest prefix"
	}
	if strings.HasPrefix(evt.Name, cfg.MarkerPrefix) {
		return false, "publish marker"
	}
	if evt.Ext() == ".json" {
		return false, "companion metadata"
	}
	if !extensionAllowed(cfg.Extensions, evt.Ext()) {
		return false, "extension not allowed"
	}
	if evt.Size == 0 {
		return false, "zero-byte object"
	}
	return true, ""
}

func extensionAllowed(allowed []string, ext string) bool {
	for _, e := range allowed {
		if strings.EqualFold(e, ext) {
			return true
		}
	}
	return false
}

// InWindow reports whether t falls inside the configured posting window. The
// window is half open: start hour inclusive, end hour exclusive, in the
// configured timezone. An unloadable timezone falls back to UTC rather than
// silencing the scanner.
func InWindow(cfg *config.ScheduleConfig, t time.Time) bool {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		logrus.WithError(err).WithField("timezone", cfg.Timezone).Warn("Unknown timezone, using UTC")
		loc = time.UTC
	}
	hour := t.In(loc).Hour()
	return hour >= cfg.WindowStart && hour < cfg.WindowEnd
}

// Scanner sweeps the ingest prefix for artifacts that never got published,
// the catch-up path for notifications lost while the service was down.
type Scanner struct {
	store  storage.ObjectStore
	bucket string
	cfg    *config.IngestConfig
}

func NewScanner(store storage.ObjectStore, bucket string, cfg *config.IngestConfig) *Scanner {
	return &Scanner{store: store, bucket: bucket, cfg: cfg}
}

// Pending returns up to limit unpublished artifacts, oldest first. An
// artifact qualifies when its companion metadata exists, the video object
// itself exists, and no publish marker has been written for it.
func (s *Scanner) Pending(ctx context.Context, limit int) ([]model.ObjectFinalizedEvent, error) {
	// List generously; most entries are videos or markers, not companions.
	infos, err := s.store.List(ctx, s.bucket, s.cfg.Prefix, 1000)
	if err != nil {
		return nil, err
	}

	companions := make([]storage.ObjectInfo, 0, len(infos))
	for _, info := range infos {
		if strings.EqualFold(path.Ext(info.Key), ".json") {
			companions = append(companions, info)
		}
	}
	sort.Slice(companions, func(i, j int) bool {
		return companions[i].Updated.Before(companions[j].Updated)
	})

	var pending []model.ObjectFinalizedEvent
	for _, companion := range companions {
		if len(pending) >= limit {
			break
		}

		evt, ok, err := s.artifactFor(ctx, companion.Key)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}

		if _, err := s.store.Head(ctx, s.bucket, evt.MarkerKey(s.cfg.MarkerPrefix)); err == nil {
			continue
		} else if !errors.Is(err, storage.ErrObjectNotFound) {
			return nil, err
		}

		pending = append(pending, evt)
	}

	logrus.WithFields(logrus.Fields{
		"companions": len(companions),
		"pending":    len(pending),
	}).Info("Ingest scan finished")

	return pending, nil
}

// artifactFor resolves the video object sitting next to a companion document,
// trying each allowed extension in order.
func (s *Scanner) artifactFor(ctx context.Context, companionKey string) (model.ObjectFinalizedEvent, bool, error) {
	stem := strings.TrimSuffix(companionKey, path.Ext(companionKey))
	for _, ext := range s.cfg.Extensions {
		key := stem + strings.ToLower(ext)
		info, err := s.store.Head(ctx, s.bucket, key)
		if errors.Is(err, storage.ErrObjectNotFound) {
			continue
		}
		if err != nil {
			return model.ObjectFinalizedEvent{}, false, err
		}
		if info.Size == 0 {
			continue
		}
		return model.ObjectFinalizedEvent{
			Bucket:      s.bucket,
			Name:        key,
			ContentType: info.ContentType,
			Size:        info.Size,
		}, true, nil
	}
	return model.ObjectFinalizedEvent{}, false, nil
}
