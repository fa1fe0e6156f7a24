package model

import (
	"path"
	"strings"
)

// ObjectFinalizedEvent is the normalized "object finalized" notification:
// a new object landed in the ingest bucket.
type ObjectFinalizedEvent struct {
	Bucket      string `json:"bucket"`
	Name        string `json:"name"`
	ContentType string `json:"contentType,omitempty"`
	Size        int64  `json:"size"`
}

// Ext returns the object's lowercased filename extension, including the dot.
func (e ObjectFinalizedEvent) Ext() string {
	return strings.ToLower(path.Ext(e.Name))
}

// Stem returns the filename without directories or extension. Marker and
// companion objects are derived from it.
func (e ObjectFinalizedEvent) Stem() string {
	base := path.Base(e.Name)
	return strings.TrimSuffix(base, path.Ext(base))
}

// SiblingKey returns the object key with the extension swapped, keeping the
// directory. For incoming/clip.mp4 and ".json" it yields incoming/clip.json.
func (e ObjectFinalizedEvent) SiblingKey(ext string) string {
	return strings.TrimSuffix(e.Name, path.Ext(e.Name)) + ext
}

// CompanionKey returns the key of the companion metadata document.
func (e ObjectFinalizedEvent) CompanionKey() string {
	return e.SiblingKey(".json")
}

// MarkerKey returns the publish-marker key under the given prefix.
func (e ObjectFinalizedEvent) MarkerKey(prefix string) string {
	return prefix + e.Stem() + ".lock"
}
