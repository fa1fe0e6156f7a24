package caption

import (
	"encoding/json"
	"path"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/clipcast/publisher/internal/model"
)

const (
	defaultTitle      = "Daily News Update"
	maxTitleLen       = 100
	maxDescriptionLen = 4900
)

var defaultTags = []string{"news", "politics", "shorts", "breaking"}

// Resolve turns a companion metadata document into usable publish metadata.
// It is total: malformed or absent input logs a warning and falls back to
// defaults derived from the object key, never an error.
func Resolve(raw []byte, objectKey string) model.VideoMeta {
	if len(raw) == 0 {
		return fallbackMeta(objectKey)
	}

	var doc struct {
		Title       string   `json:"title"`
		Description string   `json:"description"`
		Tags        []string `json:"tags"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		logrus.WithFields(logrus.Fields{
			"object": objectKey,
			"error":  err.Error(),
		}).Warn("Malformed companion metadata, using defaults")
		return fallbackMeta(objectKey)
	}

	title := strings.TrimSpace(doc.Title)
	if title == "" {
		title = defaultTitle
	}
	title = truncate(title, maxTitleLen)

	description := strings.TrimSpace(doc.Description)
	if description == "" {
		description = title
	}
	description = truncate(description, maxDescriptionLen)

	tags := doc.Tags
	if len(tags) == 0 {
		tags = defaultTags
	}

	return model.VideoMeta{
		Title:       title,
		Description: description,
		Tags:        tags,
	}
}

// Destinations returns the per-artifact destination override from a companion
// document, filtered to known platforms and deduplicated preserving order.
// Absent, malformed, or empty lists return nil and the configured targets
// apply.
func Destinations(raw []byte) []model.Platform {
	if len(raw) == 0 {
		return nil
	}

	var doc struct {
		Destinations []string `json:"destinations"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil
	}

	seen := make(map[model.Platform]bool)
	var out []model.Platform
	for _, name := range doc.Destinations {
		p := model.Platform(strings.ToLower(strings.TrimSpace(name)))
		if !p.Valid() || seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	return out
}

// fallbackMeta derives metadata from the filename when no companion document
// is usable. Stems that are timestamps or too short get the stock title.
func fallbackMeta(objectKey string) model.VideoMeta {
	base := path.Base(objectKey)
	stem := strings.TrimSuffix(base, path.Ext(base))
	cleaned := strings.TrimSpace(strings.ReplaceAll(stem, "_", " "))
	if len(cleaned) < 4 || isDigits(strings.ReplaceAll(cleaned, " ", "")) {
		cleaned = defaultTitle
	}
	title := truncate(cleaned, maxTitleLen)

	return model.VideoMeta{
		Title:       title,
		Description: title + "\n\nStay informed with our daily news shorts.",
		Tags:        defaultTags,
	}
}

const maxHashtags = 20

// NormalizeHashtags lowercases, strips anything but letters and digits, and
// deduplicates preserving order. Tokens shorter than 2 characters are
// dropped; the list caps at 20.
func NormalizeHashtags(tags []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, t := range tags {
		t = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(t), "#"))
		var b strings.Builder
		for _, r := range strings.ToLower(t) {
			if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
				b.WriteRune(r)
			}
		}
		t = b.String()
		if len(t) < 2 || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, "#"+t)
		if len(out) >= maxHashtags {
			break
		}
	}
	return out
}

// Build renders the social caption: title, description, and hashtags joined
// by blank lines, skipping empty parts.
func Build(meta model.VideoMeta) string {
	parts := []string{
		strings.TrimSpace(meta.Title),
		strings.TrimSpace(meta.Description),
		strings.Join(NormalizeHashtags(meta.Tags), " "),
	}
	var kept []string
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, "\n\n")
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return len(s) > 0
}
