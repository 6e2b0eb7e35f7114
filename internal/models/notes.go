// Package models defines types shared across internal packages.
package models

import (
	"sort"
	"time"
)

// CachedResponse is the last observed payload for a read, keyed by
// normalized URL. Later writes replace earlier ones.
type CachedResponse struct {
	URL       string    `json:"url"`
	Payload   []byte    `json:"payload"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// CachedNotebook is a notebook entity seen in a server response.
// Attributes holds every field the server returned, including id.
type CachedNotebook struct {
	ID         string         `json:"id"`
	Attributes map[string]any `json:"attributes,omitempty"`
	CachedAt   time.Time      `json:"cachedAt"`
}

// CachedNote is a note entity seen in a server response or derived from
// a local write. An empty NotebookID means the note is not assigned to
// any notebook.
type CachedNote struct {
	ID          string    `json:"id"`
	NotebookID  string    `json:"notebookId,omitempty"`
	Title       string    `json:"title"`
	Content     string    `json:"content"`
	ContentText string    `json:"contentText"`
	Tags        []string  `json:"tags"`
	Pinned      bool      `json:"pinned"`
	UpdatedAt   string    `json:"updatedAt,omitempty"`
	CachedAt    time.Time `json:"cachedAt"`
}

// NormalizeTags returns tags as a sorted set with empty entries removed.
func NormalizeTags(tags []string) []string {
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))

	for _, t := range tags {
		if t == "" {
			continue
		}

		if _, dup := seen[t]; dup {
			continue
		}

		seen[t] = struct{}{}
		out = append(out, t)
	}

	sort.Strings(out)

	return out
}
