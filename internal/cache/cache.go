// Package cache is the persistent domain cache used by the offline
// engine. Every operation is best-effort: storage failures are logged and
// swallowed so that caching never breaks the request path. The single
// exception is CacheMutation, whose failure is returned because the
// queued write has no other record.
package cache

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/alexjbarnes/notesync/internal/errors"
	"github.com/alexjbarnes/notesync/internal/models"
	"github.com/alexjbarnes/notesync/internal/state"
)

// MetaLastSyncedAt is the metadata key for the last fully successful flush.
const MetaLastSyncedAt = "lastSyncedAt"

// Cache wraps the state database with the domain cache contract.
type Cache struct {
	state  *state.State
	logger *slog.Logger
	now    func() time.Time
}

// New creates a Cache over an open state database.
func New(st *state.State, logger *slog.Logger) *Cache {
	return &Cache{
		state:  st,
		logger: logger,
		now:    time.Now,
	}
}

func (c *Cache) warn(msg string, err error, attrs ...slog.Attr) {
	args := make([]any, 0, len(attrs)+1)
	for _, a := range attrs {
		args = append(args, a)
	}

	args = append(args, slog.String("error", err.Error()))
	c.logger.Warn(msg, args...)
}

// CacheResponse stores the payload of a successful read under its
// normalized URL.
func (c *Cache) CacheResponse(rawURL string, payload []byte) {
	key := NormalizeURL(rawURL)
	if err := c.state.PutResponse(models.CachedResponse{
		URL:       key,
		Payload:   payload,
		UpdatedAt: c.now(),
	}); err != nil {
		c.warn("failed to cache response", err, slog.String("url", key))
	}
}

// GetCachedResponse returns the cached payload for a URL, or nil.
func (c *Cache) GetCachedResponse(rawURL string) *models.CachedResponse {
	key := NormalizeURL(rawURL)

	r, err := c.state.GetResponse(key)
	if err != nil {
		c.warn("failed to read cached response", err, slog.String("url", key))
		return nil
	}

	return r
}

// StoreNotebooks upserts notebooks, stamping each with a fresh cachedAt.
func (c *Cache) StoreNotebooks(notebooks []models.CachedNotebook) {
	if len(notebooks) == 0 {
		return
	}

	now := c.now()
	for i := range notebooks {
		notebooks[i].CachedAt = now
	}

	if err := c.state.PutNotebooks(notebooks); err != nil {
		c.warn("failed to store notebooks", err, slog.Int("count", len(notebooks)))
	}
}

// StoreNotes upserts notes, stamping each with a fresh cachedAt.
func (c *Cache) StoreNotes(notes []models.CachedNote) {
	if len(notes) == 0 {
		return
	}

	c.stampNotes(notes)

	if err := c.state.PutNotes(notes); err != nil {
		c.warn("failed to store notes", err, slog.Int("count", len(notes)))
	}
}

func (c *Cache) stampNotes(notes []models.CachedNote) {
	now := c.now()
	for i := range notes {
		notes[i].CachedAt = now
		notes[i].Tags = models.NormalizeTags(notes[i].Tags)
	}
}

// ReplaceNotebookNotes overwrites the cached note set of a notebook.
func (c *Cache) ReplaceNotebookNotes(notebookID string, notes []models.CachedNote) {
	c.stampNotes(notes)

	if err := c.state.ReplaceNotebookNotes(notebookID, notes); err != nil {
		c.warn("failed to replace notebook notes", err, slog.String("notebook_id", notebookID))
	}
}

// GetNotebookByID returns a cached notebook, or nil.
func (c *Cache) GetNotebookByID(id string) *models.CachedNotebook {
	nb, err := c.state.GetNotebook(id)
	if err != nil {
		c.warn("failed to read notebook", err, slog.String("notebook_id", id))
		return nil
	}

	return nb
}

// GetNoteByID returns a cached note, or nil.
func (c *Cache) GetNoteByID(id string) *models.CachedNote {
	n, err := c.state.GetNote(id)
	if err != nil {
		c.warn("failed to read note", err, slog.String("note_id", id))
		return nil
	}

	return n
}

// GetNotesByNotebook returns the cached notes of a notebook.
func (c *Cache) GetNotesByNotebook(notebookID string) []models.CachedNote {
	notes, err := c.state.NotesByNotebook(notebookID)
	if err != nil {
		c.warn("failed to read notebook notes", err, slog.String("notebook_id", notebookID))
		return nil
	}

	return notes
}

// RemoveNote drops a note from the cache.
func (c *Cache) RemoveNote(id string) {
	if err := c.state.DeleteNote(id); err != nil {
		c.warn("failed to remove note", err, slog.String("note_id", id))
	}
}

// CacheMutation persists a queue entry and returns it with its assigned
// id. Unlike the rest of the cache, failure is returned to the caller.
func (c *Cache) CacheMutation(draft models.MutationDraft) (models.OfflineMutation, error) {
	m, err := c.state.AddMutation(models.OfflineMutation{
		Method:       draft.Method,
		URL:          draft.URL,
		Body:         draft.Body,
		Headers:      draft.Headers,
		VersionStamp: draft.VersionStamp,
		Sync:         draft.Sync,
		CreatedAt:    c.now(),
	})
	if err != nil {
		return models.OfflineMutation{}, fmt.Errorf("%w: queueing mutation: %v", errors.ErrStorage, err)
	}

	return m, nil
}

// ListMutations returns the queue in insertion order.
func (c *Cache) ListMutations() []models.OfflineMutation {
	all, err := c.state.Mutations()
	if err != nil {
		c.warn("failed to list mutations", err)
		return nil
	}

	return all
}

// UpdateMutation patches a queue entry.
func (c *Cache) UpdateMutation(id uint64, patch models.MutationPatch) {
	if err := c.state.UpdateMutation(id, patch); err != nil {
		c.warn("failed to update mutation", err, slog.Uint64("mutation_id", id))
	}
}

// RemoveMutation deletes a queue entry.
func (c *Cache) RemoveMutation(id uint64) {
	if err := c.state.DeleteMutation(id); err != nil {
		c.warn("failed to remove mutation", err, slog.Uint64("mutation_id", id))
	}
}

// QueueLength returns the number of queued mutations.
func (c *Cache) QueueLength() int {
	return c.state.MutationCount()
}

// SetMetadata stores a JSON-encodable value under key.
func (c *Cache) SetMetadata(key string, value any) {
	if err := c.state.SetMeta(key, value); err != nil {
		c.warn("failed to set metadata", err, slog.String("key", key))
	}
}

// GetMetadata decodes the value under key into out and reports whether
// it was present.
func (c *Cache) GetMetadata(key string, out any) bool {
	found, err := c.state.GetMeta(key, out)
	if err != nil {
		c.warn("failed to read metadata", err, slog.String("key", key))
		return false
	}

	return found
}

// NotebookSync returns the stored sync session for a notebook, or nil.
func (c *Cache) NotebookSync(notebookID string) *models.NotebookSyncMetadata {
	md, err := c.state.GetNotebookSync(notebookID)
	if err != nil {
		c.warn("failed to read notebook sync metadata", err, slog.String("notebook_id", notebookID))
		return nil
	}

	return md
}

// SetNotebookSync persists the sync session for a notebook.
func (c *Cache) SetNotebookSync(notebookID string, md models.NotebookSyncMetadata) {
	if err := c.state.SetNotebookSync(notebookID, md); err != nil {
		c.warn("failed to persist notebook sync metadata", err, slog.String("notebook_id", notebookID))
	}
}

// ClearDatabase empties all local collections.
func (c *Cache) ClearDatabase() {
	if err := c.state.Clear(); err != nil {
		c.warn("failed to clear database", err)
	}
}
