package offline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alexjbarnes/notesync/internal/cache"
	"github.com/alexjbarnes/notesync/internal/models"
	"github.com/alexjbarnes/notesync/internal/syncapi"
	"github.com/google/uuid"
)

// SyncClient is the notebook sync protocol as used by the engine.
// *syncapi.Client satisfies it.
type SyncClient interface {
	Pull(ctx context.Context, notebookID, clientID string, withNotes bool) (*syncapi.PullResponse, error)
	Push(ctx context.Context, notebookID string, req syncapi.PushRequest) (*syncapi.PushResponse, error)
}

// Session is the sync anchor for one notebook. Usable is false when the
// revision could not be primed from the server.
type Session struct {
	NotebookID   string
	ClientID     string
	Revision     int64
	SnapshotHash *string
	Usable       bool
}

// SessionTracker owns the per-notebook sync metadata. It is the only
// writer of NotebookSyncMetadata.
type SessionTracker struct {
	cache  *cache.Cache
	client SyncClient
	logger *slog.Logger
	newID  func() string
}

// NewSessionTracker creates a SessionTracker.
func NewSessionTracker(c *cache.Cache, client SyncClient, logger *slog.Logger) *SessionTracker {
	return &SessionTracker{
		cache:  c,
		client: client,
		logger: logger,
		newID:  newUUID,
	}
}

func newUUID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New().String()
	}

	return id.String()
}

// Ensure loads or creates the session for a notebook. A notebook seen
// for the first time gets a new client id; a session without a revision
// is primed with a pull. If priming fails the session is returned with
// revision 0 and Usable false, and no revision is persisted.
func (t *SessionTracker) Ensure(ctx context.Context, notebookID string) Session {
	md := t.cache.NotebookSync(notebookID)
	if md == nil {
		md = &models.NotebookSyncMetadata{ClientID: t.newID()}
		t.cache.SetNotebookSync(notebookID, *md)
	}

	if md.Revision != nil {
		return Session{
			NotebookID:   notebookID,
			ClientID:     md.ClientID,
			Revision:     *md.Revision,
			SnapshotHash: md.SnapshotHash,
			Usable:       true,
		}
	}

	resp, err := t.client.Pull(ctx, notebookID, md.ClientID, false)
	if err != nil {
		t.logger.Warn("failed to prime notebook sync session",
			slog.String("notebook_id", notebookID),
			slog.String("error", err.Error()),
		)

		return Session{NotebookID: notebookID, ClientID: md.ClientID}
	}

	t.store(notebookID, md.ClientID, resp.Revision, resp.SnapshotHash, resp.ServerTime)

	return Session{
		NotebookID:   notebookID,
		ClientID:     md.ClientID,
		Revision:     resp.Revision,
		SnapshotHash: resp.SnapshotHash,
		Usable:       true,
	}
}

// Acknowledge records the revision returned by a successful push.
func (t *SessionTracker) Acknowledge(notebookID, clientID string, resp *syncapi.PushResponse) {
	t.store(notebookID, clientID, resp.Revision, resp.SnapshotHash, resp.ServerTime)
}

// RefreshSnapshot pulls the notebook with its notes, replaces the local
// note set for the notebook, and records the server's revision.
func (t *SessionTracker) RefreshSnapshot(ctx context.Context, notebookID, clientID string) error {
	resp, err := t.client.Pull(ctx, notebookID, clientID, true)
	if err != nil {
		return fmt.Errorf("refreshing snapshot: %w", err)
	}

	notes := make([]models.CachedNote, 0, len(resp.Notes))
	for _, n := range resp.Notes {
		note := n.CachedNote()
		if note.NotebookID == "" {
			note.NotebookID = notebookID
		}

		notes = append(notes, note)
	}

	t.cache.ReplaceNotebookNotes(notebookID, notes)
	t.store(notebookID, clientID, resp.Revision, resp.SnapshotHash, resp.ServerTime)

	t.logger.Debug("refreshed notebook snapshot",
		slog.String("notebook_id", notebookID),
		slog.Int64("revision", resp.Revision),
		slog.Int("notes", len(notes)),
	)

	return nil
}

func (t *SessionTracker) store(notebookID, clientID string, revision int64, hash *string, serverTime string) {
	rev := revision
	t.cache.SetNotebookSync(notebookID, models.NotebookSyncMetadata{
		ClientID:     clientID,
		Revision:     &rev,
		SnapshotHash: hash,
		LastSyncedAt: serverTime,
	})
}
