package models

import "time"

// SyncOperationType identifies a notebook sync operation variant.
type SyncOperationType string

const (
	OpNoteUpsert SyncOperationType = "note.upsert"
	OpNoteDelete SyncOperationType = "note.delete"
)

// SyncPayloadNotebook is the only NotebookSyncPayload type the server accepts.
const SyncPayloadNotebook = "notebook"

// NoteUpsertPayload is the full note state carried by a note.upsert
// operation. ID is empty for notes that do not exist on the server yet.
type NoteUpsertPayload struct {
	ID          string   `json:"id,omitempty"`
	Title       string   `json:"title"`
	Content     string   `json:"content"`
	ContentText string   `json:"contentText"`
	Tags        []string `json:"tags"`
	Pinned      bool     `json:"pinned"`
	NotebookID  string   `json:"notebookId"`
}

// SyncOperation is one note.upsert or note.delete operation. Exactly one
// of Payload (upsert) or NoteID (delete) is set. OpID is the server's
// deduplication key and must never be reused across operations.
type SyncOperation struct {
	Type    SyncOperationType  `json:"type"`
	OpID    string             `json:"opId"`
	Payload *NoteUpsertPayload `json:"payload,omitempty"`
	NoteID  string             `json:"noteId,omitempty"`
}

// NoteUpsert builds a note.upsert operation.
func NoteUpsert(opID string, payload NoteUpsertPayload) SyncOperation {
	return SyncOperation{Type: OpNoteUpsert, OpID: opID, Payload: &payload}
}

// NoteDelete builds a note.delete operation.
func NoteDelete(opID, noteID string) SyncOperation {
	return SyncOperation{Type: OpNoteDelete, OpID: opID, NoteID: noteID}
}

// NotebookSyncPayload tags a queued mutation with the notebook sync
// operations it represents.
type NotebookSyncPayload struct {
	Type       string          `json:"type"`
	NotebookID string          `json:"notebookId"`
	Operations []SyncOperation `json:"operations"`
}

// NotebookSyncMetadata is the per-notebook session anchor. Revision is
// nil until the first successful pull or push; it only ever moves
// forward on server acknowledgement.
type NotebookSyncMetadata struct {
	ClientID     string  `json:"clientId"`
	Revision     *int64  `json:"revision"`
	SnapshotHash *string `json:"snapshotHash"`
	LastSyncedAt string  `json:"lastSyncedAt,omitempty"`
}

// MutationDraft is a write intercepted while offline, before it has been
// assigned a queue id.
type MutationDraft struct {
	Method       string
	URL          string
	Body         Body
	Headers      map[string]string
	VersionStamp string
	Sync         *NotebookSyncPayload
}

// OfflineMutation is a durable queue entry. Queue order is the order of
// ID, which is assigned on insert and strictly increasing.
type OfflineMutation struct {
	ID            uint64               `json:"id"`
	Method        string               `json:"method"`
	URL           string               `json:"url"`
	Body          Body                 `json:"data"`
	Headers       map[string]string    `json:"headers,omitempty"`
	VersionStamp  string               `json:"versionStamp,omitempty"`
	Sync          *NotebookSyncPayload `json:"sync,omitempty"`
	CreatedAt     time.Time            `json:"createdAt"`
	Attempts      int                  `json:"attempts"`
	LastError     string               `json:"lastError,omitempty"`
	LastAttemptAt *time.Time           `json:"lastAttemptAt,omitempty"`
}

// HasSyncOperations reports whether the mutation belongs to a notebook
// bucket rather than the regular replay chain.
func (m OfflineMutation) HasSyncOperations() bool {
	return m.Sync != nil && m.Sync.NotebookID != "" && len(m.Sync.Operations) > 0
}

// MutationPatch holds the fields of a queue entry the flush engine may
// change. Nil fields are left untouched.
type MutationPatch struct {
	Attempts      *int
	LastError     *string
	LastAttemptAt *time.Time
}

// Apply writes the non-nil fields of p onto m.
func (p MutationPatch) Apply(m *OfflineMutation) {
	if p.Attempts != nil {
		m.Attempts = *p.Attempts
	}

	if p.LastError != nil {
		m.LastError = *p.LastError
	}

	if p.LastAttemptAt != nil {
		t := *p.LastAttemptAt
		m.LastAttemptAt = &t
	}
}
