package syncapi

import "github.com/alexjbarnes/notesync/internal/models"

// NoteDTO is a note as returned by the sync pull endpoint.
type NoteDTO struct {
	ID          string   `json:"id"`
	NotebookID  string   `json:"notebookId"`
	Title       string   `json:"title"`
	Content     string   `json:"content"`
	ContentText string   `json:"contentText"`
	Tags        []string `json:"tags"`
	Pinned      bool     `json:"pinned"`
	UpdatedAt   string   `json:"updatedAt"`
}

// CachedNote converts the DTO to its cache representation.
func (n NoteDTO) CachedNote() models.CachedNote {
	return models.CachedNote{
		ID:          n.ID,
		NotebookID:  n.NotebookID,
		Title:       n.Title,
		Content:     n.Content,
		ContentText: n.ContentText,
		Tags:        n.Tags,
		Pinned:      n.Pinned,
		UpdatedAt:   n.UpdatedAt,
	}
}

// PullResponse is returned from GET /notebooks/{id}/sync. Notes is only
// populated when the pull asked for them.
type PullResponse struct {
	Revision     int64     `json:"revision"`
	SnapshotHash *string   `json:"snapshotHash"`
	ServerTime   string    `json:"serverTime"`
	Notes        []NoteDTO `json:"notes,omitempty"`
}

// PushRequest is the body of POST /notebooks/{id}/sync.
type PushRequest struct {
	ClientID     string                 `json:"clientId"`
	BaseRevision int64                  `json:"baseRevision"`
	Operations   []models.SyncOperation `json:"operations"`
}

// PushResponse is returned from a successful push.
type PushResponse struct {
	Revision     int64   `json:"revision"`
	SnapshotHash *string `json:"snapshotHash"`
	ServerTime   string  `json:"serverTime"`
}

// APIError is the error body the notes API returns on failure.
type APIError struct {
	Error   string `json:"error"`
	Code    string `json:"code"`
	Message string `json:"message"`
}
