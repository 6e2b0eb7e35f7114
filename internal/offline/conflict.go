package offline

import (
	"time"

	"github.com/alexjbarnes/notesync/internal/models"
	"github.com/sergi/go-diff/diffmatchpatch"
)

// MetaLastConflict is the metadata key holding the most recent
// ConflictReport.
const MetaLastConflict = "lastConflict"

// ConflictReport records what a conflict refresh overwrote in the local
// cache. Each patch transforms the server's note text into the text the
// cache held before the refresh.
type ConflictReport struct {
	NotebookID string         `json:"notebookId"`
	DetectedAt time.Time      `json:"detectedAt"`
	Notes      []NoteConflict `json:"notes"`
}

// NoteConflict is one overwritten note. Removed is set when the note no
// longer exists on the server.
type NoteConflict struct {
	NoteID  string `json:"noteId"`
	Title   string `json:"title"`
	Patch   string `json:"patch,omitempty"`
	Removed bool   `json:"removed,omitempty"`
}

func noteText(n models.CachedNote) string {
	return n.Title + "\n\n" + n.Content
}

// buildConflictReport compares the notebook's notes before and after a
// refresh. Notes whose title or content changed get a patch.
func buildConflictReport(notebookID string, before, after []models.CachedNote, now time.Time) ConflictReport {
	report := ConflictReport{NotebookID: notebookID, DetectedAt: now}

	server := make(map[string]models.CachedNote, len(after))
	for _, n := range after {
		server[n.ID] = n
	}

	dmp := diffmatchpatch.New()

	for _, local := range before {
		remote, ok := server[local.ID]
		if !ok {
			report.Notes = append(report.Notes, NoteConflict{NoteID: local.ID, Title: local.Title, Removed: true})
			continue
		}

		localText, serverText := noteText(local), noteText(remote)
		if localText == serverText {
			continue
		}

		diffs := dmp.DiffMain(serverText, localText, true)
		if len(diffs) > 2 {
			diffs = dmp.DiffCleanupSemantic(diffs)
		}

		patches := dmp.PatchMake(serverText, diffs)

		report.Notes = append(report.Notes, NoteConflict{
			NoteID: local.ID,
			Title:  local.Title,
			Patch:  dmp.PatchToText(patches),
		})
	}

	return report
}
