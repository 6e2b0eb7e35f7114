package notedir

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/alexjbarnes/notesync/internal/models"
	"github.com/alexjbarnes/notesync/internal/notefmt"
)

// FileName returns the file a note is exported to.
func FileName(noteID string) string {
	safe := strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', 0:
			return '_'
		}

		return r
	}, noteID)

	return safe + ".md"
}

// Export writes each note to dir as markdown with frontmatter. Files are
// written to a temp file and renamed so a running watcher never reads a
// partial note.
func Export(dir string, notes []models.CachedNote) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating notes dir: %w", err)
	}

	for _, n := range notes {
		data, err := notefmt.Render(n)
		if err != nil {
			return fmt.Errorf("rendering note %s: %w", n.ID, err)
		}

		if err := writeAtomic(filepath.Join(dir, FileName(n.ID)), data, 0o644); err != nil {
			return fmt.Errorf("writing note %s: %w", n.ID, err)
		}
	}

	return nil
}

func writeAtomic(path string, data []byte, perm os.FileMode) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".notesync-write-*")
	if err != nil {
		return err
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())

		return err
	}

	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}

	if err := os.Chmod(tmp.Name(), perm); err != nil {
		os.Remove(tmp.Name())
		return err
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return err
	}

	return nil
}
