// Package notedir mirrors a directory of markdown note files to the notes
// API. Saved files are parsed and handed to a Writer, which sends them
// through the offline pipeline.
package notedir

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/alexjbarnes/notesync/internal/notefmt"
	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
)

const (
	defaultPollInterval = 500 * time.Millisecond
	defaultSettle       = 300 * time.Millisecond
)

// ErrNoTarget is returned by Send for a file whose frontmatter names
// neither a note nor a notebook.
var ErrNoTarget = errors.New("note file has no id or notebookId")

// Writer sends one parsed note file to the API. With create set the note
// is created in fm.NotebookID under the id fm.ID, otherwise note fm.ID is
// updated. It returns the note's id as the server reports it, or "" when
// the server does not say.
type Writer interface {
	WriteNote(ctx context.Context, fm notefmt.Frontmatter, content string, create bool) (string, error)
}

// Watcher monitors a directory for note files and writes each saved
// file once its content settles.
type Watcher struct {
	dir    string
	writer Writer
	logger *slog.Logger

	pollInterval time.Duration
	settle       time.Duration

	newID func() string

	mu       sync.Mutex
	hashes   map[string]string
	creating map[string]string
}

// NewWatcher creates a Watcher for dir.
func NewWatcher(dir string, writer Writer, logger *slog.Logger) *Watcher {
	return &Watcher{
		dir:          dir,
		writer:       writer,
		logger:       logger,
		pollInterval: defaultPollInterval,
		settle:       defaultSettle,
		newID:        newNoteID,
		hashes:       make(map[string]string),
		creating:     make(map[string]string),
	}
}

// Watch blocks until ctx is cancelled. Directories are watched
// recursively.
func (w *Watcher) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer watcher.Close()

	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return fmt.Errorf("creating notes dir: %w", err)
	}

	if err := w.addRecursive(watcher, w.dir); err != nil {
		return fmt.Errorf("watching notes dir: %w", err)
	}

	w.logger.Info("note watcher started", slog.String("dir", w.dir))

	// Debounce: batch rapid writes into a single request per file.
	pending := make(map[string]time.Time)
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return fmt.Errorf("fsnotify events channel closed unexpectedly")
			}

			if w.shouldIgnore(event.Name) {
				continue
			}

			if event.Has(fsnotify.Create) {
				if info, err := os.Lstat(event.Name); err == nil && info.IsDir() {
					_ = w.addRecursive(watcher, event.Name)
					continue
				}
			}

			if event.Has(fsnotify.Create) || event.Has(fsnotify.Write) {
				if isNoteFile(event.Name) {
					pending[event.Name] = time.Now()
				}
			}

			if event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				delete(pending, event.Name)
				w.forget(event.Name)
				_ = watcher.Remove(event.Name)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return fmt.Errorf("fsnotify errors channel closed unexpectedly")
			}

			w.logger.Warn("watcher error", slog.String("error", err.Error()))

		case <-ticker.C:
			now := time.Now()
			for path, t := range pending {
				if now.Sub(t) < w.settle {
					continue
				}

				delete(pending, path)
				w.handleWrite(ctx, path)
			}
		}
	}
}

// handleWrite sends a changed note file and logs the outcome.
func (w *Watcher) handleWrite(ctx context.Context, absPath string) {
	rel := w.rel(absPath)

	fm, err := w.Send(ctx, absPath)

	switch {
	case errors.Is(err, fs.ErrNotExist):
		w.logger.Debug("note file vanished before send", slog.String("path", rel))
	case errors.Is(err, ErrNoTarget):
		w.logger.Debug("note file has no id or notebookId", slog.String("path", rel))
	case err != nil:
		w.logger.Warn("failed to send note", slog.String("path", rel), slog.String("error", err.Error()))
	case fm != nil:
		w.logger.Info("note sent", slog.String("path", rel), slog.String("note_id", fm.ID))
	}
}

// Send writes one note file to the API and returns the frontmatter it
// sent, or nil when the content matches the last successful send.
//
// A file with a notebookId but no id is a new note. It is given an id
// which is written into its frontmatter before the create is sent, so
// every later save of the file, and the create itself if it was queued,
// address the same note. Until the create succeeds the file keeps being
// sent as a create. If the server reports a different id, that id is
// written back instead.
func (w *Watcher) Send(ctx context.Context, absPath string) (*notefmt.Frontmatter, error) {
	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("reading note file: %w", err)
	}

	hash := contentHash(data)

	w.mu.Lock()
	unchanged := w.hashes[absPath] == hash
	w.mu.Unlock()

	if unchanged {
		return nil, nil
	}

	fm, content, err := notefmt.Parse(data)
	if err != nil {
		return nil, err
	}

	if fm == nil || (fm.ID == "" && fm.NotebookID == "") {
		return nil, ErrNoTarget
	}

	if fm.ID == "" {
		fm.ID = w.newID()

		if hash, err = w.rewrite(absPath, *fm, content); err != nil {
			return nil, fmt.Errorf("assigning note id: %w", err)
		}

		w.mu.Lock()
		w.creating[absPath] = fm.ID
		w.mu.Unlock()
	}

	w.mu.Lock()
	create := w.creating[absPath] == fm.ID
	w.mu.Unlock()

	id, err := w.writer.WriteNote(ctx, *fm, content, create)
	if err != nil {
		return nil, err
	}

	w.mu.Lock()
	delete(w.creating, absPath)
	w.mu.Unlock()

	if id != "" && id != fm.ID {
		fm.ID = id

		if hash, err = w.rewrite(absPath, *fm, content); err != nil {
			return nil, fmt.Errorf("recording note id: %w", err)
		}
	}

	w.mu.Lock()
	w.hashes[absPath] = hash
	w.mu.Unlock()

	return fm, nil
}

// rewrite replaces the file's frontmatter with fm and returns the hash
// of the new content.
func (w *Watcher) rewrite(absPath string, fm notefmt.Frontmatter, content string) (string, error) {
	data, err := notefmt.Format(fm, content)
	if err != nil {
		return "", err
	}

	perm := os.FileMode(0o644)
	if info, err := os.Stat(absPath); err == nil {
		perm = info.Mode().Perm()
	}

	if err := writeAtomic(absPath, data, perm); err != nil {
		return "", err
	}

	return contentHash(data), nil
}

func contentHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func newNoteID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New().String()
	}

	return id.String()
}

func (w *Watcher) forget(absPath string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	delete(w.hashes, absPath)
	delete(w.creating, absPath)
}

func (w *Watcher) rel(absPath string) string {
	rel, err := filepath.Rel(w.dir, absPath)
	if err != nil {
		return absPath
	}

	return filepath.ToSlash(rel)
}

// addRecursive adds dir and its non-hidden subdirectories to the watcher.
func (w *Watcher) addRecursive(watcher *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if !d.IsDir() {
			return nil
		}

		if path != dir && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}

		return watcher.Add(path)
	})
}

func isNoteFile(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".md")
}

// shouldIgnore returns true for hidden files and editor temp files.
func (w *Watcher) shouldIgnore(absPath string) bool {
	name := filepath.Base(absPath)

	if strings.HasPrefix(name, ".") {
		return true
	}

	if strings.HasSuffix(name, "~") || strings.HasSuffix(name, ".swp") {
		return true
	}

	return false
}
