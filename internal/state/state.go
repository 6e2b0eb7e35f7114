package state

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/alexjbarnes/notesync/internal/models"
	bolt "go.etcd.io/bbolt"
)

const (
	// stateDirPerm is the permission mode for the state directory (~/.notesync/).
	stateDirPerm = fs.FileMode(0o700)

	// stateFilePerm is the permission mode for the state database file.
	stateFilePerm = fs.FileMode(0o600)

	// stateOpenTimeout is the maximum time to wait for the bolt database lock.
	stateOpenTimeout = 5 * time.Second
)

var (
	responsesBucket       = []byte("responses")
	notebooksBucket       = []byte("notebooks")
	notesBucket           = []byte("notes")
	notesByNotebookBucket = []byte("notes_by_notebook")
	mutationsBucket       = []byte("mutations")
	metadataBucket        = []byte("metadata")

	allBuckets = [][]byte{
		responsesBucket,
		notebooksBucket,
		notesBucket,
		notesByNotebookBucket,
		mutationsBucket,
		metadataBucket,
	}
)

// notebookSyncKey is the metadata key holding a notebook's sync session.
func notebookSyncKey(notebookID string) []byte {
	return []byte("notebook-sync:" + notebookID)
}

// notebookIndexKey is the key in notes_by_notebook for a note. The NUL
// separator keeps a prefix scan for one notebook from matching another
// notebook whose id shares a prefix.
func notebookIndexKey(notebookID, noteID string) []byte {
	return []byte(notebookID + "\x00" + noteID)
}

func notebookIndexPrefix(notebookID string) []byte {
	return []byte(notebookID + "\x00")
}

// mutationKey encodes a queue id big-endian so bbolt's byte ordering is
// insertion order.
func mutationKey(id uint64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, id)

	return k
}

// State wraps a bbolt database holding the local domain cache and the
// offline mutation queue.
type State struct {
	db *bolt.DB
}

// LoadAt opens a state database at the given path, creating it if it
// does not exist. Useful for tests that need an isolated database.
func LoadAt(path string) (*State, error) {
	if err := os.MkdirAll(filepath.Dir(path), stateDirPerm); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}

	db, err := bolt.Open(path, stateFilePerm, &bolt.Options{Timeout: stateOpenTimeout})
	if err != nil {
		return nil, fmt.Errorf("opening state db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		return createBuckets(tx)
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing state db: %w", err)
	}

	return &State{db: db}, nil
}

func createBuckets(tx *bolt.Tx) error {
	for _, name := range allBuckets {
		if _, err := tx.CreateBucketIfNotExists(name); err != nil {
			return err
		}
	}

	return nil
}

// Close closes the database.
func (s *State) Close() error {
	return s.db.Close()
}

// --- responses ---

// PutResponse stores a cached read response, replacing any previous
// payload for the same URL.
func (s *State) PutResponse(r models.CachedResponse) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return putJSON(tx.Bucket(responsesBucket), []byte(r.URL), r)
	})
}

// GetResponse returns the cached response for url, or nil if not found.
func (s *State) GetResponse(url string) (*models.CachedResponse, error) {
	var r *models.CachedResponse

	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(responsesBucket).Get([]byte(url))
		if v == nil {
			return nil
		}

		r = &models.CachedResponse{}

		return json.Unmarshal(v, r)
	})

	return r, err
}

// --- notebooks ---

// PutNotebooks upserts notebooks by id in a single transaction.
func (s *State) PutNotebooks(notebooks []models.CachedNotebook) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(notebooksBucket)

		for _, nb := range notebooks {
			if err := putJSON(b, []byte(nb.ID), nb); err != nil {
				return err
			}
		}

		return nil
	})
}

// GetNotebook returns a cached notebook, or nil if not found.
func (s *State) GetNotebook(id string) (*models.CachedNotebook, error) {
	var nb *models.CachedNotebook

	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(notebooksBucket).Get([]byte(id))
		if v == nil {
			return nil
		}

		nb = &models.CachedNotebook{}

		return json.Unmarshal(v, nb)
	})

	return nb, err
}

// --- notes ---

// PutNotes upserts notes by id and keeps the notebook index in step,
// dropping the old index entry when a note moves between notebooks.
func (s *State) PutNotes(notes []models.CachedNote) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		for _, n := range notes {
			if err := putNote(tx, n); err != nil {
				return err
			}
		}

		return nil
	})
}

func putNote(tx *bolt.Tx, n models.CachedNote) error {
	notes := tx.Bucket(notesBucket)
	index := tx.Bucket(notesByNotebookBucket)

	if prev := notes.Get([]byte(n.ID)); prev != nil {
		var old models.CachedNote
		if err := json.Unmarshal(prev, &old); err != nil {
			return err
		}

		if old.NotebookID != "" && old.NotebookID != n.NotebookID {
			if err := index.Delete(notebookIndexKey(old.NotebookID, old.ID)); err != nil {
				return err
			}
		}
	}

	if err := putJSON(notes, []byte(n.ID), n); err != nil {
		return err
	}

	if n.NotebookID == "" {
		return nil
	}

	return index.Put(notebookIndexKey(n.NotebookID, n.ID), []byte{})
}

// GetNote returns a cached note, or nil if not found.
func (s *State) GetNote(id string) (*models.CachedNote, error) {
	var n *models.CachedNote

	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(notesBucket).Get([]byte(id))
		if v == nil {
			return nil
		}

		n = &models.CachedNote{}

		return json.Unmarshal(v, n)
	})

	return n, err
}

// NotesByNotebook returns the cached notes assigned to a notebook,
// ordered by note id.
func (s *State) NotesByNotebook(notebookID string) ([]models.CachedNote, error) {
	var result []models.CachedNote

	err := s.db.View(func(tx *bolt.Tx) error {
		notes := tx.Bucket(notesBucket)
		prefix := notebookIndexPrefix(notebookID)
		c := tx.Bucket(notesByNotebookBucket).Cursor()

		for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
			v := notes.Get(k[len(prefix):])
			if v == nil {
				continue
			}

			var n models.CachedNote
			if err := json.Unmarshal(v, &n); err != nil {
				return err
			}

			result = append(result, n)
		}

		return nil
	})

	return result, err
}

// DeleteNote removes a note and its index entry.
func (s *State) DeleteNote(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return deleteNote(tx, id)
	})
}

func deleteNote(tx *bolt.Tx, id string) error {
	notes := tx.Bucket(notesBucket)

	v := notes.Get([]byte(id))
	if v == nil {
		return nil
	}

	var n models.CachedNote
	if err := json.Unmarshal(v, &n); err != nil {
		return err
	}

	if n.NotebookID != "" {
		if err := tx.Bucket(notesByNotebookBucket).Delete(notebookIndexKey(n.NotebookID, id)); err != nil {
			return err
		}
	}

	return notes.Delete([]byte(id))
}

// ReplaceNotebookNotes makes notes the complete cached note set for a
// notebook: notes indexed under the notebook but absent from notes are
// deleted, the rest are upserted. Runs in one transaction.
func (s *State) ReplaceNotebookNotes(notebookID string, notes []models.CachedNote) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		keep := make(map[string]struct{}, len(notes))
		for _, n := range notes {
			keep[n.ID] = struct{}{}
		}

		prefix := notebookIndexPrefix(notebookID)

		var stale []string

		c := tx.Bucket(notesByNotebookBucket).Cursor()
		for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
			id := string(k[len(prefix):])
			if _, ok := keep[id]; !ok {
				stale = append(stale, id)
			}
		}

		for _, id := range stale {
			if err := deleteNote(tx, id); err != nil {
				return err
			}
		}

		for _, n := range notes {
			if err := putNote(tx, n); err != nil {
				return err
			}
		}

		return nil
	})
}

// --- mutations ---

// AddMutation assigns the next queue id to m and persists it.
func (s *State) AddMutation(m models.OfflineMutation) (models.OfflineMutation, error) {
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(mutationsBucket)

		id, err := b.NextSequence()
		if err != nil {
			return err
		}

		m.ID = id

		return putJSON(b, mutationKey(id), m)
	})
	if err != nil {
		return models.OfflineMutation{}, err
	}

	return m, nil
}

// Mutations returns all queued mutations in insertion order.
func (s *State) Mutations() ([]models.OfflineMutation, error) {
	var result []models.OfflineMutation

	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(mutationsBucket).ForEach(func(k, v []byte) error {
			var m models.OfflineMutation
			if err := json.Unmarshal(v, &m); err != nil {
				return err
			}

			result = append(result, m)

			return nil
		})
	})

	return result, err
}

// UpdateMutation applies patch to a queued mutation. Missing ids are
// ignored: the entry was already drained.
func (s *State) UpdateMutation(id uint64, patch models.MutationPatch) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(mutationsBucket)

		v := b.Get(mutationKey(id))
		if v == nil {
			return nil
		}

		var m models.OfflineMutation
		if err := json.Unmarshal(v, &m); err != nil {
			return err
		}

		patch.Apply(&m)

		return putJSON(b, mutationKey(id), m)
	})
}

// DeleteMutation removes a queued mutation.
func (s *State) DeleteMutation(id uint64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(mutationsBucket).Delete(mutationKey(id))
	})
}

// MutationCount returns the number of queued mutations.
func (s *State) MutationCount() int {
	count := 0
	_ = s.db.View(func(tx *bolt.Tx) error {
		count = tx.Bucket(mutationsBucket).Stats().KeyN

		return nil
	})

	return count
}

// --- metadata ---

// SetMeta stores a JSON-encoded scalar under key.
func (s *State) SetMeta(key string, value any) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return putJSON(tx.Bucket(metadataBucket), []byte(key), value)
	})
}

// GetMeta decodes the value stored under key into out. It reports
// whether the key existed.
func (s *State) GetMeta(key string, out any) (bool, error) {
	found := false

	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(metadataBucket).Get([]byte(key))
		if v == nil {
			return nil
		}

		found = true

		return json.Unmarshal(v, out)
	})

	return found, err
}

// GetNotebookSync returns the sync session for a notebook, or nil if the
// notebook has never been written to from this install.
func (s *State) GetNotebookSync(notebookID string) (*models.NotebookSyncMetadata, error) {
	var md *models.NotebookSyncMetadata

	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(metadataBucket).Get(notebookSyncKey(notebookID))
		if v == nil {
			return nil
		}

		md = &models.NotebookSyncMetadata{}

		return json.Unmarshal(v, md)
	})

	return md, err
}

// SetNotebookSync persists the sync session for a notebook.
func (s *State) SetNotebookSync(notebookID string, md models.NotebookSyncMetadata) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return putJSON(tx.Bucket(metadataBucket), notebookSyncKey(notebookID), md)
	})
}

// Clear empties every collection, including the mutation queue and its
// id sequence.
func (s *State) Clear() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		for _, name := range allBuckets {
			if tx.Bucket(name) == nil {
				continue
			}

			if err := tx.DeleteBucket(name); err != nil {
				return err
			}
		}

		return createBuckets(tx)
	})
}

func putJSON(b *bolt.Bucket, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}

	return b.Put(key, data)
}

// DefaultPath returns ~/.notesync/state.db.
func DefaultPath() (string, error) {
	dir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("determining home directory: %w", err)
	}

	return filepath.Join(dir, ".notesync", "state.db"), nil
}
