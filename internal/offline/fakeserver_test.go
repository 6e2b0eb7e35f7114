package offline

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/alexjbarnes/notesync/internal/cache"
	"github.com/alexjbarnes/notesync/internal/connectivity"
	"github.com/alexjbarnes/notesync/internal/models"
	"github.com/alexjbarnes/notesync/internal/state"
	"github.com/alexjbarnes/notesync/internal/syncapi"
	"github.com/stretchr/testify/require"
)

// fakeServer is an in-memory notes API with the notebook sync endpoint.
// Pushes are checked against the notebook revision and deduplicated by
// opId.
type fakeServer struct {
	t   *testing.T
	srv *httptest.Server

	mu        sync.Mutex
	revisions map[string]int64
	notes     map[string]syncapi.NoteDTO
	opNotes   map[string]string
	nextID    int
	requests  []recordedRequest
	pushes    []string

	failPaths  map[string]int
	pushStatus map[string]int
	failPull   bool
	losePush   bool
	pushHook   func(notebookID string)
}

type recordedRequest struct {
	Method   string
	Path     string
	Replay   bool
	IfMatch  string
	Revision string
	Body     string
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()

	fs := &fakeServer{
		t:          t,
		revisions:  make(map[string]int64),
		notes:      make(map[string]syncapi.NoteDTO),
		opNotes:    make(map[string]string),
		failPaths:  make(map[string]int),
		pushStatus: make(map[string]int),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /notebooks/{id}/sync", fs.handlePull)
	mux.HandleFunc("POST /notebooks/{id}/sync", fs.handlePush)
	mux.HandleFunc("GET /notebooks", fs.handleListNotebooks)
	mux.HandleFunc("GET /notes", fs.handleListNotes)
	mux.HandleFunc("POST /notes", fs.handleCreateNote)
	mux.HandleFunc("GET /notes/{id}", fs.handleGetNote)
	mux.HandleFunc("PUT /notes/{id}", fs.handleUpdateNote)
	mux.HandleFunc("PATCH /notes/{id}", fs.handleUpdateNote)
	mux.HandleFunc("DELETE /notes/{id}", fs.handleDeleteNote)
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	})

	fs.srv = httptest.NewServer(fs.record(mux))
	t.Cleanup(fs.srv.Close)

	return fs
}

func (fs *fakeServer) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		r.Body = io.NopCloser(strings.NewReader(string(body)))

		fs.mu.Lock()
		fs.requests = append(fs.requests, recordedRequest{
			Method:   r.Method,
			Path:     r.URL.Path,
			Replay:   r.Header.Get(ReplayHeader) == "true",
			IfMatch:  r.Header.Get("If-Match"),
			Revision: r.Header.Get(headerRevision),
			Body:     string(body),
		})
		status, fail := fs.failPaths[r.Method+" "+r.URL.Path]
		fs.mu.Unlock()

		if fail {
			writeJSON(w, status, syncapi.APIError{Error: "injected", Message: "injected failure"})
			return
		}

		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (fs *fakeServer) url(path string) string {
	return fs.srv.URL + path
}

// --- sync endpoint ---

func (fs *fakeServer) handlePull(w http.ResponseWriter, r *http.Request) {
	nb := r.PathValue("id")

	fs.mu.Lock()
	defer fs.mu.Unlock()

	if fs.failPull {
		writeJSON(w, http.StatusInternalServerError, syncapi.APIError{Message: "pull unavailable"})
		return
	}

	resp := syncapi.PullResponse{
		Revision:     fs.revisions[nb],
		SnapshotHash: fs.hashLocked(nb),
		ServerTime:   "2026-03-01T00:00:00Z",
	}

	if r.URL.Query().Get("withNotes") == "true" {
		resp.Notes = fs.notesInLocked(nb)
	}

	writeJSON(w, http.StatusOK, resp)
}

func (fs *fakeServer) handlePush(w http.ResponseWriter, r *http.Request) {
	nb := r.PathValue("id")

	var req syncapi.PushRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, syncapi.APIError{Message: err.Error()})
		return
	}

	fs.mu.Lock()
	hook := fs.pushHook
	fs.mu.Unlock()

	if hook != nil {
		hook(nb)
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()

	fs.pushes = append(fs.pushes, nb)

	if status, ok := fs.pushStatus[nb]; ok {
		writeJSON(w, status, syncapi.APIError{Message: "push rejected"})
		return
	}

	if req.BaseRevision != fs.revisions[nb] {
		writeJSON(w, http.StatusConflict, syncapi.APIError{
			Error:   "revision_mismatch",
			Message: fmt.Sprintf("base revision %d is behind %d", req.BaseRevision, fs.revisions[nb]),
		})

		return
	}

	for _, op := range req.Operations {
		if _, seen := fs.opNotes[op.OpID]; seen {
			continue
		}

		switch op.Type {
		case models.OpNoteUpsert:
			p := op.Payload
			id := p.ID
			if id == "" {
				id = fs.newIDLocked()
			}

			fs.notes[id] = syncapi.NoteDTO{
				ID:          id,
				NotebookID:  p.NotebookID,
				Title:       p.Title,
				Content:     p.Content,
				ContentText: p.ContentText,
				Tags:        p.Tags,
				Pinned:      p.Pinned,
				UpdatedAt:   "2026-03-01T00:00:00Z",
			}
			fs.opNotes[op.OpID] = id
		case models.OpNoteDelete:
			delete(fs.notes, op.NoteID)
			fs.opNotes[op.OpID] = op.NoteID
		}
	}

	fs.revisions[nb]++

	if fs.losePush {
		fs.losePush = false
		writeJSON(w, http.StatusBadGateway, syncapi.APIError{Message: "upstream timed out"})

		return
	}

	writeJSON(w, http.StatusOK, syncapi.PushResponse{
		Revision:     fs.revisions[nb],
		SnapshotHash: fs.hashLocked(nb),
		ServerTime:   "2026-03-01T00:00:00Z",
	})
}

// --- REST endpoints ---

func (fs *fakeServer) handleListNotebooks(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, []map[string]any{{"id": "nb1", "name": "Work"}})
}

func (fs *fakeServer) handleListNotes(w http.ResponseWriter, _ *http.Request) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	all := make([]syncapi.NoteDTO, 0, len(fs.notes))
	for _, n := range fs.notes {
		all = append(all, n)
	}

	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })

	writeJSON(w, http.StatusOK, all)
}

func (fs *fakeServer) handleGetNote(w http.ResponseWriter, r *http.Request) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	n, ok := fs.notes[r.PathValue("id")]
	if !ok {
		writeJSON(w, http.StatusNotFound, syncapi.APIError{Message: "not found"})
		return
	}

	writeJSON(w, http.StatusOK, n)
}

func (fs *fakeServer) handleCreateNote(w http.ResponseWriter, r *http.Request) {
	var fields map[string]json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&fields); err != nil {
		writeJSON(w, http.StatusBadRequest, syncapi.APIError{Message: err.Error()})
		return
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()

	n := syncapi.NoteDTO{ID: fs.newIDLocked(), Tags: []string{}}
	applyFields(&n, fields)
	fs.notes[n.ID] = n
	fs.bumpLocked(n.NotebookID)

	writeJSON(w, http.StatusCreated, n)
}

func (fs *fakeServer) handleUpdateNote(w http.ResponseWriter, r *http.Request) {
	var fields map[string]json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&fields); err != nil {
		writeJSON(w, http.StatusBadRequest, syncapi.APIError{Message: err.Error()})
		return
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()

	n, ok := fs.notes[r.PathValue("id")]
	if !ok {
		writeJSON(w, http.StatusNotFound, syncapi.APIError{Message: "not found"})
		return
	}

	applyFields(&n, fields)
	n.ID = r.PathValue("id")
	fs.notes[n.ID] = n
	fs.bumpLocked(n.NotebookID)

	writeJSON(w, http.StatusOK, n)
}

func (fs *fakeServer) handleDeleteNote(w http.ResponseWriter, r *http.Request) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	n, ok := fs.notes[r.PathValue("id")]
	if ok {
		delete(fs.notes, n.ID)
		fs.bumpLocked(n.NotebookID)
	}

	w.WriteHeader(http.StatusNoContent)
}

func applyFields(n *syncapi.NoteDTO, fields map[string]json.RawMessage) {
	targets := map[string]any{
		"id":          &n.ID,
		"notebookId":  &n.NotebookID,
		"title":       &n.Title,
		"content":     &n.Content,
		"contentText": &n.ContentText,
		"tags":        &n.Tags,
		"pinned":      &n.Pinned,
	}

	for k, raw := range fields {
		if dst, ok := targets[k]; ok {
			_ = json.Unmarshal(raw, dst)
		}
	}
}

// --- helpers (caller holds mu) ---

func (fs *fakeServer) newIDLocked() string {
	fs.nextID++
	return fmt.Sprintf("srv-%d", fs.nextID)
}

func (fs *fakeServer) bumpLocked(notebookID string) {
	if notebookID != "" {
		fs.revisions[notebookID]++
	}
}

func (fs *fakeServer) hashLocked(notebookID string) *string {
	h := fmt.Sprintf("h%d", fs.revisions[notebookID])
	return &h
}

func (fs *fakeServer) notesInLocked(notebookID string) []syncapi.NoteDTO {
	var out []syncapi.NoteDTO

	for _, n := range fs.notes {
		if n.NotebookID == notebookID {
			out = append(out, n)
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })

	return out
}

// --- test accessors ---

func (fs *fakeServer) seedNote(n syncapi.NoteDTO) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if n.Tags == nil {
		n.Tags = []string{}
	}

	fs.notes[n.ID] = n
	fs.bumpLocked(n.NotebookID)
}

func (fs *fakeServer) note(id string) (syncapi.NoteDTO, bool) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	n, ok := fs.notes[id]

	return n, ok
}

func (fs *fakeServer) notesIn(notebookID string) []syncapi.NoteDTO {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	return fs.notesInLocked(notebookID)
}

func (fs *fakeServer) revision(notebookID string) int64 {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	return fs.revisions[notebookID]
}

func (fs *fakeServer) pushLog() []string {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	return append([]string(nil), fs.pushes...)
}

func (fs *fakeServer) requestCount() int {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	return len(fs.requests)
}

// writes returns the non-sync write requests in arrival order.
func (fs *fakeServer) writes() []recordedRequest {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	var out []recordedRequest

	for _, r := range fs.requests {
		if r.Method == http.MethodGet || strings.HasSuffix(r.Path, "/sync") {
			continue
		}

		out = append(out, r)
	}

	return out
}

func (fs *fakeServer) set(fn func(fs *fakeServer)) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	fn(fs)
}

// --- harness ---

type harness struct {
	t       *testing.T
	server  *fakeServer
	state   *state.State
	cache   *cache.Cache
	monitor *connectivity.Monitor
	engine  *Engine
	client  *http.Client
}

func newHarness(t *testing.T, online bool) *harness {
	t.Helper()

	fs := newFakeServer(t)

	st, err := state.LoadAt(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	c := cache.New(st, slog.Default())
	mon := connectivity.NewMonitor(online, slog.Default())

	e := New(Config{
		Cache:        c,
		Sync:         syncapi.NewClient(fs.srv.URL, "", fs.srv.Client()),
		Connectivity: mon,
		Transport:    fs.srv.Client().Transport,
		Logger:       slog.Default(),
	})
	e.Init(context.Background())
	t.Cleanup(e.Dispose)

	return &harness{
		t:       t,
		server:  fs,
		state:   st,
		cache:   c,
		monitor: mon,
		engine:  e,
		client:  &http.Client{Transport: e.Transport()},
	}
}

type result struct {
	status int
	header http.Header
	body   []byte
}

func (h *harness) do(method, path, body string, headers ...string) result {
	h.t.Helper()

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}

	req, err := http.NewRequestWithContext(context.Background(), method, h.server.url(path), reader)
	require.NoError(h.t, err)

	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}

	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	resp, err := h.client.Do(req)
	require.NoError(h.t, err)
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	require.NoError(h.t, err)

	return result{status: resp.StatusCode, header: resp.Header, body: data}
}

// goOnline flips connectivity on and waits for the reconnect flush.
func (h *harness) goOnline() {
	h.monitor.Set(true)
	h.engine.wg.Wait()
}

func (h *harness) goOffline() {
	h.monitor.Set(false)
}
