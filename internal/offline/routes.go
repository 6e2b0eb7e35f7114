package offline

import (
	"net/http"
	"regexp"
	"strings"

	"github.com/alexjbarnes/notesync/internal/cache"
	"github.com/alexjbarnes/notesync/internal/models"
	"github.com/tidwall/gjson"
)

// routeMatch is what a transformer may inspect: the path parameters
// captured by the route pattern and the request body.
type routeMatch struct {
	params []string
	body   gjson.Result
	opID   func() string
}

// transformer derives the notebook sync payload for a matched request,
// or nil when the request should replay raw. Transformers read the
// local cache but never the network.
type transformer func(c *cache.Cache, m routeMatch) *models.NotebookSyncPayload

type route struct {
	method  string
	pattern *regexp.Regexp
	derive  transformer
}

var (
	createInNotebookPattern = regexp.MustCompile(`(?:^|/)notebooks/([^/]+)/notes$`)
	createPattern           = regexp.MustCompile(`(?:^|/)notes$`)
	notePattern             = regexp.MustCompile(`(?:^|/)notes/([^/]+)$`)
)

// routes is evaluated in order; the first entry matching method and path
// decides.
var routes = []route{
	{http.MethodPost, createInNotebookPattern, deriveCreateInNotebook},
	{http.MethodPost, createPattern, deriveCreate},
	{http.MethodPut, notePattern, deriveUpdate},
	{http.MethodPatch, notePattern, deriveUpdate},
	{http.MethodDelete, notePattern, deriveDelete},
}

// deriveSyncPayload runs the route table for one request.
func deriveSyncPayload(c *cache.Cache, method, path string, body models.Body, opID func() string) *models.NotebookSyncPayload {
	path = strings.TrimRight(path, "/")

	var doc gjson.Result
	if body.Kind == models.BodyStructured {
		doc = gjson.ParseBytes(body.Structured)
	}

	for _, r := range routes {
		if r.method != method {
			continue
		}

		sub := r.pattern.FindStringSubmatch(path)
		if sub == nil {
			continue
		}

		return r.derive(c, routeMatch{params: sub[1:], body: doc, opID: opID})
	}

	return nil
}

func singleOp(notebookID string, op models.SyncOperation) *models.NotebookSyncPayload {
	return &models.NotebookSyncPayload{
		Type:       models.SyncPayloadNotebook,
		NotebookID: notebookID,
		Operations: []models.SyncOperation{op},
	}
}

func deriveCreate(_ *cache.Cache, m routeMatch) *models.NotebookSyncPayload {
	p := overlayBody(models.NoteUpsertPayload{Tags: []string{}}, m.body)
	if p.NotebookID == "" {
		return nil
	}

	return singleOp(p.NotebookID, models.NoteUpsert(m.opID(), p))
}

func deriveCreateInNotebook(_ *cache.Cache, m routeMatch) *models.NotebookSyncPayload {
	p := overlayBody(models.NoteUpsertPayload{Tags: []string{}}, m.body)
	if p.NotebookID == "" {
		p.NotebookID = m.params[0]
	}

	return singleOp(p.NotebookID, models.NoteUpsert(m.opID(), p))
}

// deriveUpdate merges the request's fields over the cached note so the
// upsert carries the full note state.
func deriveUpdate(c *cache.Cache, m routeMatch) *models.NotebookSyncPayload {
	id := m.params[0]

	cached := c.GetNoteByID(id)
	if cached == nil || cached.NotebookID == "" {
		return nil
	}

	p := overlayBody(payloadFromNote(*cached), m.body)
	p.ID = id

	if p.NotebookID == "" {
		return nil
	}

	return singleOp(p.NotebookID, models.NoteUpsert(m.opID(), p))
}

func deriveDelete(c *cache.Cache, m routeMatch) *models.NotebookSyncPayload {
	id := m.params[0]

	cached := c.GetNoteByID(id)
	if cached == nil || cached.NotebookID == "" {
		return nil
	}

	return singleOp(cached.NotebookID, models.NoteDelete(m.opID(), id))
}

func payloadFromNote(n models.CachedNote) models.NoteUpsertPayload {
	return models.NoteUpsertPayload{
		ID:          n.ID,
		Title:       n.Title,
		Content:     n.Content,
		ContentText: n.ContentText,
		Tags:        models.NormalizeTags(n.Tags),
		Pinned:      n.Pinned,
		NotebookID:  n.NotebookID,
	}
}

// overlayBody copies the fields present in body onto p.
func overlayBody(p models.NoteUpsertPayload, body gjson.Result) models.NoteUpsertPayload {
	if !body.IsObject() {
		return p
	}

	if v := body.Get("id"); v.Exists() && v.Type != gjson.Null {
		p.ID = v.String()
	}

	if v := body.Get("title"); v.Exists() {
		p.Title = v.String()
	}

	if v := body.Get("content"); v.Exists() {
		p.Content = v.String()
	}

	if v := body.Get("contentText"); v.Exists() {
		p.ContentText = v.String()
	}

	if v := body.Get("tags"); v.Exists() {
		p.Tags = tagsFromJSON(v)
	}

	if v := body.Get("pinned"); v.Exists() {
		p.Pinned = v.Bool()
	}

	if v := body.Get("notebookId"); v.Exists() {
		p.NotebookID = v.String()
	}

	return p
}

// noteFromPayload is the local view of a note after an upsert has been
// applied.
func noteFromPayload(p models.NoteUpsertPayload, updatedAt string) models.CachedNote {
	return models.CachedNote{
		ID:          p.ID,
		NotebookID:  p.NotebookID,
		Title:       p.Title,
		Content:     p.Content,
		ContentText: p.ContentText,
		Tags:        p.Tags,
		Pinned:      p.Pinned,
		UpdatedAt:   updatedAt,
	}
}
