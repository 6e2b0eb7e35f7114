package offline

import (
	"regexp"
	"strings"

	"github.com/alexjbarnes/notesync/internal/models"
	"github.com/tidwall/gjson"
)

type entityKind int

const (
	kindUnknown entityKind = iota
	kindNotes
	kindNotebooks
)

var (
	notebookNotesPath = regexp.MustCompile(`(?:^|/)notebooks/([^/]+)/notes(?:/[^/]+)?$`)
	notesPath         = regexp.MustCompile(`(?:^|/)notes(?:/[^/]+)?$`)
	notebooksPath     = regexp.MustCompile(`(?:^|/)notebooks(?:/[^/]+)?$`)
)

// classifyPath reports which entity a response for path carries. For
// notes listed under a notebook the notebook id is returned as well.
func classifyPath(path string) (entityKind, string) {
	path = strings.TrimRight(path, "/")

	if m := notebookNotesPath.FindStringSubmatch(path); m != nil {
		return kindNotes, m[1]
	}

	if notesPath.MatchString(path) {
		return kindNotes, ""
	}

	if notebooksPath.MatchString(path) {
		return kindNotebooks, ""
	}

	return kindUnknown, ""
}

var entityKeys = []struct {
	key  string
	kind entityKind
}{
	{"notebooks", kindNotebooks},
	{"notebook", kindNotebooks},
	{"notes", kindNotes},
	{"note", kindNotes},
}

// extracted holds the domain entities found in a response payload.
type extracted struct {
	notebooks []models.CachedNotebook
	notes     []models.CachedNote
}

func (e extracted) empty() bool {
	return len(e.notebooks) == 0 && len(e.notes) == 0
}

// extractEntities finds notebooks and notes in a JSON response. Explicit
// "notes"/"notebooks"/"note"/"notebook" keys are honoured anywhere at the
// top level; bare arrays, "data" arrays and single objects are classified
// by the request path.
func extractEntities(path string, payload []byte) extracted {
	var out extracted

	if !gjson.ValidBytes(payload) {
		return out
	}

	kind, pathNotebook := classifyPath(path)
	root := gjson.ParseBytes(payload)

	add := func(k entityKind, v gjson.Result) {
		switch k {
		case kindNotes:
			if n, ok := noteFromJSON(v, pathNotebook); ok {
				out.notes = append(out.notes, n)
			}
		case kindNotebooks:
			if nb, ok := notebookFromJSON(v); ok {
				out.notebooks = append(out.notebooks, nb)
			}
		}
	}

	addAll := func(k entityKind, v gjson.Result) {
		if v.IsArray() {
			v.ForEach(func(_, item gjson.Result) bool {
				add(k, item)
				return true
			})

			return
		}

		if v.IsObject() {
			add(k, v)
		}
	}

	if root.IsArray() {
		addAll(kind, root)
		return out
	}

	if !root.IsObject() {
		return out
	}

	// A notebook object may embed its notes.
	if kind == kindNotebooks && root.Get("id").Exists() && pathNotebook == "" {
		pathNotebook = root.Get("id").String()
	}

	keyed := false

	for _, k := range entityKeys {
		if v := root.Get(k.key); v.Exists() && (v.IsArray() || v.IsObject()) {
			addAll(k.kind, v)
			keyed = true
		}
	}

	if keyed {
		if kind == kindNotebooks {
			add(kindNotebooks, root)
		}

		return out
	}

	if data := root.Get("data"); data.Exists() {
		addAll(kind, data)
		return out
	}

	addAll(kind, root)

	return out
}

// noteFromJSON converts a note object. defaultNotebook applies when the
// object has no notebookId of its own.
func noteFromJSON(v gjson.Result, defaultNotebook string) (models.CachedNote, bool) {
	id := v.Get("id")
	if !v.IsObject() || !id.Exists() || id.String() == "" {
		return models.CachedNote{}, false
	}

	n := models.CachedNote{
		ID:          id.String(),
		NotebookID:  v.Get("notebookId").String(),
		Title:       v.Get("title").String(),
		Content:     v.Get("content").String(),
		ContentText: v.Get("contentText").String(),
		Tags:        tagsFromJSON(v.Get("tags")),
		Pinned:      v.Get("pinned").Bool(),
		UpdatedAt:   v.Get("updatedAt").String(),
	}

	if n.NotebookID == "" {
		n.NotebookID = defaultNotebook
	}

	return n, true
}

func notebookFromJSON(v gjson.Result) (models.CachedNotebook, bool) {
	id := v.Get("id")
	if !v.IsObject() || !id.Exists() || id.String() == "" {
		return models.CachedNotebook{}, false
	}

	attrs, _ := v.Value().(map[string]any)

	return models.CachedNotebook{ID: id.String(), Attributes: attrs}, true
}

// tagsFromJSON accepts tags as strings or as objects with a name field.
func tagsFromJSON(v gjson.Result) []string {
	var tags []string

	v.ForEach(func(_, t gjson.Result) bool {
		if t.IsObject() {
			tags = append(tags, t.Get("name").String())
		} else {
			tags = append(tags, t.String())
		}

		return true
	})

	return models.NormalizeTags(tags)
}
