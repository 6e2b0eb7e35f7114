package offline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyPath(t *testing.T) {
	tests := []struct {
		path     string
		kind     entityKind
		notebook string
	}{
		{"/notebooks/nb1/notes", kindNotes, "nb1"},
		{"/api/notebooks/nb1/notes/n1/", kindNotes, "nb1"},
		{"/notes", kindNotes, ""},
		{"/notes/n1", kindNotes, ""},
		{"/notebooks", kindNotebooks, ""},
		{"/notebooks/nb1", kindNotebooks, ""},
		{"/settings", kindUnknown, ""},
		{"/notes/n1/attachments", kindUnknown, ""},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			kind, nb := classifyPath(tt.path)
			assert.Equal(t, tt.kind, kind)
			assert.Equal(t, tt.notebook, nb)
		})
	}
}

func TestExtractEntities_BareArrayByPath(t *testing.T) {
	ex := extractEntities("/notebooks/nb1/notes", []byte(`[{"id":"n1","title":"a"},{"title":"no id"},{"id":"n2","notebookId":"nb9"}]`))

	require.Len(t, ex.notes, 2)
	assert.Equal(t, "nb1", ex.notes[0].NotebookID)
	assert.Equal(t, "nb9", ex.notes[1].NotebookID)
	assert.Empty(t, ex.notebooks)
}

func TestExtractEntities_KeyedCollections(t *testing.T) {
	ex := extractEntities("/sync/bootstrap", []byte(`{
		"notebooks": [{"id":"nb1","name":"Work"}],
		"notes": [{"id":"n1","notebookId":"nb1","tags":[{"name":"x"},"y"]}]
	}`))

	require.Len(t, ex.notebooks, 1)
	assert.Equal(t, "Work", ex.notebooks[0].Attributes["name"])

	require.Len(t, ex.notes, 1)
	assert.Equal(t, []string{"x", "y"}, ex.notes[0].Tags)
}

func TestExtractEntities_NotebookEmbeddingNotes(t *testing.T) {
	ex := extractEntities("/notebooks/nb1", []byte(`{"id":"nb1","name":"Work","notes":[{"id":"n1"}]}`))

	require.Len(t, ex.notebooks, 1)
	assert.Equal(t, "nb1", ex.notebooks[0].ID)

	require.Len(t, ex.notes, 1)
	assert.Equal(t, "nb1", ex.notes[0].NotebookID)
}

func TestExtractEntities_DataEnvelope(t *testing.T) {
	ex := extractEntities("/notebooks", []byte(`{"data":[{"id":"nb1"},{"id":"nb2"}],"next":null}`))

	require.Len(t, ex.notebooks, 2)
	assert.Empty(t, ex.notes)
}

func TestExtractEntities_SingleObject(t *testing.T) {
	ex := extractEntities("/notes/n1", []byte(`{"id":"n1","notebookId":"nb1","pinned":true,"updatedAt":"t1"}`))

	require.Len(t, ex.notes, 1)
	assert.True(t, ex.notes[0].Pinned)
	assert.Equal(t, "t1", ex.notes[0].UpdatedAt)
}

func TestExtractEntities_Ignored(t *testing.T) {
	tests := []struct {
		name    string
		path    string
		payload string
	}{
		{"invalid json", "/notes", `{not json`},
		{"scalar", "/notes", `42`},
		{"unknown path", "/settings", `{"id":"s1"}`},
		{"empty array", "/notes", `[]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, extractEntities(tt.path, []byte(tt.payload)).empty())
		})
	}
}
