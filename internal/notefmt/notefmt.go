// Package notefmt converts cached notes to and from markdown files with a
// YAML frontmatter block.
package notefmt

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/alexjbarnes/notesync/internal/models"
	"gopkg.in/yaml.v3"
)

const delimiter = "---"

// Frontmatter holds the note fields carried in the YAML block.
type Frontmatter struct {
	ID         string   `yaml:"id,omitempty"`
	NotebookID string   `yaml:"notebookId,omitempty"`
	Title      string   `yaml:"title"`
	Tags       []string `yaml:"tags,omitempty"`
	Pinned     bool     `yaml:"pinned,omitempty"`
	UpdatedAt  string   `yaml:"updatedAt,omitempty"`
}

// Render writes n as markdown: frontmatter followed by the content.
func Render(n models.CachedNote) ([]byte, error) {
	return Format(Frontmatter{
		ID:         n.ID,
		NotebookID: n.NotebookID,
		Title:      n.Title,
		Tags:       n.Tags,
		Pinned:     n.Pinned,
		UpdatedAt:  n.UpdatedAt,
	}, n.Content)
}

// Format writes fm as a YAML block followed by content.
func Format(fm Frontmatter, content string) ([]byte, error) {
	fm.Tags = models.NormalizeTags(fm.Tags)
	if len(fm.Tags) == 0 {
		fm.Tags = nil
	}

	var buf bytes.Buffer
	buf.WriteString(delimiter + "\n")

	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)

	if err := enc.Encode(fm); err != nil {
		return nil, fmt.Errorf("encoding frontmatter: %w", err)
	}

	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encoding frontmatter: %w", err)
	}

	buf.WriteString(delimiter + "\n")
	buf.WriteString(content)

	if content != "" && !strings.HasSuffix(content, "\n") {
		buf.WriteByte('\n')
	}

	return buf.Bytes(), nil
}

// Parse splits a markdown document into its frontmatter and content. A
// document without frontmatter returns nil and the whole input as
// content. The closing delimiter must be on its own line.
func Parse(data []byte) (*Frontmatter, string, error) {
	data = bytes.ReplaceAll(data, []byte("\r\n"), []byte("\n"))

	if !bytes.HasPrefix(data, []byte(delimiter+"\n")) {
		return nil, string(data), nil
	}

	rest := data[len(delimiter)+1:]

	var block, content []byte

	switch {
	case bytes.HasPrefix(rest, []byte(delimiter+"\n")):
		content = rest[len(delimiter)+1:]
	case bytes.Equal(rest, []byte(delimiter)):
	default:
		end := bytes.Index(rest, []byte("\n"+delimiter))
		if end < 0 {
			return nil, string(data), nil
		}

		block = rest[:end]
		content = rest[end+len(delimiter)+1:]

		// Skip the remainder of the closing line.
		if i := bytes.IndexByte(content, '\n'); i >= 0 {
			content = content[i+1:]
		} else {
			content = nil
		}
	}

	var fm Frontmatter
	if err := yaml.Unmarshal(block, &fm); err != nil {
		return nil, "", fmt.Errorf("parsing frontmatter: %w", err)
	}

	fm.Tags = models.NormalizeTags(fm.Tags)

	return &fm, string(content), nil
}

// Note builds the request body fields for a parsed document.
func (fm Frontmatter) Note(content string) models.NoteUpsertPayload {
	tags := fm.Tags
	if tags == nil {
		tags = []string{}
	}

	return models.NoteUpsertPayload{
		ID:          fm.ID,
		Title:       fm.Title,
		Content:     content,
		ContentText: plainText(content),
		Tags:        tags,
		Pinned:      fm.Pinned,
		NotebookID:  fm.NotebookID,
	}
}

// plainText strips the most common markdown markers so the server gets a
// searchable text rendition.
func plainText(content string) string {
	lines := strings.Split(strings.TrimRight(content, "\n"), "\n")

	for i, line := range lines {
		line = strings.TrimLeft(line, "#>-*+ \t")
		line = strings.NewReplacer("**", "", "__", "", "`", "").Replace(line)
		lines[i] = line
	}

	return strings.TrimSpace(strings.Join(lines, "\n"))
}
