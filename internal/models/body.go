package models

import (
	"encoding/json"
	"fmt"
	"mime"
	"net/url"
	"strings"
)

// BodyKind discriminates the variants of Body.
type BodyKind string

const (
	BodyEmpty      BodyKind = ""
	BodyStructured BodyKind = "structured"
	BodyForm       BodyKind = "form"
	BodyRaw        BodyKind = "raw"
)

const (
	contentTypeJSON = "application/json"
	contentTypeForm = "application/x-www-form-urlencoded"
)

// Body is a stored request body. It is a tagged union: Kind selects which
// of Structured, Form, or Raw carries the value. Raw keeps the original
// content type so replays send the bytes unchanged.
type Body struct {
	Kind        BodyKind        `json:"kind"`
	Structured  json.RawMessage `json:"structured,omitempty"`
	Form        url.Values      `json:"form,omitempty"`
	Raw         string          `json:"raw,omitempty"`
	ContentType string          `json:"contentType,omitempty"`
}

// StructuredBody wraps a JSON document.
func StructuredBody(doc json.RawMessage) Body {
	return Body{Kind: BodyStructured, Structured: doc}
}

// FormBody wraps url-encoded form fields.
func FormBody(fields url.Values) Body {
	return Body{Kind: BodyForm, Form: fields}
}

// RawBody wraps opaque bytes with their content type.
func RawBody(data, contentType string) Body {
	return Body{Kind: BodyRaw, Raw: data, ContentType: contentType}
}

// DecodeBody classifies a request body. JSON content (by declared type,
// or any body that parses as JSON) becomes Structured, url-encoded forms
// become Form, everything else is kept Raw. It never fails: input that
// does not fit a structured variant falls through to Raw.
func DecodeBody(contentType string, data []byte) Body {
	if len(data) == 0 {
		return Body{}
	}

	mediaType, _, _ := mime.ParseMediaType(contentType)

	switch {
	case mediaType == contentTypeForm:
		fields, err := url.ParseQuery(string(data))
		if err == nil {
			return FormBody(fields)
		}
	case mediaType == contentTypeJSON || strings.HasSuffix(mediaType, "+json") || mediaType == "":
		if json.Valid(data) {
			doc := make(json.RawMessage, len(data))
			copy(doc, data)

			return StructuredBody(doc)
		}
	}

	return RawBody(string(data), contentType)
}

// Encode returns the wire bytes and content type for the body.
func (b Body) Encode() ([]byte, string, error) {
	switch b.Kind {
	case BodyEmpty:
		return nil, "", nil
	case BodyStructured:
		if !json.Valid(b.Structured) {
			return nil, "", fmt.Errorf("structured body is not valid JSON")
		}

		return []byte(b.Structured), contentTypeJSON, nil
	case BodyForm:
		return []byte(b.Form.Encode()), contentTypeForm, nil
	case BodyRaw:
		return []byte(b.Raw), b.ContentType, nil
	default:
		return nil, "", fmt.Errorf("unknown body kind %q", b.Kind)
	}
}
