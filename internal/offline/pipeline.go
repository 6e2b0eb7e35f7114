package offline

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/alexjbarnes/notesync/internal/cache"
	apperrors "github.com/alexjbarnes/notesync/internal/errors"
	"github.com/alexjbarnes/notesync/internal/models"
	"github.com/tidwall/gjson"
)

// Pipeline is the http.RoundTripper every request to the notes API goes
// through. Offline, writes are queued and answered with 202 and reads are
// served from the cache when possible. Online, requests go to the network
// and successful responses are cached. With a reachability observer every
// request is tried on the network first and the outcome decides.
type Pipeline struct {
	cache    *cache.Cache
	queue    *Queue
	conn     Connectivity
	base     http.RoundTripper
	logger   *slog.Logger
	newID    func() string
	onQueued func()
	report   func(reachable bool)
}

type queuedResponse struct {
	Queued     bool   `json:"queued"`
	Offline    bool   `json:"offline"`
	MutationID uint64 `json:"mutationId"`
}

func isMutating(method string) bool {
	switch strings.ToUpper(method) {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}

	return false
}

// RoundTrip implements http.RoundTripper.
func (p *Pipeline) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get(ReplayHeader) != "" {
		return p.send(req)
	}

	body, err := drainBody(req)
	if err != nil {
		return nil, fmt.Errorf("reading request body: %w", err)
	}

	mutating := isMutating(req.Method)

	var syncPayload *models.NotebookSyncPayload
	if mutating {
		decoded := models.DecodeBody(req.Header.Get("Content-Type"), body)
		syncPayload = deriveSyncPayload(p.cache, strings.ToUpper(req.Method), req.URL.Path, decoded, p.newID)
	}

	if !p.conn.Online() && p.report == nil {
		if mutating {
			return p.enqueue(req, body, syncPayload)
		}

		if resp := p.fromCache(req); resp != nil {
			return resp, nil
		}
	}

	resp, err := p.send(withBody(req, body))
	if err == nil {
		return resp, nil
	}

	if req.Context().Err() != nil {
		return nil, err
	}

	if mutating {
		p.logger.Warn("request failed, queueing for replay",
			slog.String("method", req.Method),
			slog.String("url", req.URL.Redacted()),
			slog.String("error", err.Error()),
		)

		return p.enqueue(req, body, syncPayload)
	}

	if resp := p.fromCache(req); resp != nil {
		return resp, nil
	}

	return nil, fmt.Errorf("%w: %w", apperrors.ErrNetworkUnavailable, err)
}

func drainBody(req *http.Request) ([]byte, error) {
	if req.Body == nil || req.Body == http.NoBody {
		return nil, nil
	}
	defer req.Body.Close()

	return io.ReadAll(req.Body)
}

// withBody returns a copy of req whose body reads from data.
func withBody(req *http.Request, data []byte) *http.Request {
	out := req.Clone(req.Context())

	if len(data) == 0 {
		out.Body = http.NoBody
		out.ContentLength = 0
		out.GetBody = nil

		return out
	}

	out.Body = io.NopCloser(bytes.NewReader(data))
	out.ContentLength = int64(len(data))
	out.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(data)), nil
	}

	return out
}

// send performs the request on the network and observes a successful
// response.
func (p *Pipeline) send(req *http.Request) (*http.Response, error) {
	resp, err := p.base.RoundTrip(req)
	if err != nil {
		if req.Context().Err() == nil {
			p.reachable(false)
		}

		return nil, err
	}

	p.reachable(true)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp, nil
	}

	payload, readErr := io.ReadAll(resp.Body)
	resp.Body.Close()

	if readErr != nil {
		resp.Body = io.NopCloser(io.MultiReader(bytes.NewReader(payload), failingReader{readErr}))
		return resp, nil
	}

	resp.Body = io.NopCloser(bytes.NewReader(payload))
	p.observe(req, payload)

	return resp, nil
}

// reachable passes the outcome of a network attempt to the configured
// reachability observer.
func (p *Pipeline) reachable(ok bool) {
	if p.report != nil {
		p.report(ok)
	}
}

type failingReader struct{ err error }

func (r failingReader) Read([]byte) (int, error) { return 0, r.err }

// observe caches a successful response: the raw payload of reads, and
// any notes or notebooks it carries.
func (p *Pipeline) observe(req *http.Request, payload []byte) {
	method := strings.ToUpper(req.Method)

	switch {
	case method == http.MethodGet:
		p.cache.CacheResponse(req.URL.String(), payload)
	case method == http.MethodDelete:
		if m := notePattern.FindStringSubmatch(strings.TrimRight(req.URL.Path, "/")); m != nil {
			p.cache.RemoveNote(m[1])
			return
		}
	case !isMutating(method):
		return
	}

	ex := extractEntities(req.URL.Path, payload)
	if ex.empty() {
		return
	}

	p.cache.StoreNotebooks(ex.notebooks)
	p.cache.StoreNotes(ex.notes)
}

func (p *Pipeline) fromCache(req *http.Request) *http.Response {
	if req.Method != http.MethodGet {
		return nil
	}

	cached := p.cache.GetCachedResponse(req.URL.String())
	if cached == nil {
		return nil
	}

	p.logger.Debug("serving cached response", slog.String("url", req.URL.Redacted()))

	contentType := "application/octet-stream"
	if gjson.ValidBytes(cached.Payload) {
		contentType = "application/json"
	}

	return syntheticResponse(req, http.StatusOK, http.Header{
		"Content-Type": {contentType},
		CacheHeader:    {"true"},
	}, cached.Payload)
}

// enqueue queues a write and answers it with 202 Accepted. Notes changed
// by the write are updated in the cache so later reads and partial
// updates see the local state.
func (p *Pipeline) enqueue(req *http.Request, body []byte, syncPayload *models.NotebookSyncPayload) (*http.Response, error) {
	m, err := p.queue.Enqueue(req, body, syncPayload)
	if err != nil {
		return nil, fmt.Errorf("queueing %s %s: %w", req.Method, req.URL.Redacted(), err)
	}

	p.applyLocally(syncPayload)

	if p.onQueued != nil {
		p.onQueued()
	}

	payload, _ := json.Marshal(queuedResponse{Queued: true, Offline: true, MutationID: m.ID})

	return syntheticResponse(req, http.StatusAccepted, http.Header{
		"Content-Type": {"application/json"},
		QueuedHeader:   {"true"},
	}, payload), nil
}

func (p *Pipeline) applyLocally(syncPayload *models.NotebookSyncPayload) {
	if syncPayload == nil {
		return
	}

	for _, op := range syncPayload.Operations {
		if op.Type != models.OpNoteUpsert || op.Payload == nil || op.Payload.ID == "" {
			continue
		}

		var updatedAt string
		if cached := p.cache.GetNoteByID(op.Payload.ID); cached != nil {
			updatedAt = cached.UpdatedAt
		}

		p.cache.StoreNotes([]models.CachedNote{noteFromPayload(*op.Payload, updatedAt)})
	}
}

func syntheticResponse(req *http.Request, status int, header http.Header, payload []byte) *http.Response {
	return &http.Response{
		Status:        fmt.Sprintf("%d %s", status, http.StatusText(status)),
		StatusCode:    status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(payload)),
		ContentLength: int64(len(payload)),
		Request:       req,
	}
}
