package offline

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/alexjbarnes/notesync/internal/cache"
	"github.com/alexjbarnes/notesync/internal/models"
	"github.com/tidwall/gjson"
)

const (
	// ReplayHeader marks a request as a replay of a queued mutation. The
	// pipeline sends such requests straight to the network.
	ReplayHeader = "X-Offline-Replay"

	// QueuedHeader is set on the synthetic response returned for a
	// mutation queued while offline.
	QueuedHeader = "X-Offline-Queued"

	// CacheHeader is set on responses served from the local cache.
	CacheHeader = "X-Offline-Cache"

	headerRevision = "X-Revision"
)

// unqueuedHeaders are recomputed or re-added on replay and are not
// persisted with the mutation.
var unqueuedHeaders = map[string]bool{
	"Authorization":  true,
	"Connection":     true,
	"Content-Length": true,
	"Cookie":         true,
	ReplayHeader:     true,
}

// Queue is the durable FIFO of writes made while offline. Entries are
// stored as-is; whether an entry replays raw or through the notebook
// sync protocol is decided at flush time.
type Queue struct {
	cache  *cache.Cache
	logger *slog.Logger
}

// NewQueue creates a Queue backed by c.
func NewQueue(c *cache.Cache, logger *slog.Logger) *Queue {
	return &Queue{cache: c, logger: logger}
}

// Enqueue persists a mutating request. body is the already-drained
// request body and sync the payload derived for it, if any. A storage
// failure is returned wrapped in errors.ErrStorage.
func (q *Queue) Enqueue(req *http.Request, body []byte, sync *models.NotebookSyncPayload) (models.OfflineMutation, error) {
	decoded := models.DecodeBody(req.Header.Get("Content-Type"), body)

	m, err := q.cache.CacheMutation(models.MutationDraft{
		Method:       strings.ToUpper(req.Method),
		URL:          absoluteURL(req),
		Body:         decoded,
		Headers:      flattenHeaders(req.Header),
		VersionStamp: versionStamp(req.Header, decoded),
		Sync:         sync,
	})
	if err != nil {
		return models.OfflineMutation{}, err
	}

	q.logger.Info("queued offline mutation",
		slog.Uint64("mutation_id", m.ID),
		slog.String("method", m.Method),
		slog.String("url", m.URL),
		slog.Bool("notebook_sync", m.HasSyncOperations()),
	)

	return m, nil
}

func absoluteURL(req *http.Request) string {
	u := *req.URL

	if u.Host == "" {
		u.Host = req.Host
	}

	if u.Scheme == "" {
		u.Scheme = "http"
		if req.TLS != nil {
			u.Scheme = "https"
		}
	}

	return u.String()
}

func flattenHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))

	for k, v := range h {
		k = http.CanonicalHeaderKey(k)
		if unqueuedHeaders[k] || len(v) == 0 {
			continue
		}

		out[k] = strings.Join(v, ", ")
	}

	if len(out) == 0 {
		return nil
	}

	return out
}

// versionStamp is the revision the write was based on: an explicit
// If-Match or X-Revision header, else the body's own revision or
// updatedAt field.
func versionStamp(h http.Header, body models.Body) string {
	if v := h.Get("If-Match"); v != "" {
		return v
	}

	if v := h.Get(headerRevision); v != "" {
		return v
	}

	for _, field := range []string{"revision", "updatedAt"} {
		switch body.Kind {
		case models.BodyStructured:
			if v := gjson.GetBytes(body.Structured, field); v.Exists() && v.String() != "" {
				return v.String()
			}
		case models.BodyForm:
			if v := body.Form.Get(field); v != "" {
				return v
			}
		}
	}

	return ""
}
