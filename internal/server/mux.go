// Package server exposes the offline pipeline as a local HTTP proxy so
// editors and scripts can talk to the notes API without knowing about
// the queue.
package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"

	"github.com/alexjbarnes/notesync/internal/offline"
)

// StatusPath serves the current sync status as JSON.
const StatusPath = "/_notesync/status"

// MuxConfig holds dependencies for building the HTTP mux.
type MuxConfig struct {
	// Upstream is the notes API base URL requests are forwarded to.
	Upstream *url.URL
	// Transport is the offline pipeline.
	Transport http.RoundTripper
	Status    func() offline.Status
	Logger    *slog.Logger
}

// NewMux builds the HTTP mux with the status endpoint and a reverse proxy
// for everything else.
func NewMux(cfg MuxConfig) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET "+StatusPath, handleStatus(cfg.Status))
	mux.Handle("/", newProxy(cfg))

	return mux
}

func handleStatus(status func() offline.Status) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-store")
		_ = json.NewEncoder(w).Encode(status())
	}
}

func newProxy(cfg MuxConfig) *httputil.ReverseProxy {
	return &httputil.ReverseProxy{
		Rewrite: func(r *httputil.ProxyRequest) {
			r.SetURL(cfg.Upstream)
			r.Out.Host = cfg.Upstream.Host
		},
		Transport: cfg.Transport,
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			cfg.Logger.Warn("proxy request failed",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.String("error", err.Error()),
			)

			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadGateway)
			_ = json.NewEncoder(w).Encode(map[string]string{
				"error":   "upstream_unavailable",
				"message": "the notes API is unreachable and no cached response exists",
			})
		},
	}
}
