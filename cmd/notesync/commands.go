package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/alexjbarnes/notesync/internal/notedir"
	"github.com/alexjbarnes/notesync/internal/notefmt"
	"github.com/alexjbarnes/notesync/internal/offline"
	"github.com/alexjbarnes/notesync/internal/server"
	"github.com/spf13/cobra"
	"github.com/tidwall/gjson"
	"golang.org/x/sync/errgroup"
)

// annotationNetwork marks commands that probe connectivity before the
// engine starts, so the engine sees the result as its initial state.
const annotationNetwork = "network"

var (
	flagQueueJSON     bool
	flagWatchNotebook string
	flagServeListen   string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Follow the presence probe and flush the queue on every reconnect",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if current.probe == nil {
			return fmt.Errorf("run needs NOTESYNC_CONNECTIVITY_URL; without a presence probe use flush")
		}

		return current.run(cmd.Context())
	},
}

var flushCmd = &cobra.Command{
	Use:         "flush",
	Short:       "Replay queued mutations now",
	Args:        cobra.NoArgs,
	Annotations: map[string]string{annotationNetwork: "true"},
	RunE: func(cmd *cobra.Command, _ []string) error {
		err := current.engine.TriggerFlush(cmd.Context())

		s := current.engine.Status()
		fmt.Fprintf(cmd.OutOrStdout(), "queued: %d\n", s.QueueLength)

		if err != nil {
			return fmt.Errorf("flushing queue: %w", err)
		}

		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:         "status",
	Short:       "Print sync status and the last conflict report",
	Args:        cobra.NoArgs,
	Annotations: map[string]string{annotationNetwork: "true"},
	RunE: func(cmd *cobra.Command, _ []string) error {
		out := struct {
			offline.Status
			LastConflict *offline.ConflictReport `json:"lastConflict,omitempty"`
		}{
			Status:       current.engine.Status(),
			LastConflict: current.engine.LastConflict(),
		}

		return writeJSON(cmd.OutOrStdout(), out)
	},
}

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "List queued mutations in replay order",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		pending := current.engine.Pending()

		if flagQueueJSON {
			return writeJSON(cmd.OutOrStdout(), pending)
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tMETHOD\tURL\tNOTEBOOK\tATTEMPTS\tLAST ERROR")

		for _, m := range pending {
			notebook := "-"
			if m.HasSyncOperations() {
				notebook = notebookLabel(m.Sync.NotebookID)
			}

			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%d\t%s\n", m.ID, m.Method, m.URL, notebook, m.Attempts, m.LastError)
		}

		return w.Flush()
	},
}

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete every cached entity and queued mutation",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		current.engine.ResetCache()
		fmt.Fprintln(cmd.OutOrStdout(), "local cache cleared")

		return nil
	},
}

var noteCmd = &cobra.Command{
	Use:   "note <id>",
	Short: "Print a cached note as markdown",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		n := current.cache.GetNoteByID(args[0])
		if n == nil {
			return fmt.Errorf("note %s is not cached", args[0])
		}

		out, err := notefmt.Render(*n)
		if err != nil {
			return fmt.Errorf("rendering note: %w", err)
		}

		_, err = cmd.OutOrStdout().Write(out)

		return err
	},
}

var putCmd = &cobra.Command{
	Use:         "put <file>",
	Short:       "Create or update a note from a markdown file",
	Long:        "The file's frontmatter decides the request: with an id the note is updated, otherwise it is created in notebookId and the new id is written into the file. Offline, the write is queued.",
	Args:        cobra.ExactArgs(1),
	Annotations: map[string]string{annotationNetwork: "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := filepath.Abs(args[0])
		if err != nil {
			return fmt.Errorf("resolving note file: %w", err)
		}

		fm, err := notedir.NewWatcher(filepath.Dir(path), current, current.logger).Send(cmd.Context(), path)
		if errors.Is(err, notedir.ErrNoTarget) {
			return fmt.Errorf("%s needs an id or a notebookId in its frontmatter", args[0])
		}

		if err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "note %s\n", fm.ID)

		return nil
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch <dir>",
	Short: "Send markdown notes saved in a directory",
	Long:  "With --notebook, the notebook's cached notes are exported to the directory first.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := args[0]

		if flagWatchNotebook != "" {
			notes := current.cache.GetNotesByNotebook(flagWatchNotebook)
			if err := notedir.Export(dir, notes); err != nil {
				return fmt.Errorf("exporting notebook: %w", err)
			}

			current.logger.Info("exported cached notes",
				slog.String("notebook_id", flagWatchNotebook),
				slog.Int("count", len(notes)),
			)
		}

		watcher := notedir.NewWatcher(dir, current, current.logger)

		return current.run(cmd.Context(), watcher.Watch)
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the notes API locally through the offline pipeline",
	Long:  "Requests to the listen address are forwarded to the API. Offline, writes are queued and reads are answered from the cache. GET " + server.StatusPath + " returns the sync status.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		upstream, err := url.Parse(current.cfg.APIURL)
		if err != nil {
			return fmt.Errorf("parsing api url: %w", err)
		}

		srv := &http.Server{
			Addr: flagServeListen,
			Handler: server.NewMux(server.MuxConfig{
				Upstream:  upstream,
				Transport: current.engine.Transport(),
				Status:    current.engine.Status,
				Logger:    current.logger,
			}),
			ReadHeaderTimeout: 10 * time.Second,
			IdleTimeout:       120 * time.Second,
		}

		return current.run(cmd.Context(), func(ctx context.Context) error {
			return serveHTTP(ctx, srv, current.logger)
		})
	},
}

var getCmd = &cobra.Command{
	Use:         "get <path>",
	Short:       "GET an API path, falling back to the cache when offline",
	Args:        cobra.ExactArgs(1),
	Annotations: map[string]string{annotationNetwork: "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := current.request(cmd.Context(), http.MethodGet, args[0], nil)
		if err != nil {
			return err
		}

		if _, err := cmd.OutOrStdout().Write(resp.body); err != nil {
			return err
		}

		return resp.err()
	},
}

func init() {
	watchCmd.Flags().StringVar(&flagWatchNotebook, "notebook", "", "export this notebook's cached notes before watching")
	queueCmd.Flags().BoolVar(&flagQueueJSON, "json", false, "output as JSON")
	serveCmd.Flags().StringVar(&flagServeListen, "listen", "127.0.0.1:8787", "address to serve on")
}

// serveHTTP runs srv until ctx is cancelled, then shuts it down.
func serveHTTP(ctx context.Context, srv *http.Server, logger *slog.Logger) error {
	errCh := make(chan error, 1)

	go func() {
		logger.Info("starting server", slog.String("listen", srv.Addr))

		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("server error: %w", err)
			return
		}

		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down server: %w", err)
	}

	return ctx.Err()
}

// WriteNote implements notedir.Writer. An update of a note the server
// does not know, such as one whose create never landed before a restart,
// is sent as a create with the same id.
func (a *app) WriteNote(ctx context.Context, fm notefmt.Frontmatter, content string, create bool) (string, error) {
	body, err := json.Marshal(fm.Note(content))
	if err != nil {
		return "", fmt.Errorf("encoding note: %w", err)
	}

	if !create {
		resp, err := a.request(ctx, http.MethodPut, "/notes/"+url.PathEscape(fm.ID), body)
		if err != nil {
			return "", err
		}

		if resp.status != http.StatusNotFound || fm.NotebookID == "" {
			return resp.noteID(fm.ID), resp.err()
		}
	}

	if fm.NotebookID == "" {
		return "", fmt.Errorf("note %s has no notebookId to create it in", fm.ID)
	}

	resp, err := a.request(ctx, http.MethodPost, "/notebooks/"+url.PathEscape(fm.NotebookID)+"/notes", body)
	if err != nil {
		return "", err
	}

	return resp.noteID(fm.ID), resp.err()
}

// notebookLabel is the notebook id with its cached name, when known.
func notebookLabel(id string) string {
	nb := current.cache.GetNotebookByID(id)
	if nb == nil {
		return id
	}

	if name, ok := nb.Attributes["name"].(string); ok && name != "" {
		return id + " (" + name + ")"
	}

	return id
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	return enc.Encode(v)
}

type apiResponse struct {
	method string
	path   string
	status int
	header http.Header
	body   []byte
}

func (r *apiResponse) err() error {
	if r.status < 200 || r.status > 299 {
		return fmt.Errorf("%s %s: http %d", r.method, r.path, r.status)
	}

	return nil
}

// noteID is the id of the note in a create or update response, or
// fallback when the write was queued or the body carries none.
func (r *apiResponse) noteID(fallback string) string {
	if r.header.Get(offline.QueuedHeader) != "" {
		return fallback
	}

	for _, path := range []string{"id", "note.id", "data.id"} {
		if v := gjson.GetBytes(r.body, path); v.Type == gjson.String && v.String() != "" {
			return v.String()
		}
	}

	return fallback
}

// request sends one API request through the offline pipeline. Only a
// failure to get any response is returned as an error.
func (a *app) request(ctx context.Context, method, path string, body []byte) (*apiResponse, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.apiURL(path), reader)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	req.Header.Set("Accept", "application/json")

	resp, err := a.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.Header.Get(offline.CacheHeader) != "":
		a.logger.Info("served from local cache", slog.String("path", path))
	case resp.Header.Get(offline.QueuedHeader) != "":
		a.logger.Info("offline, request queued", slog.String("path", path))
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	return &apiResponse{
		method: method,
		path:   path,
		status: resp.StatusCode,
		header: resp.Header,
		body:   data,
	}, nil
}

// run blocks until ctx is cancelled. The queue is flushed by the engine
// on every transition to online, reported by the presence probe or, with
// no probe, by the outcome of requests. Each task runs alongside and a
// task error stops the others.
func (a *app) run(ctx context.Context, tasks ...func(context.Context) error) error {
	a.logger.Info("notesync starting",
		slog.String("version", Version),
		slog.String("api", a.cfg.APIURL),
		slog.Bool("presence_probe", a.probe != nil),
	)

	unsubscribe := a.engine.Subscribe(func(s offline.Status) {
		a.logger.Debug("sync status",
			slog.Bool("online", s.IsOnline),
			slog.Int("queued", s.QueueLength),
			slog.Bool("syncing", s.IsSyncing),
			slog.String("last_error", s.LastError),
		)
	})
	defer unsubscribe()

	g, gctx := errgroup.WithContext(ctx)

	if a.probe != nil {
		g.Go(func() error {
			return a.probe.Run(gctx)
		})
	}

	for _, task := range tasks {
		g.Go(func() error {
			return task(gctx)
		})
	}

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}

	a.logger.Info("notesync stopped")

	return err
}

func isNetworkCommand(cmd *cobra.Command) bool {
	return strings.EqualFold(cmd.Annotations[annotationNetwork], "true")
}
