// Package offline lets the notes client keep working without a network.
// Requests go through a Pipeline that queues writes and serves cached
// reads while offline, and caches what it sees while online. The Engine
// drains the queue when connectivity returns, replaying plain writes in
// order and pushing note changes per notebook through the revision-based
// sync protocol.
package offline

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/alexjbarnes/notesync/internal/cache"
	"github.com/alexjbarnes/notesync/internal/models"
)

// Connectivity is the online/offline signal the engine follows.
// *connectivity.Monitor satisfies it.
type Connectivity interface {
	Online() bool
	Subscribe(fn func(online bool)) func()
}

// Config holds the engine's collaborators. Transport is the real
// network transport; nil means http.DefaultTransport.
type Config struct {
	Cache        *cache.Cache
	Sync         SyncClient
	Connectivity Connectivity
	Transport    http.RoundTripper
	Logger       *slog.Logger

	// Reachability is told the outcome of each network attempt: true when
	// a response arrived, false on a transport failure. When set, requests
	// are tried on the network even while offline so that a success can
	// bring Connectivity back online. Set it when nothing else drives
	// Connectivity.
	Reachability func(reachable bool)
}

type flushState int

const (
	flushIdle flushState = iota
	flushRunning
)

// Engine owns the offline sync state: the status broadcaster, the flush
// guard, and the request pipeline. Create with New, start with Init and
// stop with Dispose.
type Engine struct {
	cache    *cache.Cache
	sync     SyncClient
	conn     Connectivity
	logger   *slog.Logger
	queue    *Queue
	sessions *SessionTracker
	status   *Broadcaster
	pipeline *Pipeline
	now      func() time.Time

	mu          sync.Mutex
	state       flushState
	rerun       bool
	ctx         context.Context
	cancel      context.CancelFunc
	unsubscribe func()
	wg          sync.WaitGroup
}

// New creates an Engine. It does nothing until Init is called.
func New(cfg Config) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	base := cfg.Transport
	if base == nil {
		base = http.DefaultTransport
	}

	e := &Engine{
		cache:    cfg.Cache,
		sync:     cfg.Sync,
		conn:     cfg.Connectivity,
		logger:   logger,
		queue:    NewQueue(cfg.Cache, logger),
		sessions: NewSessionTracker(cfg.Cache, cfg.Sync, logger),
		status:   NewBroadcaster(Status{}),
		now:      time.Now,
	}

	e.pipeline = &Pipeline{
		cache:    cfg.Cache,
		queue:    e.queue,
		conn:     cfg.Connectivity,
		base:     base,
		logger:   logger,
		newID:    newUUID,
		onQueued: e.refreshQueueLength,
		report:   cfg.Reachability,
	}

	return e
}

// Init loads the persisted status and starts following connectivity. A
// transition to online triggers a flush. ctx bounds those background
// flushes.
func (e *Engine) Init(ctx context.Context) {
	e.mu.Lock()
	e.ctx, e.cancel = context.WithCancel(ctx)
	e.mu.Unlock()

	var lastSynced string
	e.cache.GetMetadata(cache.MetaLastSyncedAt, &lastSynced)

	online := e.conn.Online()
	queued := e.cache.QueueLength()

	e.status.Update(func(s *Status) {
		s.IsOnline = online
		s.QueueLength = queued
		s.LastSyncedAt = lastSynced
	})

	e.unsubscribe = e.conn.Subscribe(e.onConnectivity)

	e.logger.Info("offline engine started",
		slog.Bool("online", online),
		slog.Int("queued", queued),
	)
}

// Dispose stops following connectivity and waits for any background
// flush to return.
func (e *Engine) Dispose() {
	if e.unsubscribe != nil {
		e.unsubscribe()
		e.unsubscribe = nil
	}

	e.mu.Lock()
	if e.cancel != nil {
		e.cancel()
	}
	e.mu.Unlock()

	e.wg.Wait()
}

func (e *Engine) onConnectivity(online bool) {
	e.status.Update(func(s *Status) { s.IsOnline = online })

	if !online {
		return
	}

	e.mu.Lock()
	ctx := e.ctx
	if ctx == nil || ctx.Err() != nil {
		e.mu.Unlock()
		return
	}

	e.wg.Add(1)
	e.mu.Unlock()

	go func() {
		defer e.wg.Done()

		if err := e.TriggerFlush(ctx); err != nil {
			e.logger.Warn("flush after reconnect failed", slog.String("error", err.Error()))
		}
	}()
}

// Subscribe registers fn for status changes. fn receives the current
// status immediately.
func (e *Engine) Subscribe(fn func(Status)) func() {
	return e.status.Subscribe(fn)
}

// Status returns the current status snapshot.
func (e *Engine) Status() Status {
	return e.status.Snapshot()
}

// Transport returns the request pipeline. Use it as the Transport of the
// http.Client that talks to the notes API.
func (e *Engine) Transport() http.RoundTripper {
	return e.pipeline
}

// Pending lists the queued mutations in replay order.
func (e *Engine) Pending() []models.OfflineMutation {
	return e.cache.ListMutations()
}

// LastConflict returns the most recent conflict report, or nil.
func (e *Engine) LastConflict() *ConflictReport {
	var report ConflictReport
	if !e.cache.GetMetadata(MetaLastConflict, &report) {
		return nil
	}

	return &report
}

// ResetCache empties every local collection, including the queue.
func (e *Engine) ResetCache() {
	e.cache.ClearDatabase()

	queued := e.cache.QueueLength()

	e.status.Update(func(s *Status) {
		s.QueueLength = queued
		s.LastSyncedAt = ""
		s.LastError = ""
	})

	e.logger.Info("local cache cleared")
}

func (e *Engine) refreshQueueLength() {
	queued := e.cache.QueueLength()
	e.status.Update(func(s *Status) { s.QueueLength = queued })
}

// TriggerFlush runs a flush pass. If a pass is already running the
// trigger is coalesced into a single follow-up pass run by the active
// caller, and TriggerFlush returns nil immediately. The returned error
// is that of the last pass run by this call.
func (e *Engine) TriggerFlush(ctx context.Context) error {
	e.mu.Lock()
	if e.state == flushRunning {
		e.rerun = true
		e.mu.Unlock()

		return nil
	}

	e.state = flushRunning
	e.mu.Unlock()

	for {
		err := e.flush(ctx)

		e.mu.Lock()
		if !e.rerun || ctx.Err() != nil {
			e.rerun = false
			e.state = flushIdle
			e.mu.Unlock()

			return err
		}

		e.rerun = false
		e.mu.Unlock()
	}
}
