package offline

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/alexjbarnes/notesync/internal/cache"
	apperrors "github.com/alexjbarnes/notesync/internal/errors"
	"github.com/alexjbarnes/notesync/internal/models"
	"github.com/alexjbarnes/notesync/internal/syncapi"
)

// maxReplayErrorBytes caps how much of a failed replay response is read
// into the recorded error.
const maxReplayErrorBytes = 64 * 1024

// bucket is the ordered set of sync operations queued for one notebook,
// with the mutations that carry them.
type bucket struct {
	notebookID string
	mutations  []models.OfflineMutation
	operations []models.SyncOperation
}

type bucketStrategy int

const (
	useSyncProtocol bucketStrategy = iota
	rawReplay
)

func strategyFor(s Session) bucketStrategy {
	if s.Usable {
		return useSyncProtocol
	}

	return rawReplay
}

// partition splits the queue into regular mutations and notebook
// buckets, keeping queue order within each. Buckets are ordered by
// notebook id.
func partition(mutations []models.OfflineMutation) ([]models.OfflineMutation, []*bucket) {
	var regular []models.OfflineMutation

	var buckets []*bucket

	byNotebook := make(map[string]*bucket)

	for _, m := range mutations {
		if !m.HasSyncOperations() {
			regular = append(regular, m)
			continue
		}

		b, ok := byNotebook[m.Sync.NotebookID]
		if !ok {
			b = &bucket{notebookID: m.Sync.NotebookID}
			byNotebook[m.Sync.NotebookID] = b
			buckets = append(buckets, b)
		}

		b.mutations = append(b.mutations, m)
		b.operations = append(b.operations, m.Sync.Operations...)
	}

	slices.SortFunc(buckets, func(a, b *bucket) int {
		return strings.Compare(a.notebookID, b.notebookID)
	})

	return regular, buckets
}

// flush is one pass of the reconciliation algorithm.
func (e *Engine) flush(ctx context.Context) error {
	mutations := e.cache.ListMutations()

	if len(mutations) == 0 {
		e.finish(nil)
		return nil
	}

	if !e.conn.Online() {
		e.status.Update(func(s *Status) {
			s.IsOnline = false
			s.QueueLength = len(mutations)
		})

		return apperrors.ErrNetworkUnavailable
	}

	e.status.Update(func(s *Status) {
		s.IsOnline = true
		s.IsSyncing = true
	})

	regular, buckets := partition(mutations)

	e.logger.Info("flush started",
		slog.Int("regular", len(regular)),
		slog.Int("notebooks", len(buckets)),
	)

	err := e.replayAll(ctx, regular)
	if err == nil {
		err = e.flushBuckets(ctx, buckets)
	}

	e.finish(err)

	return err
}

// finish recomputes the queue length and clears the syncing flag.
// lastSyncedAt only moves on a pass without failure.
func (e *Engine) finish(err error) {
	queued := e.cache.QueueLength()

	var stamp string
	if err == nil {
		stamp = e.now().UTC().Format(time.RFC3339)
		e.cache.SetMetadata(cache.MetaLastSyncedAt, stamp)
		e.logger.Info("flush complete", slog.Int("queued", queued))
	} else {
		e.logger.Warn("flush stopped",
			slog.Int("queued", queued),
			slog.String("error", err.Error()),
		)
	}

	e.status.Update(func(s *Status) {
		s.IsSyncing = false
		s.QueueLength = queued

		if err == nil {
			s.LastSyncedAt = stamp
			s.LastError = ""
		} else {
			s.LastError = err.Error()
		}
	})
}

// replayAll replays mutations in order, removing each on success. The
// first failure is recorded on its entry and stops the chain.
func (e *Engine) replayAll(ctx context.Context, mutations []models.OfflineMutation) error {
	for _, m := range mutations {
		if err := e.replay(ctx, m); err != nil {
			e.recordFailure(m, err)
			return fmt.Errorf("replaying mutation %d: %w", m.ID, err)
		}

		e.cache.RemoveMutation(m.ID)
	}

	return nil
}

// replay resends a queued mutation as its original request, marked as a
// replay and carrying the stored version stamp.
func (e *Engine) replay(ctx context.Context, m models.OfflineMutation) error {
	body, contentType, err := m.Body.Encode()
	if err != nil {
		return fmt.Errorf("%w: %v", apperrors.ErrSerialization, err)
	}

	req, err := http.NewRequestWithContext(ctx, m.Method, m.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building replay request: %w", err)
	}

	for k, v := range m.Headers {
		req.Header.Set(k, v)
	}

	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	req.Header.Set(ReplayHeader, "true")

	// An If-Match or X-Revision sent with the original request is already
	// in m.Headers. A stamp read from the body is not an entity tag, so it
	// goes out as X-Revision.
	if m.VersionStamp != "" && req.Header.Get("If-Match") == "" && req.Header.Get(headerRevision) == "" {
		req.Header.Set(headerRevision, m.VersionStamp)
	}

	resp, err := e.pipeline.RoundTrip(req)
	if err != nil {
		return &syncapi.TransientError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxReplayErrorBytes))
		return syncapi.NewHTTPError(resp.StatusCode, data)
	}

	_, _ = io.Copy(io.Discard, resp.Body)

	return nil
}

func (e *Engine) recordFailure(m models.OfflineMutation, err error) {
	attempts := m.Attempts + 1
	msg := err.Error()
	now := e.now()

	e.cache.UpdateMutation(m.ID, models.MutationPatch{
		Attempts:      &attempts,
		LastError:     &msg,
		LastAttemptAt: &now,
	})

	e.logger.Warn("mutation failed",
		slog.Uint64("mutation_id", m.ID),
		slog.Int("attempts", attempts),
		slog.String("error", msg),
	)
}

// flushBuckets processes notebook buckets in order. The first bucket
// that fails aborts the pass; later buckets wait for the next trigger.
func (e *Engine) flushBuckets(ctx context.Context, buckets []*bucket) error {
	for _, b := range buckets {
		if len(b.operations) == 0 {
			for _, m := range b.mutations {
				e.cache.RemoveMutation(m.ID)
			}

			continue
		}

		session := e.sessions.Ensure(ctx, b.notebookID)

		switch strategyFor(session) {
		case rawReplay:
			e.logger.Info("no sync session, replaying notebook writes directly",
				slog.String("notebook_id", b.notebookID),
				slog.Int("mutations", len(b.mutations)),
			)

			if err := e.replayAll(ctx, b.mutations); err != nil {
				return fmt.Errorf("notebook %s: %w: %w", b.notebookID, apperrors.ErrSessionUnavailable, err)
			}
		case useSyncProtocol:
			if err := e.pushBucket(ctx, b, session); err != nil {
				return err
			}
		}
	}

	return nil
}

func (e *Engine) pushBucket(ctx context.Context, b *bucket, s Session) error {
	resp, err := e.sync.Push(ctx, b.notebookID, syncapi.PushRequest{
		ClientID:     s.ClientID,
		BaseRevision: s.Revision,
		Operations:   b.operations,
	})
	if err != nil {
		for _, m := range b.mutations {
			e.recordFailure(m, err)
		}

		switch {
		case syncapi.IsConflict(err):
			e.recoverFromConflict(ctx, b.notebookID, s.ClientID)
		case syncapi.IsTransient(err) && ctx.Err() == nil:
			e.pipeline.reachable(false)
		}

		return err
	}

	e.sessions.Acknowledge(b.notebookID, s.ClientID, resp)

	if err := e.sessions.RefreshSnapshot(ctx, b.notebookID, s.ClientID); err != nil {
		e.logger.Warn("push applied but snapshot refresh failed",
			slog.String("notebook_id", b.notebookID),
			slog.String("error", err.Error()),
		)
	}

	for _, m := range b.mutations {
		e.cache.RemoveMutation(m.ID)
	}

	e.logger.Info("pushed notebook operations",
		slog.String("notebook_id", b.notebookID),
		slog.Int("operations", len(b.operations)),
		slog.Int64("revision", resp.Revision),
	)

	return nil
}

// recoverFromConflict refreshes the notebook from the server and records
// what the refresh overwrote locally.
func (e *Engine) recoverFromConflict(ctx context.Context, notebookID, clientID string) {
	before := e.cache.GetNotesByNotebook(notebookID)

	if err := e.sessions.RefreshSnapshot(ctx, notebookID, clientID); err != nil {
		e.logger.Warn("conflict refresh failed",
			slog.String("notebook_id", notebookID),
			slog.String("error", err.Error()),
		)

		return
	}

	report := buildConflictReport(notebookID, before, e.cache.GetNotesByNotebook(notebookID), e.now())
	if len(report.Notes) == 0 {
		return
	}

	e.cache.SetMetadata(MetaLastConflict, report)

	e.logger.Warn("conflict overwrote local notes",
		slog.String("notebook_id", notebookID),
		slog.Int("notes", len(report.Notes)),
	)
}
