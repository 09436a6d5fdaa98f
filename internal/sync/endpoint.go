package sync

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/conorfennell/knoldeck/internal/changes"
	"github.com/conorfennell/knoldeck/internal/domain"
	"github.com/conorfennell/knoldeck/internal/storage"
	"github.com/conorfennell/knoldeck/internal/timing"
)

// DefaultSessionTimeout is how long an idle session blocks other clients.
const DefaultSessionTimeout = 10 * time.Minute

// Endpoint serves a collection as the remote side of a sync. It allows one
// merge session at a time. Pushed changes are staged in memory and only
// written when the session finishes.
type Endpoint struct {
	db      *storage.DB
	clock   timing.Clock
	timeout time.Duration
	logger  *slog.Logger

	mu      sync.Mutex
	session *session
}

type session struct {
	id       string
	batches  []changes.Set
	staged   []changes.Set
	lastSeen time.Time
}

// EndpointOption configures an Endpoint.
type EndpointOption func(*Endpoint)

// WithSessionTimeout sets how long an abandoned session is kept.
func WithSessionTimeout(d time.Duration) EndpointOption {
	return func(e *Endpoint) { e.timeout = d }
}

// WithEndpointLogger sets the logger.
func WithEndpointLogger(l *slog.Logger) EndpointOption {
	return func(e *Endpoint) { e.logger = l }
}

// NewEndpoint returns an endpoint over db.
func NewEndpoint(db *storage.DB, clock timing.Clock, opts ...EndpointOption) *Endpoint {
	e := &Endpoint{db: db, clock: clock, timeout: DefaultSessionTimeout, logger: slog.Default()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Meta describes the served collection.
func (e *Endpoint) Meta(ctx context.Context) (Meta, error) {
	var m Meta
	err := e.db.View(ctx, func(tx *storage.Tx) error {
		var err error
		m, err = readMeta(ctx, tx)
		return err
	})
	return m, err
}

func readMeta(ctx context.Context, tx *storage.Tx) (Meta, error) {
	meta, err := tx.Meta(ctx)
	if err != nil {
		return Meta{}, err
	}
	sum, err := tx.Checksum(ctx)
	if err != nil {
		return Meta{}, err
	}
	counts, err := tx.Counts(ctx)
	if err != nil {
		return Meta{}, err
	}
	return Meta{
		SchemaVersion: meta.SchemaVersion,
		SchemaMod:     meta.SchemaMod,
		USN:           meta.USN,
		Checksum:      sum,
		Empty:         counts.Empty(),
	}, nil
}

// Start opens a session holding every change after req.Since.
func (e *Endpoint) Start(ctx context.Context, req StartRequest) (StartResponse, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.checkIdle(); err != nil {
		return StartResponse{}, err
	}

	var set changes.Set
	err := e.db.View(ctx, func(tx *storage.Tx) error {
		var err error
		set, err = changes.Since(ctx, tx, req.Since)
		return err
	})
	if err != nil {
		return StartResponse{}, fmt.Errorf("failed to collect changes: %w", err)
	}

	s := &session{id: uuid.NewString(), batches: set.Batches(req.BatchSize), lastSeen: e.clock.Now()}
	e.session = s
	e.logger.Info("sync session started", "session", s.id, "since", req.Since, "changes", set.Len())
	return StartResponse{Session: s.id, Batches: len(s.batches)}, nil
}

// checkIdle fails when another live session exists. Expired sessions are
// dropped.
func (e *Endpoint) checkIdle() error {
	if e.session == nil {
		return nil
	}
	if e.clock.Now().Sub(e.session.lastSeen) > e.timeout {
		e.logger.Warn("dropping expired sync session", "session", e.session.id)
		e.session = nil
		return nil
	}
	return ErrBusy
}

func (e *Endpoint) lookup(id string) (*session, error) {
	if e.session == nil || e.session.id != id {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSession, id)
	}
	e.session.lastSeen = e.clock.Now()
	return e.session, nil
}

// Pull returns one batch of the session's changes. Pulling the same index
// twice returns the same batch.
func (e *Endpoint) Pull(_ context.Context, req PullRequest) (Batch, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, err := e.lookup(req.Session)
	if err != nil {
		return Batch{}, err
	}
	if req.Index < 0 || req.Index > len(s.batches) {
		return Batch{}, fmt.Errorf("sync: batch %d out of range", req.Index)
	}
	if req.Index == len(s.batches) {
		return Batch{}, nil
	}
	return Batch{Changes: s.batches[req.Index], More: req.Index+1 < len(s.batches)}, nil
}

// Push stages changes for Finish.
func (e *Endpoint) Push(_ context.Context, req PushRequest) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, err := e.lookup(req.Session)
	if err != nil {
		return err
	}
	s.staged = append(s.staged, req.Changes)
	return nil
}

// Finish applies the staged changes in one transaction and commits only if
// the result matches the client's checksum. The session ends either way.
func (e *Endpoint) Finish(ctx context.Context, req FinishRequest) (FinishResponse, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, err := e.lookup(req.Session)
	if err != nil {
		return FinishResponse{}, err
	}
	e.session = nil

	var resp FinishResponse
	err = e.db.Update(ctx, func(tx *storage.Tx) error {
		for _, set := range s.staged {
			if set.Empty() {
				continue
			}
			usn, err := tx.AllocateUSN(ctx)
			if err != nil {
				return err
			}
			if err := applySet(ctx, tx, set, usn); err != nil {
				return err
			}
		}
		sum, err := tx.Checksum(ctx)
		if err != nil {
			return err
		}
		if sum != req.Checksum {
			return fmt.Errorf("%w: remote %s, client %s", ErrChecksumMismatch, sum, req.Checksum)
		}
		meta, err := tx.Meta(ctx)
		if err != nil {
			return err
		}
		resp.USN = meta.USN
		return nil
	})
	if err != nil {
		e.logger.Warn("sync session failed", "session", s.id, "error", err)
		return FinishResponse{}, err
	}
	e.logger.Info("sync session finished", "session", s.id, "usn", resp.USN)
	return resp, nil
}

// Abort discards a session and everything staged in it.
func (e *Endpoint) Abort(_ context.Context, id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session != nil && e.session.id == id {
		e.logger.Info("sync session aborted", "session", id)
		e.session = nil
	}
	return nil
}

// Download returns the whole collection.
func (e *Endpoint) Download(ctx context.Context) (Snapshot, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.checkIdle(); err != nil {
		return Snapshot{}, err
	}
	var snap Snapshot
	err := e.db.View(ctx, func(tx *storage.Tx) error {
		meta, err := tx.Meta(ctx)
		if err != nil {
			return err
		}
		snap.USN = meta.USN
		snap.Collection, err = tx.Snapshot(ctx)
		return err
	})
	return snap, err
}

// Upload replaces the collection with snap.
func (e *Endpoint) Upload(ctx context.Context, snap storage.Snapshot) (int64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.checkIdle(); err != nil {
		return 0, err
	}
	var usn int64
	err := e.db.Update(ctx, func(tx *storage.Tx) error {
		var err error
		if usn, err = tx.AllocateUSN(ctx); err != nil {
			return err
		}
		return tx.Replace(ctx, snap, usn)
	})
	if err != nil {
		return 0, fmt.Errorf("failed to replace collection: %w", err)
	}
	e.logger.Info("collection replaced by upload", "cards", len(snap.Cards), "notes", len(snap.Notes), "usn", usn)
	return usn, nil
}

// applySet writes changes that were already resolved by the client.
func applySet(ctx context.Context, tx *storage.Tx, set changes.Set, usn int64) error {
	for _, g := range set.Graves {
		var err error
		switch g.Kind {
		case domain.GraveNote:
			err = tx.DeleteNote(ctx, domain.NoteID(g.OID), usn)
		default:
			err = tx.DeleteCard(ctx, domain.CardID(g.OID), usn)
		}
		if err != nil {
			return err
		}
	}
	for _, n := range set.Notes {
		n.USN = usn
		if err := tx.PutNote(ctx, n); err != nil {
			return err
		}
	}
	for _, c := range set.Cards {
		c.USN = usn
		if err := tx.PutCard(ctx, c); err != nil {
			return err
		}
	}
	for _, e := range set.RevLog {
		e.USN = usn
		if err := tx.AddReviewLog(ctx, e); err != nil {
			return err
		}
	}
	return nil
}
