// Package collection is the handle through which a process uses one
// collection. It owns the database and serializes writers.
package collection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	gosync "sync"
	"time"

	"github.com/conorfennell/knoldeck/internal/changes"
	"github.com/conorfennell/knoldeck/internal/config"
	"github.com/conorfennell/knoldeck/internal/domain"
	"github.com/conorfennell/knoldeck/internal/knol"
	"github.com/conorfennell/knoldeck/internal/sched"
	"github.com/conorfennell/knoldeck/internal/storage"
	"github.com/conorfennell/knoldeck/internal/sync"
	"github.com/conorfennell/knoldeck/internal/timing"
)

// ErrClosed is returned by every operation on a closed collection.
var ErrClosed = errors.New("collection: closed")

// State is where a collection is in its lifecycle.
type State int

const (
	// StateOpen is an idle, usable collection.
	StateOpen State = iota
	// StateActive means an operation holds the writer lock.
	StateActive
	// StateClosed collections reject all operations.
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Collection is an open collection.
type Collection struct {
	cfg     *config.Config
	clock   timing.Clock
	db      *storage.DB
	sched   *sched.Scheduler
	tracker *changes.Tracker
	logger  *slog.Logger

	mu    gosync.Mutex
	state State
}

// Option configures a Collection.
type Option func(*Collection)

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *Collection) { c.logger = l }
}

// Open opens or creates the collection at cfg.Collection.Path. A new
// collection starts its day count at the clock's current time.
func Open(ctx context.Context, cfg *config.Config, clock timing.Clock, opts ...Option) (*Collection, error) {
	db, err := storage.Open(cfg.Collection.Path)
	if err != nil {
		return nil, err
	}
	if err := db.Initialize(ctx, clock.Now()); err != nil {
		db.Close()
		return nil, err
	}

	c := &Collection{cfg: cfg, clock: clock, db: db, tracker: changes.NewTracker(clock), logger: slog.Default()}
	for _, opt := range opts {
		opt(c)
	}
	c.sched = sched.New(db, cfg, clock, sched.WithLock(activeLock{c}), sched.WithLogger(c.logger))
	c.logger.Debug("collection opened", "path", cfg.Collection.Path)
	return c, nil
}

// activeLock is the writer lock shared with the scheduler. Holding it marks
// the collection active.
type activeLock struct{ c *Collection }

func (l activeLock) Lock() {
	l.c.mu.Lock()
	if l.c.state == StateOpen {
		l.c.state = StateActive
	}
}

func (l activeLock) Unlock() {
	if l.c.state == StateActive {
		l.c.state = StateOpen
	}
	l.c.mu.Unlock()
}

// acquire takes the writer lock unless the collection is closed. The caller
// must call the returned release func.
func (c *Collection) acquire() (func(), error) {
	l := activeLock{c}
	l.Lock()
	if c.state == StateClosed {
		l.Unlock()
		return nil, ErrClosed
	}
	return l.Unlock, nil
}

// State returns the current lifecycle state.
func (c *Collection) State() State {
	if !c.mu.TryLock() {
		return StateActive
	}
	defer c.mu.Unlock()
	return c.state
}

func (c *Collection) closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == StateClosed
}

// Config returns the configuration the collection was opened with.
func (c *Collection) Config() *config.Config { return c.cfg }

// Scheduler returns the study scheduler of the collection.
func (c *Collection) Scheduler() (*sched.Scheduler, error) {
	if c.closed() {
		return nil, ErrClosed
	}
	return c.sched, nil
}

// Endpoint serves the collection to sync clients.
func (c *Collection) Endpoint(opts ...sync.EndpointOption) (*sync.Endpoint, error) {
	if c.closed() {
		return nil, ErrClosed
	}
	opts = append([]sync.EndpointOption{sync.WithEndpointLogger(c.logger)}, opts...)
	return sync.NewEndpoint(c.db, c.clock, opts...), nil
}

// Sync reconciles the collection with remote. The sync timeout from the
// configuration bounds each exchange with the remote. When a full sync must
// be confirmed, confirm is asked with the collection unlocked, for as long
// as it takes.
func (c *Collection) Sync(ctx context.Context, remote sync.Remote, confirm sync.Confirm) (sync.Result, error) {
	r := sync.NewReconciler(c.db, remote, c.clock,
		sync.WithBatchSize(c.cfg.Sync.BatchSize),
		sync.WithTimeout(c.cfg.Sync.Timeout),
		sync.WithLogger(c.logger),
	)
	res, err := c.locked(func() (sync.Result, error) { return r.Run(ctx) })
	var fe *sync.FullSyncError
	if confirm == nil || !errors.As(err, &fe) {
		return res, err
	}

	choice, err := confirm(ctx, fe.Prompt)
	if err != nil {
		return sync.Result{}, err
	}
	return c.locked(func() (sync.Result, error) { return r.FullSync(ctx, choice, fe.Prompt) })
}

func (c *Collection) locked(fn func() (sync.Result, error)) (sync.Result, error) {
	release, err := c.acquire()
	if err != nil {
		return sync.Result{}, err
	}
	defer release()
	return fn()
}

// Update runs fn in one write transaction. All changes fn makes through the
// Writer share one change stamp.
func (c *Collection) Update(ctx context.Context, fn func(w *Writer) error) error {
	release, err := c.acquire()
	if err != nil {
		return err
	}
	defer release()

	return c.db.Update(ctx, func(tx *storage.Tx) error {
		stamp, err := c.tracker.Stamp(ctx, tx)
		if err != nil {
			return err
		}
		return fn(&Writer{tx: tx, stamp: stamp})
	})
}

// View runs fn in a read-only transaction.
func (c *Collection) View(ctx context.Context, fn func(tx *storage.Tx) error) error {
	if c.closed() {
		return ErrClosed
	}
	return c.db.View(ctx, fn)
}

// AddNote creates a note with its cards.
func (c *Collection) AddNote(ctx context.Context, n NewNote) (domain.Note, []domain.Card, error) {
	var (
		note  domain.Note
		cards []domain.Card
	)
	err := c.Update(ctx, func(w *Writer) error {
		var err error
		note, cards, err = w.AddNote(ctx, n)
		return err
	})
	return note, cards, err
}

// DeleteNote deletes a note and its cards, leaving graves for sync.
func (c *Collection) DeleteNote(ctx context.Context, id domain.NoteID) error {
	return c.Update(ctx, func(w *Writer) error {
		return w.DeleteNote(ctx, id)
	})
}

// Checksum returns the collection checksum compared by sync.
func (c *Collection) Checksum(ctx context.Context) (string, error) {
	var sum string
	err := c.View(ctx, func(tx *storage.Tx) error {
		var err error
		sum, err = tx.Checksum(ctx)
		return err
	})
	return sum, err
}

// Close waits for the running operation and closes the database.
func (c *Collection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateClosed {
		return ErrClosed
	}
	c.state = StateClosed
	c.logger.Debug("collection closed", "path", c.cfg.Collection.Path)
	return c.db.Close()
}

// NewNote describes a note to create.
type NewNote struct {
	Fields []string
	Tags   []string
	// GUID identifies the note across collections. A random one is used
	// when empty.
	GUID string
	// Deck defaults to the default deck.
	Deck domain.DeckID
	// Reverse adds a second card asking for the first field.
	Reverse bool
}

// Writer makes stamped changes inside a Collection.Update transaction.
type Writer struct {
	tx    *storage.Tx
	stamp changes.Stamp
}

// Tx exposes the underlying transaction for reads and source bookkeeping.
func (w *Writer) Tx() *storage.Tx { return w.tx }

// Now is the modification time stamped on this transaction's changes.
func (w *Writer) Now() time.Time { return time.UnixMilli(w.stamp.ModifiedAt) }

// SetTags replaces the tags of a note.
func (w *Writer) SetTags(ctx context.Context, n domain.Note, tags []string) (domain.Note, error) {
	n.Tags = domain.NormalizeTags(tags)
	w.stamp.Note(&n)
	return n, w.tx.PutNote(ctx, n)
}

// AddNote creates a note and one new card per template ordinal. New cards
// are placed at the end of the new queue.
func (w *Writer) AddNote(ctx context.Context, n NewNote) (domain.Note, []domain.Card, error) {
	if len(n.Fields) == 0 || n.Fields[0] == "" {
		return domain.Note{}, nil, errors.New("collection: note needs a non-empty first field")
	}
	if n.GUID == "" {
		n.GUID = knol.GUID()
	}
	if n.Deck == 0 {
		n.Deck = domain.DefaultDeck
	}

	id, err := w.tx.NextNoteID(ctx, w.stamp.ModifiedAt)
	if err != nil {
		return domain.Note{}, nil, err
	}
	note := domain.Note{
		ID:       id,
		GUID:     n.GUID,
		Fields:   n.Fields,
		Tags:     domain.NormalizeTags(n.Tags),
		Checksum: knol.FieldChecksum(n.Fields[0]),
	}
	w.stamp.Note(&note)
	if err := w.tx.PutNote(ctx, note); err != nil {
		return domain.Note{}, nil, err
	}

	ords := []int{0}
	if n.Reverse {
		ords = append(ords, 1)
	}
	cards := make([]domain.Card, 0, len(ords))
	for _, ord := range ords {
		cid, err := w.tx.NextCardID(ctx, w.stamp.ModifiedAt)
		if err != nil {
			return domain.Note{}, nil, err
		}
		pos, err := w.tx.NextPosition(ctx)
		if err != nil {
			return domain.Note{}, nil, err
		}
		card := domain.Card{
			ID:     cid,
			NoteID: note.ID,
			DeckID: n.Deck,
			Ord:    ord,
			Queue:  domain.QueueNew,
			Type:   domain.TypeNew,
			Due:    pos,
		}
		w.stamp.Card(&card)
		if err := w.tx.PutCard(ctx, card); err != nil {
			return domain.Note{}, nil, err
		}
		cards = append(cards, card)
	}
	return note, cards, nil
}

// DeleteNote deletes a note and its cards.
func (w *Writer) DeleteNote(ctx context.Context, id domain.NoteID) error {
	if _, err := w.tx.GetNote(ctx, id); err != nil {
		return err
	}
	return w.tx.DeleteNote(ctx, id, w.stamp.USN)
}
