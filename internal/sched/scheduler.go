package sched

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/conorfennell/knoldeck/internal/changes"
	"github.com/conorfennell/knoldeck/internal/config"
	"github.com/conorfennell/knoldeck/internal/domain"
	"github.com/conorfennell/knoldeck/internal/storage"
	"github.com/conorfennell/knoldeck/internal/timing"
)

// Scheduler runs study sessions against a collection. Reads and writes go
// through one storage transaction per call, and calls are serialized.
type Scheduler struct {
	db      *storage.DB
	cfg     *config.Config
	params  Params
	clock   timing.Clock
	tracker *changes.Tracker
	mu      sync.Locker
	logger  *slog.Logger
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// WithLock shares a writer lock with other users of the collection.
func WithLock(mu sync.Locker) Option {
	return func(s *Scheduler) { s.mu = mu }
}

// New returns a scheduler over db.
func New(db *storage.DB, cfg *config.Config, clock timing.Clock, opts ...Option) *Scheduler {
	s := &Scheduler{
		db:      db,
		cfg:     cfg,
		params:  NewParams(cfg.Scheduler),
		clock:   clock,
		tracker: changes.NewTracker(clock),
		mu:      &sync.Mutex{},
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Today returns the current scheduling day of the collection.
func (s *Scheduler) Today(ctx context.Context) (timing.Today, error) {
	var t timing.Today
	err := s.db.View(ctx, func(tx *storage.Tx) error {
		var err error
		t, err = s.today(ctx, tx)
		return err
	})
	return t, err
}

func (s *Scheduler) today(ctx context.Context, tx *storage.Tx) (timing.Today, error) {
	meta, err := tx.Meta(ctx)
	if err != nil {
		return timing.Today{}, err
	}
	return timing.Compute(meta.Created, s.clock.Now(), s.cfg.Collection.RolloverHour), nil
}

// update locks the collection, opens a write transaction and restores cards
// buried on an earlier day.
func (s *Scheduler) update(ctx context.Context, fn func(tx *storage.Tx, t timing.Today) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Update(ctx, func(tx *storage.Tx) error {
		t, err := s.today(ctx, tx)
		if err != nil {
			return err
		}
		if err := s.unburyOnRollover(ctx, tx, t); err != nil {
			return err
		}
		return fn(tx, t)
	})
}

func (s *Scheduler) unburyOnRollover(ctx context.Context, tx *storage.Tx, t timing.Today) error {
	meta, err := tx.Meta(ctx)
	if err != nil {
		return err
	}
	if meta.LastUnburied >= t.DaysElapsed {
		return nil
	}
	buried, err := tx.CardsInQueue(ctx, domain.QueueBuried)
	if err != nil {
		return err
	}
	if len(buried) > 0 {
		stamp, err := s.tracker.Stamp(ctx, tx)
		if err != nil {
			return err
		}
		for _, c := range buried {
			c.Queue = c.Type.Queue()
			stamp.Card(&c)
			if err := tx.PutCard(ctx, c); err != nil {
				return err
			}
		}
		s.logger.Info("unburied cards", "count", len(buried), "day", t.DaysElapsed)
	}
	return tx.SetLastUnburied(ctx, t.DaysElapsed)
}

// Queue builds the study queue for now.
func (s *Scheduler) Queue(ctx context.Context) (*Queue, error) {
	var q *Queue
	err := s.update(ctx, func(tx *storage.Tx, t timing.Today) error {
		cards, err := tx.DueCards(ctx, t.Now.Unix(), t.DaysElapsed)
		if err != nil {
			return err
		}
		done, err := tx.DayCounts(ctx, t.NextDayAt.AddDate(0, 0, -1), t.NextDayAt)
		if err != nil {
			return err
		}
		q = Build(cards, done, t, NewQueueOptions(s.cfg))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build queue: %w", err)
	}
	return q, nil
}

// Counts returns how many new, learning and review cards are left today.
func (s *Scheduler) Counts(ctx context.Context) (Counts, error) {
	q, err := s.Queue(ctx)
	if err != nil {
		return Counts{}, err
	}
	return q.Counts(), nil
}

// Card returns a card by id.
func (s *Scheduler) Card(ctx context.Context, id domain.CardID) (domain.Card, error) {
	var c domain.Card
	err := s.db.View(ctx, func(tx *storage.Tx) error {
		var err error
		c, err = tx.GetCard(ctx, id)
		return err
	})
	return c, err
}

// Answer records grade for the card and persists its new state and the
// review log entry in one transaction.
func (s *Scheduler) Answer(ctx context.Context, id domain.CardID, grade domain.Grade) (domain.Card, error) {
	var next domain.Card
	err := s.update(ctx, func(tx *storage.Tx, t timing.Today) error {
		card, err := tx.GetCard(ctx, id)
		if err != nil {
			return err
		}
		var entry domain.ReviewLogEntry
		next, entry, err = Answer(card, grade, t.Now, t.DaysElapsed, s.params)
		if err != nil {
			return err
		}

		stamp, err := s.tracker.Stamp(ctx, tx)
		if err != nil {
			return err
		}
		stamp.Card(&next)
		stamp.Log(&entry)
		if entry.ID, err = s.uniqueLogID(ctx, tx, entry); err != nil {
			return err
		}
		if err := tx.PutCard(ctx, next); err != nil {
			return err
		}
		if err := tx.AddReviewLog(ctx, entry); err != nil {
			return err
		}

		if next.Queue == domain.QueueSuspended {
			s.logger.Warn("leech suspended", "card_id", next.ID, "lapses", next.Lapses)
		}
		if s.cfg.Scheduler.BurySiblings {
			return s.burySiblings(ctx, tx, stamp, card)
		}
		return nil
	})
	if err != nil {
		return domain.Card{}, fmt.Errorf("failed to answer card %d: %w", id, err)
	}
	return next, nil
}

// uniqueLogID moves the entry past any earlier answer logged in the same
// millisecond.
func (s *Scheduler) uniqueLogID(ctx context.Context, tx *storage.Tx, e domain.ReviewLogEntry) (int64, error) {
	history, err := tx.ReviewLog(ctx, e.CardID)
	if err != nil {
		return 0, err
	}
	if n := len(history); n > 0 && history[n-1].ID >= e.ID {
		return history[n-1].ID + 1, nil
	}
	return e.ID, nil
}

// burySiblings hides the note's other new and review cards until tomorrow.
func (s *Scheduler) burySiblings(ctx context.Context, tx *storage.Tx, stamp changes.Stamp, card domain.Card) error {
	siblings, err := tx.CardsOfNote(ctx, card.NoteID)
	if err != nil {
		return err
	}
	for _, sib := range siblings {
		if sib.ID == card.ID || (sib.Queue != domain.QueueNew && sib.Queue != domain.QueueReview) {
			continue
		}
		sib.Queue = domain.QueueBuried
		stamp.Card(&sib)
		if err := tx.PutCard(ctx, sib); err != nil {
			return err
		}
		s.logger.Debug("buried sibling", "card_id", sib.ID, "note_id", sib.NoteID)
	}
	return nil
}

// transition applies a named state change to one card. fn reports whether
// the card changed.
func (s *Scheduler) transition(ctx context.Context, id domain.CardID, name string, fn func(c *domain.Card, tx *storage.Tx) (bool, error)) (domain.Card, error) {
	var card domain.Card
	err := s.update(ctx, func(tx *storage.Tx, t timing.Today) error {
		var err error
		card, err = tx.GetCard(ctx, id)
		if err != nil {
			return err
		}
		changed, err := fn(&card, tx)
		if err != nil || !changed {
			return err
		}
		stamp, err := s.tracker.Stamp(ctx, tx)
		if err != nil {
			return err
		}
		stamp.Card(&card)
		return tx.PutCard(ctx, card)
	})
	if err != nil {
		return domain.Card{}, fmt.Errorf("failed to %s card %d: %w", name, id, err)
	}
	return card, nil
}

// Suspend removes a card from study until it is unsuspended.
func (s *Scheduler) Suspend(ctx context.Context, id domain.CardID) (domain.Card, error) {
	return s.transition(ctx, id, "suspend", func(c *domain.Card, _ *storage.Tx) (bool, error) {
		if c.Queue == domain.QueueSuspended {
			return false, nil
		}
		c.Queue = domain.QueueSuspended
		return true, nil
	})
}

// Unsuspend restores a suspended card to the queue of its type.
func (s *Scheduler) Unsuspend(ctx context.Context, id domain.CardID) (domain.Card, error) {
	return s.transition(ctx, id, "unsuspend", func(c *domain.Card, _ *storage.Tx) (bool, error) {
		if c.Queue != domain.QueueSuspended {
			return false, nil
		}
		c.Queue = c.Type.Queue()
		return true, nil
	})
}

// Bury hides a card until the next day.
func (s *Scheduler) Bury(ctx context.Context, id domain.CardID) (domain.Card, error) {
	return s.transition(ctx, id, "bury", func(c *domain.Card, _ *storage.Tx) (bool, error) {
		switch c.Queue {
		case domain.QueueBuried:
			return false, nil
		case domain.QueueSuspended:
			return false, fmt.Errorf("%w: card %d is suspended", ErrInvalidCardState, c.ID)
		}
		c.Queue = domain.QueueBuried
		return true, nil
	})
}

// Unbury restores a buried card before the day rolls over.
func (s *Scheduler) Unbury(ctx context.Context, id domain.CardID) (domain.Card, error) {
	return s.transition(ctx, id, "unbury", func(c *domain.Card, _ *storage.Tx) (bool, error) {
		if c.Queue != domain.QueueBuried {
			return false, nil
		}
		c.Queue = c.Type.Queue()
		return true, nil
	})
}

// Forget resets a card to new, placing it at the end of the new queue.
// Review history is kept and gains a manual entry recording the reset.
func (s *Scheduler) Forget(ctx context.Context, id domain.CardID) (domain.Card, error) {
	var card domain.Card
	err := s.update(ctx, func(tx *storage.Tx, t timing.Today) error {
		prev, err := tx.GetCard(ctx, id)
		if err != nil {
			return err
		}
		pos, err := tx.NextPosition(ctx)
		if err != nil {
			return err
		}
		card = domain.Card{
			ID:     prev.ID,
			NoteID: prev.NoteID,
			DeckID: prev.DeckID,
			Ord:    prev.Ord,
			Queue:  domain.QueueNew,
			Type:   domain.TypeNew,
			Due:    pos,
		}
		entry := domain.ReviewLogEntry{
			ID:             t.Now.UnixMilli(),
			CardID:         id,
			Kind:           domain.KindManual,
			IntervalBefore: prev.Interval,
			EaseBefore:     prev.Ease,
		}

		stamp, err := s.tracker.Stamp(ctx, tx)
		if err != nil {
			return err
		}
		stamp.Card(&card)
		stamp.Log(&entry)
		if entry.ID, err = s.uniqueLogID(ctx, tx, entry); err != nil {
			return err
		}
		if err := tx.PutCard(ctx, card); err != nil {
			return err
		}
		return tx.AddReviewLog(ctx, entry)
	})
	if err != nil {
		return domain.Card{}, fmt.Errorf("failed to forget card %d: %w", id, err)
	}
	return card, nil
}

// UnburyAll restores every buried card when the day has rolled over. It is
// run by the daily job; other operations do the same check as they start.
func (s *Scheduler) UnburyAll(ctx context.Context) error {
	return s.update(ctx, func(*storage.Tx, timing.Today) error { return nil })
}

// Preview returns what each grade would do to a card.
func (s *Scheduler) Preview(ctx context.Context, id domain.CardID) ([]PreviewOption, error) {
	var opts []PreviewOption
	err := s.db.View(ctx, func(tx *storage.Tx) error {
		card, err := tx.GetCard(ctx, id)
		if err != nil {
			return err
		}
		t, err := s.today(ctx, tx)
		if err != nil {
			return err
		}
		opts, err = Preview(card, t.Now, t.DaysElapsed, s.params)
		return err
	})
	return opts, err
}
