// Package changes stamps modified entities with the collection's update
// sequence number and collects everything modified since a given number.
package changes

import (
	"context"

	"github.com/conorfennell/knoldeck/internal/domain"
	"github.com/conorfennell/knoldeck/internal/timing"
)

// Allocator hands out the usn of the current write transaction.
type Allocator interface {
	AllocateUSN(ctx context.Context) (int64, error)
}

// Tracker produces stamps for write transactions.
type Tracker struct {
	clock timing.Clock
}

// NewTracker returns a tracker that reads modification times from clock.
func NewTracker(clock timing.Clock) *Tracker {
	return &Tracker{clock: clock}
}

// Stamp is the usn and modification time applied to every entity written in
// one transaction.
type Stamp struct {
	USN        int64
	ModifiedAt int64 // unix milliseconds
}

// Stamp allocates the transaction's usn. Calling it twice within a
// transaction returns the same usn.
func (t *Tracker) Stamp(ctx context.Context, a Allocator) (Stamp, error) {
	usn, err := a.AllocateUSN(ctx)
	if err != nil {
		return Stamp{}, err
	}
	return Stamp{USN: usn, ModifiedAt: t.clock.Now().UnixMilli()}, nil
}

// Card marks c as modified.
func (s Stamp) Card(c *domain.Card) {
	c.USN = s.USN
	c.ModifiedAt = s.ModifiedAt
}

// Note marks n as modified.
func (s Stamp) Note(n *domain.Note) {
	n.USN = s.USN
	n.ModifiedAt = s.ModifiedAt
}

// Log tags a review log entry with the transaction's usn.
func (s Stamp) Log(e *domain.ReviewLogEntry) {
	e.USN = s.USN
}

// Source lists entities changed after a usn.
type Source interface {
	CardsSince(ctx context.Context, usn int64) ([]domain.Card, error)
	NotesSince(ctx context.Context, usn int64) ([]domain.Note, error)
	RevLogSince(ctx context.Context, usn int64) ([]domain.ReviewLogEntry, error)
	GravesSince(ctx context.Context, usn int64) ([]domain.Grave, error)
}

// Set is every entity modified after some usn.
type Set struct {
	Cards  []domain.Card           `json:"cards,omitempty"`
	Notes  []domain.Note           `json:"notes,omitempty"`
	RevLog []domain.ReviewLogEntry `json:"revlog,omitempty"`
	Graves []domain.Grave          `json:"graves,omitempty"`
}

// Len is the number of entities in the set.
func (s Set) Len() int {
	return len(s.Cards) + len(s.Notes) + len(s.RevLog) + len(s.Graves)
}

// Empty reports whether nothing changed.
func (s Set) Empty() bool { return s.Len() == 0 }

// Since collects the entities src changed after usn.
func Since(ctx context.Context, src Source, usn int64) (Set, error) {
	var (
		set Set
		err error
	)
	if set.Graves, err = src.GravesSince(ctx, usn); err != nil {
		return Set{}, err
	}
	if set.Notes, err = src.NotesSince(ctx, usn); err != nil {
		return Set{}, err
	}
	if set.Cards, err = src.CardsSince(ctx, usn); err != nil {
		return Set{}, err
	}
	if set.RevLog, err = src.RevLogSince(ctx, usn); err != nil {
		return Set{}, err
	}
	return set, nil
}

// Batches splits the set into chunks of at most size entities. Graves come
// first, then notes before the cards that reference them, then history.
func (s Set) Batches(size int) []Set {
	if size <= 0 {
		size = s.Len()
	}
	var (
		out []Set
		cur Set
	)
	flush := func() {
		if !cur.Empty() {
			out = append(out, cur)
			cur = Set{}
		}
	}
	for _, g := range s.Graves {
		cur.Graves = append(cur.Graves, g)
		if cur.Len() >= size {
			flush()
		}
	}
	for _, n := range s.Notes {
		cur.Notes = append(cur.Notes, n)
		if cur.Len() >= size {
			flush()
		}
	}
	for _, c := range s.Cards {
		cur.Cards = append(cur.Cards, c)
		if cur.Len() >= size {
			flush()
		}
	}
	for _, e := range s.RevLog {
		cur.RevLog = append(cur.RevLog, e)
		if cur.Len() >= size {
			flush()
		}
	}
	flush()
	return out
}
