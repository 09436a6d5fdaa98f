package sched

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conorfennell/knoldeck/internal/config"
	"github.com/conorfennell/knoldeck/internal/domain"
	"github.com/conorfennell/knoldeck/internal/storage"
	"github.com/conorfennell/knoldeck/internal/timing"
)

var collectionCreated = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	db    *storage.DB
	clock *timing.ManualClock
	sched *Scheduler
}

// newFixture opens a collection holding one note with two new cards, 1 and 2.
func newFixture(t *testing.T, mutate func(*config.Config)) *fixture {
	t.Helper()
	ctx := context.Background()

	db, err := storage.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Initialize(ctx, collectionCreated))

	require.NoError(t, db.Update(ctx, func(tx *storage.Tx) error {
		require.NoError(t, tx.PutNote(ctx, domain.Note{ID: 1, GUID: "g1", Fields: []string{"front", "back"}}))
		for _, id := range []domain.CardID{1, 2} {
			pos, err := tx.NextPosition(ctx)
			require.NoError(t, err)
			require.NoError(t, tx.PutCard(ctx, domain.Card{
				ID: id, NoteID: 1, DeckID: domain.DefaultDeck, Ord: int(id) - 1,
				Queue: domain.QueueNew, Type: domain.TypeNew, Due: pos,
			}))
		}
		return nil
	}))

	cfg := config.Default()
	cfg.Scheduler.Fuzz.Enabled = false
	if mutate != nil {
		mutate(&cfg)
	}
	// Jan 2, 05:00 UTC: one day after creation with the 4am rollover.
	clock := timing.NewManualClock(collectionCreated.Add(17 * time.Hour))
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return &fixture{db: db, clock: clock, sched: New(db, &cfg, clock, WithLogger(logger))}
}

func (f *fixture) revlog(t *testing.T, id domain.CardID) []domain.ReviewLogEntry {
	t.Helper()
	var entries []domain.ReviewLogEntry
	require.NoError(t, f.db.View(context.Background(), func(tx *storage.Tx) error {
		var err error
		entries, err = tx.ReviewLog(context.Background(), id)
		return err
	}))
	return entries
}

func TestSchedulerAnswerPersists(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	today, err := f.sched.Today(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), today.DaysElapsed)

	counts, err := f.sched.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, Counts{New: 2}, counts)

	card, err := f.sched.Answer(ctx, 1, domain.Good)
	require.NoError(t, err)
	assert.Equal(t, domain.QueueLearning, card.Queue)
	assert.Equal(t, f.clock.Now().UnixMilli(), card.ModifiedAt)
	assert.Positive(t, card.USN)

	counts, err = f.sched.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, Counts{New: 1}, counts, "the learning card is not due yet")

	f.clock.Advance(time.Minute)
	counts, err = f.sched.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, Counts{New: 1, Learning: 1}, counts)

	q, err := f.sched.Queue(ctx)
	require.NoError(t, err)
	next, _ := q.Next()
	assert.Equal(t, domain.CardID(1), next, "learning cards come first")

	_, err = f.sched.Answer(ctx, 1, domain.Good)
	require.NoError(t, err)
	f.clock.Advance(10 * time.Minute)
	card, err = f.sched.Answer(ctx, 1, domain.Good)
	require.NoError(t, err)
	assert.Equal(t, domain.QueueReview, card.Queue)
	assert.Equal(t, 1, card.Interval)
	assert.Equal(t, int64(2), card.Due)

	assert.Len(t, f.revlog(t, 1), 3)

	require.NoError(t, f.db.View(ctx, func(tx *storage.Tx) error {
		done, err := tx.DayCounts(ctx, today.NextDayAt.AddDate(0, 0, -1), today.NextDayAt)
		require.NoError(t, err)
		assert.Equal(t, storage.DayCount{NewDone: 1}, done[domain.DefaultDeck])
		return nil
	}))
}

func TestSchedulerNewCapConsumed(t *testing.T) {
	f := newFixture(t, func(c *config.Config) { c.Scheduler.NewPerDay = 1 })
	ctx := context.Background()

	counts, err := f.sched.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts.New)

	_, err = f.sched.Answer(ctx, 1, domain.Easy)
	require.NoError(t, err)

	counts, err = f.sched.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, counts.New, "the daily new cap is used up")

	f.clock.Advance(24 * time.Hour)
	counts, err = f.sched.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts.New, "the cap resets at rollover")
}

func TestSchedulerSameInstantAnswersAreLogged(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := f.sched.Answer(ctx, 1, domain.Again)
		require.NoError(t, err)
	}
	entries := f.revlog(t, 1)
	require.Len(t, entries, 3)
	assert.Less(t, entries[0].ID, entries[1].ID)
	assert.Less(t, entries[1].ID, entries[2].ID)
}

func TestSchedulerBuriesSiblingsUntilRollover(t *testing.T) {
	f := newFixture(t, func(c *config.Config) { c.Scheduler.BurySiblings = true })
	ctx := context.Background()

	_, err := f.sched.Answer(ctx, 1, domain.Good)
	require.NoError(t, err)

	sibling, err := f.sched.Card(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, domain.QueueBuried, sibling.Queue)

	counts, err := f.sched.Counts(ctx)
	require.NoError(t, err)
	assert.Zero(t, counts.New)

	f.clock.Advance(24 * time.Hour)
	counts, err = f.sched.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts.New)

	sibling, err = f.sched.Card(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, domain.QueueNew, sibling.Queue)
}

func TestSchedulerSuspend(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	card, err := f.sched.Suspend(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, domain.QueueSuspended, card.Queue)
	assert.Equal(t, domain.TypeNew, card.Type)

	_, err = f.sched.Answer(ctx, 1, domain.Good)
	assert.ErrorIs(t, err, ErrInvalidCardState)

	_, err = f.sched.Bury(ctx, 1)
	assert.ErrorIs(t, err, ErrInvalidCardState)

	f.clock.Advance(48 * time.Hour)
	card, err = f.sched.Card(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, domain.QueueSuspended, card.Queue, "rollover does not unsuspend")

	card, err = f.sched.Unsuspend(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, domain.QueueNew, card.Queue)
}

func TestSchedulerBuryAndUnbury(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	card, err := f.sched.Bury(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, domain.QueueBuried, card.Queue)

	q, err := f.sched.Queue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, q.Len())

	card, err = f.sched.Unbury(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, domain.QueueNew, card.Queue)
}

func TestSchedulerUnburyAll(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.sched.Bury(ctx, 1)
	require.NoError(t, err)
	require.NoError(t, f.sched.UnburyAll(ctx))

	card, err := f.sched.Card(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, domain.QueueBuried, card.Queue, "same day")

	f.clock.Advance(24 * time.Hour)
	require.NoError(t, f.sched.UnburyAll(ctx))
	card, err = f.sched.Card(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, domain.QueueNew, card.Queue)
}

func TestSchedulerForget(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.sched.Answer(ctx, 1, domain.Easy)
	require.NoError(t, err)

	card, err := f.sched.Forget(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, domain.QueueNew, card.Queue)
	assert.Equal(t, domain.TypeNew, card.Type)
	assert.Zero(t, card.Reps)
	assert.Zero(t, card.Interval)
	assert.Equal(t, int64(3), card.Due, "placed after the existing new cards")
	history := f.revlog(t, 1)
	require.Len(t, history, 2, "history is kept")
	answered, reset := history[0], history[1]
	assert.Equal(t, domain.KindManual, reset.Kind)
	assert.Zero(t, int(reset.Grade))
	assert.Greater(t, reset.ID, answered.ID)
	assert.Equal(t, answered.IntervalAfter, reset.IntervalBefore)
	assert.Equal(t, answered.EaseAfter, reset.EaseBefore)
	assert.Zero(t, reset.IntervalAfter)
	assert.Zero(t, reset.EaseAfter)
}

func TestSchedulerForgetDoesNotUseNewCap(t *testing.T) {
	f := newFixture(t, func(c *config.Config) { c.Scheduler.NewPerDay = 2 })
	ctx := context.Background()

	_, err := f.sched.Forget(ctx, 2)
	require.NoError(t, err)

	counts, err := f.sched.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, counts.New)
}

func TestSchedulerNewCapCountsSyncedAnswers(t *testing.T) {
	f := newFixture(t, func(c *config.Config) { c.Scheduler.NewPerDay = 1 })
	ctx := context.Background()

	// An answer to card 2 made on another device earlier today.
	require.NoError(t, f.db.Update(ctx, func(tx *storage.Tx) error {
		return tx.AddReviewLog(ctx, domain.ReviewLogEntry{
			ID: f.clock.Now().Add(-time.Minute).UnixMilli(), CardID: 2, USN: 1,
			Grade: domain.Good, Kind: domain.KindLearn, EaseAfter: 2500,
		})
	}))

	counts, err := f.sched.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, counts.New, "the other device used today's new card")
}

func TestSchedulerPreview(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	opts, err := f.sched.Preview(ctx, 1)
	require.NoError(t, err)
	require.Len(t, opts, 4)

	card, err := f.sched.Card(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, domain.QueueNew, card.Queue, "preview does not modify the card")

	_, err = f.sched.Preview(ctx, 99)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
