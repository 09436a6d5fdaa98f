package changes

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conorfennell/knoldeck/internal/domain"
	"github.com/conorfennell/knoldeck/internal/storage"
	"github.com/conorfennell/knoldeck/internal/timing"
)

func TestStampAppliesOneUSNPerTransaction(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	db, err := storage.Open(":memory:")
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, db.Initialize(ctx, now))

	tracker := NewTracker(timing.NewManualClock(now))

	require.NoError(t, db.Update(ctx, func(tx *storage.Tx) error {
		first, err := tracker.Stamp(ctx, tx)
		require.NoError(t, err)
		second, err := tracker.Stamp(ctx, tx)
		require.NoError(t, err)
		assert.Equal(t, first, second)

		card := domain.Card{ID: 1, NoteID: 1, DeckID: 1, Queue: domain.QueueNew, Type: domain.TypeNew}
		first.Card(&card)
		assert.Equal(t, int64(1), card.USN)
		assert.Equal(t, now.UnixMilli(), card.ModifiedAt)
		return tx.PutCard(ctx, card)
	}))

	require.NoError(t, db.View(ctx, func(tx *storage.Tx) error {
		set, err := Since(ctx, tx, 0)
		require.NoError(t, err)
		assert.Len(t, set.Cards, 1)
		assert.Equal(t, 1, set.Len())

		set, err = Since(ctx, tx, 1)
		require.NoError(t, err)
		assert.True(t, set.Empty())
		return nil
	}))
}

func TestBatches(t *testing.T) {
	set := Set{
		Graves: []domain.Grave{{OID: 1}},
		Notes:  []domain.Note{{ID: 1}, {ID: 2}},
		Cards:  []domain.Card{{ID: 1}, {ID: 2}, {ID: 3}},
		RevLog: []domain.ReviewLogEntry{{ID: 1}},
	}

	batches := set.Batches(3)
	require.Len(t, batches, 3)
	assert.Len(t, batches[0].Graves, 1)
	assert.Len(t, batches[0].Notes, 2)
	assert.Len(t, batches[1].Cards, 3)
	assert.Len(t, batches[2].RevLog, 1)

	total := 0
	for _, b := range batches {
		total += b.Len()
	}
	assert.Equal(t, set.Len(), total)

	assert.Len(t, set.Batches(0), 1)
	assert.Empty(t, Set{}.Batches(10))
}
