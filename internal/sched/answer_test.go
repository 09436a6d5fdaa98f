package sched

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conorfennell/knoldeck/internal/domain"
)

var (
	testNow   = time.Date(2024, 1, 10, 12, 0, 0, 0, time.UTC)
	testToday = int64(9)
)

func unfuzzed() Params {
	p := DefaultParams()
	p.Fuzz.Enabled = false
	return p
}

func newCard(id domain.CardID) domain.Card {
	return domain.Card{ID: id, NoteID: 1, DeckID: domain.DefaultDeck, Queue: domain.QueueNew, Type: domain.TypeNew, Due: int64(id)}
}

func reviewCard(id domain.CardID, ivl, ease int) domain.Card {
	return domain.Card{
		ID: id, NoteID: 1, DeckID: domain.DefaultDeck,
		Queue: domain.QueueReview, Type: domain.TypeReview,
		Due: testToday, Interval: ivl, Ease: ease, Reps: 5,
	}
}

func mustAnswer(t *testing.T, c domain.Card, g domain.Grade, now time.Time, today int64, p Params) (domain.Card, domain.ReviewLogEntry) {
	t.Helper()
	next, entry, err := Answer(c, g, now, today, p)
	require.NoError(t, err)
	return next, entry
}

func TestNewCardGraduatesAfterLearningSteps(t *testing.T) {
	p := DefaultParams()
	card := newCard(1)

	card, entry := mustAnswer(t, card, domain.Good, testNow, testToday, p)
	assert.Equal(t, domain.QueueLearning, card.Queue)
	assert.Equal(t, domain.TypeLearning, card.Type)
	assert.Equal(t, 0, card.Step)
	assert.Equal(t, testNow.Add(time.Minute).Unix(), card.Due)
	assert.Equal(t, 2500, card.Ease)
	assert.Equal(t, domain.KindLearn, entry.Kind)
	assert.Equal(t, -60, entry.IntervalAfter)

	now := testNow.Add(time.Minute)
	card, _ = mustAnswer(t, card, domain.Good, now, testToday, p)
	assert.Equal(t, 1, card.Step)
	assert.Equal(t, now.Add(10*time.Minute).Unix(), card.Due)

	now = now.Add(10 * time.Minute)
	card, entry = mustAnswer(t, card, domain.Good, now, testToday, p)
	assert.Equal(t, domain.QueueReview, card.Queue)
	assert.Equal(t, domain.TypeReview, card.Type)
	assert.Equal(t, 1, card.Interval)
	assert.Equal(t, testToday+1, card.Due)
	assert.Equal(t, 3, card.Reps)
	assert.Equal(t, 0, card.Lapses)
	assert.Equal(t, 1, entry.IntervalAfter)
}

func TestReviewLapse(t *testing.T) {
	p := DefaultParams()
	card, entry := mustAnswer(t, reviewCard(1, 10, 2500), domain.Again, testNow, testToday, p)

	assert.Equal(t, 1, card.Lapses)
	assert.LessOrEqual(t, card.Interval, 1)
	assert.Equal(t, 2300, card.Ease)
	assert.GreaterOrEqual(t, card.Ease, p.MinEase)
	assert.Equal(t, domain.TypeRelearning, card.Type)
	assert.Equal(t, domain.QueueLearning, card.Queue)
	assert.Equal(t, testNow.Add(10*time.Minute).Unix(), card.Due)

	assert.Equal(t, domain.KindReview, entry.Kind)
	assert.Equal(t, 10, entry.IntervalBefore)
	assert.Equal(t, -600, entry.IntervalAfter)
	assert.Equal(t, 2500, entry.EaseBefore)
	assert.Equal(t, 2300, entry.EaseAfter)
}

func TestReviewGrades(t *testing.T) {
	tests := []struct {
		name     string
		grade    domain.Grade
		interval int
		ease     int
	}{
		{"hard shrinks by the hard multiplier", domain.Hard, 9, 2350},
		{"good multiplies by ease", domain.Good, 25, 2500},
		{"easy adds the bonus", domain.Easy, 33, 2650},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			card, _ := mustAnswer(t, reviewCard(1, 10, 2500), tc.grade, testNow, testToday, unfuzzed())
			assert.Equal(t, tc.interval, card.Interval)
			assert.Equal(t, tc.ease, card.Ease)
			assert.Equal(t, testToday+int64(tc.interval), card.Due)
			assert.Equal(t, domain.QueueReview, card.Queue)
			assert.Equal(t, 6, card.Reps)
		})
	}
}

func TestReviewIntervalFloorsAndCaps(t *testing.T) {
	p := unfuzzed()

	card, _ := mustAnswer(t, reviewCard(1, 1, 1300), domain.Good, testNow, testToday, p)
	assert.Equal(t, 2, card.Interval, "good is at least one day longer")

	card, _ = mustAnswer(t, reviewCard(1, 1, 1300), domain.Easy, testNow, testToday, p)
	assert.Equal(t, 3, card.Interval, "easy is at least one day longer than good")

	card, _ = mustAnswer(t, reviewCard(1, 1, 1300), domain.Hard, testNow, testToday, p)
	assert.Equal(t, 1, card.Interval)
	assert.Equal(t, 1300, card.Ease, "ease stays at its floor")

	p.MaxInterval = 30
	card, _ = mustAnswer(t, reviewCard(1, 20, 2500), domain.Good, testNow, testToday, p)
	assert.Equal(t, 30, card.Interval)
}

func TestLearningSteps(t *testing.T) {
	p := unfuzzed()
	learning := domain.Card{ID: 1, NoteID: 1, DeckID: 1, Queue: domain.QueueLearning, Type: domain.TypeLearning, Step: 1, Ease: 2500}

	t.Run("again restarts", func(t *testing.T) {
		card, _ := mustAnswer(t, learning, domain.Again, testNow, testToday, p)
		assert.Equal(t, 0, card.Step)
		assert.Equal(t, testNow.Add(time.Minute).Unix(), card.Due)
	})
	t.Run("hard repeats the step", func(t *testing.T) {
		card, _ := mustAnswer(t, learning, domain.Hard, testNow, testToday, p)
		assert.Equal(t, 1, card.Step)
		assert.Equal(t, testNow.Add(10*time.Minute).Unix(), card.Due)
	})
	t.Run("hard on the first step averages the first two", func(t *testing.T) {
		first := learning
		first.Step = 0
		card, _ := mustAnswer(t, first, domain.Hard, testNow, testToday, p)
		assert.Equal(t, testNow.Add(330*time.Second).Unix(), card.Due)
	})
	t.Run("easy graduates with the easy interval", func(t *testing.T) {
		card, _ := mustAnswer(t, learning, domain.Easy, testNow, testToday, p)
		assert.Equal(t, domain.QueueReview, card.Queue)
		assert.Equal(t, 4, card.Interval)
	})
}

func TestHardDelay(t *testing.T) {
	assert.Equal(t, 90*time.Second, hardDelay([]time.Duration{time.Minute}, 0))
	assert.Equal(t, 330*time.Second, hardDelay([]time.Duration{time.Minute, 10 * time.Minute}, 0))
	assert.Equal(t, 10*time.Minute, hardDelay([]time.Duration{time.Minute, 10 * time.Minute}, 1))
}

func TestRelearningKeepsLapsedInterval(t *testing.T) {
	card := domain.Card{
		ID: 1, NoteID: 1, DeckID: 1,
		Queue: domain.QueueLearning, Type: domain.TypeRelearning,
		Interval: 3, Ease: 2300, Lapses: 1,
	}
	next, entry := mustAnswer(t, card, domain.Good, testNow, testToday, DefaultParams())
	assert.Equal(t, domain.TypeReview, next.Type)
	assert.Equal(t, 3, next.Interval)
	assert.Equal(t, testToday+3, next.Due)
	assert.Equal(t, domain.KindRelearn, entry.Kind)
}

func TestLapseWithoutRelearning(t *testing.T) {
	p := unfuzzed()
	p.RelearnSteps = nil
	p.LapseMultiplier = 0.5
	card, _ := mustAnswer(t, reviewCard(1, 10, 2500), domain.Again, testNow, testToday, p)
	assert.Equal(t, domain.QueueReview, card.Queue)
	assert.Equal(t, 5, card.Interval)
	assert.Equal(t, testToday+5, card.Due)
}

func TestNoLearningStepsGraduatesImmediately(t *testing.T) {
	p := unfuzzed()
	p.LearnSteps = nil

	card, _ := mustAnswer(t, newCard(1), domain.Good, testNow, testToday, p)
	assert.Equal(t, domain.QueueReview, card.Queue)
	assert.Equal(t, 1, card.Interval)

	card, _ = mustAnswer(t, newCard(1), domain.Easy, testNow, testToday, p)
	assert.Equal(t, 4, card.Interval)
}

func TestLeechIsSuspended(t *testing.T) {
	card := reviewCard(1, 10, 2500)
	card.Lapses = 7
	next, _ := mustAnswer(t, card, domain.Again, testNow, testToday, DefaultParams())
	assert.Equal(t, domain.QueueSuspended, next.Queue)
	assert.Equal(t, domain.TypeRelearning, next.Type)
	assert.Equal(t, 8, next.Lapses)

	tests := []struct {
		lapses, threshold int
		want              bool
	}{
		{7, 8, false},
		{8, 8, true},
		{9, 8, false},
		{12, 8, true},
		{3, 0, false},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, isLeech(tc.lapses, tc.threshold), "lapses=%d threshold=%d", tc.lapses, tc.threshold)
	}
}

func TestAnswerRejectsInvalidInput(t *testing.T) {
	p := DefaultParams()

	for _, g := range []domain.Grade{0, 5} {
		_, _, err := Answer(newCard(1), g, testNow, testToday, p)
		assert.ErrorIs(t, err, ErrInvalidGrade)
	}

	suspended := reviewCard(1, 10, 2500)
	suspended.Queue = domain.QueueSuspended
	_, _, err := Answer(suspended, domain.Good, testNow, testToday, p)
	assert.ErrorIs(t, err, ErrInvalidCardState)

	buried := newCard(1)
	buried.Queue = domain.QueueBuried
	_, _, err = Answer(buried, domain.Good, testNow, testToday, p)
	assert.ErrorIs(t, err, ErrInvalidCardState)

	inconsistent := newCard(1)
	inconsistent.Queue = domain.QueueReview
	_, _, err = Answer(inconsistent, domain.Good, testNow, testToday, p)
	assert.ErrorIs(t, err, ErrInvalidCardState)
}

func TestGoodNeverShrinksAgainNeverGrows(t *testing.T) {
	p := DefaultParams()
	for ivl := 1; ivl <= 400; ivl += 7 {
		for _, ease := range []int{1300, 2500, 3500} {
			for id := domain.CardID(1); id <= 5; id++ {
				card := reviewCard(id, ivl, ease)

				good, _ := mustAnswer(t, card, domain.Good, testNow, testToday, p)
				require.GreaterOrEqual(t, good.Interval, ivl, "good at ivl=%d ease=%d", ivl, ease)

				easy, _ := mustAnswer(t, card, domain.Easy, testNow, testToday, p)
				require.GreaterOrEqual(t, easy.Interval, ivl, "easy at ivl=%d ease=%d", ivl, ease)

				again, _ := mustAnswer(t, card, domain.Again, testNow, testToday, p)
				require.LessOrEqual(t, again.Interval, ivl, "again at ivl=%d ease=%d", ivl, ease)
			}
		}
	}
}

func TestEaseNeverBelowFloor(t *testing.T) {
	p := DefaultParams()
	p.LeechSuspend = false
	rng := rand.New(rand.NewSource(1))

	card := newCard(1)
	now, today := testNow, testToday
	for i := 0; i < 500; i++ {
		g := domain.Grades[rng.Intn(len(domain.Grades))]
		card, _ = mustAnswer(t, card, g, now, today, p)
		require.GreaterOrEqual(t, card.Ease, p.MinEase)
		require.LessOrEqual(t, card.Ease, p.MaxEase)
		require.NoError(t, card.Validate())
		now = now.Add(24 * time.Hour)
		today++
	}
}

func TestAnswerIsPure(t *testing.T) {
	card := reviewCard(1, 10, 2500)
	a, la := mustAnswer(t, card, domain.Good, testNow, testToday, DefaultParams())
	b, lb := mustAnswer(t, card, domain.Good, testNow, testToday, DefaultParams())
	assert.Equal(t, a, b)
	assert.Equal(t, la, lb)
	assert.Equal(t, 10, card.Interval, "input card is not modified")
}

func TestPreview(t *testing.T) {
	opts, err := Preview(newCard(1), testNow, testToday, unfuzzed())
	require.NoError(t, err)
	require.Len(t, opts, 4)
	assert.Equal(t, domain.Again, opts[0].Grade)
	assert.Equal(t, time.Minute, opts[2].Delay)

	opts, err = Preview(reviewCard(1, 10, 2500), testNow, testToday, unfuzzed())
	require.NoError(t, err)
	assert.Equal(t, 25*24*time.Hour, opts[2].Delay)
	assert.Equal(t, 10*time.Minute, opts[0].Delay)
}
