package sched

import (
	"fmt"
	"math"
	"time"

	"github.com/conorfennell/knoldeck/internal/domain"
)

const secondsPerDay = 24 * 60 * 60

// Answer computes the next state of card after it was answered with grade
// at now, on scheduling day today. It is a pure function: the caller persists
// the returned card and log entry together.
func Answer(card domain.Card, grade domain.Grade, now time.Time, today int64, p Params) (domain.Card, domain.ReviewLogEntry, error) {
	if !grade.IsValid() {
		return domain.Card{}, domain.ReviewLogEntry{}, fmt.Errorf("%w: %d", ErrInvalidGrade, int(grade))
	}
	if err := card.Validate(); err != nil {
		return domain.Card{}, domain.ReviewLogEntry{}, fmt.Errorf("%w: %v", ErrInvalidCardState, err)
	}
	if !card.Active() {
		return domain.Card{}, domain.ReviewLogEntry{}, fmt.Errorf("%w: card %d is %s", ErrInvalidCardState, card.ID, card.Queue)
	}

	a := answering{card: card, next: card, grade: grade, now: now, today: today, p: p}
	a.next.Reps++
	a.entry = domain.ReviewLogEntry{
		ID:             now.UnixMilli(),
		CardID:         card.ID,
		Grade:          grade,
		IntervalBefore: logInterval(card),
		EaseBefore:     card.Ease,
	}

	switch card.Type {
	case domain.TypeNew:
		a.answerNew()
	case domain.TypeLearning:
		a.answerLearning(p.LearnSteps)
	case domain.TypeRelearning:
		a.answerLearning(p.RelearnSteps)
	case domain.TypeReview:
		a.answerReview()
	}

	a.entry.EaseAfter = a.next.Ease
	if a.entry.IntervalAfter == 0 {
		a.entry.IntervalAfter = a.next.Interval
	}
	return a.next, a.entry, nil
}

type answering struct {
	card  domain.Card
	next  domain.Card
	entry domain.ReviewLogEntry
	grade domain.Grade
	now   time.Time
	today int64
	p     Params
}

// answerNew moves a new card to the first learning step whatever the grade.
func (a *answering) answerNew() {
	a.entry.Kind = domain.KindLearn
	a.next.Ease = a.p.InitialEase
	a.next.Type = domain.TypeLearning
	if len(a.p.LearnSteps) == 0 {
		if a.grade == domain.Easy {
			a.graduate(a.p.EasyInterval, true)
		} else {
			a.graduate(a.p.GraduatingInterval, true)
		}
		return
	}
	a.schedule(0, a.p.LearnSteps[0])
}

func (a *answering) answerLearning(steps []time.Duration) {
	relearning := a.card.Type == domain.TypeRelearning
	if relearning {
		a.entry.Kind = domain.KindRelearn
	} else {
		a.entry.Kind = domain.KindLearn
	}
	if len(steps) == 0 {
		a.finishLearning(relearning, a.grade == domain.Easy)
		return
	}
	step := min(max(a.card.Step, 0), len(steps)-1)

	switch a.grade {
	case domain.Again:
		a.schedule(0, steps[0])
	case domain.Hard:
		a.schedule(step, hardDelay(steps, step))
	case domain.Good:
		if step+1 >= len(steps) {
			a.finishLearning(relearning, false)
			return
		}
		a.schedule(step+1, steps[step+1])
	case domain.Easy:
		a.finishLearning(relearning, true)
	}
}

func (a *answering) finishLearning(relearning, easy bool) {
	switch {
	case relearning:
		// The lapsed interval was fixed when the card failed.
		a.graduate(max(a.card.Interval, 1), false)
	case easy:
		a.graduate(a.p.EasyInterval, true)
	default:
		a.graduate(a.p.GraduatingInterval, true)
	}
}

// hardDelay repeats the current step. On the first step it is the mean of
// the first two steps, or one and a half times a lone step.
func hardDelay(steps []time.Duration, step int) time.Duration {
	if step > 0 {
		return steps[step]
	}
	if len(steps) > 1 {
		return (steps[0] + steps[1]) / 2
	}
	return steps[0] * 3 / 2
}

// schedule keeps the card in the learning queue, due again after delay.
func (a *answering) schedule(step int, delay time.Duration) {
	a.next.Queue = domain.QueueLearning
	a.next.Step = step
	a.next.Due = a.now.Add(delay).Unix()
	a.entry.IntervalAfter = -int(delay / time.Second)
}

// graduate moves the card into the review queue.
func (a *answering) graduate(ivl int, fuzz bool) {
	if fuzz {
		ivl = fuzzInterval(a.card.ID, ivl, 1, a.p.Fuzz)
	}
	a.next.Type = domain.TypeReview
	a.next.Queue = domain.QueueReview
	a.next.Step = 0
	a.next.Interval = a.capInterval(ivl)
	a.next.Due = a.today + int64(a.next.Interval)
}

func (a *answering) answerReview() {
	a.entry.Kind = domain.KindReview
	ivl := max(a.card.Interval, 1)
	ease := float64(a.card.Ease) / 1000

	switch a.grade {
	case domain.Again:
		a.lapse(ivl)
		return
	case domain.Hard:
		a.next.Ease = max(a.card.Ease-a.p.HardPenalty, a.p.MinEase)
		hard := max(1, int(math.Round(float64(ivl)*a.p.HardMultiplier)))
		a.review(fuzzInterval(a.card.ID, hard, 1, a.p.Fuzz))
	case domain.Good:
		good := max(ivl+1, int(math.Round(float64(ivl)*ease)))
		a.review(fuzzInterval(a.card.ID, good, ivl+1, a.p.Fuzz))
	case domain.Easy:
		good := max(ivl+1, int(math.Round(float64(ivl)*ease)))
		easy := max(good+1, int(math.Round(float64(ivl)*ease*a.p.EasyBonus)))
		a.next.Ease = min(a.card.Ease+a.p.EasyBonusDelta, a.p.MaxEase)
		a.review(fuzzInterval(a.card.ID, easy, good+1, a.p.Fuzz))
	}
}

func (a *answering) review(ivl int) {
	a.next.Interval = a.capInterval(ivl)
	a.next.Due = a.today + int64(a.next.Interval)
}

// lapse handles a failed review: the interval shrinks, ease drops and the
// card may go back through the relearning steps.
func (a *answering) lapse(ivl int) {
	a.next.Lapses++
	a.next.Ease = max(a.card.Ease-a.p.AgainPenalty, a.p.MinEase)
	lapsed := max(a.p.MinLapseInterval, int(float64(ivl)*a.p.LapseMultiplier))
	a.next.Interval = max(min(lapsed, ivl), 1)

	if a.next.Lapses > a.p.RelearnThreshold && len(a.p.RelearnSteps) > 0 {
		a.next.Type = domain.TypeRelearning
		a.schedule(0, a.p.RelearnSteps[0])
	} else {
		a.next.Due = a.today + int64(a.next.Interval)
	}

	if a.p.LeechSuspend && isLeech(a.next.Lapses, a.p.LeechThreshold) {
		a.next.Queue = domain.QueueSuspended
	}
}

// isLeech reports whether a card with lapses failures is flagged. Cards are
// flagged on reaching the threshold and again every half threshold after.
func isLeech(lapses, threshold int) bool {
	if threshold <= 0 || lapses < threshold {
		return false
	}
	return (lapses-threshold)%max(threshold/2, 1) == 0
}

func (a *answering) capInterval(ivl int) int {
	if a.p.MaxInterval > 0 {
		ivl = min(ivl, a.p.MaxInterval)
	}
	return max(ivl, 1)
}

func logInterval(c domain.Card) int {
	if c.Type == domain.TypeReview || c.Type == domain.TypeRelearning {
		return c.Interval
	}
	return 0
}

// PreviewOption is the outcome of one grade.
type PreviewOption struct {
	Grade domain.Grade
	Card  domain.Card
	// Delay is how long until the card is due again.
	Delay time.Duration
}

// Preview returns what each grade would do to card without changing it.
func Preview(card domain.Card, now time.Time, today int64, p Params) ([]PreviewOption, error) {
	opts := make([]PreviewOption, 0, len(domain.Grades))
	for _, g := range domain.Grades {
		next, _, err := Answer(card, g, now, today, p)
		if err != nil {
			return nil, err
		}
		opts = append(opts, PreviewOption{Grade: g, Card: next, Delay: dueIn(next, now, today)})
	}
	return opts, nil
}

func dueIn(c domain.Card, now time.Time, today int64) time.Duration {
	switch c.Queue {
	case domain.QueueLearning:
		return time.Duration(c.Due-now.Unix()) * time.Second
	case domain.QueueReview:
		return time.Duration(c.Due-today) * secondsPerDay * time.Second
	}
	return 0
}
