package sched

import (
	"cmp"
	"iter"
	"math/rand"
	"slices"

	"github.com/conorfennell/knoldeck/internal/config"
	"github.com/conorfennell/knoldeck/internal/domain"
	"github.com/conorfennell/knoldeck/internal/storage"
	"github.com/conorfennell/knoldeck/internal/timing"
)

// QueueOptions controls how the daily queue is capped and ordered.
type QueueOptions struct {
	Limits func(domain.DeckID) config.Limits
	Order  config.OrderConfig
}

// NewQueueOptions reads the queue policy from cfg.
func NewQueueOptions(cfg *config.Config) QueueOptions {
	return QueueOptions{Limits: cfg.DeckLimits, Order: cfg.Scheduler.Order}
}

// Counts is the number of cards of each kind left in a queue.
type Counts struct {
	New      int `json:"new"`
	Learning int `json:"learning"`
	Review   int `json:"review"`
}

// Total is the number of cards in the queue.
func (c Counts) Total() int {
	return c.New + c.Learning + c.Review
}

// Queue is the ordered set of cards to study now. It holds ids only and can
// be iterated any number of times.
type Queue struct {
	ids    []domain.CardID
	counts Counts
}

// All yields the queued card ids in study order.
func (q *Queue) All() iter.Seq[domain.CardID] {
	return func(yield func(domain.CardID) bool) {
		for _, id := range q.ids {
			if !yield(id) {
				return
			}
		}
	}
}

// Next returns the first card in the queue.
func (q *Queue) Next() (domain.CardID, bool) {
	if len(q.ids) == 0 {
		return 0, false
	}
	return q.ids[0], true
}

// Len is the number of queued cards.
func (q *Queue) Len() int { return len(q.ids) }

// Counts returns the queue size per kind.
func (q *Queue) Counts() Counts { return q.counts }

// Build derives the study queue from the candidate cards, the per-deck
// counters of what was already studied today and the current time. Building
// twice from the same inputs yields the same queue.
func Build(cards []domain.Card, done map[domain.DeckID]storage.DayCount, t timing.Today, opts QueueOptions) *Queue {
	now := t.Now.Unix()
	var learning, reviews, news []domain.Card
	for _, c := range cards {
		switch c.Queue {
		case domain.QueueLearning:
			if c.Due <= now {
				learning = append(learning, c)
			}
		case domain.QueueReview:
			if c.Due <= t.DaysElapsed {
				reviews = append(reviews, c)
			}
		case domain.QueueNew:
			news = append(news, c)
		}
	}

	slices.SortFunc(learning, func(a, b domain.Card) int {
		return cmp.Or(cmp.Compare(a.Due, b.Due), cmp.Compare(a.ID, b.ID))
	})
	orderReviews(reviews, t.DaysElapsed, opts.Order.Seed)
	orderNew(news, opts.Order.NewOrder, t.DaysElapsed, opts.Order.Seed)

	limits := opts.Limits
	if limits == nil {
		limits = func(domain.DeckID) config.Limits { return config.Limits{} }
	}
	reviews = capPerDeck(reviews, func(d domain.DeckID) int {
		return limits(d).ReviewsPerDay - done[d].ReviewDone
	})
	news = capPerDeck(news, func(d domain.DeckID) int {
		return limits(d).NewPerDay - done[d].NewDone
	})

	q := &Queue{counts: Counts{New: len(news), Learning: len(learning), Review: len(reviews)}}
	q.ids = make([]domain.CardID, 0, q.counts.Total())
	q.ids = appendIDs(q.ids, learning)
	if opts.Order.Strategy == config.StrategyStrict {
		q.ids = appendIDs(q.ids, reviews)
		q.ids = appendIDs(q.ids, news)
	} else {
		q.ids = interleave(q.ids, reviews, news, opts.Order.ReviewsPerNew)
	}
	return q
}

// orderReviews sorts by due day, breaking ties with a hash that changes
// every day.
func orderReviews(cards []domain.Card, day, seed int64) {
	daySeed := uint64(day) ^ mix64(uint64(seed))
	slices.SortFunc(cards, func(a, b domain.Card) int {
		return cmp.Or(
			cmp.Compare(a.Due, b.Due),
			cmp.Compare(mix64(daySeed^uint64(a.ID)), mix64(daySeed^uint64(b.ID))),
			cmp.Compare(a.ID, b.ID),
		)
	})
}

func orderNew(cards []domain.Card, order string, day, seed int64) {
	slices.SortFunc(cards, func(a, b domain.Card) int {
		return cmp.Or(cmp.Compare(a.Due, b.Due), cmp.Compare(a.ID, b.ID))
	})
	if order == config.NewOrderRandom {
		rng := rand.New(rand.NewSource(int64(mix64(uint64(day) ^ mix64(uint64(seed))))))
		rng.Shuffle(len(cards), func(i, j int) { cards[i], cards[j] = cards[j], cards[i] })
	}
}

// capPerDeck keeps, per deck, at most remaining(deck) cards in order.
func capPerDeck(cards []domain.Card, remaining func(domain.DeckID) int) []domain.Card {
	left := make(map[domain.DeckID]int)
	out := cards[:0]
	for _, c := range cards {
		n, ok := left[c.DeckID]
		if !ok {
			n = max(remaining(c.DeckID), 0)
		}
		if n == 0 {
			left[c.DeckID] = 0
			continue
		}
		left[c.DeckID] = n - 1
		out = append(out, c)
	}
	return out
}

// interleave mixes new cards into the reviews. With reviewsPerNew > 0 a new
// card follows every reviewsPerNew reviews; otherwise new cards are spread
// evenly.
func interleave(ids []domain.CardID, reviews, news []domain.Card, reviewsPerNew int) []domain.CardID {
	ri := 0
	for k, c := range news {
		upto := (k + 1) * len(reviews) / (len(news) + 1)
		if reviewsPerNew > 0 {
			upto = min((k+1)*reviewsPerNew, len(reviews))
		}
		for ; ri < upto; ri++ {
			ids = append(ids, reviews[ri].ID)
		}
		ids = append(ids, c.ID)
	}
	return appendIDs(ids, reviews[ri:])
}

func appendIDs(ids []domain.CardID, cards []domain.Card) []domain.CardID {
	for _, c := range cards {
		ids = append(ids, c.ID)
	}
	return ids
}
