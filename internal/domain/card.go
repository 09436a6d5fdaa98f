package domain

import "fmt"

// CardID is the stable identifier of a card. It doubles as the sync key.
type CardID int64

// NoteID identifies a note.
type NoteID int64

// DeckID identifies the deck a card is studied in.
type DeckID int64

// DefaultDeck is the deck new cards land in when none is configured.
const DefaultDeck DeckID = 1

// QueueState is the queue a card is currently drawn from.
type QueueState int

const (
	QueueNew QueueState = iota
	QueueLearning
	QueueReview
	QueueSuspended
	QueueBuried
)

var queueNames = [...]string{
	QueueNew:       "New",
	QueueLearning:  "Learning",
	QueueReview:    "Review",
	QueueSuspended: "Suspended",
	QueueBuried:    "Buried",
}

// IsValid reports whether q is one of the known queue states.
func (q QueueState) IsValid() bool {
	return q >= QueueNew && q <= QueueBuried
}

func (q QueueState) String() string {
	if q.IsValid() {
		return queueNames[q]
	}
	return fmt.Sprintf("QueueState(%d)", int(q))
}

// CardType is the underlying scheduling state of a card. It survives
// suspension and burying, so the original queue can be restored.
type CardType int

const (
	TypeNew CardType = iota
	TypeLearning
	TypeReview
	TypeRelearning
)

var typeNames = [...]string{
	TypeNew:        "New",
	TypeLearning:   "Learning",
	TypeReview:     "Review",
	TypeRelearning: "Relearning",
}

// IsValid reports whether t is one of the known card types.
func (t CardType) IsValid() bool {
	return t >= TypeNew && t <= TypeRelearning
}

func (t CardType) String() string {
	if t.IsValid() {
		return typeNames[t]
	}
	return fmt.Sprintf("CardType(%d)", int(t))
}

// Queue returns the active queue that corresponds to the card type.
func (t CardType) Queue() QueueState {
	switch t {
	case TypeNew:
		return QueueNew
	case TypeLearning, TypeRelearning:
		return QueueLearning
	default:
		return QueueReview
	}
}

// Card is the scheduled unit derived from a note template.
//
// Due is interpreted according to Queue: a position in the new queue for
// QueueNew, a unix timestamp in seconds for QueueLearning and a day number
// (days since collection creation) for QueueReview.
type Card struct {
	ID         CardID     `json:"id"`
	NoteID     NoteID     `json:"note_id"`
	DeckID     DeckID     `json:"deck_id"`
	Ord        int        `json:"ord"`
	Queue      QueueState `json:"queue"`
	Type       CardType   `json:"type"`
	Due        int64      `json:"due"`
	Interval   int        `json:"interval"`
	Ease       int        `json:"ease"` // permille, 2500 = 250%
	Lapses     int        `json:"lapses"`
	Reps       int        `json:"reps"`
	Step       int        `json:"step"`
	ModifiedAt int64      `json:"modified_at"` // unix milliseconds
	USN        int64      `json:"usn"`
}

// Validate reports cards whose queue and type contradict each other.
func (c Card) Validate() error {
	if !c.Queue.IsValid() {
		return fmt.Errorf("card %d: invalid queue %d", c.ID, int(c.Queue))
	}
	if !c.Type.IsValid() {
		return fmt.Errorf("card %d: invalid type %d", c.ID, int(c.Type))
	}
	switch c.Queue {
	case QueueNew:
		if c.Type != TypeNew {
			return fmt.Errorf("card %d: new queue with type %s", c.ID, c.Type)
		}
	case QueueLearning:
		if c.Type != TypeLearning && c.Type != TypeRelearning {
			return fmt.Errorf("card %d: learning queue with type %s", c.ID, c.Type)
		}
	case QueueReview:
		if c.Type != TypeReview {
			return fmt.Errorf("card %d: review queue with type %s", c.ID, c.Type)
		}
	}
	return nil
}

// Active reports whether the card can be drawn into a study queue.
func (c Card) Active() bool {
	return c.Queue != QueueSuspended && c.Queue != QueueBuried
}
