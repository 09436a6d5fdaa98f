package sched

import "errors"

var (
	// ErrInvalidGrade is returned for a grade outside Again..Easy.
	ErrInvalidGrade = errors.New("sched: invalid grade")
	// ErrInvalidCardState is returned when a card cannot take the requested
	// transition, e.g. answering a suspended card.
	ErrInvalidCardState = errors.New("sched: invalid card state")
)
