package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/conorfennell/knoldeck/internal/domain"
)

const cardColumns = `id, nid, did, ord, type, queue, due, ivl, factor, lapses, reps, step, mtime, usn`

type scanner interface {
	Scan(dest ...any) error
}

func scanCard(s scanner) (domain.Card, error) {
	var c domain.Card
	err := s.Scan(&c.ID, &c.NoteID, &c.DeckID, &c.Ord, &c.Type, &c.Queue, &c.Due,
		&c.Interval, &c.Ease, &c.Lapses, &c.Reps, &c.Step, &c.ModifiedAt, &c.USN)
	return c, err
}

func (t *Tx) queryCards(ctx context.Context, query string, args ...any) ([]domain.Card, error) {
	rows, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query cards: %w", err)
	}
	defer rows.Close()

	var cards []domain.Card
	for rows.Next() {
		c, err := scanCard(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan card: %w", err)
		}
		cards = append(cards, c)
	}
	return cards, rows.Err()
}

// GetCard retrieves a card by its ID.
func (t *Tx) GetCard(ctx context.Context, id domain.CardID) (domain.Card, error) {
	row := t.tx.QueryRowContext(ctx, `SELECT `+cardColumns+` FROM cards WHERE id = ?`, id)
	c, err := scanCard(row)
	if err == sql.ErrNoRows {
		return domain.Card{}, fmt.Errorf("card %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return domain.Card{}, fmt.Errorf("failed to get card %d: %w", id, err)
	}
	return c, nil
}

// PutCard inserts or replaces a card. The card's usn and modification time
// are stored as given.
func (t *Tx) PutCard(ctx context.Context, c domain.Card) error {
	if err := c.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	_, err := t.tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO cards (`+cardColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, c.ID, c.NoteID, c.DeckID, c.Ord, c.Type, c.Queue, c.Due,
		c.Interval, c.Ease, c.Lapses, c.Reps, c.Step, c.ModifiedAt, c.USN)
	if err != nil {
		return fmt.Errorf("failed to save card %d: %w", c.ID, err)
	}
	return nil
}

// CardsOfNote returns the cards generated from a note, ordered by template.
func (t *Tx) CardsOfNote(ctx context.Context, nid domain.NoteID) ([]domain.Card, error) {
	return t.queryCards(ctx, `SELECT `+cardColumns+` FROM cards WHERE nid = ? ORDER BY ord`, nid)
}

// DueCards returns the cards that may be studied now: every new card,
// learning cards due at or before now (unix seconds) and review cards due at
// or before today (day number).
func (t *Tx) DueCards(ctx context.Context, now, today int64) ([]domain.Card, error) {
	return t.queryCards(ctx, `
		SELECT `+cardColumns+` FROM cards
		WHERE queue = ?
		   OR (queue = ? AND due <= ?)
		   OR (queue = ? AND due <= ?)
		ORDER BY id
	`, domain.QueueNew, domain.QueueLearning, now, domain.QueueReview, today)
}

// CardsInQueue returns every card currently in queue q.
func (t *Tx) CardsInQueue(ctx context.Context, q domain.QueueState) ([]domain.Card, error) {
	return t.queryCards(ctx, `SELECT `+cardColumns+` FROM cards WHERE queue = ? ORDER BY id`, q)
}

// CardsSince returns cards changed after usn.
func (t *Tx) CardsSince(ctx context.Context, usn int64) ([]domain.Card, error) {
	return t.queryCards(ctx, `SELECT `+cardColumns+` FROM cards WHERE usn > ? ORDER BY id`, usn)
}

// DeleteCard removes a card and records a grave for it.
func (t *Tx) DeleteCard(ctx context.Context, id domain.CardID, usn int64) error {
	if _, err := t.tx.ExecContext(ctx, `DELETE FROM cards WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete card %d: %w", id, err)
	}
	return t.AddGrave(ctx, domain.Grave{OID: int64(id), Kind: domain.GraveCard, USN: usn})
}

// NextCardID returns a timestamp based card id that is not yet taken.
func (t *Tx) NextCardID(ctx context.Context, nowMillis int64) (domain.CardID, error) {
	id, err := t.nextID(ctx, "cards", nowMillis)
	return domain.CardID(id), err
}

// nextID bumps a millisecond timestamp until it is unused in table.
func (t *Tx) nextID(ctx context.Context, table string, ms int64) (int64, error) {
	var maxID sql.NullInt64
	if err := t.tx.QueryRowContext(ctx, `SELECT MAX(id) FROM `+table).Scan(&maxID); err != nil {
		return 0, fmt.Errorf("failed to allocate %s id: %w", table, err)
	}
	if maxID.Valid && maxID.Int64 >= ms {
		return maxID.Int64 + 1, nil
	}
	return ms, nil
}
