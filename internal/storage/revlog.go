package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/conorfennell/knoldeck/internal/domain"
)

const revlogColumns = `id, cid, usn, grade, kind, ivl_before, ivl_after, ease_before, ease_after`

// AddReviewLog appends an entry to the review history. An entry whose
// (id, card id) already exists is left untouched, so history from two
// collections can be unioned.
func (t *Tx) AddReviewLog(ctx context.Context, e domain.ReviewLogEntry) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO revlog (`+revlogColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, e.ID, e.CardID, e.USN, e.Grade, e.Kind, e.IntervalBefore, e.IntervalAfter, e.EaseBefore, e.EaseAfter)
	if err != nil {
		return fmt.Errorf("failed to append review log for card %d: %w", e.CardID, err)
	}
	return nil
}

func (t *Tx) queryRevLog(ctx context.Context, query string, args ...any) ([]domain.ReviewLogEntry, error) {
	rows, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query review log: %w", err)
	}
	defer rows.Close()

	var entries []domain.ReviewLogEntry
	for rows.Next() {
		var e domain.ReviewLogEntry
		if err := rows.Scan(&e.ID, &e.CardID, &e.USN, &e.Grade, &e.Kind,
			&e.IntervalBefore, &e.IntervalAfter, &e.EaseBefore, &e.EaseAfter); err != nil {
			return nil, fmt.Errorf("failed to scan review log: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// ReviewLog returns the history of one card, oldest first.
func (t *Tx) ReviewLog(ctx context.Context, cid domain.CardID) ([]domain.ReviewLogEntry, error) {
	return t.queryRevLog(ctx, `SELECT `+revlogColumns+` FROM revlog WHERE cid = ? ORDER BY id`, cid)
}

// RevLogSince returns review log entries added after usn.
func (t *Tx) RevLogSince(ctx context.Context, usn int64) ([]domain.ReviewLogEntry, error) {
	return t.queryRevLog(ctx, `SELECT `+revlogColumns+` FROM revlog WHERE usn > ? ORDER BY id, cid`, usn)
}

// AddGrave records a deletion.
func (t *Tx) AddGrave(ctx context.Context, g domain.Grave) error {
	_, err := t.tx.ExecContext(ctx, `INSERT OR REPLACE INTO graves (oid, kind, usn) VALUES (?, ?, ?)`, g.OID, g.Kind, g.USN)
	if err != nil {
		return fmt.Errorf("failed to record grave for %d: %w", g.OID, err)
	}
	return nil
}

// GravesSince returns graves recorded after usn.
func (t *Tx) GravesSince(ctx context.Context, usn int64) ([]domain.Grave, error) {
	rows, err := t.tx.QueryContext(ctx, `SELECT oid, kind, usn FROM graves WHERE usn > ? ORDER BY kind, oid`, usn)
	if err != nil {
		return nil, fmt.Errorf("failed to query graves: %w", err)
	}
	defer rows.Close()

	var graves []domain.Grave
	for rows.Next() {
		var g domain.Grave
		if err := rows.Scan(&g.OID, &g.Kind, &g.USN); err != nil {
			return nil, fmt.Errorf("failed to scan grave: %w", err)
		}
		graves = append(graves, g)
	}
	return graves, rows.Err()
}

// DayCount is how many cards of a deck were studied on a day.
type DayCount struct {
	NewDone    int
	ReviewDone int
}

// DayCounts derives the per-deck study counts of the day [start, end) from
// the review log, so answers synced from other devices count too. A learning
// answer on a card without an ease is the card's introduction as new. Cards
// are attributed to the deck they are in now.
func (t *Tx) DayCounts(ctx context.Context, start, end time.Time) (map[domain.DeckID]DayCount, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT c.did,
			SUM(CASE WHEN r.kind = ? AND r.ease_before = 0 THEN 1 ELSE 0 END),
			SUM(CASE WHEN r.kind = ? THEN 1 ELSE 0 END)
		FROM revlog r JOIN cards c ON c.id = r.cid
		WHERE r.id >= ? AND r.id < ?
		GROUP BY c.did
	`, domain.KindLearn, domain.KindReview, start.UnixMilli(), end.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("failed to query day counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[domain.DeckID]DayCount)
	for rows.Next() {
		var (
			did domain.DeckID
			dc  DayCount
		)
		if err := rows.Scan(&did, &dc.NewDone, &dc.ReviewDone); err != nil {
			return nil, fmt.Errorf("failed to scan day count: %w", err)
		}
		if dc != (DayCount{}) {
			counts[did] = dc
		}
	}
	return counts, rows.Err()
}
