package storage

import (
	"context"
	"crypto/sha256"
	"fmt"
	"hash"

	"github.com/conorfennell/knoldeck/internal/domain"
)

// Snapshot is the full synced content of a collection.
type Snapshot struct {
	SchemaMod int64                   `json:"schema_mod"`
	Cards     []domain.Card           `json:"cards"`
	Notes     []domain.Note           `json:"notes"`
	RevLog    []domain.ReviewLogEntry `json:"revlog"`
}

// Empty reports whether the snapshot carries no user data.
func (s Snapshot) Empty() bool {
	return len(s.Cards) == 0 && len(s.Notes) == 0 && len(s.RevLog) == 0
}

// Snapshot reads the whole collection.
func (t *Tx) Snapshot(ctx context.Context) (Snapshot, error) {
	meta, err := t.Meta(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	snap := Snapshot{SchemaMod: meta.SchemaMod}
	if snap.Cards, err = t.CardsSince(ctx, -1); err != nil {
		return Snapshot{}, err
	}
	if snap.Notes, err = t.NotesSince(ctx, -1); err != nil {
		return Snapshot{}, err
	}
	if snap.RevLog, err = t.RevLogSince(ctx, -1); err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}

// Replace discards the collection's content and loads snap in its place.
// Every entity is stamped with usn. Graves are cleared since the snapshot is
// authoritative.
func (t *Tx) Replace(ctx context.Context, snap Snapshot, usn int64) error {
	for _, table := range []string{"cards", "notes", "revlog", "graves"} {
		if _, err := t.tx.ExecContext(ctx, `DELETE FROM `+table); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}
	for _, n := range snap.Notes {
		n.USN = usn
		if err := t.PutNote(ctx, n); err != nil {
			return err
		}
	}
	for _, c := range snap.Cards {
		c.USN = usn
		if err := t.PutCard(ctx, c); err != nil {
			return err
		}
	}
	for _, e := range snap.RevLog {
		e.USN = usn
		if err := t.AddReviewLog(ctx, e); err != nil {
			return err
		}
	}
	if _, err := t.tx.ExecContext(ctx, `DELETE FROM note_sources WHERE nid NOT IN (SELECT id FROM notes)`); err != nil {
		return fmt.Errorf("failed to prune note sources: %w", err)
	}
	// Keep new cards added locally after the snapshot behind its positions.
	if _, err := t.tx.ExecContext(ctx, `
		UPDATE col SET next_position = MAX(next_position,
			COALESCE((SELECT MAX(due) + 1 FROM cards WHERE type = ?), 1))
		WHERE id = 1
	`, domain.TypeNew); err != nil {
		return fmt.Errorf("failed to update new card position: %w", err)
	}
	return t.SetSchemaMod(ctx, snap.SchemaMod)
}

// Counts is the number of synced rows in a collection.
type Counts struct {
	Cards  int `json:"cards"`
	Notes  int `json:"notes"`
	RevLog int `json:"revlog"`
}

// Empty reports whether there is no user data.
func (c Counts) Empty() bool {
	return c.Cards == 0 && c.Notes == 0 && c.RevLog == 0
}

// Counts returns the number of rows per synced table.
func (t *Tx) Counts(ctx context.Context) (Counts, error) {
	var c Counts
	err := t.tx.QueryRowContext(ctx, `
		SELECT (SELECT COUNT(*) FROM cards), (SELECT COUNT(*) FROM notes), (SELECT COUNT(*) FROM revlog)
	`).Scan(&c.Cards, &c.Notes, &c.RevLog)
	if err != nil {
		return Counts{}, fmt.Errorf("failed to count rows: %w", err)
	}
	return c, nil
}

// Checksum returns a digest of the collection's synced content. It does not
// depend on row order or change counters, so two collections that hold the
// same data have the same checksum.
func (t *Tx) Checksum(ctx context.Context) (string, error) {
	snap, err := t.Snapshot(ctx)
	if err != nil {
		return "", err
	}
	return SnapshotChecksum(snap), nil
}

// SnapshotChecksum computes the collection checksum of snap. Entities must be
// sorted by id, the way Snapshot returns them.
func SnapshotChecksum(snap Snapshot) string {
	h := sha256.New()
	for _, n := range snap.Notes {
		writeRow(h, "n", n.ID, n.GUID, domain.JoinFields(n.Fields), domain.JoinTags(domain.NormalizeTags(n.Tags)),
			n.Checksum, n.ModifiedAt)
	}
	for _, c := range snap.Cards {
		writeRow(h, "c", c.ID, c.NoteID, c.DeckID, c.Ord, int(c.Type), int(c.Queue), c.Due,
			c.Interval, c.Ease, c.Lapses, c.Reps, c.Step, c.ModifiedAt)
	}
	for _, e := range snap.RevLog {
		writeRow(h, "r", e.ID, e.CardID, int(e.Grade), int(e.Kind),
			e.IntervalBefore, e.IntervalAfter, e.EaseBefore, e.EaseAfter)
	}
	return fmt.Sprintf("%x", h.Sum(nil))
}

func writeRow(h hash.Hash, kind string, values ...any) {
	fmt.Fprint(h, kind)
	for _, v := range values {
		if s, ok := v.(string); ok {
			fmt.Fprintf(h, "|%q", s)
			continue
		}
		fmt.Fprintf(h, "|%v", v)
	}
	fmt.Fprint(h, "\n")
}
