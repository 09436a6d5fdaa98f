package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/conorfennell/knoldeck/internal/domain"
)

const noteColumns = `id, guid, fields, tags, csum, mtime, usn`

func scanNote(s scanner) (domain.Note, error) {
	var (
		n      domain.Note
		fields string
		tags   string
	)
	if err := s.Scan(&n.ID, &n.GUID, &fields, &tags, &n.Checksum, &n.ModifiedAt, &n.USN); err != nil {
		return domain.Note{}, err
	}
	n.Fields = domain.SplitFields(fields)
	n.Tags = domain.SplitTags(tags)
	return n, nil
}

func (t *Tx) queryNotes(ctx context.Context, query string, args ...any) ([]domain.Note, error) {
	rows, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query notes: %w", err)
	}
	defer rows.Close()

	var notes []domain.Note
	for rows.Next() {
		n, err := scanNote(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan note: %w", err)
		}
		notes = append(notes, n)
	}
	return notes, rows.Err()
}

// GetNote retrieves a note by its ID.
func (t *Tx) GetNote(ctx context.Context, id domain.NoteID) (domain.Note, error) {
	row := t.tx.QueryRowContext(ctx, `SELECT `+noteColumns+` FROM notes WHERE id = ?`, id)
	n, err := scanNote(row)
	if err == sql.ErrNoRows {
		return domain.Note{}, fmt.Errorf("note %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return domain.Note{}, fmt.Errorf("failed to get note %d: %w", id, err)
	}
	return n, nil
}

// FindNoteByGUID looks up a note by its guid.
func (t *Tx) FindNoteByGUID(ctx context.Context, guid string) (domain.Note, error) {
	row := t.tx.QueryRowContext(ctx, `SELECT `+noteColumns+` FROM notes WHERE guid = ? ORDER BY id LIMIT 1`, guid)
	n, err := scanNote(row)
	if err == sql.ErrNoRows {
		return domain.Note{}, fmt.Errorf("note %s: %w", guid, ErrNotFound)
	}
	if err != nil {
		return domain.Note{}, fmt.Errorf("failed to find note %s: %w", guid, err)
	}
	return n, nil
}

// PutNote inserts or replaces a note.
func (t *Tx) PutNote(ctx context.Context, n domain.Note) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO notes (`+noteColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, n.ID, n.GUID, domain.JoinFields(n.Fields), domain.JoinTags(domain.NormalizeTags(n.Tags)),
		n.Checksum, n.ModifiedAt, n.USN)
	if err != nil {
		return fmt.Errorf("failed to save note %d: %w", n.ID, err)
	}
	return nil
}

// NotesSince returns notes changed after usn.
func (t *Tx) NotesSince(ctx context.Context, usn int64) ([]domain.Note, error) {
	return t.queryNotes(ctx, `SELECT `+noteColumns+` FROM notes WHERE usn > ? ORDER BY id`, usn)
}

// DeleteNote removes a note and all of its cards, recording a grave for
// each. Review history is kept.
func (t *Tx) DeleteNote(ctx context.Context, id domain.NoteID, usn int64) error {
	cards, err := t.CardsOfNote(ctx, id)
	if err != nil {
		return err
	}
	for _, c := range cards {
		if err := t.DeleteCard(ctx, c.ID, usn); err != nil {
			return err
		}
	}
	if _, err := t.tx.ExecContext(ctx, `DELETE FROM notes WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete note %d: %w", id, err)
	}
	if _, err := t.tx.ExecContext(ctx, `DELETE FROM note_sources WHERE nid = ?`, id); err != nil {
		return fmt.Errorf("failed to unlink note %d: %w", id, err)
	}
	return t.AddGrave(ctx, domain.Grave{OID: int64(id), Kind: domain.GraveNote, USN: usn})
}

// NextNoteID returns a timestamp based note id that is not yet taken.
func (t *Tx) NextNoteID(ctx context.Context, nowMillis int64) (domain.NoteID, error) {
	id, err := t.nextID(ctx, "notes", nowMillis)
	return domain.NoteID(id), err
}
