package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/conorfennell/knoldeck/internal/domain"
)

// Source types.
const (
	SourceLocal = "local"
	SourceGit   = "git"
)

// Source represents a note source, either a local path or a Git URL.
type Source struct {
	ID          int64
	Path        string
	Type        string
	LastScanned time.Time
}

func scanSource(s scanner) (Source, error) {
	var (
		src     Source
		scanned int64
	)
	if err := s.Scan(&src.ID, &src.Path, &src.Type, &scanned); err != nil {
		return Source{}, err
	}
	if scanned > 0 {
		src.LastScanned = time.UnixMilli(scanned)
	}
	return src, nil
}

// InsertSource inserts a new source path and returns its ID.
func (t *Tx) InsertSource(ctx context.Context, path, sourceType string) (int64, error) {
	res, err := t.tx.ExecContext(ctx, `INSERT INTO sources (path, type) VALUES (?, ?)`, path, sourceType)
	if err != nil {
		return 0, fmt.Errorf("failed to insert source %s: %w", path, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID for source %s: %w", path, err)
	}
	return id, nil
}

// FindSourceByPath retrieves a source by its path.
func (t *Tx) FindSourceByPath(ctx context.Context, path string) (Source, error) {
	row := t.tx.QueryRowContext(ctx, `SELECT id, path, type, last_scanned FROM sources WHERE path = ?`, path)
	s, err := scanSource(row)
	if err == sql.ErrNoRows {
		return Source{}, fmt.Errorf("source %s: %w", path, ErrNotFound)
	}
	if err != nil {
		return Source{}, fmt.Errorf("failed to find source by path %s: %w", path, err)
	}
	return s, nil
}

// Sources retrieves all stored sources.
func (t *Tx) Sources(ctx context.Context) ([]Source, error) {
	rows, err := t.tx.QueryContext(ctx, `SELECT id, path, type, last_scanned FROM sources ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to get all sources: %w", err)
	}
	defer rows.Close()

	var sources []Source
	for rows.Next() {
		s, err := scanSource(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan source row: %w", err)
		}
		sources = append(sources, s)
	}
	return sources, rows.Err()
}

// MarkSourceScanned updates the last scanned time of a source.
func (t *Tx) MarkSourceScanned(ctx context.Context, sourceID int64, at time.Time) error {
	_, err := t.tx.ExecContext(ctx, `UPDATE sources SET last_scanned = ? WHERE id = ?`, at.UnixMilli(), sourceID)
	if err != nil {
		return fmt.Errorf("failed to update last scanned for source ID %d: %w", sourceID, err)
	}
	return nil
}

// LinkNoteSource records that a note was ingested from a source.
func (t *Tx) LinkNoteSource(ctx context.Context, nid domain.NoteID, sourceID int64) error {
	_, err := t.tx.ExecContext(ctx, `INSERT OR REPLACE INTO note_sources (nid, source_id) VALUES (?, ?)`, nid, sourceID)
	if err != nil {
		return fmt.Errorf("failed to link note %d to source %d: %w", nid, sourceID, err)
	}
	return nil
}

// NotesBySource retrieves all notes ingested from a source.
func (t *Tx) NotesBySource(ctx context.Context, sourceID int64) ([]domain.Note, error) {
	return t.queryNotes(ctx, `
		SELECT `+noteColumns+` FROM notes
		WHERE id IN (SELECT nid FROM note_sources WHERE source_id = ?)
		ORDER BY id
	`, sourceID)
}

// DeleteSource removes a source. Notes ingested from it are kept but no
// longer linked to any source.
func (t *Tx) DeleteSource(ctx context.Context, sourceID int64) error {
	if _, err := t.tx.ExecContext(ctx, `DELETE FROM note_sources WHERE source_id = ?`, sourceID); err != nil {
		return fmt.Errorf("failed to unlink notes of source ID %d: %w", sourceID, err)
	}
	res, err := t.tx.ExecContext(ctx, `DELETE FROM sources WHERE id = ?`, sourceID)
	if err != nil {
		return fmt.Errorf("failed to delete source ID %d: %w", sourceID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("source ID %d: %w", sourceID, ErrNotFound)
	}
	return nil
}
