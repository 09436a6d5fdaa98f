// Package ingest turns markdown note sources into collection notes.
//
// Each source is a local directory or a git repository. A scan parses every
// .md file below it, adds notes that are new, and deletes notes the source
// no longer contains. Notes are identified by the hash of their fields, so
// scanning an unchanged source changes nothing.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/conorfennell/knoldeck/internal/collection"
	"github.com/conorfennell/knoldeck/internal/config"
	"github.com/conorfennell/knoldeck/internal/domain"
	"github.com/conorfennell/knoldeck/internal/gitsource"
	"github.com/conorfennell/knoldeck/internal/knol"
	"github.com/conorfennell/knoldeck/internal/parser"
	"github.com/conorfennell/knoldeck/internal/storage"
)

// GitSyncer fetches a git source into a local directory.
type GitSyncer interface {
	Sync(ctx context.Context, repoURL, localPath string) error
}

// Ingester scans the sources of one collection.
type Ingester struct {
	col    *collection.Collection
	cfg    config.IngestConfig
	git    GitSyncer
	logger *slog.Logger
}

// Option configures an Ingester.
type Option func(*Ingester)

// WithGit replaces the git client.
func WithGit(g GitSyncer) Option {
	return func(in *Ingester) { in.git = g }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(in *Ingester) { in.logger = l }
}

// New returns an ingester using the collection's ingest settings.
func New(col *collection.Collection, opts ...Option) *Ingester {
	in := &Ingester{col: col, cfg: col.Config().Ingest, logger: slog.Default()}
	for _, opt := range opts {
		opt(in)
	}
	if in.git == nil {
		in.git = gitsource.New(in.logger, nil)
	}
	return in
}

// Report summarizes the scan of one source.
type Report struct {
	Source  storage.Source
	Parsed  int
	Added   int
	Updated int
	Deleted int
	Errors  []error
}

// AddSource registers a local directory or git URL. Adding a source twice
// returns the existing one.
func (in *Ingester) AddSource(ctx context.Context, path string) (storage.Source, error) {
	sourceType := storage.SourceLocal
	if gitsource.IsURL(path) {
		sourceType = storage.SourceGit
	} else {
		abs, err := filepath.Abs(path)
		if err != nil {
			return storage.Source{}, fmt.Errorf("failed to resolve %s: %w", path, err)
		}
		path = abs
	}

	var src storage.Source
	err := in.col.Update(ctx, func(w *collection.Writer) error {
		existing, err := w.Tx().FindSourceByPath(ctx, path)
		if err == nil {
			src = existing
			return nil
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return err
		}
		id, err := w.Tx().InsertSource(ctx, path, sourceType)
		if err != nil {
			return err
		}
		src = storage.Source{ID: id, Path: path, Type: sourceType}
		in.logger.Info("source added", "id", id, "type", sourceType, "path", path)
		return nil
	})
	return src, err
}

// Sources lists the registered sources.
func (in *Ingester) Sources(ctx context.Context) ([]storage.Source, error) {
	var sources []storage.Source
	err := in.col.View(ctx, func(tx *storage.Tx) error {
		var err error
		sources, err = tx.Sources(ctx)
		return err
	})
	return sources, err
}

// RemoveSource forgets a source. Its notes stay in the collection.
func (in *Ingester) RemoveSource(ctx context.Context, id int64) error {
	return in.col.Update(ctx, func(w *collection.Writer) error {
		return w.Tx().DeleteSource(ctx, id)
	})
}

// Run scans every source. A source that cannot be fetched or walked is
// reported and skipped; Run only fails when the collection itself does.
func (in *Ingester) Run(ctx context.Context) ([]Report, error) {
	sources, err := in.Sources(ctx)
	if err != nil {
		return nil, err
	}
	if len(sources) == 0 {
		in.logger.Info("no sources configured; add one with knoldeck source add <path/or/url.git>")
		return nil, nil
	}

	reports := make([]Report, 0, len(sources))
	for _, src := range sources {
		if err := ctx.Err(); err != nil {
			return reports, err
		}
		in.logger.Info("scanning source", "id", src.ID, "type", src.Type, "path", src.Path)
		rep, err := in.scan(ctx, src)
		if errors.Is(err, collection.ErrClosed) || errors.Is(err, context.Canceled) {
			return reports, err
		}
		if err != nil {
			in.logger.Error("failed to scan source", "path", src.Path, "error", err)
			rep.Errors = append(rep.Errors, err)
		}
		reports = append(reports, rep)
	}
	in.logger.Info("ingest complete", "sources", len(reports))
	return reports, nil
}

func (in *Ingester) scan(ctx context.Context, src storage.Source) (Report, error) {
	rep := Report{Source: src}
	dir := src.Path
	if src.Type == storage.SourceGit {
		if err := os.MkdirAll(in.cfg.ReposDir, 0o755); err != nil {
			return rep, fmt.Errorf("failed to create repos directory: %w", err)
		}
		local, err := gitsource.LocalPath(in.cfg.ReposDir, src.Path)
		if err != nil {
			return rep, err
		}
		if err := in.git.Sync(ctx, src.Path, local); err != nil {
			return rep, err
		}
		dir = local
	}

	entries, parseErrs, err := walk(dir)
	rep.Errors = parseErrs
	if err != nil {
		return rep, err
	}
	rep.Parsed = len(entries)

	err = in.col.Update(ctx, func(w *collection.Writer) error {
		return in.reconcile(ctx, w, src, entries, &rep)
	})
	if err != nil {
		return rep, err
	}
	in.logger.Info("reconciliation complete",
		"path", src.Path,
		"parsed_notes", rep.Parsed,
		"added", rep.Added,
		"updated", rep.Updated,
		"orphaned_deleted", rep.Deleted,
		"errors", len(rep.Errors),
	)
	return rep, nil
}

// found is a parsed entry keyed by its guid.
type found struct {
	guid  string
	entry parser.Entry
}

// walk parses every markdown file below dir. Duplicate entries keep the
// first occurrence with the tags of all occurrences.
func walk(dir string) ([]found, []error, error) {
	var (
		entries  []found
		errs     []error
		position = make(map[string]int)
	)
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.HasSuffix(strings.ToLower(d.Name()), ".md") {
			return nil
		}
		fileEntries, parseErr := parser.ParseFile(path)
		if parseErr != nil {
			errs = append(errs, fmt.Errorf("parsing %s: %w", path, parseErr))
		}
		for _, e := range fileEntries {
			guid := knol.Hash(e.Fields())
			if i, ok := position[guid]; ok {
				entries[i].entry.Tags = append(entries[i].entry.Tags, e.Tags...)
				continue
			}
			position[guid] = len(entries)
			entries = append(entries, found{guid: guid, entry: e})
		}
		return nil
	})
	if err != nil {
		return nil, errs, fmt.Errorf("error walking directory %s: %w", dir, err)
	}
	return entries, errs, nil
}

func (in *Ingester) reconcile(ctx context.Context, w *collection.Writer, src storage.Source, entries []found, rep *Report) error {
	tx := w.Tx()
	seen := make(map[string]bool, len(entries))
	for _, f := range entries {
		seen[f.guid] = true
		existing, err := tx.FindNoteByGUID(ctx, f.guid)
		switch {
		case errors.Is(err, storage.ErrNotFound):
			note, _, err := w.AddNote(ctx, collection.NewNote{
				Fields:  trimFields(f.entry.Fields()),
				Tags:    f.entry.Tags,
				GUID:    f.guid,
				Deck:    domain.DeckID(in.cfg.Deck),
				Reverse: in.cfg.ReverseCards,
			})
			if err != nil {
				return err
			}
			in.logger.Debug("new note found", "guid", f.guid, "id", note.ID)
			if err := tx.LinkNoteSource(ctx, note.ID, src.ID); err != nil {
				return err
			}
			rep.Added++
		case err != nil:
			return err
		default:
			if err := tx.LinkNoteSource(ctx, existing.ID, src.ID); err != nil {
				return err
			}
			tags := domain.NormalizeTags(f.entry.Tags)
			if !slices.Equal(tags, domain.NormalizeTags(existing.Tags)) {
				if _, err := w.SetTags(ctx, existing, tags); err != nil {
					return err
				}
				rep.Updated++
			}
		}
	}

	linked, err := tx.NotesBySource(ctx, src.ID)
	if err != nil {
		return err
	}
	for _, n := range linked {
		if seen[n.GUID] {
			continue
		}
		in.logger.Info("orphaned note, deleting", "guid", n.GUID, "id", n.ID)
		if err := w.DeleteNote(ctx, n.ID); err != nil {
			return err
		}
		rep.Deleted++
	}
	return tx.MarkSourceScanned(ctx, src.ID, w.Now())
}

// trimFields drops trailing empty fields, which do not count towards a
// note's identity either.
func trimFields(fields []string) []string {
	for len(fields) > 1 && fields[len(fields)-1] == "" {
		fields = fields[:len(fields)-1]
	}
	return fields
}
