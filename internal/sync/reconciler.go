package sync

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/conorfennell/knoldeck/internal/changes"
	"github.com/conorfennell/knoldeck/internal/domain"
	"github.com/conorfennell/knoldeck/internal/storage"
	"github.com/conorfennell/knoldeck/internal/timing"
)

// DefaultBatchSize is the number of entities per transfer unit.
const DefaultBatchSize = 250

// Outcome is what a sync did.
type Outcome int

const (
	// NoChanges means both collections already held the same data.
	NoChanges Outcome = iota
	// Merged means changes were exchanged in both directions.
	Merged
	// Uploaded means the local collection replaced the remote one.
	Uploaded
	// Downloaded means the remote collection replaced the local one.
	Downloaded
)

func (o Outcome) String() string {
	switch o {
	case NoChanges:
		return "no changes"
	case Merged:
		return "merged"
	case Uploaded:
		return "uploaded"
	case Downloaded:
		return "downloaded"
	}
	return fmt.Sprintf("Outcome(%d)", int(o))
}

// Conflict is an entity changed on both sides since the last sync. It was
// resolved in favor of Winner.
type Conflict struct {
	Kind           string `json:"kind"`
	ID             int64  `json:"id"`
	Winner         string `json:"winner"`
	LocalModified  int64  `json:"local_modified"`
	RemoteModified int64  `json:"remote_modified"`
}

// Result summarizes a completed sync.
type Result struct {
	Outcome    Outcome
	Pulled     int
	Pushed     int
	Conflicts  []Conflict
	Checkpoint domain.Checkpoint
}

// Reconciler syncs a local collection with a remote.
type Reconciler struct {
	db        *storage.DB
	remote    Remote
	clock     timing.Clock
	batchSize int
	confirm   Confirm
	timeout   time.Duration
	logger    *slog.Logger
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithBatchSize sets how many entities are sent per request.
func WithBatchSize(n int) Option {
	return func(r *Reconciler) {
		if n > 0 {
			r.batchSize = n
		}
	}
}

// WithConfirm sets the callback that decides full syncs.
func WithConfirm(c Confirm) Option {
	return func(r *Reconciler) { r.confirm = c }
}

// WithTimeout bounds each exchange with the remote. Waiting for the
// Confirm callback does not count towards it.
func WithTimeout(d time.Duration) Option {
	return func(r *Reconciler) { r.timeout = d }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Reconciler) { r.logger = l }
}

// NewReconciler returns a reconciler between db and remote.
func NewReconciler(db *storage.DB, remote Remote, clock timing.Clock, opts ...Option) *Reconciler {
	r := &Reconciler{db: db, remote: remote, clock: clock, batchSize: DefaultBatchSize, logger: slog.Default()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// structuralConflict aborts a merge that cannot be resolved entity by entity.
type structuralConflict struct {
	reason string
}

func (e *structuralConflict) Error() string { return "structural conflict: " + e.reason }

// Run performs one sync. The local collection is changed in a single
// transaction that is rolled back on any failure, so an interrupted sync
// leaves it exactly as it was.
//
// When a full sync needs a decision, the transaction is released before
// the Confirm callback is asked, and the confirmed direction runs in a new
// one. Without a Confirm callback Run returns a *FullSyncError.
func (r *Reconciler) Run(ctx context.Context) (Result, error) {
	res, err := r.run(ctx)
	var fe *FullSyncError
	if r.confirm == nil || !errors.As(err, &fe) {
		return res, err
	}
	choice, err := r.confirm(ctx, fe.Prompt)
	if err != nil {
		return Result{}, err
	}
	return r.FullSync(ctx, choice, fe.Prompt)
}

func (r *Reconciler) bounded(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, r.timeout)
}

func (r *Reconciler) run(ctx context.Context) (Result, error) {
	ctx, cancel := r.bounded(ctx)
	defer cancel()

	remoteMeta, err := r.remote.Meta(ctx)
	if err != nil {
		return Result{}, err
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return Result{}, err
	}
	defer tx.Rollback()

	localMeta, err := tx.Meta(ctx)
	if err != nil {
		return Result{}, err
	}
	if localMeta.SchemaVersion != remoteMeta.SchemaVersion {
		return Result{}, fmt.Errorf("%w: local %d, remote %d", ErrSchemaMismatch, localMeta.SchemaVersion, remoteMeta.SchemaVersion)
	}

	localSum, err := tx.Checksum(ctx)
	if err != nil {
		return Result{}, err
	}
	if localSum == remoteMeta.Checksum {
		return r.commitInSync(ctx, tx, localMeta, remoteMeta)
	}

	if reason := fastMergeBlocked(localMeta, remoteMeta); reason != "" {
		return r.fullSync(ctx, tx, remoteMeta, reason)
	}

	res, err := r.merge(ctx, tx, localMeta)
	var sc *structuralConflict
	if errors.As(err, &sc) {
		// The merge transaction holds partial changes; start over.
		tx.Rollback()
		if tx, err = r.db.Begin(ctx); err != nil {
			return Result{}, err
		}
		defer tx.Rollback()
		return r.fullSync(ctx, tx, remoteMeta, sc.reason)
	}
	if errors.Is(err, ErrChecksumMismatch) {
		tx.Rollback()
		r.flagFullSync(ctx)
	}
	return res, err
}

// fastMergeBlocked returns why only a full sync can reconcile the two
// collections, or "" when a merge is possible.
func fastMergeBlocked(local storage.Meta, remote Meta) string {
	cp := local.Checkpoint
	switch {
	case !cp.Synced():
		return "collection has never been synced"
	case local.ForceFull:
		return "a full sync was requested"
	case local.SchemaMod != remote.SchemaMod || local.SchemaMod != cp.SchemaMod:
		return "collection structure changed"
	case local.USN < cp.LocalUSN:
		return "local change counter went backwards"
	case remote.USN < cp.RemoteUSN:
		return "remote change counter went backwards"
	}
	return ""
}

// commitInSync records a checkpoint when both sides already match.
func (r *Reconciler) commitInSync(ctx context.Context, tx *storage.Tx, local storage.Meta, remote Meta) (Result, error) {
	cp := domain.Checkpoint{
		LocalUSN:  local.USN,
		RemoteUSN: remote.USN,
		SchemaMod: remote.SchemaMod,
		SyncedAt:  r.clock.Now().UnixMilli(),
	}
	if err := tx.SetSchemaMod(ctx, remote.SchemaMod); err != nil {
		return Result{}, err
	}
	if err := tx.SetCheckpoint(ctx, cp); err != nil {
		return Result{}, err
	}
	if err := tx.Commit(); err != nil {
		return Result{}, err
	}
	r.logger.Info("collections already in sync", "usn", local.USN, "remote_usn", remote.USN)
	return Result{Outcome: NoChanges, Checkpoint: cp}, nil
}

func (r *Reconciler) flagFullSync(ctx context.Context) {
	bg := context.WithoutCancel(ctx)
	err := r.db.Update(bg, func(tx *storage.Tx) error {
		return tx.SetForceFull(bg, true)
	})
	if err != nil {
		r.logger.Error("failed to flag collection for full sync", "error", err)
	}
}

// merge exchanges changes since the checkpoint and commits tx. On failure
// the remote session is aborted and tx is left for the caller to roll back.
func (r *Reconciler) merge(ctx context.Context, tx *storage.Tx, local storage.Meta) (res Result, err error) {
	cp := local.Checkpoint
	pending, err := changes.Since(ctx, tx, cp.LocalUSN)
	if err != nil {
		return Result{}, err
	}

	start, err := r.remote.Start(ctx, StartRequest{Since: cp.RemoteUSN, BatchSize: r.batchSize})
	if err != nil {
		return Result{}, err
	}
	defer func() {
		if err != nil {
			if abortErr := r.remote.Abort(context.WithoutCancel(ctx), start.Session); abortErr != nil {
				r.logger.Warn("failed to abort remote session", "session", start.Session, "error", abortErr)
			}
		}
	}()

	m := newMerger(pending)
	for i := 0; ; i++ {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		batch, err := r.remote.Pull(ctx, PullRequest{Session: start.Session, Index: i})
		if err != nil {
			return Result{}, err
		}
		if !batch.Changes.Empty() {
			usn, err := tx.AllocateUSN(ctx)
			if err != nil {
				return Result{}, err
			}
			if err := m.apply(ctx, tx, batch.Changes, usn); err != nil {
				return Result{}, err
			}
			res.Pulled += batch.Changes.Len()
		}
		if !batch.More {
			break
		}
	}

	outgoing := m.outgoing()
	for _, b := range outgoing.Batches(r.batchSize) {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		if err := r.remote.Push(ctx, PushRequest{Session: start.Session, Changes: b}); err != nil {
			return Result{}, err
		}
	}
	res.Pushed = outgoing.Len()

	sum, err := tx.Checksum(ctx)
	if err != nil {
		return Result{}, err
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	fin, err := r.remote.Finish(ctx, FinishRequest{Session: start.Session, Checksum: sum})
	if err != nil {
		return Result{}, err
	}

	meta, err := tx.Meta(ctx)
	if err != nil {
		return Result{}, err
	}
	res.Checkpoint = domain.Checkpoint{
		LocalUSN:  meta.USN,
		RemoteUSN: fin.USN,
		SchemaMod: local.SchemaMod,
		SyncedAt:  r.clock.Now().UnixMilli(),
	}
	if err := tx.SetCheckpoint(ctx, res.Checkpoint); err != nil {
		return Result{}, err
	}
	if err := tx.Commit(); err != nil {
		return Result{}, err
	}

	res.Outcome = Merged
	res.Conflicts = m.conflicts
	for _, c := range res.Conflicts {
		r.logger.Warn("concurrent edit resolved", "kind", c.Kind, "id", c.ID, "winner", c.Winner,
			"local_modified", c.LocalModified, "remote_modified", c.RemoteModified)
	}
	r.logger.Info("sync merged", "pulled", res.Pulled, "pushed", res.Pushed,
		"conflicts", len(res.Conflicts), "usn", res.Checkpoint.LocalUSN, "remote_usn", res.Checkpoint.RemoteUSN)
	return res, nil
}

type graveKey struct {
	kind domain.GraveKind
	oid  int64
}

// merger resolves remote changes against the local changes made since the
// last sync.
type merger struct {
	cards  map[domain.CardID]domain.Card
	notes  map[domain.NoteID]domain.Note
	graves map[graveKey]domain.Grave
	revlog []domain.ReviewLogEntry

	// merged notes must be sent back even when the remote won.
	merged    map[domain.NoteID]domain.Note
	conflicts []Conflict
}

func newMerger(local changes.Set) *merger {
	m := &merger{
		cards:  make(map[domain.CardID]domain.Card, len(local.Cards)),
		notes:  make(map[domain.NoteID]domain.Note, len(local.Notes)),
		graves: make(map[graveKey]domain.Grave, len(local.Graves)),
		revlog: local.RevLog,
		merged: make(map[domain.NoteID]domain.Note),
	}
	for _, c := range local.Cards {
		m.cards[c.ID] = c
	}
	for _, n := range local.Notes {
		m.notes[n.ID] = n
	}
	for _, g := range local.Graves {
		m.graves[graveKey{g.Kind, g.OID}] = g
	}
	return m
}

func (m *merger) apply(ctx context.Context, tx *storage.Tx, remote changes.Set, usn int64) error {
	for _, g := range remote.Graves {
		if err := m.applyGrave(ctx, tx, g, usn); err != nil {
			return err
		}
	}
	for _, n := range remote.Notes {
		if err := m.applyNote(ctx, tx, n, usn); err != nil {
			return err
		}
	}
	for _, c := range remote.Cards {
		if err := m.applyCard(ctx, tx, c, usn); err != nil {
			return err
		}
	}
	for _, e := range remote.RevLog {
		e.USN = usn
		if err := tx.AddReviewLog(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

func (m *merger) applyGrave(ctx context.Context, tx *storage.Tx, g domain.Grave, usn int64) error {
	switch g.Kind {
	case domain.GraveNote:
		if _, ok := m.notes[domain.NoteID(g.OID)]; ok {
			return &structuralConflict{fmt.Sprintf("note %d deleted remotely but modified locally", g.OID)}
		}
		return tx.DeleteNote(ctx, domain.NoteID(g.OID), usn)
	default:
		if _, ok := m.cards[domain.CardID(g.OID)]; ok {
			return &structuralConflict{fmt.Sprintf("card %d deleted remotely but modified locally", g.OID)}
		}
		return tx.DeleteCard(ctx, domain.CardID(g.OID), usn)
	}
}

func (m *merger) applyNote(ctx context.Context, tx *storage.Tx, remote domain.Note, usn int64) error {
	if _, ok := m.graves[graveKey{domain.GraveNote, int64(remote.ID)}]; ok {
		return &structuralConflict{fmt.Sprintf("note %d deleted locally but modified remotely", remote.ID)}
	}
	result := remote
	if local, ok := m.notes[remote.ID]; ok {
		winner := "remote"
		if local.ModifiedAt > remote.ModifiedAt {
			winner = "local"
			result = local
		}
		result.Tags = domain.UnionTags(local.Tags, remote.Tags)
		m.conflict("note", int64(remote.ID), winner, local.ModifiedAt, remote.ModifiedAt)
		delete(m.notes, remote.ID)
		if winner == "local" || !slices.Equal(result.Tags, domain.NormalizeTags(remote.Tags)) {
			m.merged[remote.ID] = result
		}
	}
	result.USN = usn
	return tx.PutNote(ctx, result)
}

func (m *merger) applyCard(ctx context.Context, tx *storage.Tx, remote domain.Card, usn int64) error {
	if _, ok := m.graves[graveKey{domain.GraveCard, int64(remote.ID)}]; ok {
		return &structuralConflict{fmt.Sprintf("card %d deleted locally but modified remotely", remote.ID)}
	}
	local, changed := m.cards[remote.ID]
	if !changed {
		existing, err := tx.GetCard(ctx, remote.ID)
		switch {
		case err == nil:
			local = existing
		case !errors.Is(err, storage.ErrNotFound):
			return err
		}
	}
	if local.ID != 0 && local.NoteID != remote.NoteID {
		return &structuralConflict{fmt.Sprintf("card %d belongs to note %d locally and note %d remotely", remote.ID, local.NoteID, remote.NoteID)}
	}
	if changed {
		if local.ModifiedAt > remote.ModifiedAt {
			m.conflict("card", int64(remote.ID), "local", local.ModifiedAt, remote.ModifiedAt)
			return nil
		}
		m.conflict("card", int64(remote.ID), "remote", local.ModifiedAt, remote.ModifiedAt)
		delete(m.cards, remote.ID)
	}
	remote.USN = usn
	return tx.PutCard(ctx, remote)
}

func (m *merger) conflict(kind string, id int64, winner string, localMod, remoteMod int64) {
	m.conflicts = append(m.conflicts, Conflict{Kind: kind, ID: id, Winner: winner, LocalModified: localMod, RemoteModified: remoteMod})
}

// outgoing is what the remote still needs: local changes that were not
// overridden, plus merged notes.
func (m *merger) outgoing() changes.Set {
	var out changes.Set
	for _, g := range m.graves {
		out.Graves = append(out.Graves, g)
	}
	for _, n := range m.notes {
		out.Notes = append(out.Notes, n)
	}
	for _, n := range m.merged {
		out.Notes = append(out.Notes, n)
	}
	for _, c := range m.cards {
		out.Cards = append(out.Cards, c)
	}
	out.RevLog = m.revlog

	slices.SortFunc(out.Graves, func(a, b domain.Grave) int {
		return cmp.Or(cmp.Compare(a.Kind, b.Kind), cmp.Compare(a.OID, b.OID))
	})
	slices.SortFunc(out.Notes, func(a, b domain.Note) int { return cmp.Compare(a.ID, b.ID) })
	slices.SortFunc(out.Cards, func(a, b domain.Card) int { return cmp.Compare(a.ID, b.ID) })
	return out
}
