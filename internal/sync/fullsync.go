package sync

import (
	"context"
	"fmt"

	"github.com/conorfennell/knoldeck/internal/domain"
	"github.com/conorfennell/knoldeck/internal/storage"
)

// Choice is the answer to a full sync prompt.
type Choice int

const (
	// Cancel leaves both collections untouched.
	Cancel Choice = iota
	// Upload replaces the remote collection with the local one.
	Upload
	// Download replaces the local collection with the remote one.
	Download
)

func (c Choice) String() string {
	switch c {
	case Upload:
		return "upload"
	case Download:
		return "download"
	}
	return "cancel"
}

// Prompt explains why a full sync is needed. One side's unsynced changes
// will be lost.
type Prompt struct {
	Reason string
	Local  storage.Counts
	Remote Meta
	// LocalUSN is the local usn when the prompt was made. A full sync
	// confirmed for this prompt is refused once either side moved on.
	LocalUSN int64
}

// Confirm decides which side wins a full sync. It is called with no
// transaction open and outside the sync timeout, so it may wait for a user.
type Confirm func(ctx context.Context, p Prompt) (Choice, error)

// Always returns a Confirm that answers c without asking.
func Always(c Choice) Confirm {
	return func(context.Context, Prompt) (Choice, error) { return c, nil }
}

// FullSyncError is returned when only a full sync can reconcile the two
// collections and nobody chose a direction. It matches ErrFullSyncRequired.
type FullSyncError struct {
	Prompt Prompt
}

func (e *FullSyncError) Error() string {
	return fmt.Sprintf("%v: %s", ErrFullSyncRequired, e.Prompt.Reason)
}

func (e *FullSyncError) Unwrap() error { return ErrFullSyncRequired }

// fullSync replaces one whole collection with the other when one side is
// empty. Otherwise it returns a FullSyncError carrying the prompt.
func (r *Reconciler) fullSync(ctx context.Context, tx *storage.Tx, remote Meta, reason string) (Result, error) {
	counts, err := tx.Counts(ctx)
	if err != nil {
		return Result{}, err
	}

	var choice Choice
	switch {
	case remote.Empty && !counts.Empty():
		choice = Upload
	case counts.Empty() && !remote.Empty:
		choice = Download
	default:
		local, err := tx.Meta(ctx)
		if err != nil {
			return Result{}, err
		}
		return Result{}, &FullSyncError{Prompt: Prompt{Reason: reason, Local: counts, Remote: remote, LocalUSN: local.USN}}
	}
	r.logger.Info("full sync", "reason", reason, "choice", choice.String())
	return r.apply(ctx, tx, choice)
}

func (r *Reconciler) apply(ctx context.Context, tx *storage.Tx, choice Choice) (Result, error) {
	switch choice {
	case Upload:
		return r.upload(ctx, tx)
	case Download:
		return r.download(ctx, tx)
	}
	return Result{}, fmt.Errorf("%w: no direction chosen", ErrFullSyncRequired)
}

// FullSync runs a full sync confirmed for p. Both collections must still be
// as they were when p was made; otherwise the sync is refused with
// ErrFullSyncRequired and the caller should ask again.
func (r *Reconciler) FullSync(ctx context.Context, choice Choice, p Prompt) (Result, error) {
	if choice == Cancel {
		return Result{}, &FullSyncError{Prompt: p}
	}
	ctx, cancel := r.bounded(ctx)
	defer cancel()

	remote, err := r.remote.Meta(ctx)
	if err != nil {
		return Result{}, err
	}
	if remote.USN != p.Remote.USN || remote.Checksum != p.Remote.Checksum {
		return Result{}, fmt.Errorf("%w: remote changed while waiting for confirmation", ErrFullSyncRequired)
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return Result{}, err
	}
	defer tx.Rollback()

	local, err := tx.Meta(ctx)
	if err != nil {
		return Result{}, err
	}
	if local.USN != p.LocalUSN {
		return Result{}, fmt.Errorf("%w: local collection changed while waiting for confirmation", ErrFullSyncRequired)
	}
	r.logger.Info("full sync", "reason", p.Reason, "choice", choice.String())
	return r.apply(ctx, tx, choice)
}

func (r *Reconciler) upload(ctx context.Context, tx *storage.Tx) (Result, error) {
	snap, err := tx.Snapshot(ctx)
	if err != nil {
		return Result{}, err
	}
	meta, err := tx.Meta(ctx)
	if err != nil {
		return Result{}, err
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	remoteUSN, err := r.remote.Upload(ctx, snap)
	if err != nil {
		return Result{}, err
	}
	cp := domain.Checkpoint{
		LocalUSN:  meta.USN,
		RemoteUSN: remoteUSN,
		SchemaMod: snap.SchemaMod,
		SyncedAt:  r.clock.Now().UnixMilli(),
	}
	if err := tx.SetCheckpoint(ctx, cp); err != nil {
		return Result{}, err
	}
	if err := tx.Commit(); err != nil {
		return Result{}, err
	}
	pushed := len(snap.Cards) + len(snap.Notes) + len(snap.RevLog)
	return Result{Outcome: Uploaded, Pushed: pushed, Checkpoint: cp}, nil
}

func (r *Reconciler) download(ctx context.Context, tx *storage.Tx) (Result, error) {
	remote, err := r.remote.Download(ctx)
	if err != nil {
		return Result{}, err
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	usn, err := tx.AllocateUSN(ctx)
	if err != nil {
		return Result{}, err
	}
	if err := tx.Replace(ctx, remote.Collection, usn); err != nil {
		return Result{}, err
	}
	sum, err := tx.Checksum(ctx)
	if err != nil {
		return Result{}, err
	}
	if want := storage.SnapshotChecksum(remote.Collection); sum != want {
		return Result{}, fmt.Errorf("%w: downloaded %s, stored %s", ErrChecksumMismatch, want, sum)
	}
	cp := domain.Checkpoint{
		LocalUSN:  usn,
		RemoteUSN: remote.USN,
		SchemaMod: remote.Collection.SchemaMod,
		SyncedAt:  r.clock.Now().UnixMilli(),
	}
	if err := tx.SetCheckpoint(ctx, cp); err != nil {
		return Result{}, err
	}
	if err := tx.Commit(); err != nil {
		return Result{}, err
	}
	c := remote.Collection
	return Result{Outcome: Downloaded, Pulled: len(c.Cards) + len(c.Notes) + len(c.RevLog), Checkpoint: cp}, nil
}
