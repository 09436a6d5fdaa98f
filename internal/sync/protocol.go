// Package sync reconciles a local collection with a remote one.
//
// A sync first compares schema versions and collection checksums. When both
// sides have synced before and nothing structural changed, only the entities
// modified since the last checkpoint are exchanged and merged. Otherwise the
// whole collection is sent one way, after the user confirms which side wins.
package sync

import (
	"context"
	"errors"

	"github.com/conorfennell/knoldeck/internal/changes"
	"github.com/conorfennell/knoldeck/internal/storage"
)

var (
	// ErrSchemaMismatch means the two collections use different formats.
	// It is fatal until one side is upgraded.
	ErrSchemaMismatch = errors.New("sync: collection schema versions differ")
	// ErrNetworkFailure wraps transport errors. Nothing was committed and
	// the sync can be retried.
	ErrNetworkFailure = errors.New("sync: network failure")
	// ErrChecksumMismatch means the collections differed after a merge. The
	// next sync will be a full sync.
	ErrChecksumMismatch = errors.New("sync: checksum mismatch after merge")
	// ErrFullSyncRequired is returned when a full sync is needed and was not
	// confirmed.
	ErrFullSyncRequired = errors.New("sync: full sync required")
	// ErrBusy is returned by a remote that is already syncing with someone else.
	ErrBusy = errors.New("sync: remote is busy with another session")
	// ErrUnknownSession is returned for an expired or unknown session id.
	ErrUnknownSession = errors.New("sync: unknown session")
)

// Meta describes a collection at the start of a sync.
type Meta struct {
	SchemaVersion int    `json:"schema_version"`
	SchemaMod     int64  `json:"schema_mod"`
	USN           int64  `json:"usn"`
	Checksum      string `json:"checksum"`
	Empty         bool   `json:"empty"`
}

// StartRequest opens a merge session.
type StartRequest struct {
	// Since is the remote usn of the client's last checkpoint.
	Since     int64 `json:"since"`
	BatchSize int   `json:"batch_size"`
}

// StartResponse identifies a merge session.
type StartResponse struct {
	Session string `json:"session"`
	Batches int    `json:"batches"`
}

// PullRequest asks for one batch of remote changes.
type PullRequest struct {
	Session string `json:"session"`
	Index   int    `json:"index"`
}

// Batch is a chunk of changed entities.
type Batch struct {
	Changes changes.Set `json:"changes"`
	More    bool        `json:"more"`
}

// PushRequest stages a batch of local changes on the remote.
type PushRequest struct {
	Session string      `json:"session"`
	Changes changes.Set `json:"changes"`
}

// FinishRequest asks the remote to apply the staged changes. Checksum is the
// client's collection checksum after merging; the remote refuses to commit
// unless its own matches.
type FinishRequest struct {
	Session  string `json:"session"`
	Checksum string `json:"checksum"`
}

// FinishResponse carries the remote usn after the commit.
type FinishResponse struct {
	USN int64 `json:"usn"`
}

// Snapshot is a full collection in transit.
type Snapshot struct {
	Collection storage.Snapshot `json:"collection"`
	USN        int64            `json:"usn"`
}

// Remote is the other side of a sync.
type Remote interface {
	Meta(ctx context.Context) (Meta, error)
	Start(ctx context.Context, req StartRequest) (StartResponse, error)
	Pull(ctx context.Context, req PullRequest) (Batch, error)
	Push(ctx context.Context, req PushRequest) error
	Finish(ctx context.Context, req FinishRequest) (FinishResponse, error)
	Abort(ctx context.Context, session string) error
	Download(ctx context.Context) (Snapshot, error)
	// Upload replaces the remote collection and returns its new usn.
	Upload(ctx context.Context, snap storage.Snapshot) (int64, error)
}
