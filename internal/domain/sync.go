package domain

// GraveKind identifies what a deletion tombstone refers to.
type GraveKind int

const (
	GraveCard GraveKind = iota
	GraveNote
)

// Grave records a deletion so it can be propagated by sync.
type Grave struct {
	OID  int64     `json:"oid"`
	Kind GraveKind `json:"kind"`
	USN  int64     `json:"usn"`
}

// Checkpoint marks the last point at which a collection was known to be
// consistent with its sync peer. LocalUSN is this collection's counter,
// RemoteUSN the peer's, both as of the last successful sync.
type Checkpoint struct {
	LocalUSN  int64 `json:"local_usn"`
	RemoteUSN int64 `json:"remote_usn"`
	SchemaMod int64 `json:"schema_mod"`
	SyncedAt  int64 `json:"synced_at"` // unix milliseconds, zero when never synced
}

// Synced reports whether the checkpoint has ever been committed.
func (c Checkpoint) Synced() bool {
	return c.SyncedAt > 0
}
