package storage

// SchemaVersion is the collection format version. Sync refuses to merge
// collections with different versions.
const SchemaVersion = 2

const schema = `
-- The 'col' table holds the single collection meta row.
CREATE TABLE IF NOT EXISTS col (
    id INTEGER PRIMARY KEY CHECK (id = 1),
    created INTEGER NOT NULL,            -- unix seconds
    created_mins_west INTEGER NOT NULL,  -- UTC offset at creation
    schema_version INTEGER NOT NULL,
    schema_mod INTEGER NOT NULL,         -- unix ms of the last structural change
    usn INTEGER NOT NULL DEFAULT 0,      -- monotonic change counter
    last_local_usn INTEGER NOT NULL DEFAULT 0,
    last_remote_usn INTEGER NOT NULL DEFAULT 0,
    last_schema_mod INTEGER NOT NULL DEFAULT 0,
    last_sync INTEGER NOT NULL DEFAULT 0,
    force_full INTEGER NOT NULL DEFAULT 0,
    last_unburied INTEGER NOT NULL DEFAULT 0,
    next_position INTEGER NOT NULL DEFAULT 1
);

-- The 'notes' table stores user content; fields are joined with 0x1f.
CREATE TABLE IF NOT EXISTS notes (
    id INTEGER PRIMARY KEY,
    guid TEXT NOT NULL,
    fields TEXT NOT NULL,
    tags TEXT NOT NULL DEFAULT '',
    csum INTEGER NOT NULL DEFAULT 0,
    mtime INTEGER NOT NULL,
    usn INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS ix_notes_usn ON notes (usn);
CREATE INDEX IF NOT EXISTS ix_notes_guid ON notes (guid);

-- The 'cards' table stores the scheduling state of each card.
CREATE TABLE IF NOT EXISTS cards (
    id INTEGER PRIMARY KEY,
    nid INTEGER NOT NULL,
    did INTEGER NOT NULL,
    ord INTEGER NOT NULL,
    type INTEGER NOT NULL,   -- 0: New, 1: Learning, 2: Review, 3: Relearning
    queue INTEGER NOT NULL,  -- 0: New, 1: Learning, 2: Review, 3: Suspended, 4: Buried
    due INTEGER NOT NULL,
    ivl INTEGER NOT NULL DEFAULT 0,
    factor INTEGER NOT NULL DEFAULT 0,
    lapses INTEGER NOT NULL DEFAULT 0,
    reps INTEGER NOT NULL DEFAULT 0,
    step INTEGER NOT NULL DEFAULT 0,
    mtime INTEGER NOT NULL,
    usn INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS ix_cards_nid ON cards (nid);
CREATE INDEX IF NOT EXISTS ix_cards_usn ON cards (usn);
CREATE INDEX IF NOT EXISTS ix_cards_sched ON cards (queue, due);

-- The 'revlog' table is the append-only answer history.
CREATE TABLE IF NOT EXISTS revlog (
    id INTEGER NOT NULL,     -- answer time, unix ms
    cid INTEGER NOT NULL,
    usn INTEGER NOT NULL,
    grade INTEGER NOT NULL,
    kind INTEGER NOT NULL,
    ivl_before INTEGER NOT NULL,
    ivl_after INTEGER NOT NULL,
    ease_before INTEGER NOT NULL,
    ease_after INTEGER NOT NULL,
    PRIMARY KEY (id, cid)
);
CREATE INDEX IF NOT EXISTS ix_revlog_usn ON revlog (usn);
CREATE INDEX IF NOT EXISTS ix_revlog_cid ON revlog (cid);

-- The 'graves' table records deletions so sync can propagate them.
CREATE TABLE IF NOT EXISTS graves (
    oid INTEGER NOT NULL,
    kind INTEGER NOT NULL,   -- 0: card, 1: note
    usn INTEGER NOT NULL,
    PRIMARY KEY (oid, kind)
);

-- Daily study counts are derived from revlog; older collections kept them here.
DROP TABLE IF EXISTS deck_days;

-- The 'sources' table tracks where ingested notes come from, either a local
-- directory or a git repository.
CREATE TABLE IF NOT EXISTS sources (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    path TEXT NOT NULL UNIQUE,
    type TEXT NOT NULL DEFAULT 'local',
    last_scanned INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS note_sources (
    nid INTEGER PRIMARY KEY,
    source_id INTEGER NOT NULL
);
`
