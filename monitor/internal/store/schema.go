package store

// Schema creates every argus table. It is idempotent.
const Schema = `
-- Two generations (oldest, latest) per document.
CREATE TABLE IF NOT EXISTS snapshots (
    id              TEXT PRIMARY KEY,
    url             TEXT NOT NULL,
    content_type    TEXT NOT NULL,
    captured_at     INTEGER NOT NULL,
    language        TEXT NOT NULL DEFAULT '',
    original        TEXT NOT NULL,
    text            TEXT NOT NULL,
    shingle_length  INTEGER NOT NULL,
    shingles_json   TEXT NOT NULL DEFAULT '[]',
    signature       BLOB NOT NULL,
    hash            TEXT NOT NULL DEFAULT '',
    etag            TEXT NOT NULL DEFAULT '',
    last_modified   TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_snapshots_doc ON snapshots(url, content_type, captured_at);

-- The live diff set of a document, replaced by each detection cycle.
CREATE TABLE IF NOT EXISTS diffs (
    url             TEXT NOT NULL,
    content_type    TEXT NOT NULL,
    seq             INTEGER NOT NULL,
    event           TEXT NOT NULL,
    text            TEXT NOT NULL,
    start_index     INTEGER NOT NULL,
    end_index       INTEGER NOT NULL,
    PRIMARY KEY (url, content_type, seq)
);

CREATE TABLE IF NOT EXISTS sessions (
    client_url          TEXT NOT NULL,
    client_content_type TEXT NOT NULL,
    token               TEXT NOT NULL,
    created_at          INTEGER NOT NULL,
    PRIMARY KEY (client_url, client_content_type)
);

CREATE TABLE IF NOT EXISTS subscriptions (
    id                  TEXT PRIMARY KEY,
    doc_url             TEXT NOT NULL,
    doc_content_type    TEXT NOT NULL,
    client_url          TEXT NOT NULL,
    client_content_type TEXT NOT NULL,
    keywords_json       TEXT NOT NULL,
    ignore_added        INTEGER NOT NULL DEFAULT 0,
    ignore_removed      INTEGER NOT NULL DEFAULT 0,
    stopwords           INTEGER NOT NULL DEFAULT 1,
    stemming            INTEGER NOT NULL DEFAULT 1,
    ignore_case         INTEGER NOT NULL DEFAULT 1,
    snippet_offset      INTEGER NOT NULL DEFAULT 0,
    language            TEXT NOT NULL DEFAULT '',
    interval_ms         INTEGER NOT NULL,
    created_at          INTEGER NOT NULL,
    UNIQUE (doc_url, doc_content_type, client_url, client_content_type)
);
`
