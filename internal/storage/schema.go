package storage

// MetaSchema is the SQL schema for the central _meta.db database.
const MetaSchema = `
CREATE TABLE IF NOT EXISTS projects (
    id          TEXT PRIMARY KEY,
    name        TEXT NOT NULL UNIQUE,
    description TEXT DEFAULT '',
    db_path     TEXT NOT NULL,
    status      TEXT NOT NULL DEFAULT 'active'
                CHECK(status IN ('active', 'archived')),
    created_at  TEXT NOT NULL DEFAULT (datetime('now')),
    updated_at  TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_projects_status ON projects(status);
CREATE INDEX IF NOT EXISTS idx_projects_name ON projects(name);
`

// ProjectSchema is the SQL schema for each per-project database.
//
// entity_versions is append-only apart from same-version amends: a row is
// the state of one base entity as of one project version. The version triple
// is copied onto each row so "greatest version <= V" can be answered from
// the index alone.
const ProjectSchema = `
CREATE TABLE IF NOT EXISTS project_versions (
    id          TEXT PRIMARY KEY,
    major       INTEGER NOT NULL CHECK(major >= 0),
    minor       INTEGER NOT NULL CHECK(minor >= 0),
    revision    INTEGER NOT NULL CHECK(revision >= 0),
    created_by  TEXT NOT NULL DEFAULT '',
    created_at  TEXT NOT NULL DEFAULT (datetime('now')),
    UNIQUE(major, minor, revision)
);

CREATE TABLE IF NOT EXISTS base_entities (
    id          TEXT PRIMARY KEY,
    kind        TEXT NOT NULL CHECK(kind IN ('artifact', 'trace_link')),
    entity_key  TEXT NOT NULL,
    created_at  TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS entity_versions (
    id                TEXT PRIMARY KEY,
    base_id           TEXT NOT NULL REFERENCES base_entities(id) ON DELETE CASCADE,
    kind              TEXT NOT NULL,
    version_id        TEXT NOT NULL REFERENCES project_versions(id) ON DELETE CASCADE,
    major             INTEGER NOT NULL,
    minor             INTEGER NOT NULL,
    revision          INTEGER NOT NULL,
    modification_type TEXT NOT NULL
                      CHECK(modification_type IN ('added', 'modified', 'removed')),
    content           BLOB,
    name              TEXT NOT NULL DEFAULT '',
    search_text       TEXT NOT NULL DEFAULT '',
    created_by        TEXT NOT NULL DEFAULT '',
    created_at        TEXT NOT NULL DEFAULT (datetime('now')),
    UNIQUE(base_id, version_id)
);

CREATE TABLE IF NOT EXISTS commit_errors (
    id          TEXT PRIMARY KEY,
    version_id  TEXT NOT NULL REFERENCES project_versions(id) ON DELETE CASCADE,
    kind        TEXT NOT NULL,
    entity_id   TEXT NOT NULL DEFAULT '',
    entity_name TEXT NOT NULL DEFAULT '',
    message     TEXT NOT NULL,
    created_at  TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS artifact_types (
    name        TEXT PRIMARY KEY,
    created_at  TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS trace_matrices (
    source_type TEXT NOT NULL,
    target_type TEXT NOT NULL,
    created_at  TEXT NOT NULL DEFAULT (datetime('now')),
    PRIMARY KEY(source_type, target_type)
);

CREATE VIRTUAL TABLE IF NOT EXISTS entity_versions_fts USING fts5(
    name,
    search_text,
    content='entity_versions',
    content_rowid='rowid'
);

CREATE INDEX IF NOT EXISTS idx_base_entities_key ON base_entities(kind, entity_key);
CREATE INDEX IF NOT EXISTS idx_entity_versions_name ON entity_versions(kind, name);
CREATE INDEX IF NOT EXISTS idx_entity_versions_kind ON entity_versions(kind, major, minor, revision);
CREATE INDEX IF NOT EXISTS idx_entity_versions_base ON entity_versions(base_id, major, minor, revision);
CREATE INDEX IF NOT EXISTS idx_commit_errors_version ON commit_errors(version_id);
`

// ProjectTriggers keeps entity_versions_fts in step with entity_versions.
const ProjectTriggers = `
CREATE TRIGGER IF NOT EXISTS entity_versions_ai AFTER INSERT ON entity_versions BEGIN
    INSERT INTO entity_versions_fts(rowid, name, search_text) VALUES (new.rowid, new.name, new.search_text);
END;
CREATE TRIGGER IF NOT EXISTS entity_versions_ad AFTER DELETE ON entity_versions BEGIN
    INSERT INTO entity_versions_fts(entity_versions_fts, rowid, name, search_text) VALUES('delete', old.rowid, old.name, old.search_text);
END;
CREATE TRIGGER IF NOT EXISTS entity_versions_au AFTER UPDATE ON entity_versions BEGIN
    INSERT INTO entity_versions_fts(entity_versions_fts, rowid, name, search_text) VALUES('delete', old.rowid, old.name, old.search_text);
    INSERT INTO entity_versions_fts(rowid, name, search_text) VALUES (new.rowid, new.name, new.search_text);
END;
`

// sqliteDSN is the connection string shared by the meta and project databases.
func sqliteDSN(dbPath string) string {
	return "file:" + dbPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)&_pragma=cache_size(-64000)"
}
