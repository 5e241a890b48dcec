package store

// migration is one idempotent, monotonic schema step. Migrations never
// rewrite history; a later migration that needs to change a column adds a
// new one and leaves the old one in place.
type migration struct {
	version int
	sqlite  string
	postgres string
}

// migrations is applied in order, once, tracked by schema_migrations.
// Migration 2 adds the stable_id column and its index to databases that
// predate content-addressed symbol identity.
var migrations = []migration{
	{
		version: 1,
		sqlite: `
			CREATE TABLE IF NOT EXISTS meta (
				key   TEXT PRIMARY KEY,
				value TEXT NOT NULL
			);

			CREATE TABLE IF NOT EXISTS graph_versions (
				id         INTEGER PRIMARY KEY AUTOINCREMENT,
				created_ts DATETIME NOT NULL,
				commit_sha TEXT
			);

			CREATE TABLE IF NOT EXISTS files (
				id              INTEGER PRIMARY KEY AUTOINCREMENT,
				path            TEXT NOT NULL UNIQUE,
				hash            TEXT NOT NULL,
				language        TEXT NOT NULL,
				size            INTEGER NOT NULL,
				modified        DATETIME NOT NULL,
				deleted_version INTEGER
			);

			CREATE TABLE IF NOT EXISTS symbols (
				id            INTEGER PRIMARY KEY AUTOINCREMENT,
				file_id       INTEGER NOT NULL REFERENCES files(id) ON DELETE CASCADE,
				kind          TEXT NOT NULL,
				name          TEXT NOT NULL,
				qualname      TEXT NOT NULL,
				start_line    INTEGER NOT NULL,
				start_col     INTEGER NOT NULL,
				end_line      INTEGER NOT NULL,
				end_col       INTEGER NOT NULL,
				start_byte    INTEGER NOT NULL,
				end_byte      INTEGER NOT NULL,
				signature     TEXT,
				docstring     TEXT,
				graph_version INTEGER NOT NULL,
				commit_sha    TEXT
			);

			CREATE TABLE IF NOT EXISTS edges (
				id                  INTEGER PRIMARY KEY AUTOINCREMENT,
				file_id             INTEGER NOT NULL REFERENCES files(id) ON DELETE CASCADE,
				source_symbol_id    INTEGER REFERENCES symbols(id) ON DELETE SET NULL,
				target_symbol_id    INTEGER REFERENCES symbols(id) ON DELETE SET NULL,
				kind                TEXT NOT NULL,
				target_qualname     TEXT,
				detail              TEXT,
				evidence_snippet    TEXT,
				evidence_start_line INTEGER,
				evidence_end_line   INTEGER,
				confidence          REAL,
				graph_version       INTEGER NOT NULL,
				commit_sha          TEXT,
				trace_id            TEXT,
				span_id             TEXT,
				event_ts            DATETIME
			);

			CREATE TABLE IF NOT EXISTS file_metrics (
				file_id INTEGER PRIMARY KEY REFERENCES files(id) ON DELETE CASCADE,
				loc     INTEGER NOT NULL,
				blank   INTEGER NOT NULL,
				comment INTEGER NOT NULL,
				code    INTEGER NOT NULL
			);

			CREATE TABLE IF NOT EXISTS symbol_metrics (
				symbol_id       INTEGER PRIMARY KEY REFERENCES symbols(id) ON DELETE CASCADE,
				file_id         INTEGER NOT NULL REFERENCES files(id) ON DELETE CASCADE,
				loc             INTEGER NOT NULL,
				complexity      INTEGER NOT NULL,
				duplication_hash TEXT
			);

			CREATE TABLE IF NOT EXISTS diagnostics (
				id              INTEGER PRIMARY KEY AUTOINCREMENT,
				file_id         INTEGER REFERENCES files(id) ON DELETE CASCADE,
				path            TEXT NOT NULL,
				line            INTEGER,
				column          INTEGER,
				end_line        INTEGER,
				end_column      INTEGER,
				severity        TEXT,
				message         TEXT NOT NULL,
				rule_id         TEXT,
				tool            TEXT,
				snippet         TEXT,
				diagnostic_hash TEXT NOT NULL UNIQUE,
				created_ts      DATETIME NOT NULL
			);

			CREATE TABLE IF NOT EXISTS co_changes (
				file_a          TEXT NOT NULL,
				file_b          TEXT NOT NULL,
				co_change_count INTEGER NOT NULL,
				total_commits_a INTEGER NOT NULL,
				total_commits_b INTEGER NOT NULL,
				confidence      REAL NOT NULL,
				last_commit_sha TEXT,
				last_commit_ts  DATETIME,
				mined_at        DATETIME NOT NULL,
				UNIQUE(file_a, file_b)
			);

			CREATE INDEX IF NOT EXISTS idx_symbols_file ON symbols(file_id);
			CREATE INDEX IF NOT EXISTS idx_symbols_qualname ON symbols(qualname);
			CREATE INDEX IF NOT EXISTS idx_symbols_version ON symbols(graph_version);
			CREATE INDEX IF NOT EXISTS idx_edges_source ON edges(source_symbol_id);
			CREATE INDEX IF NOT EXISTS idx_edges_target ON edges(target_symbol_id);
			CREATE INDEX IF NOT EXISTS idx_edges_target_qualname ON edges(target_qualname);
			CREATE INDEX IF NOT EXISTS idx_edges_version ON edges(graph_version);
			CREATE INDEX IF NOT EXISTS idx_diagnostics_path ON diagnostics(path);
		`,
		postgres: `
			CREATE TABLE IF NOT EXISTS meta (
				key   TEXT PRIMARY KEY,
				value TEXT NOT NULL
			);

			CREATE TABLE IF NOT EXISTS graph_versions (
				id         BIGSERIAL PRIMARY KEY,
				created_ts TIMESTAMPTZ NOT NULL,
				commit_sha TEXT
			);

			CREATE TABLE IF NOT EXISTS files (
				id              BIGSERIAL PRIMARY KEY,
				path            TEXT NOT NULL UNIQUE,
				hash            TEXT NOT NULL,
				language        TEXT NOT NULL,
				size            BIGINT NOT NULL,
				modified        TIMESTAMPTZ NOT NULL,
				deleted_version BIGINT
			);

			CREATE TABLE IF NOT EXISTS symbols (
				id            BIGSERIAL PRIMARY KEY,
				file_id       BIGINT NOT NULL REFERENCES files(id) ON DELETE CASCADE,
				kind          TEXT NOT NULL,
				name          TEXT NOT NULL,
				qualname      TEXT NOT NULL,
				start_line    INTEGER NOT NULL,
				start_col     INTEGER NOT NULL,
				end_line      INTEGER NOT NULL,
				end_col       INTEGER NOT NULL,
				start_byte    INTEGER NOT NULL,
				end_byte      INTEGER NOT NULL,
				signature     TEXT,
				docstring     TEXT,
				graph_version BIGINT NOT NULL,
				commit_sha    TEXT
			);

			CREATE TABLE IF NOT EXISTS edges (
				id                  BIGSERIAL PRIMARY KEY,
				file_id             BIGINT NOT NULL REFERENCES files(id) ON DELETE CASCADE,
				source_symbol_id    BIGINT REFERENCES symbols(id) ON DELETE SET NULL,
				target_symbol_id    BIGINT REFERENCES symbols(id) ON DELETE SET NULL,
				kind                TEXT NOT NULL,
				target_qualname     TEXT,
				detail              TEXT,
				evidence_snippet    TEXT,
				evidence_start_line INTEGER,
				evidence_end_line   INTEGER,
				confidence          DOUBLE PRECISION,
				graph_version       BIGINT NOT NULL,
				commit_sha          TEXT,
				trace_id            TEXT,
				span_id             TEXT,
				event_ts            TIMESTAMPTZ
			);

			CREATE TABLE IF NOT EXISTS file_metrics (
				file_id BIGINT PRIMARY KEY REFERENCES files(id) ON DELETE CASCADE,
				loc     INTEGER NOT NULL,
				blank   INTEGER NOT NULL,
				comment INTEGER NOT NULL,
				code    INTEGER NOT NULL
			);

			CREATE TABLE IF NOT EXISTS symbol_metrics (
				symbol_id        BIGINT PRIMARY KEY REFERENCES symbols(id) ON DELETE CASCADE,
				file_id          BIGINT NOT NULL REFERENCES files(id) ON DELETE CASCADE,
				loc              INTEGER NOT NULL,
				complexity       INTEGER NOT NULL,
				duplication_hash TEXT
			);

			CREATE TABLE IF NOT EXISTS diagnostics (
				id              BIGSERIAL PRIMARY KEY,
				file_id         BIGINT REFERENCES files(id) ON DELETE CASCADE,
				path            TEXT NOT NULL,
				line            INTEGER,
				column_no       INTEGER,
				end_line        INTEGER,
				end_column      INTEGER,
				severity        TEXT,
				message         TEXT NOT NULL,
				rule_id         TEXT,
				tool            TEXT,
				snippet         TEXT,
				diagnostic_hash TEXT NOT NULL UNIQUE,
				created_ts      TIMESTAMPTZ NOT NULL
			);

			CREATE TABLE IF NOT EXISTS co_changes (
				file_a          TEXT NOT NULL,
				file_b          TEXT NOT NULL,
				co_change_count INTEGER NOT NULL,
				total_commits_a INTEGER NOT NULL,
				total_commits_b INTEGER NOT NULL,
				confidence      DOUBLE PRECISION NOT NULL,
				last_commit_sha TEXT,
				last_commit_ts  TIMESTAMPTZ,
				mined_at        TIMESTAMPTZ NOT NULL,
				UNIQUE(file_a, file_b)
			);

			CREATE INDEX IF NOT EXISTS idx_symbols_file ON symbols(file_id);
			CREATE INDEX IF NOT EXISTS idx_symbols_qualname ON symbols(qualname);
			CREATE INDEX IF NOT EXISTS idx_symbols_version ON symbols(graph_version);
			CREATE INDEX IF NOT EXISTS idx_edges_source ON edges(source_symbol_id);
			CREATE INDEX IF NOT EXISTS idx_edges_target ON edges(target_symbol_id);
			CREATE INDEX IF NOT EXISTS idx_edges_target_qualname ON edges(target_qualname);
			CREATE INDEX IF NOT EXISTS idx_edges_version ON edges(graph_version);
			CREATE INDEX IF NOT EXISTS idx_diagnostics_path ON diagnostics(path);
		`,
	},
	{
		// Pre-existing databases predate stable_id; add the column and its
		// index here rather than in the initial schema so upgrading in
		// place is a normal migration, not a special-cased backfill.
		version: 2,
		sqlite: `
			ALTER TABLE symbols ADD COLUMN stable_id TEXT;
			CREATE INDEX IF NOT EXISTS idx_symbols_stable_id ON symbols(stable_id);
		`,
		postgres: `
			ALTER TABLE symbols ADD COLUMN IF NOT EXISTS stable_id TEXT;
			CREATE INDEX IF NOT EXISTS idx_symbols_stable_id ON symbols(stable_id);
		`,
	},
}
