package store

import (
	"context"
	"database/sql"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
	"lukechampine.com/blake3"

	"github.com/graphidx/graphidx/internal/model"
	"github.com/graphidx/graphidx/internal/symboldiff"
)

// PostgresStore is the centrally hosted alternative to SQLiteStore,
// wired through pgx/v5's database/sql driver (pgx/v5/stdlib) rather than
// pgxpool directly: sqlx's struct-scanning gives byte-for-byte parity
// with the SQLite backend's query code (same row shapes, same helper
// functions), which a hand-rolled pgxpool.Rows scan loop per query would
// not, at the cost of not exercising pgxpool's own acquire/release API.
// See DESIGN.md for the tradeoff. The "N reader / 1 writer" contract is
// reproduced exactly as in SQLiteStore: a MaxOpenConns(1) write handle
// behind a mutex, and a read handle bounded by PoolConfig plus a
// semaphore that turns exhaustion into ErrPoolExhausted instead of an
// unbounded block.
type PostgresStore struct {
	writeDB *sqlx.DB
	writeMu sync.Mutex

	readDB         *sqlx.DB
	readSem        chan struct{}
	acquireTimeout time.Duration

	logger *logrus.Logger
}

// PostgresOptions mirrors SQLiteOptions for the reader pool; busy_timeout
// has no Postgres analog and is ignored.
type PostgresOptions struct {
	MaxReaders     int
	MinIdleReaders int
	AcquireTimeout time.Duration
}

// DefaultPostgresOptions mirrors DefaultSQLiteOptions' pool shape.
func DefaultPostgresOptions() PostgresOptions {
	return PostgresOptions{MaxReaders: 8, MinIdleReaders: 2, AcquireTimeout: 30 * time.Second}
}

// NewPostgresStore opens a dedicated single-connection writer and a
// bounded reader pool against the same DSN, then runs migrations.
func NewPostgresStore(dsn string, opts PostgresOptions, logger *logrus.Logger) (*PostgresStore, error) {
	if logger == nil {
		logger = logrus.New()
	}
	if opts.MaxReaders <= 0 {
		opts = DefaultPostgresOptions()
	}

	writeDB, err := sqlx.Connect("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres write handle: %w", err)
	}
	writeDB.SetMaxOpenConns(1)
	writeDB.SetMaxIdleConns(1)

	readDB, err := sqlx.Connect("pgx", dsn)
	if err != nil {
		writeDB.Close()
		return nil, fmt.Errorf("open postgres read pool: %w", err)
	}
	readDB.SetMaxOpenConns(opts.MaxReaders)
	readDB.SetMaxIdleConns(opts.MinIdleReaders)
	readDB.SetConnMaxLifetime(30 * time.Minute)

	s := &PostgresStore{
		writeDB:        writeDB,
		readDB:         readDB,
		readSem:        make(chan struct{}, opts.MaxReaders),
		acquireTimeout: opts.AcquireTimeout,
		logger:         logger,
	}

	if err := s.migrate(); err != nil {
		writeDB.Close()
		readDB.Close()
		return nil, fmt.Errorf("migrate schema: %w", err)
	}

	return s, nil
}

func (s *PostgresStore) migrate() error {
	if _, err := s.writeDB.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (version INTEGER PRIMARY KEY, applied_ts TIMESTAMPTZ NOT NULL)`); err != nil {
		return err
	}

	for _, m := range migrations {
		var applied int
		if err := s.writeDB.Get(&applied, s.writeDB.Rebind(`SELECT COUNT(*) FROM schema_migrations WHERE version = ?`), m.version); err != nil {
			return err
		}
		if applied > 0 {
			continue
		}

		s.logger.WithFields(logrus.Fields{"component": "store", "migration": m.version}).Info("applying migration")
		tx, err := s.writeDB.Beginx()
		if err != nil {
			return err
		}
		if _, err := tx.Exec(m.postgres); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d: %w", m.version, err)
		}
		if _, err := tx.Exec(tx.Rebind(`INSERT INTO schema_migrations (version, applied_ts) VALUES (?, ?)`), m.version, time.Now()); err != nil {
			tx.Rollback()
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}
	}
	return nil
}

func (s *PostgresStore) acquireReader(ctx context.Context) (func(), error) {
	timeout := time.NewTimer(s.acquireTimeout)
	defer timeout.Stop()

	select {
	case s.readSem <- struct{}{}:
		return func() { <-s.readSem }, nil
	case <-timeout.C:
		return nil, ErrPoolExhausted
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *PostgresStore) acquireWriter(ctx context.Context) (func(), error) {
	done := make(chan struct{})
	go func() {
		s.writeMu.Lock()
		close(done)
	}()
	select {
	case <-done:
		return s.writeMu.Unlock, nil
	case <-ctx.Done():
		// The lock goroutine is still pending; release the mutex once it
		// lands so an abandoned acquisition can't wedge every later writer.
		go func() {
			<-done
			s.writeMu.Unlock()
		}()
		return nil, ctx.Err()
	}
}

func (s *PostgresStore) Close() error {
	werr := s.writeDB.Close()
	rerr := s.readDB.Close()
	if werr != nil {
		return werr
	}
	return rerr
}

// --- Meta / versioning ---

func (s *PostgresStore) CurrentGraphVersion(ctx context.Context) (int64, error) {
	v, ok, err := s.GetMeta(ctx, "graph_version")
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, nil
	}
	var n int64
	_, err = fmt.Sscanf(v, "%d", &n)
	return n, err
}

func (s *PostgresStore) NewGraphVersion(ctx context.Context, commitSHA *string) (int64, error) {
	release, err := s.acquireWriter(ctx)
	if err != nil {
		return 0, err
	}
	defer release()

	tx, err := s.writeDB.BeginTxx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	var id int64
	if err := tx.GetContext(ctx, &id, tx.Rebind(`INSERT INTO graph_versions (created_ts, commit_sha) VALUES (?, ?) RETURNING id`), time.Now(), commitSHA); err != nil {
		return 0, err
	}

	if _, err := tx.ExecContext(ctx, tx.Rebind(`INSERT INTO meta (key, value) VALUES ('graph_version', ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value`), fmt.Sprintf("%d", id)); err != nil {
		return 0, err
	}

	return id, tx.Commit()
}

func (s *PostgresStore) ListGraphVersions(ctx context.Context) ([]model.GraphVersion, error) {
	release, err := s.acquireReader(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	var versions []model.GraphVersion
	err = s.readDB.SelectContext(ctx, &versions, `SELECT * FROM graph_versions ORDER BY id`)
	return versions, err
}

func (s *PostgresStore) GetMeta(ctx context.Context, key string) (string, bool, error) {
	release, err := s.acquireReader(ctx)
	if err != nil {
		return "", false, err
	}
	defer release()

	var value string
	err = s.readDB.GetContext(ctx, &value, s.readDB.Rebind(`SELECT value FROM meta WHERE key = ?`), key)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

func (s *PostgresStore) SetMeta(ctx context.Context, key, value string) error {
	release, err := s.acquireWriter(ctx)
	if err != nil {
		return err
	}
	defer release()

	_, err = s.writeDB.ExecContext(ctx, s.writeDB.Rebind(`INSERT INTO meta (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value`), key, value)
	return err
}

// --- Files ---

func (s *PostgresStore) UpsertFile(ctx context.Context, path, hash, language string, size int64, modified time.Time) (int64, error) {
	release, err := s.acquireWriter(ctx)
	if err != nil {
		return 0, err
	}
	defer release()

	var id int64
	err = s.writeDB.GetContext(ctx, &id, s.writeDB.Rebind(`
		INSERT INTO files (path, hash, language, size, modified, deleted_version)
		VALUES (?, ?, ?, ?, ?, NULL)
		ON CONFLICT(path) DO UPDATE SET
			hash = excluded.hash, language = excluded.language, size = excluded.size,
			modified = excluded.modified, deleted_version = NULL
		RETURNING id
	`), path, hash, language, size, modified)
	return id, err
}

func (s *PostgresStore) MarkFileDeleted(ctx context.Context, path string, version int64) error {
	release, err := s.acquireWriter(ctx)
	if err != nil {
		return err
	}
	defer release()

	_, err = s.writeDB.ExecContext(ctx, s.writeDB.Rebind(`UPDATE files SET deleted_version = ? WHERE path = ?`), version, path)
	return err
}

func (s *PostgresStore) DeleteFileByPath(ctx context.Context, path string) error {
	release, err := s.acquireWriter(ctx)
	if err != nil {
		return err
	}
	defer release()

	_, err = s.writeDB.ExecContext(ctx, s.writeDB.Rebind(`DELETE FROM files WHERE path = ?`), path)
	return err
}

func (s *PostgresStore) GetFileByPath(ctx context.Context, path string) (*model.File, error) {
	release, err := s.acquireReader(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	var f model.File
	err = s.readDB.GetContext(ctx, &f, s.readDB.Rebind(`SELECT * FROM files WHERE path = ?`), path)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &f, nil
}

func (s *PostgresStore) GetFileByID(ctx context.Context, id int64) (*model.File, error) {
	release, err := s.acquireReader(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	var f model.File
	err = s.readDB.GetContext(ctx, &f, s.readDB.Rebind(`SELECT * FROM files WHERE id = ?`), id)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &f, nil
}

func (s *PostgresStore) ListLiveFiles(ctx context.Context, version int64, languages, pathPrefixes []string) ([]model.File, error) {
	release, err := s.acquireReader(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	query := `SELECT * FROM files WHERE (deleted_version IS NULL OR deleted_version > ?)`
	args := []interface{}{version}

	if len(languages) > 0 {
		query += ` AND language IN (` + placeholders(len(languages)) + `)`
		for _, l := range languages {
			args = append(args, l)
		}
	}
	if clause, clauseArgs := pathPrefixClause(pathPrefixes); clause != "" {
		query += " AND (" + clause + ")"
		args = append(args, clauseArgs...)
	}

	var files []model.File
	if err := s.readDB.SelectContext(ctx, &files, s.readDB.Rebind(query), args...); err != nil {
		return nil, err
	}
	return files, nil
}

// --- Symbols ---

func (s *PostgresStore) GetSymbolsForFile(ctx context.Context, path string, version int64) ([]model.Symbol, error) {
	release, err := s.acquireReader(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	var symbols []model.Symbol
	err = s.readDB.SelectContext(ctx, &symbols, s.readDB.Rebind(`
		SELECT sy.* FROM symbols sy
		JOIN files f ON f.id = sy.file_id
		WHERE f.path = ? AND sy.graph_version = ?
		ORDER BY sy.id
	`), path, version)
	return symbols, err
}

func (s *PostgresStore) GetSymbolByID(ctx context.Context, id int64) (*model.Symbol, error) {
	release, err := s.acquireReader(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	var sym model.Symbol
	err = s.readDB.GetContext(ctx, &sym, s.readDB.Rebind(`SELECT * FROM symbols WHERE id = ?`), id)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &sym, nil
}

func (s *PostgresStore) GetSymbolByQualname(ctx context.Context, qualname string, version int64) (*model.Symbol, error) {
	release, err := s.acquireReader(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	var sym model.Symbol
	err = s.readDB.GetContext(ctx, &sym, s.readDB.Rebind(`SELECT * FROM symbols WHERE qualname = ? AND graph_version = ? ORDER BY id LIMIT 1`), qualname, version)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &sym, nil
}

func (s *PostgresStore) GetSymbolByStableID(ctx context.Context, stableID string, version int64) (*model.Symbol, error) {
	release, err := s.acquireReader(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	var sym model.Symbol
	err = s.readDB.GetContext(ctx, &sym, s.readDB.Rebind(`SELECT * FROM symbols WHERE stable_id = ? AND graph_version = ? LIMIT 1`), stableID, version)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &sym, nil
}

func (s *PostgresStore) UpdateFileSymbols(ctx context.Context, fileID int64, filePath string, diff symboldiff.Diff, version int64, commitSHA *string) ([]model.Symbol, error) {
	release, err := s.acquireWriter(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	tx, err := s.writeDB.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	result, err := applyFileSymbolsPostgresTx(ctx, tx, fileID, filePath, diff, version, commitSHA)
	if err != nil {
		return nil, err
	}
	return result, tx.Commit()
}

func (s *PostgresStore) UpdateFilesSymbolsBatch(ctx context.Context, updates []FileSymbolsUpdate) ([]FileSymbolsResult, error) {
	if len(updates) == 0 {
		return nil, nil
	}

	release, err := s.acquireWriter(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	tx, err := s.writeDB.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var deleteIDs []int64
	for _, u := range updates {
		for _, d := range u.Diff.Deleted {
			deleteIDs = append(deleteIDs, d.ID)
		}
	}
	if len(deleteIDs) > 0 {
		query, args, err := sqlx.In(`DELETE FROM symbols WHERE id IN (?)`, deleteIDs)
		if err != nil {
			return nil, err
		}
		if _, err := tx.ExecContext(ctx, tx.Rebind(query), args...); err != nil {
			return nil, err
		}
	}

	results := make([]FileSymbolsResult, 0, len(updates))
	for _, u := range updates {
		diff := u.Diff
		diff.Deleted = nil
		symbols, err := applyFileSymbolsPostgresTx(ctx, tx, u.FileID, u.FilePath, diff, u.Version, u.CommitSHA)
		if err != nil {
			return nil, fmt.Errorf("file %s: %w", u.FilePath, err)
		}
		results = append(results, FileSymbolsResult{FileID: u.FileID, Symbols: symbols})
	}

	return results, tx.Commit()
}

func applyFileSymbolsPostgresTx(ctx context.Context, tx *sqlx.Tx, fileID int64, filePath string, diff symboldiff.Diff, version int64, commitSHA *string) ([]model.Symbol, error) {
	if len(diff.Deleted) > 0 {
		ids := make([]int64, len(diff.Deleted))
		for i, d := range diff.Deleted {
			ids[i] = d.ID
		}
		query, args, err := sqlx.In(`DELETE FROM symbols WHERE id IN (?)`, ids)
		if err != nil {
			return nil, err
		}
		if _, err := tx.ExecContext(ctx, tx.Rebind(query), args...); err != nil {
			return nil, err
		}
	}

	insertStmt, err := tx.PreparexContext(ctx, tx.Rebind(`
		INSERT INTO symbols
			(file_id, kind, name, qualname, start_line, start_col, end_line, end_col,
			 start_byte, end_byte, signature, docstring, graph_version, commit_sha, stable_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`))
	if err != nil {
		return nil, err
	}
	defer insertStmt.Close()

	for _, a := range diff.Added {
		stableID := a.StableID(filePath)
		if _, err := insertStmt.ExecContext(ctx,
			fileID, a.Kind, a.Name, a.Qualname, a.StartLine, a.StartCol, a.EndLine, a.EndCol,
			a.StartByte, a.EndByte, a.Signature, a.Docstring, version, commitSHA, stableID,
		); err != nil {
			return nil, err
		}
	}

	updateStmt, err := tx.PreparexContext(ctx, tx.Rebind(`
		UPDATE symbols SET
			start_line = ?, start_col = ?, end_line = ?, end_col = ?,
			start_byte = ?, end_byte = ?, docstring = ?, graph_version = ?, commit_sha = ?
		WHERE id = ?
	`))
	if err != nil {
		return nil, err
	}
	defer updateStmt.Close()

	for _, m := range diff.Modified {
		if _, err := updateStmt.ExecContext(ctx,
			m.Next.StartLine, m.Next.StartCol, m.Next.EndLine, m.Next.EndCol,
			m.Next.StartByte, m.Next.EndByte, m.Next.Docstring, version, commitSHA,
			m.Prev.ID,
		); err != nil {
			return nil, err
		}
	}

	var symbols []model.Symbol
	if err := tx.SelectContext(ctx, &symbols, tx.Rebind(`SELECT * FROM symbols WHERE file_id = ? AND graph_version = ? ORDER BY id`), fileID, version); err != nil {
		return nil, err
	}
	return symbols, nil
}

// --- Edges ---

func (s *PostgresStore) InsertEdges(ctx context.Context, fileID int64, edges []model.EdgeInput, symbolMap map[string]int64, version int64, commitSHA *string) error {
	if len(edges) == 0 {
		return nil
	}

	release, err := s.acquireWriter(ctx)
	if err != nil {
		return err
	}
	defer release()

	tx, err := s.writeDB.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	insertStmt, err := tx.PreparexContext(ctx, tx.Rebind(`
		INSERT INTO edges
			(file_id, source_symbol_id, target_symbol_id, kind, target_qualname, detail,
			 evidence_snippet, evidence_start_line, evidence_end_line, confidence,
			 graph_version, commit_sha, trace_id, span_id, event_ts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`))
	if err != nil {
		return err
	}
	defer insertStmt.Close()

	for _, e := range edges {
		sourceID, err := resolveTargetPostgresTx(ctx, tx, symbolMap, e.SourceQualname, version)
		if err != nil {
			return err
		}

		targetID, err := resolveTargetPostgresTx(ctx, tx, symbolMap, e.TargetQualname, version)
		if err != nil {
			return err
		}

		if _, err := insertStmt.ExecContext(ctx,
			fileID, sourceID, targetID, e.Kind, nullableString(e.TargetQualname), e.Detail,
			e.EvidenceSnippet, e.EvidenceStartLine, e.EvidenceEndLine, e.Confidence,
			version, commitSHA, e.TraceID, e.SpanID, e.EventTS,
		); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func resolveTargetPostgresTx(ctx context.Context, tx *sqlx.Tx, local map[string]int64, targetQualname string, version int64) (*int64, error) {
	if targetQualname == "" {
		return nil, nil
	}
	if id, ok := local[targetQualname]; ok {
		return &id, nil
	}

	var exactID int64
	err := tx.GetContext(ctx, &exactID, tx.Rebind(`SELECT id FROM symbols WHERE qualname = ? AND graph_version = ? ORDER BY id LIMIT 1`), targetQualname, version)
	if err == nil {
		return &exactID, nil
	}
	if err != sql.ErrNoRows {
		return nil, err
	}

	idx := strings.LastIndex(targetQualname, ".")
	if idx < 0 {
		return nil, nil
	}
	name := targetQualname[idx+1:]

	var candidates []model.Symbol
	if err := tx.SelectContext(ctx, &candidates, tx.Rebind(`
		SELECT * FROM symbols
		WHERE qualname LIKE '%.' || ? ESCAPE '\' AND graph_version = ? AND kind IN ('method', 'function')
	`), name, version); err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	sort.Slice(candidates, func(i, j int) bool {
		if len(candidates[i].Qualname) != len(candidates[j].Qualname) {
			return len(candidates[i].Qualname) < len(candidates[j].Qualname)
		}
		return candidates[i].ID < candidates[j].ID
	})
	return &candidates[0].ID, nil
}

func (s *PostgresStore) ResolveNullTargetEdges(ctx context.Context, version int64) (int, error) {
	release, err := s.acquireWriter(ctx)
	if err != nil {
		return 0, err
	}
	defer release()

	tx, err := s.writeDB.BeginTxx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	total := 0

	res, err := tx.ExecContext(ctx, tx.Rebind(`
		UPDATE edges SET target_symbol_id = (
			SELECT sy.id FROM symbols sy
			WHERE sy.qualname = edges.target_qualname AND sy.graph_version = edges.graph_version
			ORDER BY sy.id LIMIT 1
		)
		WHERE target_symbol_id IS NULL AND target_qualname IS NOT NULL AND graph_version = ?
		AND EXISTS (SELECT 1 FROM symbols sy WHERE sy.qualname = edges.target_qualname AND sy.graph_version = edges.graph_version)
	`), version)
	if err != nil {
		return 0, err
	}
	if n, err := res.RowsAffected(); err == nil {
		total += int(n)
	}

	for {
		type unresolvedEdge struct {
			ID             int64  `db:"id"`
			TargetQualname string `db:"target_qualname"`
		}
		var batch []unresolvedEdge
		if err := tx.SelectContext(ctx, &batch, tx.Rebind(`
			SELECT id, target_qualname FROM edges
			WHERE target_symbol_id IS NULL AND target_qualname IS NOT NULL AND graph_version = ?
			LIMIT 1000
		`), version); err != nil {
			return total, err
		}
		if len(batch) == 0 {
			break
		}

		resolvedThisRound := 0
		for _, e := range batch {
			idx := strings.LastIndex(e.TargetQualname, ".")
			if idx < 0 {
				continue
			}
			name := e.TargetQualname[idx+1:]

			var candidates []model.Symbol
			if err := tx.SelectContext(ctx, &candidates, tx.Rebind(`
				SELECT * FROM symbols
				WHERE qualname LIKE '%.' || ? ESCAPE '\' AND graph_version = ? AND kind IN ('method', 'function')
			`), name, version); err != nil {
				return total, err
			}
			if len(candidates) == 0 {
				continue
			}
			sort.Slice(candidates, func(i, j int) bool {
				if len(candidates[i].Qualname) != len(candidates[j].Qualname) {
					return len(candidates[i].Qualname) < len(candidates[j].Qualname)
				}
				return candidates[i].ID < candidates[j].ID
			})

			if _, err := tx.ExecContext(ctx, tx.Rebind(`UPDATE edges SET target_symbol_id = ? WHERE id = ?`), candidates[0].ID, e.ID); err != nil {
				return total, err
			}
			resolvedThisRound++
		}

		total += resolvedThisRound
		if resolvedThisRound == 0 {
			break
		}
	}

	return total, tx.Commit()
}

func (s *PostgresStore) EdgesForSymbols(ctx context.Context, ids []int64, version int64) ([]model.Edge, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	release, err := s.acquireReader(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	query, args, err := sqlx.In(`
		SELECT * FROM edges
		WHERE graph_version = ? AND (source_symbol_id IN (?) OR target_symbol_id IN (?))
		ORDER BY id
	`, version, ids, ids)
	if err != nil {
		return nil, err
	}
	query = s.readDB.Rebind(query)

	var edges []model.Edge
	if err := s.readDB.SelectContext(ctx, &edges, query, args...); err != nil {
		return nil, err
	}

	names := make(map[string]bool)
	for _, id := range ids {
		sym, err := s.GetSymbolByID(ctx, id)
		if err == nil && sym != nil {
			names[sym.Name] = true
		}
	}
	if len(names) > 0 {
		var unresolved []model.Edge
		if err := s.readDB.SelectContext(ctx, &unresolved, s.readDB.Rebind(`
			SELECT * FROM edges WHERE graph_version = ? AND target_symbol_id IS NULL AND target_qualname IS NOT NULL
		`), version); err == nil {
			seen := make(map[int64]bool, len(edges))
			for _, e := range edges {
				seen[e.ID] = true
			}
			for _, e := range unresolved {
				if e.TargetQualname == nil || seen[e.ID] {
					continue
				}
				idx := strings.LastIndex(*e.TargetQualname, ".")
				if idx < 0 {
					continue
				}
				if names[(*e.TargetQualname)[idx+1:]] {
					edges = append(edges, e)
					seen[e.ID] = true
				}
			}
		}
	}

	return edges, nil
}

func (s *PostgresStore) ListEdges(ctx context.Context, f EdgeFilter) ([]model.Edge, error) {
	release, err := s.acquireReader(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	query := `SELECT * FROM edges WHERE graph_version = ?`
	args := []interface{}{f.Version}

	if len(f.Kinds) > 0 {
		query += ` AND kind IN (` + placeholders(len(f.Kinds)) + `)`
		for _, k := range f.Kinds {
			args = append(args, k)
		}
	}
	if f.SourceID != nil {
		query += ` AND source_symbol_id = ?`
		args = append(args, *f.SourceID)
	}
	if f.TargetID != nil {
		query += ` AND target_symbol_id = ?`
		args = append(args, *f.TargetID)
	}
	if f.TargetQual != nil {
		query += ` AND target_qualname = ?`
		args = append(args, *f.TargetQual)
	}
	if f.ResolvedOnly {
		query += ` AND target_symbol_id IS NOT NULL`
	}
	if f.MinConfidence != nil {
		query += ` AND confidence >= ?`
		args = append(args, *f.MinConfidence)
	}
	if f.TraceID != nil {
		query += ` AND trace_id = ?`
		args = append(args, *f.TraceID)
	}
	if f.EventAfter != nil {
		query += ` AND event_ts >= ?`
		args = append(args, *f.EventAfter)
	}
	if f.EventBefore != nil {
		query += ` AND event_ts <= ?`
		args = append(args, *f.EventBefore)
	}

	query += ` ORDER BY id`
	if f.Limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, f.Limit, f.Offset)
	}

	var edges []model.Edge
	if err := s.readDB.SelectContext(ctx, &edges, s.readDB.Rebind(query), args...); err != nil {
		return nil, err
	}
	return edges, nil
}

// --- Metrics / diagnostics / co-change ---

func (s *PostgresStore) UpsertFileMetrics(ctx context.Context, m model.FileMetrics) error {
	release, err := s.acquireWriter(ctx)
	if err != nil {
		return err
	}
	defer release()

	_, err = s.writeDB.ExecContext(ctx, s.writeDB.Rebind(`
		INSERT INTO file_metrics (file_id, loc, blank, comment, code) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(file_id) DO UPDATE SET loc = excluded.loc, blank = excluded.blank, comment = excluded.comment, code = excluded.code
	`), m.FileID, m.LOC, m.Blank, m.Comment, m.Code)
	return err
}

func (s *PostgresStore) InsertSymbolMetrics(ctx context.Context, ms []model.SymbolMetrics) error {
	if len(ms) == 0 {
		return nil
	}
	release, err := s.acquireWriter(ctx)
	if err != nil {
		return err
	}
	defer release()

	tx, err := s.writeDB.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PreparexContext(ctx, tx.Rebind(`
		INSERT INTO symbol_metrics (symbol_id, file_id, loc, complexity, duplication_hash) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(symbol_id) DO UPDATE SET loc = excluded.loc, complexity = excluded.complexity, duplication_hash = excluded.duplication_hash
	`))
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, m := range ms {
		if _, err := stmt.ExecContext(ctx, m.SymbolID, m.FileID, m.LOC, m.Complexity, m.DuplicationHash); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *PostgresStore) InsertDiagnostics(ctx context.Context, ds []model.Diagnostic) (int, error) {
	if len(ds) == 0 {
		return 0, nil
	}
	release, err := s.acquireWriter(ctx)
	if err != nil {
		return 0, err
	}
	defer release()

	tx, err := s.writeDB.BeginTxx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	// diagnostics.column is named column_no in the Postgres schema since
	// COLUMN is reserved there; the struct tag stays "column" so sqlx
	// scanning matches the SQLite backend, so every diagnostics query
	// here aliases column_no back to "column".
	stmt, err := tx.PreparexContext(ctx, tx.Rebind(`
		INSERT INTO diagnostics
			(file_id, path, line, column_no, end_line, end_column, severity, message, rule_id, tool, snippet, diagnostic_hash, created_ts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (diagnostic_hash) DO NOTHING
	`))
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	inserted := 0
	for _, d := range ds {
		res, err := stmt.ExecContext(ctx, d.FileID, d.Path, d.Line, d.Column, d.EndLine, d.EndColumn,
			d.Severity, d.Message, d.RuleID, d.Tool, d.Snippet, d.DiagnosticHash, time.Now())
		if err != nil {
			return inserted, err
		}
		if n, err := res.RowsAffected(); err == nil {
			inserted += int(n)
		}
	}
	return inserted, tx.Commit()
}

// diagnosticColumns aliases column_no back to "column" so the shared
// model.Diagnostic struct tags scan identically on both backends.
const diagnosticColumns = `id, file_id, path, line, column_no AS "column", end_line, end_column,
	severity, message, rule_id, tool, snippet, diagnostic_hash, created_ts`

func (s *PostgresStore) ListDiagnostics(ctx context.Context, f DiagnosticFilter) ([]model.Diagnostic, error) {
	release, err := s.acquireReader(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	query := `SELECT ` + diagnosticColumns + ` FROM diagnostics WHERE 1=1`
	var args []interface{}

	if clause, clauseArgs := pathPrefixClause(f.PathPrefixes); clause != "" {
		query += " AND (" + clause + ")"
		args = append(args, clauseArgs...)
	}
	if f.Severity != nil {
		query += ` AND severity = ?`
		args = append(args, *f.Severity)
	}
	if f.Tool != nil {
		query += ` AND tool = ?`
		args = append(args, *f.Tool)
	}
	query += ` ORDER BY id`
	if f.Limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, f.Limit, f.Offset)
	}

	var ds []model.Diagnostic
	if err := s.readDB.SelectContext(ctx, &ds, s.readDB.Rebind(query), args...); err != nil {
		return nil, err
	}
	return ds, nil
}

func (s *PostgresStore) DiagnosticsSummary(ctx context.Context) (DiagnosticsSummary, error) {
	release, err := s.acquireReader(ctx)
	if err != nil {
		return DiagnosticsSummary{}, err
	}
	defer release()

	summary := DiagnosticsSummary{BySeverity: map[string]int{}, ByTool: map[string]int{}}
	if err := s.readDB.GetContext(ctx, &summary.Total, `SELECT COUNT(*) FROM diagnostics`); err != nil {
		return DiagnosticsSummary{}, err
	}

	type bucket struct {
		Key   *string `db:"key"`
		Count int     `db:"count"`
	}
	var rows []bucket
	if err := s.readDB.SelectContext(ctx, &rows, `SELECT severity AS key, COUNT(*) AS count FROM diagnostics GROUP BY severity`); err != nil {
		return DiagnosticsSummary{}, err
	}
	for _, r := range rows {
		k := "unknown"
		if r.Key != nil {
			k = *r.Key
		}
		summary.BySeverity[k] = r.Count
	}
	rows = nil
	if err := s.readDB.SelectContext(ctx, &rows, `SELECT tool AS key, COUNT(*) AS count FROM diagnostics GROUP BY tool`); err != nil {
		return DiagnosticsSummary{}, err
	}
	for _, r := range rows {
		k := "unknown"
		if r.Key != nil {
			k = *r.Key
		}
		summary.ByTool[k] = r.Count
	}
	return summary, nil
}

func (s *PostgresStore) InsertCoChangesBatch(ctx context.Context, cs []model.CoChange) error {
	if len(cs) == 0 {
		return nil
	}
	release, err := s.acquireWriter(ctx)
	if err != nil {
		return err
	}
	defer release()

	tx, err := s.writeDB.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PreparexContext(ctx, tx.Rebind(`
		INSERT INTO co_changes (file_a, file_b, co_change_count, total_commits_a, total_commits_b, confidence, last_commit_sha, last_commit_ts, mined_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(file_a, file_b) DO UPDATE SET
			co_change_count = excluded.co_change_count,
			total_commits_a = excluded.total_commits_a,
			total_commits_b = excluded.total_commits_b,
			confidence = excluded.confidence,
			last_commit_sha = excluded.last_commit_sha,
			last_commit_ts = excluded.last_commit_ts,
			mined_at = excluded.mined_at
	`))
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, c := range cs {
		if _, err := stmt.ExecContext(ctx, c.FileA, c.FileB, c.CoChangeCount, c.TotalCommitsA, c.TotalCommitsB,
			c.Confidence, c.LastCommitSHA, c.LastCommitTS, time.Now()); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *PostgresStore) CoChangesForFile(ctx context.Context, path string) ([]model.CoChange, error) {
	release, err := s.acquireReader(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	var cs []model.CoChange
	err = s.readDB.SelectContext(ctx, &cs, s.readDB.Rebind(`
		SELECT * FROM co_changes WHERE file_a = ? OR file_b = ? ORDER BY confidence DESC
	`), path, path)
	return cs, err
}

// --- Digest ---

func (s *PostgresStore) Digest(ctx context.Context, version int64) (Digest, error) {
	release, err := s.acquireReader(ctx)
	if err != nil {
		return Digest{}, err
	}
	defer release()

	d := Digest{GraphVersion: version}
	for _, table := range []struct {
		name  string
		query string
	}{
		{"files", `SELECT path, hash, language, size FROM files WHERE deleted_version IS NULL OR deleted_version > ? ORDER BY id`},
		{"symbols", `SELECT stable_id, kind, qualname, start_line, signature FROM symbols WHERE graph_version = ? ORDER BY id`},
		{"edges", `SELECT kind, target_qualname, source_symbol_id, target_symbol_id FROM edges WHERE graph_version = ? ORDER BY id`},
	} {
		rows, err := s.readDB.QueryxContext(ctx, s.readDB.Rebind(table.query), version)
		if err != nil {
			return Digest{}, err
		}
		hasher := blake3.New(32, nil)
		var rowCount int64
		for rows.Next() {
			cols, err := rows.SliceScan()
			if err != nil {
				rows.Close()
				return Digest{}, err
			}
			fmt.Fprintf(hasher, "%v\n", cols)
			rowCount++
		}
		rows.Close()

		d.Tables = append(d.Tables, TableDigest{
			Table: table.name,
			Rows:  rowCount,
			Hash:  hex.EncodeToString(hasher.Sum(nil)),
		})
	}
	return d, nil
}

// --- GraphQuery aggregates ---

func (s *PostgresStore) FindSymbols(ctx context.Context, q string, limit int, languages []string, version int64) ([]model.Symbol, error) {
	release, err := s.acquireReader(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	if limit <= 0 {
		limit = 50
	}
	pattern := "%" + escapeLike(q) + "%"
	query := `
		SELECT sy.* FROM symbols sy
		JOIN files f ON f.id = sy.file_id
		WHERE sy.graph_version = ? AND (sy.qualname LIKE ? ESCAPE '\' OR sy.name LIKE ? ESCAPE '\')
	`
	args := []interface{}{version, pattern, pattern}
	if len(languages) > 0 {
		query += ` AND f.language IN (` + placeholders(len(languages)) + `)`
		for _, l := range languages {
			args = append(args, l)
		}
	}
	// Ranking: exact name match, kind priority (code > namespace > other >
	// heading), non-changelog/migration path, shorter qualname, name.
	query += `
		ORDER BY
			CASE WHEN sy.name = ? THEN 0 ELSE 1 END,
			CASE
				WHEN sy.kind IN ('function','method','class','struct','interface','trait','enum','route','service','rpc') THEN 0
				WHEN sy.kind IN ('module','package','namespace') THEN 1
				WHEN sy.kind = 'heading' THEN 3
				ELSE 2
			END,
			CASE WHEN LOWER(f.path) LIKE '%changelog%' OR LOWER(f.path) LIKE '%migration%' THEN 1 ELSE 0 END,
			LENGTH(sy.qualname),
			sy.name,
			sy.id
		LIMIT ?`
	args = append(args, q, limit)

	var symbols []model.Symbol
	if err := s.readDB.SelectContext(ctx, &symbols, s.readDB.Rebind(query), args...); err != nil {
		return nil, err
	}
	return symbols, nil
}

func (s *PostgresStore) FindSymbolsByNamePrefix(ctx context.Context, prefix string, limit int, languages []string, version int64) ([]model.Symbol, error) {
	release, err := s.acquireReader(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT sy.* FROM symbols sy
		JOIN files f ON f.id = sy.file_id
		WHERE sy.graph_version = ? AND sy.name LIKE ? ESCAPE '\'
	`
	args := []interface{}{version, escapeLike(prefix) + "%"}
	if len(languages) > 0 {
		query += ` AND f.language IN (` + placeholders(len(languages)) + `)`
		for _, l := range languages {
			args = append(args, l)
		}
	}
	query += ` ORDER BY sy.name, sy.id LIMIT ?`
	args = append(args, limit)

	var symbols []model.Symbol
	if err := s.readDB.SelectContext(ctx, &symbols, s.readDB.Rebind(query), args...); err != nil {
		return nil, err
	}
	return symbols, nil
}

func (s *PostgresStore) EnclosingSymbolForLine(ctx context.Context, path string, line int, version int64) (*model.Symbol, error) {
	release, err := s.acquireReader(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	var sym model.Symbol
	err = s.readDB.GetContext(ctx, &sym, s.readDB.Rebind(`
		SELECT sy.* FROM symbols sy
		JOIN files f ON f.id = sy.file_id
		WHERE f.path = ? AND sy.graph_version = ? AND sy.start_line <= ? AND sy.end_line >= ?
		ORDER BY CASE WHEN sy.kind IN ('module','package','namespace') THEN 1 ELSE 0 END,
			(sy.end_line - sy.start_line) ASC
		LIMIT 1
	`), path, version, line, line)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &sym, nil
}

func (s *PostgresStore) TopComplexity(ctx context.Context, version int64, limit int) ([]SymbolComplexity, error) {
	release, err := s.acquireReader(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	if limit <= 0 {
		limit = 20
	}

	var metrics []model.SymbolMetrics
	if err := s.readDB.SelectContext(ctx, &metrics, s.readDB.Rebind(`
		SELECT sm.* FROM symbol_metrics sm
		JOIN symbols sy ON sy.id = sm.symbol_id
		WHERE sy.graph_version = ?
		ORDER BY sm.complexity DESC
		LIMIT ?
	`), version, limit); err != nil {
		return nil, err
	}

	out := make([]SymbolComplexity, 0, len(metrics))
	for _, m := range metrics {
		sym, err := s.GetSymbolByID(ctx, m.SymbolID)
		if err != nil {
			continue
		}
		out = append(out, SymbolComplexity{Symbol: *sym, Complexity: m.Complexity, LOC: m.LOC})
	}
	return out, nil
}

func (s *PostgresStore) TopFanIn(ctx context.Context, version int64, limit int) ([]SymbolFanCount, error) {
	return s.topFan(ctx, version, limit, "target_symbol_id")
}

func (s *PostgresStore) TopFanOut(ctx context.Context, version int64, limit int) ([]SymbolFanCount, error) {
	return s.topFan(ctx, version, limit, "source_symbol_id")
}

func (s *PostgresStore) topFan(ctx context.Context, version int64, limit int, column string) ([]SymbolFanCount, error) {
	release, err := s.acquireReader(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	if limit <= 0 {
		limit = 20
	}

	type row struct {
		SymbolID int64 `db:"symbol_id"`
		Count    int   `db:"cnt"`
	}
	var rows []row
	query := fmt.Sprintf(`
		SELECT %s AS symbol_id, COUNT(*) AS cnt FROM edges
		WHERE graph_version = ? AND %s IS NOT NULL
		GROUP BY %s
		ORDER BY cnt DESC
		LIMIT ?
	`, column, column, column)
	if err := s.readDB.SelectContext(ctx, &rows, s.readDB.Rebind(query), version, limit); err != nil {
		return nil, err
	}

	out := make([]SymbolFanCount, 0, len(rows))
	for _, r := range rows {
		sym, err := s.GetSymbolByID(ctx, r.SymbolID)
		if err != nil {
			continue
		}
		out = append(out, SymbolFanCount{Symbol: *sym, Count: r.Count})
	}
	return out, nil
}

func (s *PostgresStore) TopFanInByModule(ctx context.Context, version int64, limit int) ([]ModuleFanCount, error) {
	release, err := s.acquireReader(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	if limit <= 0 {
		limit = 20
	}

	type row struct {
		Path string `db:"path"`
	}
	var rows []row
	err = s.readDB.SelectContext(ctx, &rows, s.readDB.Rebind(`
		SELECT f.path AS path
		FROM edges e
		JOIN symbols sy ON sy.id = e.target_symbol_id
		JOIN files f ON f.id = sy.file_id
		WHERE e.graph_version = ? AND e.target_symbol_id IS NOT NULL
	`), version)
	if err != nil {
		return nil, err
	}

	counts := make(map[string]int)
	for _, r := range rows {
		counts[moduleOf(r.Path)]++
	}

	out := make([]ModuleFanCount, 0, len(counts))
	for module, count := range counts {
		out = append(out, ModuleFanCount{Module: module, Count: count})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Count > out[j].Count })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *PostgresStore) CountSymbolsByKind(ctx context.Context, version int64) (map[string]int, error) {
	release, err := s.acquireReader(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	type row struct {
		Kind  string `db:"kind"`
		Count int    `db:"cnt"`
	}
	var rows []row
	if err := s.readDB.SelectContext(ctx, &rows, s.readDB.Rebind(`
		SELECT kind, COUNT(*) AS cnt FROM symbols WHERE graph_version = ? GROUP BY kind
	`), version); err != nil {
		return nil, err
	}

	out := make(map[string]int, len(rows))
	for _, r := range rows {
		out[r.Kind] = r.Count
	}
	return out, nil
}

func (s *PostgresStore) DuplicateGroups(ctx context.Context, version int64, minCount, minLOC, perGroupLimit int) ([]DuplicateGroup, error) {
	release, err := s.acquireReader(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	type hashRow struct {
		Hash  string `db:"duplication_hash"`
		Count int    `db:"cnt"`
	}
	var hashes []hashRow
	if err := s.readDB.SelectContext(ctx, &hashes, s.readDB.Rebind(`
		SELECT sm.duplication_hash AS duplication_hash, COUNT(*) AS cnt
		FROM symbol_metrics sm
		JOIN symbols sy ON sy.id = sm.symbol_id
		WHERE sy.graph_version = ? AND sm.duplication_hash IS NOT NULL AND sm.loc >= ?
		GROUP BY sm.duplication_hash
		HAVING COUNT(*) >= ?
	`), version, minLOC, minCount); err != nil {
		return nil, err
	}

	var groups []DuplicateGroup
	for _, h := range hashes {
		var symbols []model.Symbol
		limit := perGroupLimit
		if limit <= 0 {
			limit = 10
		}
		if err := s.readDB.SelectContext(ctx, &symbols, s.readDB.Rebind(`
			SELECT sy.* FROM symbols sy
			JOIN symbol_metrics sm ON sm.symbol_id = sy.id
			WHERE sm.duplication_hash = ? AND sy.graph_version = ?
			ORDER BY sy.id
			LIMIT ?
		`), h.Hash, version, limit); err != nil {
			return nil, err
		}
		groups = append(groups, DuplicateGroup{DuplicationHash: h.Hash, Symbols: symbols})
	}
	return groups, nil
}

func (s *PostgresStore) DeadSymbols(ctx context.Context, version int64, languages []string) ([]model.Symbol, error) {
	release, err := s.acquireReader(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	query := `
		SELECT sy.* FROM symbols sy
		JOIN files f ON f.id = sy.file_id
		WHERE sy.graph_version = ?
		AND sy.kind IN ('function', 'method')
		AND sy.name NOT IN ('main', 'Main', 'init', '__init__', '__main__')
		AND NOT EXISTS (
			SELECT 1 FROM edges e
			WHERE e.target_symbol_id = sy.id
			AND e.graph_version = sy.graph_version
			AND e.kind IN (?, ?, ?, ?, ?)
		)
		AND NOT EXISTS (
			SELECT 1 FROM edges e
			WHERE e.kind = ? AND e.graph_version = sy.graph_version
			AND e.file_id != sy.file_id
			AND e.target_qualname = sy.qualname
		)
	`
	args := []interface{}{version,
		model.EdgeCalls, model.EdgeImports, model.EdgeRPCImpl, model.EdgeImplements, model.EdgeExtends,
		model.EdgeImports}
	if len(languages) > 0 {
		query += ` AND f.language IN (` + placeholders(len(languages)) + `)`
		for _, l := range languages {
			args = append(args, l)
		}
	}
	query += ` ORDER BY sy.id`

	var symbols []model.Symbol
	if err := s.readDB.SelectContext(ctx, &symbols, s.readDB.Rebind(query), args...); err != nil {
		return nil, err
	}
	return symbols, nil
}

func (s *PostgresStore) UnusedImports(ctx context.Context, version int64) ([]model.Edge, error) {
	release, err := s.acquireReader(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	var imports []model.Edge
	if err := s.readDB.SelectContext(ctx, &imports, s.readDB.Rebind(`
		SELECT * FROM edges WHERE graph_version = ? AND kind = ?
	`), version, model.EdgeImports); err != nil {
		return nil, err
	}

	var out []model.Edge
	for _, imp := range imports {
		if imp.TargetQualname == nil {
			continue
		}
		var count int
		err := s.readDB.GetContext(ctx, &count, s.readDB.Rebind(`
			SELECT COUNT(*) FROM edges e
			WHERE e.graph_version = ? AND e.file_id = ? AND e.kind IN (?, ?, ?)
			AND e.target_qualname LIKE ? ESCAPE '\'
		`), version, imp.FileID, model.EdgeCalls, model.EdgeXRef, model.EdgeReferences, escapeLike(*imp.TargetQualname)+"%")
		if err != nil {
			return nil, err
		}
		if count == 0 {
			out = append(out, imp)
		}
	}
	return out, nil
}

func (s *PostgresStore) OrphanTests(ctx context.Context, version int64) ([]model.Symbol, error) {
	release, err := s.acquireReader(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	var tests []model.Symbol
	if err := s.readDB.SelectContext(ctx, &tests, s.readDB.Rebind(`
		SELECT * FROM symbols
		WHERE graph_version = ? AND kind IN ('function', 'method', 'test')
		AND (name LIKE 'test\_%' ESCAPE '\' OR name LIKE 'Test%' OR name LIKE '%\_test' ESCAPE '\' OR name LIKE '%\_spec' ESCAPE '\' OR name LIKE '%Test' OR name LIKE '%Tests')
		ORDER BY id
	`), version); err != nil {
		return nil, err
	}

	var out []model.Symbol
	for _, t := range tests {
		target := deriveTestTarget(t.Name)
		if target == "" {
			continue
		}
		var count int
		err := s.readDB.GetContext(ctx, &count, s.readDB.Rebind(`
			SELECT COUNT(*) FROM symbols
			WHERE graph_version = ? AND LOWER(name) = LOWER(?) AND id != ?
		`), version, target, t.ID)
		if err != nil {
			return nil, err
		}
		if count == 0 {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *PostgresStore) CouplingHotspots(ctx context.Context, minConfidence float64, limit int) ([]model.CoChange, error) {
	release, err := s.acquireReader(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	if limit <= 0 {
		limit = 20
	}
	var cs []model.CoChange
	err = s.readDB.SelectContext(ctx, &cs, s.readDB.Rebind(`
		SELECT * FROM co_changes WHERE confidence >= ? ORDER BY confidence DESC, co_change_count DESC LIMIT ?
	`), minConfidence, limit)
	return cs, err
}
