package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/ecoparse/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at dsn in WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	if dsn == "" {
		dsn = "ecoparse.db"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	// One writer keeps concurrent result appends from hitting SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY,
	document   TEXT NOT NULL,
	char_count INTEGER NOT NULL DEFAULT 0,
	project    TEXT NOT NULL,
	settings   TEXT NOT NULL,
	entities   TEXT NOT NULL,
	status     TEXT NOT NULL DEFAULT 'idle',
	totals     TEXT NOT NULL DEFAULT '{}',
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS results (
	seq           INTEGER PRIMARY KEY AUTOINCREMENT,
	id            TEXT NOT NULL UNIQUE,
	run_id        TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	species       TEXT NOT NULL,
	data          TEXT NOT NULL,
	notes         TEXT NOT NULL DEFAULT '',
	placeholder   INTEGER NOT NULL DEFAULT 0,
	input_tokens  INTEGER NOT NULL DEFAULT 0,
	output_tokens INTEGER NOT NULL DEFAULT 0,
	created_at    DATETIME NOT NULL DEFAULT (datetime('now')),
	UNIQUE (run_id, species)
);

CREATE TABLE IF NOT EXISTS taxonomy_cache (
	name       TEXT PRIMARY KEY,
	found      INTEGER NOT NULL,
	ranks      TEXT NOT NULL DEFAULT '{}',
	fetched_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at);
CREATE INDEX IF NOT EXISTS idx_results_run_id ON results(run_id);
`

// Migrate creates the schema.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateRun(ctx context.Context, run *model.Run) error {
	newRun(run, uuid.New().String())
	cols, err := encodeRun(run)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs (id, document, char_count, project, settings, entities, status, totals, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Document, run.CharCount, string(cols.project), string(cols.settings),
		string(cols.entities), string(run.Status), string(cols.totals), run.CreatedAt, run.UpdatedAt,
	)
	return eris.Wrap(err, "sqlite: insert run")
}

func (s *SQLiteStore) UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update run status %s", runID)
	}
	return checkRowsAffected(res, runID)
}

func (s *SQLiteStore) SaveRunTotals(ctx context.Context, runID string, totals model.RunTotals, status model.RunStatus) error {
	b, err := json.Marshal(totals)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal totals")
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET totals = ?, status = ?, updated_at = ? WHERE id = ?`,
		string(b), string(status), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: save run totals %s", runID)
	}
	return checkRowsAffected(res, runID)
}

const sqliteRunColumns = `id, document, char_count, project, settings, entities, status, totals, created_at, updated_at`

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sqliteRunColumns+` FROM runs WHERE id = ?`, runID)
	run, err := scanSQLiteRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "run %s", runID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get run %s", runID)
	}
	return run, nil
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT ` + sqliteRunColumns + ` FROM runs`
	var args []any
	if filter.Status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(filter.Status))
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` ORDER BY created_at DESC, id LIMIT ? OFFSET ?`
	args = append(args, limit, max(filter.Offset, 0))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close() //nolint:errcheck

	runs := []model.Run{}
	for rows.Next() {
		run, err := scanSQLiteRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run")
		}
		runs = append(runs, *run)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: iterate runs")
}

func (s *SQLiteStore) AppendResults(ctx context.Context, runID string, results []model.Result) error {
	if len(results) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin append results")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO results (id, run_id, species, data, notes, placeholder, input_tokens, output_tokens, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (run_id, species) DO UPDATE SET
		   data = excluded.data, notes = excluded.notes, placeholder = excluded.placeholder,
		   input_tokens = excluded.input_tokens, output_tokens = excluded.output_tokens`)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare append results")
	}
	defer stmt.Close() //nolint:errcheck

	now := time.Now().UTC()
	for _, r := range results {
		data, err := json.Marshal(r.Data)
		if err != nil {
			return eris.Wrapf(err, "sqlite: marshal result %s", r.Species)
		}
		if _, err := stmt.ExecContext(ctx,
			uuid.New().String(), runID, r.Species, string(data), r.Notes, r.Placeholder,
			r.InputTokens, r.OutputTokens, now,
		); err != nil {
			return eris.Wrapf(err, "sqlite: insert result %s", r.Species)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit results")
}

// ListResults returns a run's results in completion order.
func (s *SQLiteStore) ListResults(ctx context.Context, runID string) ([]model.Result, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT species, data, notes, placeholder, input_tokens, output_tokens FROM results WHERE run_id = ? ORDER BY seq`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list results %s", runID)
	}
	defer rows.Close() //nolint:errcheck

	out := []model.Result{}
	for rows.Next() {
		var (
			r    model.Result
			data string
		)
		if err := rows.Scan(&r.Species, &data, &r.Notes, &r.Placeholder, &r.InputTokens, &r.OutputTokens); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan result")
		}
		if r.Data, err = decodeResultData([]byte(data)); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate results")
}

func (s *SQLiteStore) GetTaxonomy(ctx context.Context, name string) (*model.TaxonomyRecord, error) {
	var (
		rec   = model.TaxonomyRecord{Name: name}
		ranks string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT found, ranks, fetched_at FROM taxonomy_cache WHERE name = ?`, name,
	).Scan(&rec.Found, &ranks, &rec.FetchedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get taxonomy %s", name)
	}
	if err := json.Unmarshal([]byte(ranks), &rec.Ranks); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal ranks")
	}
	return &rec, nil
}

func (s *SQLiteStore) SetTaxonomy(ctx context.Context, rec model.TaxonomyRecord) error {
	ranks, err := json.Marshal(rec.Ranks)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal ranks")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO taxonomy_cache (name, found, ranks, fetched_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (name) DO UPDATE SET found = excluded.found, ranks = excluded.ranks, fetched_at = excluded.fetched_at`,
		rec.Name, rec.Found, string(ranks), rec.FetchedAt.UTC(),
	)
	return eris.Wrapf(err, "sqlite: set taxonomy %s", rec.Name)
}

func checkRowsAffected(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "run %s", id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanSQLiteRun(row scannable) (*model.Run, error) {
	var (
		run                               model.Run
		status                            string
		project, settings, entities, tots string
	)
	if err := row.Scan(&run.ID, &run.Document, &run.CharCount, &project, &settings, &entities,
		&status, &tots, &run.CreatedAt, &run.UpdatedAt); err != nil {
		return nil, err
	}
	run.Status = model.RunStatus(status)
	err := decodeRun(&run, runColumns{
		project:  []byte(project),
		settings: []byte(settings),
		entities: []byte(entities),
		totals:   []byte(tots),
	})
	return &run, err
}
