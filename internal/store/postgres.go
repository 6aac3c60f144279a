package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/ecoparse/internal/db"
	"github.com/sells-group/ecoparse/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool sizing.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres connects to connString and verifies the connection.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	pgxCfg.MaxConns, pgxCfg.MinConns = 10, 1
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			pgxCfg.MaxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			pgxCfg.MinConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	zap.L().Debug("postgres: connected", zap.Int32("max_conns", pgxCfg.MaxConns))
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY,
	document   TEXT NOT NULL,
	char_count INTEGER NOT NULL DEFAULT 0,
	project    JSONB NOT NULL,
	settings   JSONB NOT NULL,
	entities   JSONB NOT NULL,
	status     TEXT NOT NULL DEFAULT 'idle',
	totals     JSONB NOT NULL DEFAULT '{}'::jsonb,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS results (
	seq           BIGSERIAL PRIMARY KEY,
	id            TEXT NOT NULL UNIQUE,
	run_id        TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	species       TEXT NOT NULL,
	data          JSONB NOT NULL,
	notes         TEXT NOT NULL DEFAULT '',
	placeholder   BOOLEAN NOT NULL DEFAULT false,
	input_tokens  BIGINT NOT NULL DEFAULT 0,
	output_tokens BIGINT NOT NULL DEFAULT 0,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS taxonomy_cache (
	name       TEXT PRIMARY KEY,
	found      BOOLEAN NOT NULL,
	ranks      JSONB NOT NULL DEFAULT '{}'::jsonb,
	fetched_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at DESC);
CREATE INDEX IF NOT EXISTS idx_results_run_species ON results(run_id, species);
`

// Migrate creates the schema.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

// Close releases the pool.
func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) CreateRun(ctx context.Context, run *model.Run) error {
	newRun(run, uuid.New().String())
	cols, err := encodeRun(run)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO runs (id, document, char_count, project, settings, entities, status, totals, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		run.ID, run.Document, run.CharCount, cols.project, cols.settings, cols.entities,
		string(run.Status), cols.totals, run.CreatedAt, run.UpdatedAt,
	)
	return eris.Wrap(err, "postgres: insert run")
}

func (s *PostgresStore) UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET status = $1, updated_at = $2 WHERE id = $3`,
		string(status), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update run status %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "run %s", runID)
	}
	return nil
}

func (s *PostgresStore) SaveRunTotals(ctx context.Context, runID string, totals model.RunTotals, status model.RunStatus) error {
	b, err := json.Marshal(totals)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal totals")
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET totals = $1, status = $2, updated_at = $3 WHERE id = $4`,
		b, string(status), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: save run totals %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "run %s", runID)
	}
	return nil
}

const postgresRunColumns = `id, document, char_count, project, settings, entities, status, totals, created_at, updated_at`

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	run, err := scanPostgresRun(s.pool.QueryRow(ctx,
		`SELECT `+postgresRunColumns+` FROM runs WHERE id = $1`, runID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "run %s", runID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get run %s", runID)
	}
	return run, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT ` + postgresRunColumns + ` FROM runs WHERE true`
	args := []any{}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		query += fmt.Sprintf(` AND status = $%d`, len(args))
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)
	query += fmt.Sprintf(` ORDER BY created_at DESC, id LIMIT $%d`, len(args))
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(` OFFSET $%d`, len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	runs := []model.Run{}
	for rows.Next() {
		run, err := scanPostgresRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		runs = append(runs, *run)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: iterate runs")
}

var resultColumns = []string{"id", "run_id", "species", "data", "notes", "placeholder", "input_tokens", "output_tokens", "created_at"}

// AppendResults removes any earlier rows for the same species and COPYs the
// batch in one transaction.
func (s *PostgresStore) AppendResults(ctx context.Context, runID string, results []model.Result) error {
	if len(results) == 0 {
		return nil
	}
	now := time.Now().UTC()
	species := make([]string, len(results))
	rows := make([][]any, len(results))
	for i, r := range results {
		data, err := json.Marshal(r.Data)
		if err != nil {
			return eris.Wrapf(err, "postgres: marshal result %s", r.Species)
		}
		species[i] = r.Species
		rows[i] = []any{uuid.New().String(), runID, r.Species, data, r.Notes, r.Placeholder, r.InputTokens, r.OutputTokens, now}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin append results")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, `DELETE FROM results WHERE run_id = $1 AND species = ANY($2)`, runID, species); err != nil {
		return eris.Wrap(err, "postgres: clear replaced results")
	}
	if _, err := db.CopyFrom(ctx, tx, "results", resultColumns, rows); err != nil {
		return err
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit results")
}

// ListResults returns a run's results in completion order.
func (s *PostgresStore) ListResults(ctx context.Context, runID string) ([]model.Result, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT species, data, notes, placeholder, input_tokens, output_tokens FROM results WHERE run_id = $1 ORDER BY seq`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list results %s", runID)
	}
	defer rows.Close()

	out := []model.Result{}
	for rows.Next() {
		var (
			r    model.Result
			data []byte
		)
		if err := rows.Scan(&r.Species, &data, &r.Notes, &r.Placeholder, &r.InputTokens, &r.OutputTokens); err != nil {
			return nil, eris.Wrap(err, "postgres: scan result")
		}
		if r.Data, err = decodeResultData(data); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate results")
}

func (s *PostgresStore) GetTaxonomy(ctx context.Context, name string) (*model.TaxonomyRecord, error) {
	rec := model.TaxonomyRecord{Name: name}
	var ranks []byte
	err := s.pool.QueryRow(ctx,
		`SELECT found, ranks, fetched_at FROM taxonomy_cache WHERE name = $1`, name,
	).Scan(&rec.Found, &ranks, &rec.FetchedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get taxonomy %s", name)
	}
	if err := json.Unmarshal(ranks, &rec.Ranks); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal ranks")
	}
	return &rec, nil
}

var taxonomyUpsert = db.UpsertConfig{
	Table:        "taxonomy_cache",
	Columns:      []string{"name", "found", "ranks", "fetched_at"},
	ConflictKeys: []string{"name"},
}

func (s *PostgresStore) SetTaxonomy(ctx context.Context, rec model.TaxonomyRecord) error {
	ranks, err := json.Marshal(rec.Ranks)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal ranks")
	}
	return db.Upsert(ctx, s.pool, taxonomyUpsert, []any{rec.Name, rec.Found, ranks, rec.FetchedAt.UTC()})
}

func scanPostgresRun(row pgx.Row) (*model.Run, error) {
	var (
		run    model.Run
		status string
		cols   runColumns
	)
	if err := row.Scan(&run.ID, &run.Document, &run.CharCount, &cols.project, &cols.settings,
		&cols.entities, &status, &cols.totals, &run.CreatedAt, &run.UpdatedAt); err != nil {
		return nil, err
	}
	run.Status = model.RunStatus(status)
	return &run, decodeRun(&run, cols)
}
