// Package store persists runs, their per-entity results and the taxonomy
// lookup cache. SQLite serves local use; Postgres serves shared
// deployments.
package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/ecoparse/internal/config"
	"github.com/sells-group/ecoparse/internal/model"
)

// ErrNotFound is returned when a run does not exist.
var ErrNotFound = eris.New("store: not found")

// RunFilter selects runs for listing.
type RunFilter struct {
	Status model.RunStatus `json:"status,omitempty"`
	Limit  int             `json:"limit,omitempty"`
	Offset int             `json:"offset,omitempty"`
}

// Store is the persistence interface for extraction runs.
type Store interface {
	// CreateRun assigns an ID and timestamps to run and inserts it.
	CreateRun(ctx context.Context, run *model.Run) error
	UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error
	// SaveRunTotals records cumulative counters and the status they were
	// reached in.
	SaveRunTotals(ctx context.Context, runID string, totals model.RunTotals, status model.RunStatus) error
	GetRun(ctx context.Context, runID string) (*model.Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error)

	// AppendResults adds results in completion order. A result for a species
	// already stored under the run replaces it.
	AppendResults(ctx context.Context, runID string, results []model.Result) error
	ListResults(ctx context.Context, runID string) ([]model.Result, error)

	// GetTaxonomy returns nil without error on a miss.
	GetTaxonomy(ctx context.Context, name string) (*model.TaxonomyRecord, error)
	SetTaxonomy(ctx context.Context, rec model.TaxonomyRecord) error

	Migrate(ctx context.Context) error
	Close() error
}

// Drivers accepted in configuration.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Open creates and migrates the store selected by cfg.
func Open(ctx context.Context, cfg config.StoreConfig) (Store, error) {
	var (
		st  Store
		err error
	)
	switch cfg.Driver {
	case DriverSQLite, "":
		st, err = NewSQLite(cfg.DatabaseURL)
	case DriverPostgres:
		st, err = NewPostgres(ctx, cfg.DatabaseURL, nil)
	default:
		return nil, eris.Errorf("store: unknown driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, err
	}
	return st, nil
}

// newRun fills in identity and timestamps for a run about to be inserted.
func newRun(run *model.Run, id string) {
	now := time.Now().UTC()
	run.ID = id
	if run.Status == "" {
		run.Status = model.RunStatusIdle
	}
	run.CreatedAt = now
	run.UpdatedAt = now
	if run.Entities == nil {
		run.Entities = []string{}
	}
}

// runColumns are the JSON-encoded parts of a run row.
type runColumns struct {
	project  []byte
	settings []byte
	entities []byte
	totals   []byte
}

func encodeRun(run *model.Run) (runColumns, error) {
	var c runColumns
	var err error
	if c.project, err = json.Marshal(run.Project); err != nil {
		return c, eris.Wrap(err, "store: marshal project")
	}
	if c.settings, err = json.Marshal(run.Settings); err != nil {
		return c, eris.Wrap(err, "store: marshal settings")
	}
	if c.entities, err = json.Marshal(run.Entities); err != nil {
		return c, eris.Wrap(err, "store: marshal entities")
	}
	if c.totals, err = json.Marshal(run.Totals); err != nil {
		return c, eris.Wrap(err, "store: marshal totals")
	}
	return c, nil
}

func decodeRun(run *model.Run, c runColumns) error {
	if err := json.Unmarshal(c.project, &run.Project); err != nil {
		return eris.Wrap(err, "store: unmarshal project")
	}
	if err := json.Unmarshal(c.settings, &run.Settings); err != nil {
		return eris.Wrap(err, "store: unmarshal settings")
	}
	if err := json.Unmarshal(c.entities, &run.Entities); err != nil {
		return eris.Wrap(err, "store: unmarshal entities")
	}
	if err := json.Unmarshal(c.totals, &run.Totals); err != nil {
		return eris.Wrap(err, "store: unmarshal totals")
	}
	return nil
}

// decodeResultData restores result values. Enum membership is not stored,
// so enum values come back as strings with the same text.
func decodeResultData(data []byte) (map[string]model.Value, error) {
	out := map[string]model.Value{}
	if len(data) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, eris.Wrap(err, "store: unmarshal result data")
	}
	return out, nil
}
