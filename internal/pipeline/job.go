package pipeline

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/ecoparse/internal/aggregate"
	"github.com/sells-group/ecoparse/internal/document"
	"github.com/sells-group/ecoparse/internal/extract"
	"github.com/sells-group/ecoparse/internal/llm"
	"github.com/sells-group/ecoparse/internal/model"
	"github.com/sells-group/ecoparse/internal/report"
	"github.com/sells-group/ecoparse/internal/taxon"
)

// Job is one prepared run bound to its document and model client.
type Job struct {
	p         *Pipeline
	run       *model.Run
	doc       *document.Document
	src       extract.ChunkSource
	client    llm.ModelClient
	orch      *extract.Orchestrator
	entities  []model.Entity
	completed []string
	prior     []model.Result
	discovery *taxon.Discovery
	report    bool
	base      model.RunSettings

	// persistCtx outlives cancellation of the run so that results finished
	// during a stop are still stored.
	persistCtx  context.Context
	persistErrs atomic.Int64

	closeOnce sync.Once
}

// Snapshot is the observable state of a job.
type Snapshot struct {
	RunID     string          `json:"run_id"`
	Status    model.RunStatus `json:"status"`
	Processed int             `json:"processed"`
	Total     int             `json:"total"`
	Totals    model.RunTotals `json:"totals"`
}

// Result is the outcome of Execute. All holds the results of earlier
// sessions followed by this one's. ReportPath is set when a report was
// written.
type Result struct {
	*extract.Outcome
	RunID      string         `json:"run_id"`
	All        []model.Result `json:"-"`
	ReportPath string         `json:"report_path,omitempty"`
}

// ID returns the run ID.
func (j *Job) ID() string { return j.run.ID }

// Run returns the persisted run record.
func (j *Job) Run() *model.Run { return j.run }

// Document returns the assembled document.
func (j *Job) Document() *document.Document { return j.doc }

// Entities returns the entity list of the run.
func (j *Job) Entities() []model.Entity { return j.entities }

// Pending is the number of entities without a stored result.
func (j *Job) Pending() int {
	done := make(map[string]struct{}, len(j.completed))
	for _, name := range j.completed {
		done[name] = struct{}{}
	}
	n := 0
	for _, e := range j.entities {
		if _, ok := done[e.Name]; !ok {
			n++
		}
	}
	return n
}

// Stop asks the orchestrator to finish in-flight tasks and start no more.
func (j *Job) Stop() { j.orch.Stop() }

// Snapshot returns the current progress of the job.
func (j *Job) Snapshot() Snapshot {
	st := j.orch.State()
	return Snapshot{
		RunID:     j.ID(),
		Status:    st.Status(),
		Processed: st.Processed(),
		Total:     st.Total(),
		Totals:    st.Totals(),
	}
}

// settings returns the run settings as resolved by the orchestrator.
func (j *Job) settings() model.RunSettings {
	cfg := j.orch.Config()
	s := j.base
	s.Provider = cfg.Provider
	s.Model = cfg.Model
	s.Concurrency = cfg.MaxConcurrency
	return s
}

// Execute runs extraction for every pending entity, storing each result as
// it completes. A cancelled ctx or Stop ends the run as stopped; the stored
// results let a later Resume pick up the rest.
func (j *Job) Execute(ctx context.Context) (*Result, error) {
	st := j.p.deps.Store
	j.persistCtx = context.WithoutCancel(ctx)

	if err := st.UpdateRunStatus(ctx, j.ID(), model.RunStatusRunning); err != nil {
		return nil, eris.Wrap(err, "pipeline: mark run running")
	}
	j.run.Status = model.RunStatusRunning

	var (
		out *extract.Outcome
		err error
	)
	if len(j.completed) > 0 {
		out, err = j.orch.RunResumable(ctx, j.entities, j.src, j.completed)
	} else {
		out, err = j.orch.RunAll(ctx, j.entities, j.src)
	}

	status := model.RunStatusFailed
	if err == nil {
		status = out.Status
	}
	totals := j.orch.State().Totals()
	if saveErr := st.SaveRunTotals(j.persistCtx, j.ID(), totals, status); saveErr != nil {
		zap.L().Error("pipeline: save run totals", zap.String("run_id", j.ID()), zap.Error(saveErr))
	}
	j.run.Status = status
	j.run.Totals = totals
	if err != nil {
		return nil, err
	}

	res := &Result{Outcome: out, RunID: j.ID(), All: aggregate.Merge(j.prior, out.Results)}
	if n := j.persistErrs.Load(); n > 0 {
		zap.L().Warn("pipeline: some results were not stored", zap.String("run_id", j.ID()), zap.Int64("failed", n))
	}
	if j.report {
		path, err := j.writeReport(j.persistCtx)
		if err != nil {
			zap.L().Error("pipeline: write report", zap.String("run_id", j.ID()), zap.Error(err))
		}
		res.ReportPath = path
	}
	return res, nil
}

// Close releases the model client.
func (j *Job) Close() {
	j.closeOnce.Do(func() { closeClient(j.client) })
}

// persist stores one finished result. It is called concurrently.
func (j *Job) persist(res model.Result) {
	ctx := j.persistCtx
	if ctx == nil {
		ctx = context.Background()
	}
	if err := j.p.deps.Store.AppendResults(ctx, j.ID(), []model.Result{res}); err != nil {
		j.persistErrs.Add(1)
		zap.L().Error("pipeline: store result",
			zap.String("run_id", j.ID()),
			zap.String("species", res.Species),
			zap.Error(err),
		)
	}
}

// writeReport builds the run report from every stored result.
func (j *Job) writeReport(ctx context.Context) (string, error) {
	results, err := j.p.deps.Store.ListResults(ctx, j.ID())
	if err != nil {
		return "", err
	}
	in := report.Input{
		Run:       j.run,
		FileName:  j.doc.Path,
		Results:   aggregate.SortByEntities(results, j.entities),
		Discovery: j.discovery,
		Pages:     j.run.Settings.Pages,
	}
	if j.discovery != nil {
		in.NamesURL = j.p.cfg.Names.GNfinderURL
	}
	return report.Write(j.p.cfg.Report.Dir, report.Build(in, j.p.now()))
}

// logProgress reports every 25th finished task and the last one.
func logProgress(done, total int) {
	if done == total || done%25 == 0 {
		zap.L().Info("pipeline: progress", zap.Int("done", done), zap.Int("total", total))
	}
}
