// Package pipeline wires document intake, name discovery, extraction and
// persistence into resumable runs.
package pipeline

import (
	"context"
	"io"
	"time"
	"unicode/utf8"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/ecoparse/internal/aggregate"
	"github.com/sells-group/ecoparse/internal/chunk"
	"github.com/sells-group/ecoparse/internal/config"
	"github.com/sells-group/ecoparse/internal/cost"
	"github.com/sells-group/ecoparse/internal/document"
	"github.com/sells-group/ecoparse/internal/extract"
	"github.com/sells-group/ecoparse/internal/fetcher"
	"github.com/sells-group/ecoparse/internal/llm"
	"github.com/sells-group/ecoparse/internal/model"
	"github.com/sells-group/ecoparse/internal/store"
	"github.com/sells-group/ecoparse/internal/taxon"
	"github.com/sells-group/ecoparse/pkg/gnfinder"
)

// Resolver turns a document reference into a local file.
type Resolver interface {
	Resolve(ctx context.Context, ref string) (*fetcher.Source, error)
}

// ClientFactory builds the model client for a provider and model. Empty
// arguments select the configured defaults.
type ClientFactory func(ctx context.Context, provider, model string) (llm.ModelClient, error)

// Deps are the collaborators of a Pipeline. Finder and Filter may be nil
// when every request carries its own entities.
type Deps struct {
	Store      store.Store
	Resolver   Resolver
	Reader     document.Reader
	Finder     gnfinder.Client
	Filter     *taxon.Filter
	Clients    ClientFactory
	Calculator *cost.Calculator
}

// Pipeline prepares and executes extraction runs.
type Pipeline struct {
	cfg  *config.Config
	deps Deps
	now  func() time.Time
}

// New creates a Pipeline.
func New(cfg *config.Config, deps Deps) (*Pipeline, error) {
	if cfg == nil {
		return nil, eris.New("pipeline: config is required")
	}
	switch {
	case deps.Store == nil:
		return nil, eris.New("pipeline: store is required")
	case deps.Resolver == nil:
		return nil, eris.New("pipeline: resolver is required")
	case deps.Reader == nil:
		return nil, eris.New("pipeline: document reader is required")
	case deps.Clients == nil:
		return nil, eris.New("pipeline: client factory is required")
	}
	return &Pipeline{cfg: cfg, deps: deps, now: time.Now}, nil
}

// Store returns the run store.
func (p *Pipeline) Store() store.Store { return p.deps.Store }

// DefaultSettings returns run settings taken from configuration.
func (p *Pipeline) DefaultSettings() model.RunSettings {
	strategy, err := model.ParseStrategy(p.cfg.Chunk.Strategy)
	if err != nil {
		strategy = model.StrategyContextWindow
	}
	return model.RunSettings{
		Provider:      p.cfg.LLM.Provider,
		Temperature:   p.cfg.LLM.Temperature,
		Concurrency:   p.cfg.LLM.ConcurrentRequests,
		Strategy:      strategy,
		ContextBefore: p.cfg.Chunk.ContextBefore,
		ContextAfter:  p.cfg.Chunk.ContextAfter,
		TopChars:      p.cfg.Chunk.TopChars,
		BottomChars:   p.cfg.Chunk.BottomChars,
	}
}

// Request describes a new run.
type Request struct {
	// Source is a local path or an http(s)/ftp URL.
	Source  string
	Project *model.ProjectConfig
	// Entities skips name discovery when set.
	Entities []model.Entity
	Pages    document.PageRange
	// Rank and Taxon enable the taxonomy filter during discovery.
	Rank     string
	Taxon    string
	Settings model.RunSettings
	// Report writes a JSON run report when the run finishes.
	Report bool
}

// LoadDocument resolves ref and assembles the selected pages.
func (p *Pipeline) LoadDocument(ctx context.Context, ref string, pages document.PageRange) (*document.Document, error) {
	src, err := p.deps.Resolver.Resolve(ctx, ref)
	if err != nil {
		return nil, err
	}
	defer src.Cleanup()

	doc, err := document.Load(ctx, p.deps.Reader, src.Path, pages, p.cfg.Document.RepairEncoding)
	if err != nil {
		return nil, err
	}
	doc.Path = src.Name()
	return doc, nil
}

// Discover runs name finding over doc. rank and taxon are optional.
func (p *Pipeline) Discover(ctx context.Context, doc *document.Document, rank, taxonName string) (*taxon.Discovery, error) {
	if p.deps.Finder == nil {
		return nil, eris.New("pipeline: name finder is not configured")
	}
	return taxon.Discover(ctx, p.deps.Finder, p.deps.Filter, doc.Text, rank, taxonName)
}

// Prepare loads the document, settles the entity list and records a new run.
// The returned job has not started.
func (p *Pipeline) Prepare(ctx context.Context, req Request) (*Job, error) {
	if req.Project == nil {
		return nil, eris.New("pipeline: project config is required")
	}
	schema, err := req.Project.Schema()
	if err != nil {
		return nil, err
	}

	doc, err := p.LoadDocument(ctx, req.Source, req.Pages)
	if err != nil {
		return nil, err
	}

	entities := req.Entities
	var disc *taxon.Discovery
	if len(entities) == 0 {
		disc, err = p.Discover(ctx, doc, req.Rank, req.Taxon)
		if err != nil {
			return nil, err
		}
		entities = make([]model.Entity, 0, len(disc.Final))
		for _, m := range disc.Final {
			entities = append(entities, m.Entity())
		}
	}
	if len(entities) == 0 {
		return nil, extract.ErrNoEntities
	}

	settings := p.fillSettings(req.Settings)
	settings.Pages = req.Pages.String()

	job, err := p.newJob(ctx, doc, schema, req.Project, settings, entities)
	if err != nil {
		return nil, err
	}

	run := &model.Run{
		Document:  req.Source,
		CharCount: utf8.RuneCountInString(doc.Text),
		Project:   *req.Project,
		Settings:  job.settings(),
		Entities:  model.EntityNames(entities),
	}
	if err := p.deps.Store.CreateRun(ctx, run); err != nil {
		job.Close()
		return nil, eris.Wrap(err, "pipeline: create run")
	}
	job.run = run
	job.discovery = disc
	job.report = req.Report

	zap.L().Info("pipeline: run prepared",
		zap.String("run_id", run.ID),
		zap.String("document", doc.Path),
		zap.Int("entities", len(entities)),
		zap.String("strategy", string(settings.Strategy)),
	)
	return job, nil
}

// Resume reopens a persisted run. The document is read again from the
// recorded source, and entities with a stored result are skipped.
func (p *Pipeline) Resume(ctx context.Context, runID string, writeReport bool) (*Job, error) {
	run, err := p.deps.Store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if !run.Status.Terminal() {
		zap.L().Warn("pipeline: resuming a run that did not finish",
			zap.String("run_id", runID),
			zap.String("status", string(run.Status)),
		)
	}

	schema, err := run.Project.Schema()
	if err != nil {
		return nil, err
	}
	pages, err := document.ParsePageRange(run.Settings.Pages)
	if err != nil {
		return nil, err
	}
	doc, err := p.LoadDocument(ctx, run.Document, pages)
	if err != nil {
		return nil, err
	}
	if n := utf8.RuneCountInString(doc.Text); n != run.CharCount {
		zap.L().Warn("pipeline: document changed since the run started",
			zap.String("run_id", runID),
			zap.Int("recorded_chars", run.CharCount),
			zap.Int("current_chars", n),
		)
	}

	prev, err := p.deps.Store.ListResults(ctx, runID)
	if err != nil {
		return nil, err
	}

	job, err := p.newJob(ctx, doc, schema, &run.Project, run.Settings, model.EntitiesFromNames(run.Entities))
	if err != nil {
		return nil, err
	}
	job.run = run
	job.report = writeReport
	job.prior = prev
	job.completed = aggregate.CompletedSet(prev)
	job.orch.State().Seed(p.storedTotals(run, prev), nil)

	zap.L().Info("pipeline: run resumed",
		zap.String("run_id", runID),
		zap.Int("completed", len(prev)),
		zap.Int("entities", len(run.Entities)),
	)
	return job, nil
}

// storedTotals derives the counters of a run from its stored results. The
// recorded totals are only written when a session ends, so after a crash
// they miss results that were already stored. Elapsed time is not part of
// a result and comes from the recorded totals.
func (p *Pipeline) storedTotals(run *model.Run, results []model.Result) model.RunTotals {
	input, output := aggregate.Totals(results)
	return model.RunTotals{
		Processed:        int64(len(results)),
		InputTokens:      input,
		OutputTokens:     output,
		ElapsedMs:        run.Totals.ElapsedMs,
		EstimatedCostUSD: p.deps.Calculator.Tokens(run.Settings.Model, input, output),
	}
}

// fillSettings completes s with configured defaults where it is unset.
func (p *Pipeline) fillSettings(s model.RunSettings) model.RunSettings {
	def := p.DefaultSettings()
	if s.Provider == "" {
		s.Provider = def.Provider
	}
	if s.Concurrency <= 0 {
		s.Concurrency = def.Concurrency
	}
	if s.Strategy == "" {
		s.Strategy = def.Strategy
	}
	return s
}

// newJob builds the chunk source, model client and orchestrator of a run.
func (p *Pipeline) newJob(
	ctx context.Context,
	doc *document.Document,
	schema *model.Schema,
	project *model.ProjectConfig,
	settings model.RunSettings,
	entities []model.Entity,
) (*Job, error) {
	src, err := extract.NewChunkSource(doc.Text, settings.Strategy, chunk.Options{
		Before: settings.ContextBefore,
		After:  settings.ContextAfter,
		Top:    settings.TopChars,
		Bottom: settings.BottomChars,
	})
	if err != nil {
		return nil, err
	}

	client, err := p.deps.Clients(ctx, settings.Provider, settings.Model)
	if err != nil {
		return nil, err
	}

	job := &Job{
		p:        p,
		doc:      doc,
		src:      src,
		client:   client,
		entities: entities,
		base:     settings,
	}

	orch, err := extract.New(client, extract.RunConfig{
		Provider:       settings.Provider,
		Model:          settings.Model,
		Temperature:    settings.Temperature,
		MaxConcurrency: settings.Concurrency,
		Schema:         schema,
		Examples:       project.FormatExamples(),
		Strategy:       settings.Strategy,
	},
		extract.WithCostCalculator(p.deps.Calculator),
		extract.WithResultHook(job.persist),
		extract.WithProgress(logProgress),
	)
	if err != nil {
		job.Close()
		return nil, err
	}
	job.orch = orch
	if m := orch.Config().Model; settings.Provider != llm.ProviderOllama && p.deps.Calculator != nil && !p.deps.Calculator.Known(m) {
		zap.L().Warn("pipeline: no pricing for model, cost reported as zero", zap.String("model", m))
	}
	return job, nil
}

// closeClient releases clients that hold connections.
func closeClient(c llm.ModelClient) {
	if closer, ok := c.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			zap.L().Warn("pipeline: close model client", zap.Error(err))
		}
	}
}
