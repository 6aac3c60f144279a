// Package extract schedules one model extraction per entity with bounded
// concurrency, cooperative stop and resumption from partial results.
package extract

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/ecoparse/internal/chunk"
	"github.com/sells-group/ecoparse/internal/cost"
	"github.com/sells-group/ecoparse/internal/llm"
	"github.com/sells-group/ecoparse/internal/model"
)

// Placeholder notes.
const (
	NoContextNote   = "No text context found."
	failedPrefix    = "Extraction failed: "
	unparsedPrefix  = "Unparseable model output: "
	defaultParallel = 5
)

var (
	// ErrNoEntities is returned when a run is started without entities.
	ErrNoEntities = eris.New("extract: no entities to process")
	// ErrNoChunkSource is returned when the chunk source is missing or
	// cannot be built from the document text.
	ErrNoChunkSource = eris.New("extract: no chunk source")
	// ErrAlreadyRunning is returned when a run is started on an orchestrator
	// whose state is already running.
	ErrAlreadyRunning = eris.New("extract: run already in progress")
)

// ChunkSource resolves the text chunks of an entity. The boolean is false
// when the entity has no context under the active strategy.
type ChunkSource interface {
	Chunks(name string) ([]model.Chunk, bool)
}

// NewChunkSource builds the chunk source for a document's marker-bearing
// text.
func NewChunkSource(text string, strategy model.Strategy, opts chunk.Options) (ChunkSource, error) {
	b, err := chunk.New(text, strategy, opts)
	if err != nil {
		return nil, eris.Wrapf(ErrNoChunkSource, "%v", err)
	}
	return b, nil
}

// RunConfig is the configuration snapshot of a run.
type RunConfig struct {
	Provider       string
	Model          string
	Temperature    float64
	MaxConcurrency int
	Schema         *model.Schema
	Examples       string
	Strategy       model.Strategy
}

// Outcome is what one RunAll or RunResumable call produced. Token and cost
// fields are deltas for the call; cumulative values live in the RunState.
type Outcome struct {
	Results          []model.Result  `json:"results"`
	Elapsed          time.Duration   `json:"elapsed"`
	InputTokens      int64           `json:"input_tokens"`
	OutputTokens     int64           `json:"output_tokens"`
	EstimatedCostUSD float64         `json:"estimated_cost_usd"`
	Status           model.RunStatus `json:"status"`
	Cancelled        int             `json:"cancelled"`
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithProgress registers a callback run once per finished task with the
// processed and total entity counts. It is called concurrently.
func WithProgress(fn func(done, total int)) Option {
	return func(o *Orchestrator) { o.progress = fn }
}

// WithResultHook registers a callback run once per result as it completes,
// for incremental persistence. It is called concurrently.
func WithResultHook(fn func(model.Result)) Option {
	return func(o *Orchestrator) { o.onResult = fn }
}

// WithCostCalculator prices each call's tokens.
func WithCostCalculator(c *cost.Calculator) Option {
	return func(o *Orchestrator) { o.calc = c }
}

// WithState makes the orchestrator continue an existing state.
func WithState(s *RunState) Option {
	return func(o *Orchestrator) { o.state = s }
}

// Orchestrator runs extraction tasks against one model client.
type Orchestrator struct {
	client       llm.ModelClient
	cfg          RunConfig
	parser       *Parser
	fieldsSchema string
	state        *RunState
	calc         *cost.Calculator
	progress     func(done, total int)
	onResult     func(model.Result)
}

// New creates an orchestrator for client and cfg.
func New(client llm.ModelClient, cfg RunConfig, opts ...Option) (*Orchestrator, error) {
	if client == nil {
		return nil, eris.New("extract: model client is required")
	}
	parser, err := NewParser(cfg.Schema)
	if err != nil {
		return nil, err
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = defaultParallel
	}
	if cfg.Model == "" {
		cfg.Model = client.Model()
	}
	if cfg.Provider == "" {
		cfg.Provider = client.Provider()
	}

	o := &Orchestrator{
		client:       client,
		cfg:          cfg,
		parser:       parser,
		fieldsSchema: FieldsSchema(cfg.Schema),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.state == nil {
		o.state = NewRunState()
	}
	return o, nil
}

// State returns the run state owned by the orchestrator.
func (o *Orchestrator) State() *RunState { return o.state }

// Config returns the run configuration.
func (o *Orchestrator) Config() RunConfig { return o.cfg }

// Stop clears the running flag. In-flight tasks finish; no new task or
// batch starts. A stop before the run begins makes that run end stopped
// without dispatching anything.
func (o *Orchestrator) Stop() {
	if o.state.requestStop() {
		zap.L().Info("extract: stop requested", zap.Int("processed", o.state.Processed()))
	}
}

// RunAll extracts every entity not yet completed, with at most
// MaxConcurrency tasks in flight. Results are in completion order.
func (o *Orchestrator) RunAll(ctx context.Context, entities []model.Entity, src ChunkSource) (*Outcome, error) {
	return o.execute(ctx, entities, src, nil, func(ctx context.Context, work []model.Entity, c *collector) bool {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(o.cfg.MaxConcurrency)
		started := 0
		for _, e := range work {
			if !o.state.Running() || gctx.Err() != nil {
				break
			}
			g.Go(func() error {
				o.runTask(gctx, e, src, c)
				return nil
			})
			started++
		}
		_ = g.Wait()
		return started == len(work)
	})
}

// RunResumable skips entities in alreadyCompleted and then extracts the rest
// in batches of MaxConcurrency. The running flag and ctx are checked before
// each batch; a cleared flag stops the run without starting the batch.
func (o *Orchestrator) RunResumable(ctx context.Context, entities []model.Entity, src ChunkSource, alreadyCompleted []string) (*Outcome, error) {
	return o.execute(ctx, entities, src, alreadyCompleted, func(ctx context.Context, work []model.Entity, c *collector) bool {
		size := o.cfg.MaxConcurrency
		for i := 0; i < len(work); i += size {
			if !o.state.Running() || ctx.Err() != nil {
				return false
			}
			batch := work[i:min(i+size, len(work))]
			zap.L().Debug("extract: batch start",
				zap.Int("offset", i),
				zap.Int("size", len(batch)),
				zap.Int("remaining", len(work)-i),
			)

			var g errgroup.Group
			for _, e := range batch {
				g.Go(func() error {
					o.runTask(ctx, e, src, c)
					return nil
				})
			}
			_ = g.Wait()
		}
		return true
	})
}

// prepare validates the run inputs and returns the distinct entities that
// still need a result.
func (o *Orchestrator) prepare(entities []model.Entity, src ChunkSource, skip []string) ([]model.Entity, error) {
	if len(entities) == 0 {
		return nil, ErrNoEntities
	}
	if src == nil {
		return nil, ErrNoChunkSource
	}
	if len(skip) > 0 {
		o.state.Seed(model.RunTotals{}, skip)
	}

	seen := make(map[string]struct{}, len(entities))
	work := make([]model.Entity, 0, len(entities))
	for _, e := range entities {
		if _, dup := seen[e.Name]; dup {
			continue
		}
		seen[e.Name] = struct{}{}
		if o.state.IsCompleted(e.Name) {
			continue
		}
		work = append(work, e)
	}
	o.state.total.Store(int64(len(seen)))
	return work, nil
}

// execute runs dispatch under the state's lifecycle and assembles the
// outcome. dispatch reports whether every entity was started.
func (o *Orchestrator) execute(
	ctx context.Context,
	entities []model.Entity,
	src ChunkSource,
	skip []string,
	dispatch func(context.Context, []model.Entity, *collector) bool,
) (*Outcome, error) {
	if !o.state.begin() {
		return nil, ErrAlreadyRunning
	}
	work, err := o.prepare(entities, src, skip)
	if err != nil {
		o.state.end(model.RunStatusFailed, 0)
		zap.L().Error("extract: run not started", zap.Error(err))
		return nil, err
	}

	log := zap.L().With(
		zap.String("provider", o.cfg.Provider),
		zap.String("model", o.cfg.Model),
		zap.String("strategy", string(o.cfg.Strategy)),
	)
	log.Info("extract: run started",
		zap.Int("pending", len(work)),
		zap.Int("total", o.state.Total()),
		zap.Int("concurrency", o.cfg.MaxConcurrency),
	)

	start := time.Now()
	c := &collector{}
	all := true
	if len(work) > 0 {
		all = dispatch(ctx, work, c)
	}
	elapsed := time.Since(start)

	status := model.RunStatusCompleted
	if !all || c.cancelled > 0 {
		status = model.RunStatusStopped
	}
	o.state.end(status, elapsed)

	out := &Outcome{
		Results:          c.results,
		Elapsed:          elapsed,
		InputTokens:      c.input,
		OutputTokens:     c.output,
		EstimatedCostUSD: c.cost,
		Status:           status,
		Cancelled:        c.cancelled,
	}
	if out.Results == nil {
		out.Results = []model.Result{}
	}

	log.Info("extract: run finished",
		zap.String("status", string(status)),
		zap.Int("results", len(out.Results)),
		zap.Int("cancelled", c.cancelled),
		zap.Int64("input_tokens", out.InputTokens),
		zap.Int64("output_tokens", out.OutputTokens),
		zap.Float64("cost_usd", out.EstimatedCostUSD),
		zap.Duration("elapsed", elapsed),
	)
	return out, nil
}

// collector gathers results of concurrently finishing tasks.
type collector struct {
	mu        sync.Mutex
	results   []model.Result
	input     int64
	output    int64
	cost      float64
	cancelled int
}

func (c *collector) add(res model.Result, usd float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.results = append(c.results, res)
	c.input += res.InputTokens
	c.output += res.OutputTokens
	c.cost += usd
}

func (c *collector) cancel() {
	c.mu.Lock()
	c.cancelled++
	c.mu.Unlock()
}

// runTask extracts one entity and records its result. Cancelled tasks leave
// no trace so a resume picks them up again.
func (o *Orchestrator) runTask(ctx context.Context, e model.Entity, src ChunkSource, c *collector) {
	res, st := o.extractOne(ctx, e, src)
	if st == model.TaskCancelled {
		c.cancel()
		return
	}
	if !o.state.claim(e.Name) {
		return
	}

	usd := o.calc.Tokens(o.cfg.Model, res.InputTokens, res.OutputTokens)
	c.add(res, usd)
	done := o.state.record(res, usd)

	if o.onResult != nil {
		o.onResult(res)
	}
	if o.progress != nil {
		o.progress(done, o.state.Total())
	}
}

// extractOne resolves the chunks of e and calls the model once. Failures
// become placeholder results; only a done ctx yields TaskCancelled.
func (o *Orchestrator) extractOne(ctx context.Context, e model.Entity, src ChunkSource) (model.Result, model.TaskState) {
	chunks, ok := src.Chunks(e.Name)
	if !ok || len(chunks) == 0 {
		return model.PlaceholderResult(e.Name, NoContextNote), model.TaskCompleted
	}

	texts := make([]string, len(chunks))
	for i, ch := range chunks {
		texts[i] = ch.Text
	}
	prompt := TextPrompt(e.Name, strings.Join(texts, ChunkSeparator), o.fieldsSchema, o.cfg.Examples)

	resp, err := o.client.Generate(ctx, llm.Request{
		Prompt:      prompt,
		Temperature: o.cfg.Temperature,
		JSON:        true,
	})
	if err != nil {
		if ctx.Err() != nil {
			return model.Result{}, model.TaskCancelled
		}
		zap.L().Warn("extract: model call failed",
			zap.String("species", e.Name),
			zap.Int("chunks", len(chunks)),
			zap.Error(err),
		)
		return model.PlaceholderResult(e.Name, failedPrefix+err.Error()), model.TaskFailed
	}

	res, err := o.parser.ParseResponse(e.Name, resp.Text)
	if err != nil {
		zap.L().Warn("extract: unparseable model output",
			zap.String("species", e.Name),
			zap.Error(err),
		)
		res = model.PlaceholderResult(e.Name, unparsedPrefix+err.Error())
		res.InputTokens = resp.InputTokens
		res.OutputTokens = resp.OutputTokens
		return res, model.TaskFailed
	}
	res.InputTokens = resp.InputTokens
	res.OutputTokens = resp.OutputTokens
	return res, model.TaskCompleted
}
