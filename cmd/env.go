package main

import (
	"context"
	"time"

	"github.com/sells-group/ecoparse/internal/document"
	"github.com/sells-group/ecoparse/internal/fetcher"
	"github.com/sells-group/ecoparse/internal/llm"
	"github.com/sells-group/ecoparse/internal/pipeline"
	"github.com/sells-group/ecoparse/internal/resilience"
	"github.com/sells-group/ecoparse/internal/store"
	"github.com/sells-group/ecoparse/internal/taxon"
	"github.com/sells-group/ecoparse/pkg/gbif"
	"github.com/sells-group/ecoparse/pkg/gnfinder"
)

// appEnv holds the store, clients and pipeline shared by the extract,
// names and serve commands.
type appEnv struct {
	Store    store.Store
	Pipeline *pipeline.Pipeline
	Guards   *resilience.Guards
}

// Close releases resources held by the environment.
func (e *appEnv) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initStore opens and migrates the configured store.
func initStore(ctx context.Context) (store.Store, error) {
	return store.Open(ctx, cfg.Store)
}

// initEnv sets up the store, service clients and the Pipeline. Callers
// should defer env.Close().
func initEnv(ctx context.Context) (*appEnv, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	guards := llm.Guards(cfg)

	finder := gnfinder.NewClient(
		gnfinder.WithURL(cfg.Names.GNfinderURL),
		gnfinder.WithTimeout(time.Duration(cfg.Names.TimeoutSecs)*time.Second),
	)
	lookup := gbif.NewClient(
		gbif.WithBaseURL(cfg.Taxonomy.BaseURL),
		gbif.WithRateLimit(cfg.Taxonomy.RateLimit),
	)
	filter := taxon.NewFilter(lookup, st, time.Duration(cfg.Taxonomy.CacheTTLHours)*time.Hour)

	reader, err := document.NewReader(cfg.Document)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	p, err := pipeline.New(cfg, pipeline.Deps{
		Store:    st,
		Resolver: fetcher.NewResolver(cfg.Fetch, guards.Get("fetcher")),
		Reader:   reader,
		Finder:   finder,
		Filter:   filter,
		Clients: func(ctx context.Context, provider, model string) (llm.ModelClient, error) {
			return llm.New(ctx, cfg, provider, model, guards)
		},
		Calculator: llm.Calculator(cfg),
	})
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	return &appEnv{Store: st, Pipeline: p, Guards: guards}, nil
}
