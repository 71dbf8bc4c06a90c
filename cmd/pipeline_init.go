package main

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/intellimesh/internal/fetcher"
	"github.com/sells-group/intellimesh/internal/llm"
	"github.com/sells-group/intellimesh/internal/ocr"
	"github.com/sells-group/intellimesh/internal/pipeline"
	"github.com/sells-group/intellimesh/internal/resilience"
	"github.com/sells-group/intellimesh/internal/retrieve"
	"github.com/sells-group/intellimesh/internal/scrape"
	"github.com/sells-group/intellimesh/internal/store"
)

// pipelineEnv holds the clients, run history store and pipeline needed by the
// run, serve and bench commands.
type pipelineEnv struct {
	Store     store.Store // nil when run history is disabled
	Pipeline  *pipeline.Pipeline
	Completer llm.Completer
	Searcher  retrieve.Searcher
}

// Close releases resources held by the environment.
func (pe *pipelineEnv) Close() {
	if pe.Store != nil {
		_ = pe.Store.Close()
	}
}

// initPipeline validates the config for mode, opens the store and builds the
// pipeline. Callers should defer env.Close().
func initPipeline(ctx context.Context, mode string) (*pipelineEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	breakers := resilience.NewBreakers(resilience.CircuitFromConfig(cfg.Circuit))

	completer, err := llm.New(cfg, breakers)
	if err != nil {
		return nil, err
	}
	searcher, err := retrieve.NewSearcher(cfg, breakers)
	if err != nil {
		return nil, err
	}
	chain, err := scrape.NewChainFromConfig(cfg, breakers)
	if err != nil {
		return nil, err
	}

	// PDF extraction is optional; other document types still work without it.
	pdf, err := ocr.NewExtractor(cfg.OCR, cfg.Mistral)
	if err != nil {
		zap.L().Warn("pdf extraction disabled", zap.Error(err))
		pdf = nil
	}

	st, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return nil, eris.Wrap(err, "open store")
	}
	if st == nil {
		zap.L().Debug("run history disabled")
	}

	p := pipeline.New(pipeline.Deps{
		Completer: completer,
		Searcher:  searcher,
		Fetcher:   chain,
		PDF:       pdf,
		Remote:    fetcher.NewRemote(nil, nil),
		Store:     st,
	}, pipeline.OptionsFromConfig(cfg))

	return &pipelineEnv{
		Store:     st,
		Pipeline:  p,
		Completer: completer,
		Searcher:  searcher,
	}, nil
}

// initStore opens the run history store without building the pipeline.
func initStore(ctx context.Context) (store.Store, error) {
	st, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return nil, eris.Wrap(err, "open store")
	}
	if st == nil {
		return nil, eris.New("run history is disabled (store.driver is none)")
	}
	return st, nil
}
