// Package pipeline answers a research request by running the flow the
// planner selects: web retrieval with or without source evaluation, or
// ingestion of an uploaded document.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/intellimesh/internal/acquire"
	"github.com/sells-group/intellimesh/internal/config"
	"github.com/sells-group/intellimesh/internal/evaluate"
	"github.com/sells-group/intellimesh/internal/extract"
	"github.com/sells-group/intellimesh/internal/fetcher"
	"github.com/sells-group/intellimesh/internal/index"
	"github.com/sells-group/intellimesh/internal/llm"
	"github.com/sells-group/intellimesh/internal/model"
	"github.com/sells-group/intellimesh/internal/ocr"
	"github.com/sells-group/intellimesh/internal/planner"
	"github.com/sells-group/intellimesh/internal/resilience"
	"github.com/sells-group/intellimesh/internal/retrieve"
	"github.com/sells-group/intellimesh/internal/runlog"
	"github.com/sells-group/intellimesh/internal/store"
	"github.com/sells-group/intellimesh/internal/synth"
)

// Deps holds the collaborators shared by every run. Store is optional.
type Deps struct {
	Completer llm.Completer
	Searcher  retrieve.Searcher
	Fetcher   acquire.Fetcher
	PDF       ocr.Extractor
	Remote    fetcher.Fetcher
	Store     store.Store
}

// Options tunes the stages.
type Options struct {
	SearchTopK       int
	Acquire          acquire.Options
	Evaluate         evaluate.Options
	Index            index.Options
	ResearchKeywords []string
}

// OptionsFromConfig collects stage options from the application config.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		SearchTopK:       cfg.Search.TopK,
		Acquire:          acquire.OptionsFromConfig(cfg.Acquire),
		Evaluate:         evaluate.OptionsFromConfig(cfg.Evaluate),
		Index:            index.OptionsFromConfig(cfg.Index),
		ResearchKeywords: cfg.Synth.ResearchKeywords,
	}
}

// Result is the outcome of one run.
type Result struct {
	RunID     string              `json:"run_id,omitempty"`
	Answer    string              `json:"answer"`
	Decision  model.Decision      `json:"decision"`
	Documents int                 `json:"documents"`
	Stages    []model.PhaseResult `json:"stages"`
	Log       []string            `json:"log"`
	Usage     model.TokenUsage    `json:"usage"`
}

// Pipeline sequences the stages of a research run. A Pipeline is safe for
// concurrent use; each Run builds its own stage instances.
type Pipeline struct {
	deps    Deps
	opts    Options
	planner *planner.Planner
}

// New creates a Pipeline.
func New(deps Deps, opts Options) *Pipeline {
	return &Pipeline{
		deps:    deps,
		opts:    opts,
		planner: planner.New(deps.Completer),
	}
}

// Answer runs the pipeline and returns only the final answer.
func (p *Pipeline) Answer(ctx context.Context, query, documentPath string, sink runlog.Sink) (string, error) {
	res, err := p.Run(ctx, query, documentPath, sink)
	if err != nil {
		return "", err
	}
	return res.Answer, nil
}

// Run answers query, ingesting documentPath instead of searching the web when
// it is non-empty and the planner agrees. Every stage writes to sink and
// emits stage events when sink accepts them. A stage error stops the run and
// is returned together with the partial Result, whose Log holds every line
// written up to the failure.
func (p *Pipeline) Run(ctx context.Context, query, documentPath string, sink runlog.Sink) (*Result, error) {
	rec := runlog.New()
	sinks := runlog.Multi{rec, runlog.Zap{Fields: []zap.Field{zap.String("query", query)}}}
	if sink != nil {
		sinks = append(runlog.Multi{sink}, sinks...)
	}

	meter := llm.MeterFrom(ctx)
	if meter == nil {
		meter = &llm.Meter{}
		ctx = llm.WithMeter(ctx, meter)
	}

	r := &run{
		store:  p.deps.Store,
		sink:   sinks,
		events: sinks,
		log:    zap.L().With(zap.String("query", query)),
		result: &Result{},
	}
	r.begin(ctx, query, documentPath)

	answer, err := p.execute(ctx, r, query, documentPath)
	r.result.Answer = answer
	r.result.Log = rec.Lines()
	r.result.Usage = meter.Usage()
	r.finish(ctx, err)

	if err != nil {
		return r.result, err
	}
	return r.result, nil
}

func (p *Pipeline) execute(ctx context.Context, r *run, query, documentPath string) (string, error) {
	uploaded := documentPath != ""
	decision, err := track(ctx, r, runlog.StagePlanner, func(ctx context.Context) (model.Decision, error) {
		return p.planner.Decide(ctx, query, uploaded)
	})
	if err != nil {
		return "", err
	}
	r.result.Decision = decision
	r.sink.Write(fmt.Sprintf("Planner chose flow %d: %s", decision.Flow, decision.Reason))

	var docs []model.Document
	switch {
	case decision.Flow == model.FlowDocument && uploaded:
		r.sink.Write("Pipeline: Load PDF > Chunk > Synthesize")
		docs, err = track(ctx, r, runlog.StageDocument, func(ctx context.Context) ([]model.Document, error) {
			return extract.New(p.deps.PDF, p.deps.Remote, r.sink).Extract(ctx, documentPath)
		})
	case decision.Flow == model.FlowRetrieveSynthesize:
		r.sink.Write("Pipeline: Retrieve > Scrape > Synthesize")
		docs, err = p.gather(ctx, r, query)
	case decision.Flow == model.FlowRetrieveEvaluate:
		r.sink.Write("Pipeline: Retrieve > Scrape > Evaluate > Synthesize")
		docs, err = p.gatherEvaluated(ctx, r, query)
	default:
		r.sink.Write("Unknown pipeline flow. Defaulting to pipeline 2.")
		docs, err = p.gatherEvaluated(ctx, r, query)
	}
	if err != nil {
		return "", err
	}
	return p.synthesize(ctx, r, query, docs)
}

// gather retrieves candidates and acquires their text.
func (p *Pipeline) gather(ctx context.Context, r *run, query string) ([]model.Document, error) {
	if p.deps.Searcher == nil {
		return nil, eris.New("pipeline: no search provider configured")
	}
	if p.deps.Fetcher == nil {
		return nil, eris.New("pipeline: no fetcher configured")
	}
	retriever := retrieve.NewRetriever(p.deps.Searcher, p.opts.SearchTopK, r.sink)

	sources, err := track(ctx, r, runlog.StageRetriever, func(ctx context.Context) ([]model.Source, error) {
		return retriever.Retrieve(ctx, query)
	})
	if err != nil {
		return nil, err
	}

	return track(ctx, r, runlog.StageScraper, func(ctx context.Context) ([]model.Document, error) {
		return acquire.New(p.deps.Fetcher, p.opts.Acquire, r.sink).Acquire(ctx, sources, retriever, query)
	})
}

func (p *Pipeline) gatherEvaluated(ctx context.Context, r *run, query string) ([]model.Document, error) {
	docs, err := p.gather(ctx, r, query)
	if err != nil {
		return nil, err
	}
	return track(ctx, r, runlog.StageEvaluator, func(context.Context) ([]model.Document, error) {
		return evaluate.Evaluate(docs, query, p.opts.Evaluate, r.sink), nil
	})
}

func (p *Pipeline) synthesize(ctx context.Context, r *run, query string, docs []model.Document) (string, error) {
	r.result.Documents = len(docs)
	if p.deps.Completer == nil {
		return "", eris.New("pipeline: no completion service configured")
	}

	idx, err := track(ctx, r, runlog.StageChunker, func(ctx context.Context) (*index.Index, error) {
		return index.NewBuilder(p.opts.Index, r.sink).Build(ctx, docs)
	})
	if err != nil {
		return "", err
	}

	return track(ctx, r, runlog.StageSynthesizer, func(ctx context.Context) (string, error) {
		return synth.New(p.deps.Completer, p.opts.ResearchKeywords, r.sink).Synthesize(ctx, query, idx)
	})
}

// run carries the per-request state threaded through the stages.
type run struct {
	id     string
	store  store.Store
	sink   runlog.Sink
	events runlog.EventSink
	log    *zap.Logger
	result *Result
}

func (r *run) begin(ctx context.Context, query, documentPath string) {
	if r.store == nil {
		return
	}
	rec, err := r.store.CreateRun(ctx, query, documentPath)
	if err != nil {
		r.log.Warn("pipeline: failed to create run", zap.Error(err))
		return
	}
	r.id = rec.ID
	r.result.RunID = rec.ID
	r.log = r.log.With(zap.String("run_id", rec.ID))
}

func (r *run) finish(ctx context.Context, runErr error) {
	if runErr != nil {
		r.log.Error("pipeline: run failed", zap.Error(runErr))
	} else {
		r.log.Info("pipeline: run complete",
			zap.Int("flow", int(r.result.Decision.Flow)),
			zap.Int("documents", r.result.Documents),
		)
	}
	if r.store == nil || r.id == "" {
		return
	}

	out := &model.RunResult{
		Answer:     r.result.Answer,
		Flow:       r.result.Decision.Flow,
		Reason:     r.result.Decision.Reason,
		Documents:  r.result.Documents,
		Log:        r.result.Log,
		TokenUsage: r.result.Usage,
		Phases:     r.result.Stages,
	}
	if runErr != nil {
		out.Error = runErr.Error()
		out.ErrorClass = string(resilience.Classify(runErr))
	}
	if err := r.store.UpdateRunResult(ctx, r.id, out); err != nil {
		r.log.Warn("pipeline: failed to store result", zap.Error(err))
	}
}

// track runs one stage, emitting stage events and recording it as a phase.
func track[T any](ctx context.Context, r *run, stage string, fn func(context.Context) (T, error)) (T, error) {
	var phase *model.RunPhase
	if r.store != nil && r.id != "" {
		var err error
		if phase, err = r.store.CreatePhase(ctx, r.id, stage); err != nil {
			r.log.Warn("pipeline: failed to create phase", zap.String("phase", stage), zap.Error(err))
		}
	}

	start := time.Now()
	r.events.Emit(runlog.Event{Kind: runlog.StageStarted, Stage: stage, At: start})
	out, err := fn(ctx)
	elapsed := time.Since(start)

	pr := model.PhaseResult{
		Name:     stage,
		Status:   model.PhaseStatusComplete,
		Duration: elapsed.Milliseconds(),
	}
	if err != nil {
		err = eris.Wrapf(err, "pipeline: %s", stage)
		pr.Status = model.PhaseStatusFailed
		pr.Error = err.Error()
		r.events.Emit(runlog.Event{Kind: runlog.StageFailed, Stage: stage, At: time.Now(), Duration: elapsed, Err: err.Error()})
	} else {
		r.events.Emit(runlog.Event{Kind: runlog.StageCompleted, Stage: stage, At: time.Now(), Duration: elapsed})
	}
	r.result.Stages = append(r.result.Stages, pr)

	if phase != nil {
		if cerr := r.store.CompletePhase(ctx, phase.ID, &pr); cerr != nil {
			r.log.Warn("pipeline: failed to complete phase", zap.String("phase", stage), zap.Error(cerr))
		}
	}
	return out, err
}
