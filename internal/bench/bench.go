// Package bench compares the full research pipeline against a retrieval-only
// baseline, grading answers with a model judge.
package bench

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/intellimesh/internal/index"
	"github.com/sells-group/intellimesh/internal/llm"
	"github.com/sells-group/intellimesh/internal/model"
	"github.com/sells-group/intellimesh/internal/pipeline"
	"github.com/sells-group/intellimesh/internal/retrieve"
	"github.com/sells-group/intellimesh/internal/runlog"
	"github.com/sells-group/intellimesh/internal/synth"
)

// UsageStages are the stages counted in the utilization report.
var UsageStages = []string{
	runlog.StageRetriever,
	runlog.StageScraper,
	runlog.StageEvaluator,
	runlog.StageChunker,
	runlog.StageSynthesizer,
}

// pipelineContextChars bounds the pipeline log tail handed to the judge.
const pipelineContextChars = 2000

// Outcome is what a system produced for one query.
type Outcome struct {
	Answer  string
	Context string
	Stages  []string
}

// System answers benchmark queries.
type System interface {
	Name() string
	Answer(ctx context.Context, query string) (Outcome, error)
}

// PipelineSystem runs the full orchestrator.
type PipelineSystem struct {
	Pipeline *pipeline.Pipeline
}

// Name implements System.
func (PipelineSystem) Name() string { return "Pipeline" }

// Answer runs the pipeline. The judge context is the tail of the run log and
// the stages are those that completed.
func (s PipelineSystem) Answer(ctx context.Context, query string) (Outcome, error) {
	log := runlog.New()
	res, err := s.Pipeline.Run(ctx, query, "", log)
	if err != nil {
		return Outcome{}, err
	}

	done := log.Completed()
	var stages []string
	for _, st := range UsageStages {
		if done[st] {
			stages = append(stages, st)
		}
	}
	return Outcome{
		Answer:  res.Answer,
		Context: tail(strings.Join(log.Lines(), "\n"), pipelineContextChars),
		Stages:  stages,
	}, nil
}

// BaselineSystem answers from search snippets alone, skipping scraping and
// evaluation.
type BaselineSystem struct {
	Searcher         retrieve.Searcher
	Completer        llm.Completer
	TopK             int
	Index            index.Options
	ResearchKeywords []string
}

// Name implements System.
func (BaselineSystem) Name() string { return "Baseline" }

// Answer indexes the snippets of the search results, falling back to their
// titles, and synthesizes from them.
func (s BaselineSystem) Answer(ctx context.Context, query string) (Outcome, error) {
	log := runlog.New()
	sources, err := retrieve.NewRetriever(s.Searcher, s.TopK, log).Retrieve(ctx, query)
	if err != nil {
		return Outcome{}, err
	}
	out := Outcome{Stages: []string{runlog.StageRetriever}}

	var docs []model.Document
	for _, src := range sources {
		content := src.Snippet
		if content == "" {
			content = src.Title
		}
		if strings.TrimSpace(content) == "" {
			continue
		}
		docs = append(docs, model.Document{URL: src.URL, Title: src.Title, Content: content})
	}
	if len(docs) == 0 {
		out.Answer = synth.NoInformation
		return out, nil
	}

	idx, err := index.NewBuilder(s.Index, log).Build(ctx, docs)
	if err != nil {
		return Outcome{}, err
	}
	out.Stages = append(out.Stages, runlog.StageChunker)

	answer, err := synth.New(s.Completer, s.ResearchKeywords, log).Synthesize(ctx, query, idx)
	if err != nil {
		return Outcome{}, err
	}
	out.Stages = append(out.Stages, runlog.StageSynthesizer)
	out.Answer = answer

	support := make([]string, 0, 3)
	for _, d := range docs[:min(3, len(docs))] {
		support = append(support, d.Content)
	}
	out.Context = strings.Join(support, " ")
	return out, nil
}

// Metrics summarizes one system over a query set.
type Metrics struct {
	System       string         `json:"system"`
	Relevance    float64        `json:"relevance"`
	Faithfulness float64        `json:"faithfulness"`
	AvgLatency   time.Duration  `json:"avg_latency"`
	Throughput   float64        `json:"throughput"`
	Uptime       float64        `json:"uptime"`
	ErrorRate    float64        `json:"error_rate"`
	TotalRuns    int            `json:"total_runs"`
	StageUsage   map[string]int `json:"stage_usage"`
}

// Utilization returns the share of runs, in percent, that used stage.
func (m Metrics) Utilization(stage string) float64 {
	if m.TotalRuns == 0 {
		return 0
	}
	return float64(m.StageUsage[stage]) / float64(m.TotalRuns) * 100
}

// Runner evaluates systems with a judge.
type Runner struct {
	judge       *Judge
	concurrency int
}

// NewRunner creates a Runner that evaluates up to concurrency queries at once.
func NewRunner(judge *Judge, concurrency int) *Runner {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Runner{judge: judge, concurrency: concurrency}
}

type trial struct {
	latency      time.Duration
	ok           bool
	relevance    int
	faithfulness int
	stages       []string
}

// Evaluate runs every query through sys and aggregates the judged results.
// A failed query counts against uptime and is judged with an empty answer.
func (r *Runner) Evaluate(ctx context.Context, sys System, queries []string) (Metrics, error) {
	trials := make([]trial, len(queries))
	log := zap.L().With(zap.String("system", sys.Name()))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)

	for i, q := range queries {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			start := time.Now()
			out, err := sys.Answer(gctx, q)
			trials[i].latency = time.Since(start)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				log.Warn("bench: query failed", zap.String("query", q), zap.Error(err))
				out = Outcome{}
			} else {
				trials[i].ok = true
				trials[i].stages = out.Stages
			}

			rel, err := r.judge.Relevance(gctx, q, out.Answer)
			if err != nil {
				log.Warn("bench: relevance judge failed", zap.String("query", q), zap.Error(err))
			}
			faith, err := r.judge.Faithfulness(gctx, out.Context, out.Answer)
			if err != nil {
				log.Warn("bench: faithfulness judge failed", zap.String("query", q), zap.Error(err))
			}
			trials[i].relevance = rel
			trials[i].faithfulness = faith
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Metrics{}, eris.Wrapf(err, "bench: evaluate %s", sys.Name())
	}

	return summarize(sys.Name(), trials), nil
}

// Compare evaluates each system in turn over the same queries.
func (r *Runner) Compare(ctx context.Context, queries []string, systems ...System) ([]Metrics, error) {
	out := make([]Metrics, 0, len(systems))
	for _, sys := range systems {
		zap.L().Info("bench: evaluating", zap.String("system", sys.Name()), zap.Int("queries", len(queries)))
		m, err := r.Evaluate(ctx, sys, queries)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

func summarize(name string, trials []trial) Metrics {
	m := Metrics{
		System:     name,
		TotalRuns:  len(trials),
		StageUsage: make(map[string]int, len(UsageStages)),
		ErrorRate:  1,
	}
	for _, st := range UsageStages {
		m.StageUsage[st] = 0
	}
	if len(trials) == 0 {
		return m
	}

	var rel, faith, ok int
	var total time.Duration
	for _, t := range trials {
		rel += t.relevance
		faith += t.faithfulness
		total += t.latency
		if t.ok {
			ok++
		}
		for _, st := range t.stages {
			m.StageUsage[st]++
		}
	}

	n := float64(len(trials))
	m.Relevance = float64(rel) / (MaxScore * n)
	m.Faithfulness = float64(faith) / (MaxScore * n)
	m.AvgLatency = total / time.Duration(len(trials))
	if total > 0 {
		m.Throughput = n / total.Seconds() * 60
	}
	m.Uptime = float64(ok) / n
	m.ErrorRate = 1 - m.Uptime
	return m
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[len(r)-n:])
}
