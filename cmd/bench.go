package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/intellimesh/internal/bench"
	"github.com/sells-group/intellimesh/internal/index"
)

var (
	benchQueries     string
	benchConcurrency int
	benchXLSX        string
)

var benchCmd = &cobra.Command{
	Use:   "bench",
	Short: "Compare the pipeline against a snippet-only baseline",
	Long:  "Runs every query through the full pipeline and a retrieval-only baseline, grades the answers with a model judge and prints relevance, faithfulness, latency and stage utilization.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		queries, err := bench.LoadQueries(benchQueries)
		if err != nil {
			return err
		}

		if benchConcurrency > 0 {
			cfg.Bench.Concurrency = benchConcurrency
		}

		env, err := initPipeline(ctx, "bench")
		if err != nil {
			return err
		}
		defer env.Close()

		runner := bench.NewRunner(bench.NewJudge(env.Completer), cfg.Bench.Concurrency)
		metrics, err := runner.Compare(ctx, queries,
			bench.PipelineSystem{Pipeline: env.Pipeline},
			bench.BaselineSystem{
				Searcher:         env.Searcher,
				Completer:        env.Completer,
				TopK:             cfg.Search.TopK,
				Index:            index.OptionsFromConfig(cfg.Index),
				ResearchKeywords: cfg.Synth.ResearchKeywords,
			},
		)
		if err != nil {
			return eris.Wrap(err, "bench compare")
		}

		bench.WriteReport(os.Stdout, metrics)

		if benchXLSX != "" {
			if err := bench.ExportXLSX(benchXLSX, metrics); err != nil {
				return err
			}
			zap.L().Info("bench report exported", zap.String("path", benchXLSX))
		}
		return nil
	},
}

func init() {
	benchCmd.Flags().StringVar(&benchQueries, "queries", "", "file of benchmark queries, one per line or a yaml queries list (required)")
	benchCmd.Flags().IntVar(&benchConcurrency, "concurrency", 0, "queries evaluated at once (default from config)")
	benchCmd.Flags().StringVar(&benchXLSX, "xlsx", "", "also write the report to this .xlsx file")
	_ = benchCmd.MarkFlagRequired("queries")
	rootCmd.AddCommand(benchCmd)
}
