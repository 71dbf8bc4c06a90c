package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/intellimesh/internal/pipeline"
)

var (
	runQuery    string
	runDocument string
	runShowLog  bool
	runJSON     bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Answer a single research query",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if strings.TrimSpace(runQuery) == "" {
			return eris.New("--query must not be empty")
		}

		env, err := initPipeline(ctx, "run")
		if err != nil {
			return err
		}
		defer env.Close()

		result, runErr := env.Pipeline.Run(ctx, runQuery, runDocument, nil)
		if runErr != nil {
			writeFailure(os.Stderr, runErr, result)
			return eris.Wrap(runErr, "pipeline run")
		}

		zap.L().Info("research complete",
			zap.String("run_id", result.RunID),
			zap.Int("flow", int(result.Decision.Flow)),
			zap.Int("documents", result.Documents),
			zap.Int("llm_calls", result.Usage.Calls),
		)

		if runJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(result)
		}
		writeAnswer(os.Stdout, result, runShowLog)
		return nil
	},
}

func init() {
	runCmd.Flags().StringVar(&runQuery, "query", "", "research question (required)")
	runCmd.Flags().StringVar(&runDocument, "document", "", "path or URL of a document to answer from")
	runCmd.Flags().BoolVar(&runShowLog, "show-log", false, "print the pipeline log after the answer")
	runCmd.Flags().BoolVar(&runJSON, "json", false, "print the full result as JSON")
	_ = runCmd.MarkFlagRequired("query")
	rootCmd.AddCommand(runCmd)
}

// writeAnswer prints the answer and, when showLog is set, the run log.
func writeAnswer(w io.Writer, result *pipeline.Result, showLog bool) {
	_, _ = fmt.Fprintln(w, result.Answer)
	if showLog {
		writeLog(w, result.Log)
	}
}

// writeFailure prints the error and whatever was logged before it.
func writeFailure(w io.Writer, err error, result *pipeline.Result) {
	_, _ = fmt.Fprintf(w, "An error occurred during processing: %v\n", err)
	if result != nil {
		writeLog(w, result.Log)
	}
}

func writeLog(w io.Writer, lines []string) {
	if len(lines) == 0 {
		return
	}
	_, _ = fmt.Fprintln(w, "\nPipeline log:")
	for _, l := range lines {
		_, _ = fmt.Fprintf(w, "  %s\n", l)
	}
}
