package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/intellimesh/internal/model"
	"github.com/sells-group/intellimesh/internal/monitoring"
	"github.com/sells-group/intellimesh/internal/pipeline"
	"github.com/sells-group/intellimesh/internal/runlog"
	"github.com/sells-group/intellimesh/internal/store"
)

var servePort int

// researcher runs one research query. *pipeline.Pipeline satisfies it.
type researcher interface {
	Run(ctx context.Context, query, documentPath string, sink runlog.Sink) (*pipeline.Result, error)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the research HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}
		cfg.Server.Port = port

		env, err := initPipeline(ctx, "serve")
		if err != nil {
			return err
		}
		defer env.Close()

		timeout := time.Duration(cfg.Server.TimeoutSecs) * time.Second
		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           buildRouter(env.Pipeline, env.Store, cfg.Server.AllowedOrigins, timeout),
			ReadHeaderTimeout: 10 * time.Second,
		}

		if env.Store != nil && cfg.Monitoring.WebhookURL != "" {
			checker := monitoring.NewChecker(
				monitoring.NewCollector(env.Store),
				monitoring.NewAlerter(cfg.Monitoring),
				cfg.Monitoring,
			)
			go checker.Run(ctx)
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

// buildRouter wires the API routes. st may be nil, in which case the run
// history endpoints answer 503. A zero timeout disables the request deadline.
func buildRouter(r researcher, st store.Store, origins []string, timeout time.Duration) http.Handler {
	mux := chi.NewRouter()
	mux.Use(middleware.RequestID)
	mux.Use(middleware.Recoverer)
	mux.Use(requestLogger)
	if len(origins) > 0 {
		mux.Use(cors.Handler(cors.Options{
			AllowedOrigins: origins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Content-Type"},
			MaxAge:         300,
		}))
	}
	if timeout > 0 {
		mux.Use(middleware.Timeout(timeout))
	}

	mux.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	mux.Post("/research", handleResearch(r))
	mux.Get("/metrics", handleMetrics(st))

	mux.Route("/runs", func(rt chi.Router) {
		rt.Get("/", handleListRuns(st))
		rt.Get("/{id}", handleGetRun(st))
	})

	return mux
}

type researchRequest struct {
	Query        string `json:"query"`
	DocumentPath string `json:"document_path"`
}

type researchResponse struct {
	RunID  string       `json:"run_id,omitempty"`
	Answer string       `json:"answer"`
	Flow   model.FlowID `json:"flow"`
	Reason string       `json:"reason"`
	Log    []string     `json:"log"`
}

type errorResponse struct {
	Error string   `json:"error"`
	Log   []string `json:"log,omitempty"`
}

func handleResearch(r researcher) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		var body researchRequest
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
			return
		}
		body.Query = strings.TrimSpace(body.Query)
		if body.Query == "" {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "query is required"})
			return
		}

		result, err := r.Run(req.Context(), body.Query, body.DocumentPath, nil)
		if err != nil {
			zap.L().Error("research request failed",
				zap.String("query", body.Query),
				zap.String("request_id", middleware.GetReqID(req.Context())),
				zap.Error(err),
			)
			resp := errorResponse{Error: "An error occurred during processing."}
			if result != nil {
				resp.Log = result.Log
			}
			writeJSON(w, http.StatusInternalServerError, resp)
			return
		}

		writeJSON(w, http.StatusOK, researchResponse{
			RunID:  result.RunID,
			Answer: result.Answer,
			Flow:   result.Decision.Flow,
			Reason: result.Decision.Reason,
			Log:    result.Log,
		})
	}
}

func handleListRuns(st store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if st == nil {
			writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "run history is disabled"})
			return
		}

		filter := store.RunFilter{Status: model.RunStatus(req.URL.Query().Get("status"))}
		for key, dst := range map[string]*int{"limit": &filter.Limit, "offset": &filter.Offset} {
			raw := req.URL.Query().Get(key)
			if raw == "" {
				continue
			}
			n, err := strconv.Atoi(raw)
			if err != nil || n < 0 {
				writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid " + key})
				return
			}
			*dst = n
		}

		runs, err := st.ListRuns(req.Context(), filter)
		if err != nil {
			zap.L().Error("list runs failed", zap.Error(err))
			writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "failed to list runs"})
			return
		}
		if runs == nil {
			runs = []model.Run{}
		}
		writeJSON(w, http.StatusOK, runs)
	}
}

func handleGetRun(st store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if st == nil {
			writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "run history is disabled"})
			return
		}

		id := chi.URLParam(req, "id")
		run, err := st.GetRun(req.Context(), id)
		if eris.Is(err, store.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, errorResponse{Error: "run not found"})
			return
		}
		if err != nil {
			zap.L().Error("get run failed", zap.String("run_id", id), zap.Error(err))
			writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "failed to load run"})
			return
		}
		writeJSON(w, http.StatusOK, run)
	}
}

// defaultLookbackHours is the /metrics window when none is given.
const defaultLookbackHours = 24

func handleMetrics(st store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if st == nil {
			writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "run history is disabled"})
			return
		}

		lookback := defaultLookbackHours
		if raw := req.URL.Query().Get("lookback_hours"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil {
				writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid lookback_hours"})
				return
			}
			lookback = n
		}

		snap, err := monitoring.NewCollector(st).Collect(req.Context(), lookback)
		if err != nil {
			zap.L().Error("collect metrics failed", zap.Error(err))
			writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "failed to collect metrics"})
			return
		}
		writeJSON(w, http.StatusOK, snap)
	}
}

// requestLogger logs each request with its status and latency.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		zap.L().Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
