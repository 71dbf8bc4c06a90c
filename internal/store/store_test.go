package store

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/intellimesh/internal/config"
	"github.com/sells-group/intellimesh/internal/model"
)

func newTestSQLite(t *testing.T) Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func storeTestSuite(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("CreateAndGetRun", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		run, err := s.CreateRun(ctx, "benefits of solar panels", "")
		require.NoError(t, err)
		assert.NotEmpty(t, run.ID)
		assert.Equal(t, model.RunStatusRunning, run.Status)

		got, err := s.GetRun(ctx, run.ID)
		require.NoError(t, err)
		assert.Equal(t, run.ID, got.ID)
		assert.Equal(t, "benefits of solar panels", got.Query)
		assert.Empty(t, got.DocumentPath)
		assert.Equal(t, model.RunStatusRunning, got.Status)
		assert.Nil(t, got.Result)
	})

	t.Run("GetRunNotFound", func(t *testing.T) {
		s := newStore(t)
		_, err := s.GetRun(context.Background(), "missing")
		require.Error(t, err)
		assert.True(t, eris.Is(err, ErrNotFound))
	})

	t.Run("UpdateRunStatus", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		run, err := s.CreateRun(ctx, "q", "/tmp/paper.pdf")
		require.NoError(t, err)

		require.NoError(t, s.UpdateRunStatus(ctx, run.ID, model.RunStatusFailed))
		got, err := s.GetRun(ctx, run.ID)
		require.NoError(t, err)
		assert.Equal(t, model.RunStatusFailed, got.Status)
		assert.Equal(t, "/tmp/paper.pdf", got.DocumentPath)

		err = s.UpdateRunStatus(ctx, "missing", model.RunStatusComplete)
		assert.True(t, eris.Is(err, ErrNotFound))
	})

	t.Run("UpdateRunResult", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		ok, err := s.CreateRun(ctx, "q1", "")
		require.NoError(t, err)
		require.NoError(t, s.UpdateRunResult(ctx, ok.ID, &model.RunResult{
			Answer:    "Solar saves money.",
			Flow:      model.FlowRetrieveEvaluate,
			Reason:    "best for filtering noise",
			Documents: 3,
			Log:       []string{"Planner chose flow 2: best for filtering noise"},
		}))

		got, err := s.GetRun(ctx, ok.ID)
		require.NoError(t, err)
		assert.Equal(t, model.RunStatusComplete, got.Status)
		require.NotNil(t, got.Result)
		assert.Equal(t, "Solar saves money.", got.Result.Answer)
		assert.Equal(t, model.FlowRetrieveEvaluate, got.Result.Flow)
		assert.Equal(t, 3, got.Result.Documents)
		assert.Len(t, got.Result.Log, 1)

		failed, err := s.CreateRun(ctx, "q2", "")
		require.NoError(t, err)
		require.NoError(t, s.UpdateRunResult(ctx, failed.ID, &model.RunResult{Error: "planner: complete: unreachable"}))
		got, err = s.GetRun(ctx, failed.ID)
		require.NoError(t, err)
		assert.Equal(t, model.RunStatusFailed, got.Status)
	})

	t.Run("ListRuns", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		var ids []string
		for _, q := range []string{"a", "b", "c"} {
			r, err := s.CreateRun(ctx, q, "")
			require.NoError(t, err)
			ids = append(ids, r.ID)
		}
		require.NoError(t, s.UpdateRunResult(ctx, ids[1], &model.RunResult{Answer: "x"}))

		all, err := s.ListRuns(ctx, RunFilter{})
		require.NoError(t, err)
		assert.Len(t, all, 3)

		complete, err := s.ListRuns(ctx, RunFilter{Status: model.RunStatusComplete})
		require.NoError(t, err)
		require.Len(t, complete, 1)
		assert.Equal(t, ids[1], complete[0].ID)

		limited, err := s.ListRuns(ctx, RunFilter{Limit: 2})
		require.NoError(t, err)
		assert.Len(t, limited, 2)

		offset, err := s.ListRuns(ctx, RunFilter{Limit: 10, Offset: 2})
		require.NoError(t, err)
		assert.Len(t, offset, 1)
	})

	t.Run("Phases", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		run, err := s.CreateRun(ctx, "q", "")
		require.NoError(t, err)

		p1, err := s.CreatePhase(ctx, run.ID, "planner")
		require.NoError(t, err)
		assert.Equal(t, model.PhaseStatusRunning, p1.Status)
		p2, err := s.CreatePhase(ctx, run.ID, "retriever")
		require.NoError(t, err)

		require.NoError(t, s.CompletePhase(ctx, p1.ID, &model.PhaseResult{
			Name:     "planner",
			Status:   model.PhaseStatusComplete,
			Duration: 12,
			Metadata: map[string]any{"flow": 2},
		}))
		require.NoError(t, s.CompletePhase(ctx, p2.ID, &model.PhaseResult{
			Name:   "retriever",
			Status: model.PhaseStatusFailed,
			Error:  "search: HTTP 500",
		}))

		phases, err := s.ListPhases(ctx, run.ID)
		require.NoError(t, err)
		require.Len(t, phases, 2)
		assert.Equal(t, "planner", phases[0].Name)
		assert.Equal(t, model.PhaseStatusComplete, phases[0].Status)
		require.NotNil(t, phases[0].Result)
		assert.Equal(t, int64(12), phases[0].Result.Duration)
		assert.Equal(t, model.PhaseStatusFailed, phases[1].Status)
		assert.Equal(t, "search: HTTP 500", phases[1].Result.Error)

		err = s.CompletePhase(ctx, "missing", &model.PhaseResult{Status: model.PhaseStatusComplete})
		assert.True(t, eris.Is(err, ErrNotFound))
	})
}

func TestSQLiteStore(t *testing.T) {
	storeTestSuite(t, newTestSQLite)
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	st, err := Open(ctx, config.StoreConfig{Driver: "none"})
	require.NoError(t, err)
	assert.Nil(t, st)

	st, err = Open(ctx, config.StoreConfig{})
	require.NoError(t, err)
	assert.Nil(t, st)

	st, err = Open(ctx, config.StoreConfig{Driver: "sqlite", DatabaseURL: filepath.Join(t.TempDir(), "runs.db")})
	require.NoError(t, err)
	require.NotNil(t, st)
	defer st.Close() //nolint:errcheck
	_, err = st.CreateRun(ctx, "migrated", "")
	require.NoError(t, err)

	_, err = Open(ctx, config.StoreConfig{Driver: "mysql"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown driver "mysql"`)
}

func TestListRunsSQL(t *testing.T) {
	tests := []struct {
		name     string
		filter   RunFilter
		wantTail string
		wantArgs []any
	}{
		{"defaults", RunFilter{}, "WHERE true ORDER BY created_at DESC LIMIT ?", []any{defaultListLimit}},
		{"status", RunFilter{Status: model.RunStatusFailed, Limit: 5}, "WHERE true AND status = ? ORDER BY created_at DESC LIMIT ?", []any{"failed", 5}},
		{"offset", RunFilter{Limit: 20, Offset: 40}, "LIMIT ? OFFSET ?", []any{20, 40}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, args := listRunsSQL(tt.filter)
			assert.True(t, strings.HasSuffix(q, tt.wantTail), q)
			assert.Equal(t, tt.wantArgs, args)
		})
	}
}

func TestRebind(t *testing.T) {
	assert.Equal(t, "UPDATE runs SET status = $1, updated_at = $2 WHERE id = $3", rebind(updateRunStatusSQL))
	assert.Equal(t, "SELECT 1", rebind("SELECT 1"))
}
