//go:build !integration

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/intellimesh/internal/model"
	"github.com/sells-group/intellimesh/internal/monitoring"
	"github.com/sells-group/intellimesh/internal/pipeline"
	"github.com/sells-group/intellimesh/internal/runlog"
	"github.com/sells-group/intellimesh/internal/store"
	storemocks "github.com/sells-group/intellimesh/internal/store/mocks"
)

type fakeResearcher struct {
	result *pipeline.Result
	err    error

	query, document string
}

func (f *fakeResearcher) Run(_ context.Context, query, documentPath string, _ runlog.Sink) (*pipeline.Result, error) {
	f.query, f.document = query, documentPath
	return f.result, f.err
}

func serveRequest(h http.Handler, method, path string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestBuildRouter_Health(t *testing.T) {
	h := buildRouter(&fakeResearcher{}, nil, nil, 0)

	rr := serveRequest(h, http.MethodGet, "/health", nil)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Header().Get("Content-Type"), "application/json")

	var body map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}

func TestBuildRouter_Research(t *testing.T) {
	r := &fakeResearcher{result: &pipeline.Result{
		RunID:    "run-1",
		Answer:   "Solar panels cut bills.",
		Decision: model.Decision{Flow: model.FlowRetrieveEvaluate, Reason: "needs ranking"},
		Log:      []string{"Planner chose flow 2: needs ranking"},
	}}
	h := buildRouter(r, nil, nil, 0)

	body, _ := json.Marshal(map[string]string{"query": "  benefits of solar panels ", "document_path": "/tmp/report.pdf"})
	rr := serveRequest(h, http.MethodPost, "/research", body)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "benefits of solar panels", r.query)
	assert.Equal(t, "/tmp/report.pdf", r.document)

	var resp researchResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "run-1", resp.RunID)
	assert.Equal(t, "Solar panels cut bills.", resp.Answer)
	assert.Equal(t, model.FlowRetrieveEvaluate, resp.Flow)
	assert.Equal(t, "needs ranking", resp.Reason)
	assert.Equal(t, []string{"Planner chose flow 2: needs ranking"}, resp.Log)
}

func TestBuildRouter_ResearchMissingQuery(t *testing.T) {
	h := buildRouter(&fakeResearcher{}, nil, nil, 0)

	rr := serveRequest(h, http.MethodPost, "/research", []byte(`{"query":"   "}`))

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "query is required")
}

func TestBuildRouter_ResearchInvalidBody(t *testing.T) {
	h := buildRouter(&fakeResearcher{}, nil, nil, 0)

	rr := serveRequest(h, http.MethodPost, "/research", []byte(`not json`))

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "invalid request body")
}

func TestBuildRouter_ResearchFailureReturnsLog(t *testing.T) {
	r := &fakeResearcher{
		result: &pipeline.Result{Log: []string{"Planner chose flow 1: simple"}},
		err:    eris.New("search provider down"),
	}
	h := buildRouter(r, nil, nil, 0)

	rr := serveRequest(h, http.MethodPost, "/research", []byte(`{"query":"q"}`))

	require.Equal(t, http.StatusInternalServerError, rr.Code)
	var resp errorResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "An error occurred during processing.", resp.Error)
	assert.Equal(t, []string{"Planner chose flow 1: simple"}, resp.Log)
	assert.NotContains(t, rr.Body.String(), "search provider down")
}

func TestBuildRouter_RunsDisabled(t *testing.T) {
	h := buildRouter(&fakeResearcher{}, nil, nil, 0)

	assert.Equal(t, http.StatusServiceUnavailable, serveRequest(h, http.MethodGet, "/runs", nil).Code)
	assert.Equal(t, http.StatusServiceUnavailable, serveRequest(h, http.MethodGet, "/runs/run-1", nil).Code)
}

func TestBuildRouter_ListRuns(t *testing.T) {
	st := storemocks.NewMockStore(t)
	st.On("ListRuns", mock.Anything, store.RunFilter{Status: model.RunStatusComplete, Limit: 5, Offset: 10}).
		Return([]model.Run{{ID: "run-1", Query: "q", Status: model.RunStatusComplete}}, nil)
	h := buildRouter(&fakeResearcher{}, st, nil, 0)

	rr := serveRequest(h, http.MethodGet, "/runs?status=complete&limit=5&offset=10", nil)

	require.Equal(t, http.StatusOK, rr.Code)
	var runs []model.Run
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &runs))
	require.Len(t, runs, 1)
	assert.Equal(t, "run-1", runs[0].ID)
}

func TestBuildRouter_ListRunsEmpty(t *testing.T) {
	st := storemocks.NewMockStore(t)
	st.On("ListRuns", mock.Anything, store.RunFilter{}).Return(nil, nil)
	h := buildRouter(&fakeResearcher{}, st, nil, 0)

	rr := serveRequest(h, http.MethodGet, "/runs", nil)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `[]`, rr.Body.String())
}

func TestBuildRouter_ListRunsBadLimit(t *testing.T) {
	st := storemocks.NewMockStore(t)
	h := buildRouter(&fakeResearcher{}, st, nil, 0)

	rr := serveRequest(h, http.MethodGet, "/runs?limit=abc", nil)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "invalid limit")
}

func TestBuildRouter_GetRun(t *testing.T) {
	st := storemocks.NewMockStore(t)
	st.On("GetRun", mock.Anything, "run-1").Return(&model.Run{
		ID:     "run-1",
		Query:  "q",
		Status: model.RunStatusFailed,
		Result: &model.RunResult{Error: "boom", ErrorClass: "transient"},
	}, nil)
	h := buildRouter(&fakeResearcher{}, st, nil, 0)

	rr := serveRequest(h, http.MethodGet, "/runs/run-1", nil)

	require.Equal(t, http.StatusOK, rr.Code)
	var run model.Run
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &run))
	assert.Equal(t, model.RunStatusFailed, run.Status)
	require.NotNil(t, run.Result)
	assert.Equal(t, "transient", run.Result.ErrorClass)
}

func TestBuildRouter_GetRunNotFound(t *testing.T) {
	st := storemocks.NewMockStore(t)
	st.On("GetRun", mock.Anything, "missing").Return(nil, store.ErrNotFound)
	h := buildRouter(&fakeResearcher{}, st, nil, 0)

	rr := serveRequest(h, http.MethodGet, "/runs/missing", nil)

	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Contains(t, rr.Body.String(), "run not found")
}

func TestBuildRouter_GetRunStoreError(t *testing.T) {
	st := storemocks.NewMockStore(t)
	st.On("GetRun", mock.Anything, "run-1").Return(nil, eris.New("connection reset"))
	h := buildRouter(&fakeResearcher{}, st, nil, 0)

	rr := serveRequest(h, http.MethodGet, "/runs/run-1", nil)

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
}

func TestBuildRouter_Metrics(t *testing.T) {
	st := storemocks.NewMockStore(t)
	st.On("ListRuns", mock.Anything, store.RunFilter{Limit: 10000}).Return([]model.Run{
		{Status: model.RunStatusComplete, CreatedAt: time.Now().Add(-time.Hour), UpdatedAt: time.Now()},
		{Status: model.RunStatusFailed, CreatedAt: time.Now().Add(-72 * time.Hour)},
	}, nil)
	h := buildRouter(&fakeResearcher{}, st, nil, 0)

	rr := serveRequest(h, http.MethodGet, "/metrics", nil)

	require.Equal(t, http.StatusOK, rr.Code)
	var snap monitoring.MetricsSnapshot
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &snap))
	assert.Equal(t, 1, snap.Total)
	assert.Equal(t, 1, snap.Complete)
	assert.Equal(t, 24, snap.LookbackHours)
}

func TestBuildRouter_MetricsBadLookback(t *testing.T) {
	h := buildRouter(&fakeResearcher{}, storemocks.NewMockStore(t), nil, 0)

	rr := serveRequest(h, http.MethodGet, "/metrics?lookback_hours=x", nil)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestBuildRouter_CORS(t *testing.T) {
	h := buildRouter(&fakeResearcher{}, nil, []string{"http://localhost:3000"}, 0)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "http://localhost:3000", rr.Header().Get("Access-Control-Allow-Origin"))
}

func TestBuildRouter_UnknownRoute(t *testing.T) {
	h := buildRouter(&fakeResearcher{}, nil, nil, 0)

	assert.Equal(t, http.StatusNotFound, serveRequest(h, http.MethodGet, "/nope", nil).Code)
}

func TestServeCommand_Flags(t *testing.T) {
	flag := serveCmd.Flags().Lookup("port")
	require.NotNil(t, flag, "serve command should have --port flag")
	assert.Equal(t, "0", flag.DefValue)
}
