package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"affordability-pipeline/internal/api/handler"
	"affordability-pipeline/internal/model"
	"affordability-pipeline/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockRuns struct{ mock.Mock }

func (m *MockRuns) GetRun(ctx context.Context, runID string) (model.RunManifest, error) {
	args := m.Called(ctx, runID)
	return args.Get(0).(model.RunManifest), args.Error(1)
}

func (m *MockRuns) ListRuns(ctx context.Context) ([]model.RunSummary, error) {
	args := m.Called(ctx)
	return args.Get(0).([]model.RunSummary), args.Error(1)
}

func (m *MockRuns) ListQuarantine(ctx context.Context, runID string) ([]store.QuarantineEntry, error) {
	args := m.Called(ctx, runID)
	return args.Get(0).([]store.QuarantineEntry), args.Error(1)
}

type MockCheckpoints struct{ mock.Mock }

func (m *MockCheckpoints) List(ctx context.Context, stage string) ([]model.Checkpoint, error) {
	args := m.Called(ctx, stage)
	return args.Get(0).([]model.Checkpoint), args.Error(1)
}

func (m *MockCheckpoints) Load(ctx context.Context, stage string, version int) ([]byte, model.Checkpoint, error) {
	args := m.Called(ctx, stage, version)
	return args.Get(0).([]byte), args.Get(1).(model.Checkpoint), args.Error(2)
}

func (m *MockCheckpoints) LoadLatest(ctx context.Context, stage string) ([]byte, model.Checkpoint, error) {
	args := m.Called(ctx, stage)
	return args.Get(0).([]byte), args.Get(1).(model.Checkpoint), args.Error(2)
}

type MockLauncher struct{ mock.Mock }

func (m *MockLauncher) Launch(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

type fixture struct {
	runs     *MockRuns
	cps      *MockCheckpoints
	launcher *MockLauncher
	handler  http.Handler
}

func newFixture() *fixture {
	f := &fixture{runs: new(MockRuns), cps: new(MockCheckpoints), launcher: new(MockLauncher)}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := &handler.Handler{
		Runs:        f.runs,
		Checkpoints: f.cps,
		Launcher:    f.launcher,
		Thresholds:  model.DefaultThresholds(),
		Logger:      logger,
	}
	f.handler = NewRouter(h, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		io.WriteString(w, "# metrics")
	}), logger)
	return f
}

func (f *fixture) do(method, path, body string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	f.handler.ServeHTTP(rec, httptest.NewRequest(method, path, r))
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestCreateRun(t *testing.T) {
	f := newFixture()
	f.launcher.On("Launch", mock.Anything).Return("run-1", nil)

	rec := f.do(http.MethodPost, "/api/v1/runs", "")
	assert.Equal(t, http.StatusAccepted, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "run-1", body["run_id"])
	assert.Equal(t, "STARTED", body["status"])
}

func TestCreateRunFailure(t *testing.T) {
	f := newFixture()
	f.launcher.On("Launch", mock.Anything).Return("", errors.New("config broken"))

	rec := f.do(http.MethodPost, "/api/v1/runs", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "config broken", decode(t, rec)["error"])
}

func TestGetRunAndQuarantine(t *testing.T) {
	f := newFixture()
	manifest := model.RunManifest{RunID: "abc", Status: model.StatusHalted, Stages: []model.StageOutcome{}}
	f.runs.On("GetRun", mock.Anything, "abc").Return(manifest, nil)
	f.runs.On("GetRun", mock.Anything, "nope").Return(model.RunManifest{}, &model.NotFoundError{Resource: "run", Key: "nope"})
	f.runs.On("ListQuarantine", mock.Anything, "abc").Return([]store.QuarantineEntry{{
		Kind:              model.KindFinancial,
		QuarantinedRecord: model.QuarantinedRecord{Index: 2, Violations: []string{"financial.income:required"}},
	}}, nil)

	rec := f.do(http.MethodGet, "/api/v1/runs/abc", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "HALTED", decode(t, rec)["status"])

	rec = f.do(http.MethodGet, "/api/v1/runs/abc/quarantine", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.EqualValues(t, 1, body["count"])

	rec = f.do(http.MethodGet, "/api/v1/runs/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = f.do(http.MethodGet, "/api/v1/runs/nope/quarantine", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	f.runs.AssertNotCalled(t, "ListQuarantine", mock.Anything, "nope")
}

func TestListRunsEmpty(t *testing.T) {
	f := newFixture()
	f.runs.On("ListRuns", mock.Anything).Return([]model.RunSummary(nil), nil)

	rec := f.do(http.MethodGet, "/api/v1/runs", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestCheckpoints(t *testing.T) {
	f := newFixture()
	payload := []byte(`{"records":[]}`)
	cp := model.Checkpoint{Stage: "features", Version: 2, Hash: "deadbeef"}
	f.cps.On("List", mock.Anything, "features").Return([]model.Checkpoint{cp}, nil)
	f.cps.On("LoadLatest", mock.Anything, "features").Return(payload, cp, nil)
	f.cps.On("Load", mock.Anything, "features", 9).Return([]byte(nil), model.Checkpoint{}, &model.NotFoundError{Resource: "checkpoint", Key: "features v9"})

	rec := f.do(http.MethodGet, "/api/v1/checkpoints/features", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"hash":"deadbeef"`)

	rec = f.do(http.MethodGet, "/api/v1/checkpoints/features/latest", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, string(payload), rec.Body.String())
	assert.Equal(t, "2", rec.Header().Get("X-Checkpoint-Version"))
	assert.Equal(t, "deadbeef", rec.Header().Get("X-Checkpoint-Hash"))

	assert.Equal(t, http.StatusNotFound, f.do(http.MethodGet, "/api/v1/checkpoints/features/9", "").Code)
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodGet, "/api/v1/checkpoints/features/zero", "").Code)
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodGet, "/api/v1/checkpoints/features/0", "").Code)
	assert.Equal(t, http.StatusNotFound, f.do(http.MethodGet, "/api/v1/checkpoints/features/2/extra", "").Code)
	f.cps.AssertNotCalled(t, "Load", mock.Anything, "features", 0)
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodGet, "/api/v1/checkpoints/bogus", "").Code)
}

func TestEvaluate(t *testing.T) {
	f := newFixture()

	rec := f.do(http.MethodPost, "/api/v1/evaluate", `{
		"financial": {"user_id": "u1", "income": 5000, "rent": 1500, "recurring_bills": 300, "savings": 10000, "debt": 200},
		"product": {"product_id": "p1", "category": "Electronics", "price": 1200}
	}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode(t, rec)
	assert.Equal(t, "Green", body["decision"])
	features := body["features"].(map[string]any)
	assert.Equal(t, "electronics", features["category"])
}

func TestEvaluateRejections(t *testing.T) {
	f := newFixture()

	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodPost, "/api/v1/evaluate", `{`).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodPost, "/api/v1/evaluate", `{}`).Code)

	rec := f.do(http.MethodPost, "/api/v1/evaluate", `{"financial": {"user_id": "u1", "income": 5000}}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, decode(t, rec)["violations"], "financial.rent:required")

	rec = f.do(http.MethodPost, "/api/v1/evaluate", `{"financial": {"user_id": "u1", "income": 5000, "rent": -1, "savings": 0}}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.NotEmpty(t, decode(t, rec)["findings"])
}

func TestMetricsAndHealthRoutes(t *testing.T) {
	f := newFixture()
	assert.Equal(t, "# metrics", f.do(http.MethodGet, "/metrics", "").Body.String())
	assert.JSONEq(t, `{"status":"ok"}`, f.do(http.MethodGet, "/health", "").Body.String())
	assert.Equal(t, http.StatusOK, f.do(http.MethodGet, "/swagger/doc.json", "").Code)
}
