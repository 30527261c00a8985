package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wellsight-ai/wellsight/internal/auth"
	"github.com/wellsight-ai/wellsight/internal/gateway"
	"github.com/wellsight-ai/wellsight/internal/model"
	"github.com/wellsight-ai/wellsight/internal/pipeline"
	"github.com/wellsight-ai/wellsight/internal/storage"
	"github.com/wellsight-ai/wellsight/internal/testutil"
)

// stubGateway answers every call with canned results. Setting fail makes
// every subsequent call return that error.
type stubGateway struct {
	mu   sync.Mutex
	fail error
}

func (s *stubGateway) err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fail
}

func (s *stubGateway) setFail(err error) {
	s.mu.Lock()
	s.fail = err
	s.mu.Unlock()
}

func (s *stubGateway) FetchStepQuery(ctx context.Context, analysisID, agentID string) (gateway.StepQuery, error) {
	if err := s.err(); err != nil {
		return gateway.StepQuery{}, err
	}
	return gateway.StepQuery{Role: "Specialist", Query: "assess " + agentID}, nil
}

func (s *stubGateway) SubmitStepResponse(ctx context.Context, analysisID, agentID, text string) (gateway.StepResult, error) {
	if err := s.err(); err != nil {
		return gateway.StepResult{}, err
	}
	return gateway.StepResult{Confidence: "high", Analysis: text}, nil
}

func (s *stubGateway) RunStepAutomated(ctx context.Context, analysisID, agentID string) (gateway.StepResult, error) {
	if err := s.err(); err != nil {
		return gateway.StepResult{}, err
	}
	return gateway.StepResult{Confidence: "medium", Analysis: "auto " + agentID}, nil
}

func (s *stubGateway) FetchSynthesisQuery(ctx context.Context, analysisID string) (gateway.StepQuery, error) {
	if err := s.err(); err != nil {
		return gateway.StepQuery{}, err
	}
	return gateway.StepQuery{Query: "synthesize"}, nil
}

func (s *stubGateway) SubmitSynthesisResponse(ctx context.Context, analysisID, text string) (string, error) {
	if err := s.err(); err != nil {
		return "", err
	}
	return text, nil
}

func (s *stubGateway) RunSynthesisAutomated(ctx context.Context, analysisID string) (string, error) {
	if err := s.err(); err != nil {
		return "", err
	}
	return "final report", nil
}

func (s *stubGateway) TriggerRCA(ctx context.Context, eventID string) (string, error) {
	if err := s.err(); err != nil {
		return "", err
	}
	return "root cause: " + eventID, nil
}

// stubStore is an in-memory pipeline.Store for handler tests.
type stubStore struct {
	mu             sync.Mutex
	investigations map[uuid.UUID]model.Investigation
	records        map[uuid.UUID][]model.StepRecord
}

func newStubStore() *stubStore {
	return &stubStore{
		investigations: make(map[uuid.UUID]model.Investigation),
		records:        make(map[uuid.UUID][]model.StepRecord),
	}
}

func (s *stubStore) CreateInvestigation(ctx context.Context, inv model.Investigation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.investigations[inv.ID] = inv
	return nil
}

func (s *stubStore) GetInvestigation(ctx context.Context, id uuid.UUID) (model.Investigation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.investigations[id]
	if !ok {
		return model.Investigation{}, storage.ErrNotFound
	}
	return inv, nil
}

func (s *stubStore) ListStepRecords(ctx context.Context, id uuid.UUID) ([]model.StepRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.StepRecord(nil), s.records[id]...), nil
}

func (s *stubStore) ListOpenInvestigations(ctx context.Context) ([]model.Investigation, error) {
	return nil, nil
}

func (s *stubStore) AppendStepRecord(ctx context.Context, rec model.StepRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.InvestigationID] = append(s.records[rec.InvestigationID], rec)
	inv := s.investigations[rec.InvestigationID]
	inv.Cursor++
	s.investigations[rec.InvestigationID] = inv
	return nil
}

func (s *stubStore) SetMode(ctx context.Context, id uuid.UUID, mode model.Mode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv := s.investigations[id]
	inv.Mode = mode
	s.investigations[id] = inv
	return nil
}

func (s *stubStore) SetFinalReport(ctx context.Context, id uuid.UUID, report string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv := s.investigations[id]
	inv.FinalReport = &report
	inv.Status = model.InvestigationDone
	s.investigations[id] = inv
	return nil
}

func (s *stubStore) SaveRCAReport(ctx context.Context, rep model.RCAReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv := s.investigations[rep.InvestigationID]
	inv.RCACount++
	s.investigations[rep.InvestigationID] = inv
	return nil
}

type testServer struct {
	handler http.Handler
	gw      *stubGateway
	jwtMgr  *auth.JWTManager
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	logger := testutil.TestLogger()

	jwtMgr, err := auth.NewJWTManager("", "", time.Hour)
	require.NoError(t, err)

	gw := &stubGateway{}
	orch := pipeline.New(gw, newStubStore(), nil, logger, pipeline.Config{RetryBaseDelay: time.Millisecond})

	srv := New(ServerConfig{
		JWTMgr:              jwtMgr,
		Orchestrator:        orch,
		Logger:              logger,
		Version:             "test",
		MaxRequestBodyBytes: 1 << 20,
	})
	return &testServer{handler: srv.Handler(), gw: gw, jwtMgr: jwtMgr}
}

func (ts *testServer) token(t *testing.T, role model.AccountRole) string {
	t.Helper()
	token, _, err := ts.jwtMgr.IssueToken(model.Account{
		ID:        uuid.New(),
		AccountID: fmt.Sprintf("%s@petrocorp.com", role),
		Role:      role,
	})
	require.NoError(t, err)
	return token
}

type envelope struct {
	Data  json.RawMessage    `json:"data"`
	Error *model.ErrorDetail `json:"error"`
	Meta  model.ResponseMeta `json:"meta"`
}

func (ts *testServer) do(t *testing.T, method, path, token string, body any) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)

	var env envelope
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	}
	return rec, env
}

func (ts *testServer) createInvestigation(t *testing.T, token string, req model.CreateInvestigationRequest) model.Snapshot {
	t.Helper()
	rec, env := ts.do(t, http.MethodPost, "/v1/investigations", token, req)
	require.Equal(t, http.StatusCreated, rec.Code)
	var snap model.Snapshot
	require.NoError(t, json.Unmarshal(env.Data, &snap))
	return snap
}

func TestServer_RejectsMissingToken(t *testing.T) {
	ts := newTestServer(t)

	rec, env := ts.do(t, http.MethodGet, "/v1/investigations/"+uuid.NewString(), "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, model.ErrCodeUnauthorized, env.Error.Code)
}

func TestServer_RejectsMalformedAuthHeader(t *testing.T) {
	ts := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/investigations/"+uuid.NewString(), nil)
	req.Header.Set("Authorization", "Basic abc123")
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestServer_RejectsGarbageToken(t *testing.T) {
	ts := newTestServer(t)

	rec, _ := ts.do(t, http.MethodGet, "/v1/investigations/"+uuid.NewString(), "not.a.jwt", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestServer_ViewerCannotDrivePipeline(t *testing.T) {
	ts := newTestServer(t)
	viewer := ts.token(t, model.RoleViewer)

	rec, env := ts.do(t, http.MethodPost, "/v1/investigations", viewer, model.CreateInvestigationRequest{
		Workflow: model.Workflow{"drilling_engineer"},
		Mode:     "automated",
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, model.ErrCodeForbidden, env.Error.Code)
}

func TestServer_EngineerCannotManageAccounts(t *testing.T) {
	ts := newTestServer(t)
	engineer := ts.token(t, model.RoleEngineer)

	rec, _ := ts.do(t, http.MethodPost, "/v1/accounts", engineer, model.CreateAccountRequest{})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestServer_ViewerCanReadSnapshot(t *testing.T) {
	ts := newTestServer(t)
	engineer := ts.token(t, model.RoleEngineer)
	viewer := ts.token(t, model.RoleViewer)

	snap := ts.createInvestigation(t, engineer, model.CreateInvestigationRequest{
		Workflow: model.Workflow{"drilling_engineer"},
		Mode:     "automated",
	})

	rec, env := ts.do(t, http.MethodGet, "/v1/investigations/"+snap.ID.String(), viewer, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	var got model.Snapshot
	require.NoError(t, json.Unmarshal(env.Data, &got))
	assert.Equal(t, snap.ID, got.ID)
	assert.Equal(t, 0, got.CurrentStepIndex)
}

func TestServer_InteractiveFlow(t *testing.T) {
	ts := newTestServer(t)
	engineer := ts.token(t, model.RoleEngineer)

	snap := ts.createInvestigation(t, engineer, model.CreateInvestigationRequest{
		Workflow: model.Workflow{"drilling_engineer", "mud_engineer"},
		Mode:     "interactive",
	})
	base := "/v1/investigations/" + snap.ID.String()

	// Fetch the first specialist's query.
	rec, env := ts.do(t, http.MethodGet, base+"/step/query", engineer, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var q model.StepQueryResponse
	require.NoError(t, json.Unmarshal(env.Data, &q))
	assert.Equal(t, "drilling_engineer", q.AgentID)
	assert.False(t, q.Synthesis)

	// Submit a curated response.
	rec, env = ts.do(t, http.MethodPost, base+"/step/response", engineer, model.SubmitResponseRequest{
		Text: "torque spike indicates pack-off risk",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var got model.Snapshot
	require.NoError(t, json.Unmarshal(env.Data, &got))
	assert.Equal(t, 1, got.CurrentStepIndex)

	// Switch to automated and run the rest.
	rec, _ = ts.do(t, http.MethodPut, base+"/mode", engineer, model.SetModeRequest{Mode: "automated"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec, env = ts.do(t, http.MethodPost, base+"/run-all", engineer, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(env.Data, &got))
	assert.Equal(t, model.InvestigationDone, got.Status)
	require.Len(t, got.Records, 2)
	assert.Equal(t, "torque spike indicates pack-off risk", got.Records[0].Analysis)

	// The final report is readable.
	rec, env = ts.do(t, http.MethodGet, base+"/report", engineer, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var report map[string]string
	require.NoError(t, json.Unmarshal(env.Data, &report))
	assert.Equal(t, "final report", report["report"])
}

func TestServer_BlankResponseRejected(t *testing.T) {
	ts := newTestServer(t)
	engineer := ts.token(t, model.RoleEngineer)

	snap := ts.createInvestigation(t, engineer, model.CreateInvestigationRequest{
		Workflow: model.Workflow{"drilling_engineer"},
		Mode:     "interactive",
	})

	rec, env := ts.do(t, http.MethodPost, "/v1/investigations/"+snap.ID.String()+"/step/response",
		engineer, model.SubmitResponseRequest{Text: ""})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, model.ErrCodeInvalidInput, env.Error.Code)
}

func TestServer_ErrorMapping(t *testing.T) {
	ts := newTestServer(t)
	engineer := ts.token(t, model.RoleEngineer)

	t.Run("unknown investigation is 404", func(t *testing.T) {
		rec, env := ts.do(t, http.MethodGet, "/v1/investigations/"+uuid.NewString(), engineer, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, model.ErrCodeNotFound, env.Error.Code)
	})

	t.Run("malformed id is 400", func(t *testing.T) {
		rec, env := ts.do(t, http.MethodGet, "/v1/investigations/not-a-uuid", engineer, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, model.ErrCodeInvalidInput, env.Error.Code)
	})

	t.Run("wrong mode is 412", func(t *testing.T) {
		snap := ts.createInvestigation(t, engineer, model.CreateInvestigationRequest{
			Workflow: model.Workflow{"drilling_engineer"},
			Mode:     "interactive",
		})
		rec, env := ts.do(t, http.MethodPost, "/v1/investigations/"+snap.ID.String()+"/step/auto", engineer, nil)
		assert.Equal(t, http.StatusPreconditionFailed, rec.Code)
		assert.Equal(t, model.ErrCodePreconditionFailed, env.Error.Code)
	})

	t.Run("report before synthesis is 412", func(t *testing.T) {
		snap := ts.createInvestigation(t, engineer, model.CreateInvestigationRequest{
			Workflow: model.Workflow{"drilling_engineer"},
			Mode:     "automated",
		})
		rec, env := ts.do(t, http.MethodGet, "/v1/investigations/"+snap.ID.String()+"/report", engineer, nil)
		assert.Equal(t, http.StatusPreconditionFailed, rec.Code)
		assert.Equal(t, model.ErrCodePreconditionFailed, env.Error.Code)
	})

	t.Run("completed investigation rejects further commands", func(t *testing.T) {
		snap := ts.createInvestigation(t, engineer, model.CreateInvestigationRequest{
			Workflow: model.Workflow{"drilling_engineer"},
			Mode:     "automated",
		})
		base := "/v1/investigations/" + snap.ID.String()
		rec, _ := ts.do(t, http.MethodPost, base+"/run-all", engineer, nil)
		require.Equal(t, http.StatusOK, rec.Code)

		rec, env := ts.do(t, http.MethodPost, base+"/run-all", engineer, nil)
		assert.Equal(t, http.StatusConflict, rec.Code)
		assert.Equal(t, model.ErrCodeConflict, env.Error.Code)
	})

	t.Run("rca without originating event is 412", func(t *testing.T) {
		snap := ts.createInvestigation(t, engineer, model.CreateInvestigationRequest{
			Workflow: model.Workflow{"drilling_engineer"},
			Mode:     "automated",
		})
		base := "/v1/investigations/" + snap.ID.String()
		rec, _ := ts.do(t, http.MethodPost, base+"/run-all", engineer, nil)
		require.Equal(t, http.StatusOK, rec.Code)

		rec, env := ts.do(t, http.MethodPost, base+"/rca", engineer, nil)
		assert.Equal(t, http.StatusPreconditionFailed, rec.Code)
		assert.Equal(t, model.ErrCodePreconditionFailed, env.Error.Code)
	})

	t.Run("gateway failure is 502", func(t *testing.T) {
		snap := ts.createInvestigation(t, engineer, model.CreateInvestigationRequest{
			Workflow: model.Workflow{"drilling_engineer"},
			Mode:     "automated",
		})
		ts.gw.setFail(&gateway.Error{Kind: gateway.KindRemoteFailure, Op: "run automated step", Detail: "model errored"})
		defer ts.gw.setFail(nil)

		rec, env := ts.do(t, http.MethodPost, "/v1/investigations/"+snap.ID.String()+"/step/auto", engineer, nil)
		assert.Equal(t, http.StatusBadGateway, rec.Code)
		assert.Equal(t, model.ErrCodeUpstreamFailure, env.Error.Code)
		assert.Contains(t, env.Error.Message, "remote_failure")
		assert.NotContains(t, env.Error.Message, "model errored")
	})
}

func TestServer_RCALifecycle(t *testing.T) {
	ts := newTestServer(t)
	engineer := ts.token(t, model.RoleEngineer)

	eventID := "well-7-kick-2026-08-12"
	snap := ts.createInvestigation(t, engineer, model.CreateInvestigationRequest{
		Workflow: model.Workflow{"drilling_engineer"},
		Mode:     "automated",
		EventID:  &eventID,
	})
	base := "/v1/investigations/" + snap.ID.String()

	// Gated until the report exists.
	rec, _ := ts.do(t, http.MethodPost, base+"/rca", engineer, nil)
	assert.Equal(t, http.StatusPreconditionFailed, rec.Code)

	rec, _ = ts.do(t, http.MethodPost, base+"/run-all", engineer, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec, env := ts.do(t, http.MethodPost, base+"/rca", engineer, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var rca model.RCAReport
	require.NoError(t, json.Unmarshal(env.Data, &rca))
	assert.Equal(t, eventID, rca.EventID)
	assert.Equal(t, "root cause: "+eventID, rca.Report)

	// One-shot.
	rec, env = ts.do(t, http.MethodPost, base+"/rca", engineer, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, model.ErrCodeConflict, env.Error.Code)
}

func TestServer_UnknownFieldRejected(t *testing.T) {
	ts := newTestServer(t)
	engineer := ts.token(t, model.RoleEngineer)

	rec, env := ts.do(t, http.MethodPost, "/v1/investigations", engineer, map[string]any{
		"workflow": []string{"drilling_engineer"},
		"mode":     "automated",
		"bogus":    true,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, model.ErrCodeInvalidInput, env.Error.Code)
}

func TestServer_RequestIDAndSecurityHeaders(t *testing.T) {
	ts := newTestServer(t)
	engineer := ts.token(t, model.RoleEngineer)

	req := httptest.NewRequest(http.MethodGet, "/v1/investigations/"+uuid.NewString(), nil)
	req.Header.Set("Authorization", "Bearer "+engineer)
	req.Header.Set("X-Request-ID", "req-42")
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)

	assert.Equal(t, "req-42", rec.Header().Get("X-Request-ID"))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))

	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	assert.Equal(t, "req-42", env.Meta.RequestID)
}

func TestServer_SubscribeWithoutBrokerUnavailable(t *testing.T) {
	ts := newTestServer(t)
	viewer := ts.token(t, model.RoleViewer)

	rec, _ := ts.do(t, http.MethodGet, "/v1/subscribe", viewer, nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
