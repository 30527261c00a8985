package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *HTTPClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewHTTPClient(srv.URL, "test-key", 5*time.Second)
}

func TestFetchStepQuery_PathAndAuth(t *testing.T) {
	var gotPath, gotAuth string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		assert.Equal(t, http.MethodGet, r.Method)
		_ = json.NewEncoder(w).Encode(StepQuery{
			Role:    "Mud Engineer",
			Query:   "review mud weights",
			Context: "prior findings",
		})
	})

	q, err := c.FetchStepQuery(context.Background(), "inv-1", "mud_engineer")
	require.NoError(t, err)
	assert.Equal(t, "/analysis/inv-1/agent/mud_engineer/query", gotPath)
	assert.Equal(t, "Bearer test-key", gotAuth)
	assert.Equal(t, "review mud weights", q.Query)
	assert.Equal(t, "Mud Engineer", q.Role)
}

func TestSubmitStepResponse_EchoesSubmittedAnalysis(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "pressure spike at 3400ft", body["response"])
		// Manual submit returns only a confidence assessment.
		_ = json.NewEncoder(w).Encode(map[string]string{"confidence": "high"})
	})

	res, err := c.SubmitStepResponse(context.Background(), "inv-1", "drilling_engineer", "pressure spike at 3400ft")
	require.NoError(t, err)
	assert.Equal(t, "high", res.Confidence)
	assert.Equal(t, "pressure spike at 3400ft", res.Analysis)
}

func TestRunStepAutomated_ReturnsRemoteAnalysis(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/analysis/inv-1/agent/geologist/auto", r.URL.Path)
		_ = json.NewEncoder(w).Encode(StepResult{Confidence: "medium", Analysis: "formation change likely"})
	})

	res, err := c.RunStepAutomated(context.Background(), "inv-1", "geologist")
	require.NoError(t, err)
	assert.Equal(t, "formation change likely", res.Analysis)
}

func TestSubmitSynthesisResponse_FallsBackToSubmittedText(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/analysis/inv-1/synthesis/response", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]string{})
	})

	report, err := c.SubmitSynthesisResponse(context.Background(), "inv-1", "curated final report")
	require.NoError(t, err)
	assert.Equal(t, "curated final report", report)
}

func TestRunSynthesisAutomated_AcceptsEitherReportField(t *testing.T) {
	for name, payload := range map[string]map[string]string{
		"report field":   {"report": "the report"},
		"analysis field": {"analysis": "the report"},
	} {
		t.Run(name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				_ = json.NewEncoder(w).Encode(payload)
			})
			report, err := c.RunSynthesisAutomated(context.Background(), "inv-1")
			require.NoError(t, err)
			assert.Equal(t, "the report", report)
		})
	}
}

func TestRunSynthesisAutomated_EmptyReportIsRemoteFailure(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{})
	})

	_, err := c.RunSynthesisAutomated(context.Background(), "inv-1")
	assert.Equal(t, KindRemoteFailure, KindOf(err))
}

func TestTriggerRCA_PathShape(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/events/well-7-kick/rca", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		_ = json.NewEncoder(w).Encode(map[string]string{"report": "root cause"})
	})

	report, err := c.TriggerRCA(context.Background(), "well-7-kick")
	require.NoError(t, err)
	assert.Equal(t, "root cause", report)
}

func TestDo_ErrorClassification(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		want   ErrorKind
	}{
		{"not found", http.StatusNotFound, `{"error":"unknown analysis"}`, KindNotFound},
		{"bad gateway", http.StatusBadGateway, "", KindNetwork},
		{"service unavailable", http.StatusServiceUnavailable, "", KindNetwork},
		{"gateway timeout", http.StatusGatewayTimeout, "", KindNetwork},
		{"bad request", http.StatusBadRequest, `{"error":"malformed"}`, KindRemoteFailure},
		{"internal error", http.StatusInternalServerError, `{"message":"model crashed"}`, KindRemoteFailure},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			})

			_, err := c.FetchStepQuery(context.Background(), "inv-1", "drilling_engineer")
			require.Error(t, err)

			var gwErr *Error
			require.ErrorAs(t, err, &gwErr)
			assert.Equal(t, tc.want, gwErr.Kind)
			assert.Equal(t, "fetch step query", gwErr.Op)
		})
	}
}

func TestDo_ErrorDetailFromBody(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"error":"analysis already settled"}`))
	})

	_, err := c.RunStepAutomated(context.Background(), "inv-1", "geologist")
	var gwErr *Error
	require.ErrorAs(t, err, &gwErr)
	assert.Contains(t, gwErr.Detail, "analysis already settled")
	assert.Contains(t, gwErr.Detail, "status 409")
}

func TestDo_TransportFailureIsNetwork(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // connection refused from here on
	c := NewHTTPClient(srv.URL, "", time.Second)

	_, err := c.FetchSynthesisQuery(context.Background(), "inv-1")
	require.Error(t, err)
	assert.Equal(t, KindNetwork, KindOf(err))
}

func TestDo_MalformedBodyIsRemoteFailure(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("not json"))
	})

	_, err := c.FetchStepQuery(context.Background(), "inv-1", "drilling_engineer")
	require.Error(t, err)
	assert.Equal(t, KindRemoteFailure, KindOf(err))
}

func TestKindOf_UnwrapsAndDefaults(t *testing.T) {
	wrapped := errors.Join(errors.New("outer"), &Error{Kind: KindNotFound, Op: "x"})
	assert.Equal(t, KindNotFound, KindOf(wrapped))
	assert.Equal(t, KindNetwork, KindOf(errors.New("plain")))
}
