package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// HTTPClient talks to the remote agent service over its REST contract.
type HTTPClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewHTTPClient creates a gateway client. Timeout is the per-request cap;
// the orchestrator itself enforces no deadlines.
func NewHTTPClient(baseURL, apiKey string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &HTTPClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// FetchStepQuery retrieves the query/context for one specialist step.
func (c *HTTPClient) FetchStepQuery(ctx context.Context, analysisID, agentID string) (StepQuery, error) {
	var out StepQuery
	path := fmt.Sprintf("/analysis/%s/agent/%s/query", url.PathEscape(analysisID), url.PathEscape(agentID))
	if err := c.do(ctx, http.MethodGet, path, nil, &out, "fetch step query"); err != nil {
		return StepQuery{}, err
	}
	return out, nil
}

// SubmitStepResponse submits a manual response for one step.
func (c *HTTPClient) SubmitStepResponse(ctx context.Context, analysisID, agentID, text string) (StepResult, error) {
	var out StepResult
	path := fmt.Sprintf("/analysis/%s/agent/%s/response", url.PathEscape(analysisID), url.PathEscape(agentID))
	body := map[string]string{"response": text}
	if err := c.do(ctx, http.MethodPost, path, body, &out, "submit step response"); err != nil {
		return StepResult{}, err
	}
	// The manual-submit contract echoes only a confidence assessment;
	// the analysis text is the caller's own submission.
	if out.Analysis == "" {
		out.Analysis = text
	}
	return out, nil
}

// RunStepAutomated asks the remote model to produce one step's response.
func (c *HTTPClient) RunStepAutomated(ctx context.Context, analysisID, agentID string) (StepResult, error) {
	var out StepResult
	path := fmt.Sprintf("/analysis/%s/agent/%s/auto", url.PathEscape(analysisID), url.PathEscape(agentID))
	if err := c.do(ctx, http.MethodPost, path, nil, &out, "run automated step"); err != nil {
		return StepResult{}, err
	}
	return out, nil
}

// FetchSynthesisQuery retrieves the terminal synthesis query.
func (c *HTTPClient) FetchSynthesisQuery(ctx context.Context, analysisID string) (StepQuery, error) {
	var out StepQuery
	path := fmt.Sprintf("/analysis/%s/synthesis/query", url.PathEscape(analysisID))
	if err := c.do(ctx, http.MethodGet, path, nil, &out, "fetch synthesis query"); err != nil {
		return StepQuery{}, err
	}
	return out, nil
}

type synthesisResponse struct {
	Report   string `json:"report"`
	Analysis string `json:"analysis"`
}

// report returns whichever field the remote populated; the manual-submit
// endpoint echoes "report", the automated endpoint returns "analysis".
func (r synthesisResponse) report() string {
	if r.Report != "" {
		return r.Report
	}
	return r.Analysis
}

// SubmitSynthesisResponse submits a human-written final report.
func (c *HTTPClient) SubmitSynthesisResponse(ctx context.Context, analysisID, text string) (string, error) {
	var out synthesisResponse
	path := fmt.Sprintf("/analysis/%s/synthesis/response", url.PathEscape(analysisID))
	body := map[string]string{"response": text}
	if err := c.do(ctx, http.MethodPost, path, body, &out, "submit synthesis response"); err != nil {
		return "", err
	}
	if r := out.report(); r != "" {
		return r, nil
	}
	return text, nil
}

// RunSynthesisAutomated asks the remote model to produce the final report.
func (c *HTTPClient) RunSynthesisAutomated(ctx context.Context, analysisID string) (string, error) {
	var out synthesisResponse
	path := fmt.Sprintf("/analysis/%s/synthesis/auto", url.PathEscape(analysisID))
	if err := c.do(ctx, http.MethodPost, path, nil, &out, "run automated synthesis"); err != nil {
		return "", err
	}
	if r := out.report(); r != "" {
		return r, nil
	}
	return "", &Error{Kind: KindRemoteFailure, Op: "run automated synthesis", Detail: "empty report returned"}
}

type rcaResponse struct {
	Report string `json:"report"`
}

// TriggerRCA generates a root-cause-analysis report for an event.
func (c *HTTPClient) TriggerRCA(ctx context.Context, eventID string) (string, error) {
	var out rcaResponse
	path := fmt.Sprintf("/events/%s/rca", url.PathEscape(eventID))
	if err := c.do(ctx, http.MethodPost, path, nil, &out, "trigger rca"); err != nil {
		return "", err
	}
	if out.Report == "" {
		return "", &Error{Kind: KindRemoteFailure, Op: "trigger rca", Detail: "empty report returned"}
	}
	return out.Report, nil
}

// do performs one request and normalizes failures into *Error.
// 404 → NotFound, 4xx/5xx with a remote body → RemoteFailure,
// anything that never produced a remote answer → Network.
func (c *HTTPClient) do(ctx context.Context, method, path string, body, target any, op string) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return &Error{Kind: KindNetwork, Op: op, Detail: "marshal request", Err: err}
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return &Error{Kind: KindNetwork, Op: op, Detail: "create request", Err: err}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	// Propagate W3C trace context so remote model latency shows up
	// under the investigation's span.
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &Error{Kind: KindNetwork, Op: op, Detail: "send request", Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return &Error{Kind: KindNotFound, Op: op, Detail: readErrorDetail(resp.Body)}
	case resp.StatusCode == http.StatusBadGateway,
		resp.StatusCode == http.StatusServiceUnavailable,
		resp.StatusCode == http.StatusGatewayTimeout:
		// Intermediary failures: the remote model never answered.
		return &Error{Kind: KindNetwork, Op: op, Detail: fmt.Sprintf("status %d", resp.StatusCode)}
	case resp.StatusCode >= 400:
		return &Error{Kind: KindRemoteFailure, Op: op,
			Detail: fmt.Sprintf("status %d: %s", resp.StatusCode, readErrorDetail(resp.Body))}
	}

	if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
		return &Error{Kind: KindRemoteFailure, Op: op, Detail: "decode response", Err: err}
	}
	return nil
}

// readErrorDetail extracts a short human-readable detail from an error body.
func readErrorDetail(body io.Reader) string {
	raw, _ := io.ReadAll(io.LimitReader(body, 1024))
	var e struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &e); err == nil {
		if e.Error != "" {
			return e.Error
		}
		if e.Message != "" {
			return e.Message
		}
	}
	return string(raw)
}
