// Package gateway is the thin client over the remote specialist agent
// service. It shapes requests and normalizes errors; it never retries and
// holds no session state. Retry policy belongs to the pipeline, timeout
// policy to the HTTP transport configured here.
package gateway

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind classifies a gateway failure for the caller's retry decision.
type ErrorKind string

const (
	// KindNotFound means the analysis, agent, or event does not exist remotely.
	KindNotFound ErrorKind = "not_found"
	// KindNetwork means the request never produced a remote answer
	// (transport error, timeout, 5xx from an intermediary). Retryable.
	KindNetwork ErrorKind = "network"
	// KindRemoteFailure means the remote model explicitly errored.
	// Requires human intervention; the pipeline never auto-retries it.
	KindRemoteFailure ErrorKind = "remote_failure"
)

// Error is a normalized gateway failure.
type Error struct {
	Kind   ErrorKind
	Op     string // e.g. "fetch step query"
	Detail string
	Err    error // underlying transport error, if any
}

func (e *Error) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("gateway: %s: %s (%s)", e.Op, e.Detail, e.Kind)
	}
	return fmt.Sprintf("gateway: %s (%s)", e.Op, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the ErrorKind of err, or KindNetwork if err is not a
// gateway error (context cancellation and transport failures both count
// as "no remote answer").
func KindOf(err error) ErrorKind {
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Kind
	}
	return KindNetwork
}

// StepQuery is the query/context payload for one specialist consultation.
// The remote service assembles Context from all previously committed step
// records, so callers must only request position i once records 0..i-1
// are committed.
type StepQuery struct {
	Role    string `json:"role"`
	Query   string `json:"query"`
	Context string `json:"context"`
}

// StepResult is the remote outcome of a single specialist step.
type StepResult struct {
	Confidence string `json:"confidence"`
	Analysis   string `json:"analysis"`
}

// Client is the consumed contract of the remote agent service.
// All calls are side-effect-bearing and none are idempotent: re-invoking an
// automated run may produce a different result.
type Client interface {
	// FetchStepQuery returns the query/context for one specialist step.
	FetchStepQuery(ctx context.Context, analysisID, agentID string) (StepQuery, error)
	// SubmitStepResponse submits a human-written response for one step.
	SubmitStepResponse(ctx context.Context, analysisID, agentID, text string) (StepResult, error)
	// RunStepAutomated has the remote model produce one step's response.
	RunStepAutomated(ctx context.Context, analysisID, agentID string) (StepResult, error)
	// FetchSynthesisQuery returns the query for the terminal synthesis step.
	FetchSynthesisQuery(ctx context.Context, analysisID string) (StepQuery, error)
	// SubmitSynthesisResponse submits a human-written final report.
	SubmitSynthesisResponse(ctx context.Context, analysisID, text string) (string, error)
	// RunSynthesisAutomated has the remote model produce the final report.
	RunSynthesisAutomated(ctx context.Context, analysisID string) (string, error)
	// TriggerRCA generates a root-cause-analysis report for an event.
	// Not idempotent: each call produces a fresh report.
	TriggerRCA(ctx context.Context, eventID string) (string, error)
}
