package server

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"

	"github.com/wellsight-ai/wellsight/internal/gateway"
	"github.com/wellsight-ai/wellsight/internal/model"
	"github.com/wellsight-ai/wellsight/internal/pipeline"
)

// HandleCreateInvestigation handles POST /v1/investigations.
func (h *Handlers) HandleCreateInvestigation(w http.ResponseWriter, r *http.Request) {
	var req model.CreateInvestigationRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}

	snap, err := h.orch.Create(r.Context(), req)
	if err != nil {
		h.writeInternalError(w, r, "failed to create investigation", err)
		return
	}

	writeJSON(w, r, http.StatusCreated, snap)
}

// HandleGetInvestigation handles GET /v1/investigations/{id}.
func (h *Handlers) HandleGetInvestigation(w http.ResponseWriter, r *http.Request) {
	id, err := parseInvestigationID(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}

	snap, err := h.orch.Snapshot(r.Context(), id)
	if err != nil {
		h.writePipelineError(w, r, err, "failed to load investigation")
		return
	}

	writeJSON(w, r, http.StatusOK, snap)
}

// HandleStepQuery handles GET /v1/investigations/{id}/step/query.
// Fetches the current step's query without committing anything.
func (h *Handlers) HandleStepQuery(w http.ResponseWriter, r *http.Request) {
	id, err := parseInvestigationID(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}

	q, err := h.orch.PrepareStep(r.Context(), id)
	if err != nil {
		h.writePipelineError(w, r, err, "failed to load step query")
		return
	}

	writeJSON(w, r, http.StatusOK, q)
}

// HandleStepResponse handles POST /v1/investigations/{id}/step/response.
// Submits a manually-curated specialist response (interactive mode).
func (h *Handlers) HandleStepResponse(w http.ResponseWriter, r *http.Request) {
	id, err := parseInvestigationID(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}

	var req model.SubmitResponseRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	if err := model.ValidateResponseText(req.Text); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}

	snap, err := h.orch.SubmitInteractive(r.Context(), id, req.Text)
	if err != nil {
		h.writePipelineError(w, r, err, "failed to submit response")
		return
	}

	writeJSON(w, r, http.StatusOK, snap)
}

// HandleStepAuto handles POST /v1/investigations/{id}/step/auto.
// Executes the current step end-to-end via the gateway (automated mode).
func (h *Handlers) HandleStepAuto(w http.ResponseWriter, r *http.Request) {
	id, err := parseInvestigationID(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}

	snap, err := h.orch.RunAutomatedStep(r.Context(), id)
	if err != nil {
		h.writePipelineError(w, r, err, "failed to run step")
		return
	}

	writeJSON(w, r, http.StatusOK, snap)
}

// HandleRunAll handles POST /v1/investigations/{id}/run-all.
// Drives all remaining steps plus synthesis in one call.
func (h *Handlers) HandleRunAll(w http.ResponseWriter, r *http.Request) {
	id, err := parseInvestigationID(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}

	snap, err := h.orch.RunAll(r.Context(), id)
	if err != nil {
		h.writePipelineError(w, r, err, "run-all failed")
		return
	}

	writeJSON(w, r, http.StatusOK, snap)
}

// HandleRetry handles POST /v1/investigations/{id}/retry.
// Re-attempts the current step after a failure.
func (h *Handlers) HandleRetry(w http.ResponseWriter, r *http.Request) {
	id, err := parseInvestigationID(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}

	snap, err := h.orch.RetryCurrent(r.Context(), id)
	if err != nil {
		h.writePipelineError(w, r, err, "retry failed")
		return
	}

	writeJSON(w, r, http.StatusOK, snap)
}

// HandleSetMode handles PUT /v1/investigations/{id}/mode.
func (h *Handlers) HandleSetMode(w http.ResponseWriter, r *http.Request) {
	id, err := parseInvestigationID(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}

	var req model.SetModeRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	mode, err := model.ParseMode(req.Mode)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}

	snap, err := h.orch.SetMode(r.Context(), id, mode)
	if err != nil {
		h.writePipelineError(w, r, err, "failed to set mode")
		return
	}

	writeJSON(w, r, http.StatusOK, snap)
}

// HandleFinalReport handles GET /v1/investigations/{id}/report.
func (h *Handlers) HandleFinalReport(w http.ResponseWriter, r *http.Request) {
	id, err := parseInvestigationID(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}

	report, err := h.orch.FinalReport(r.Context(), id)
	if err != nil {
		h.writePipelineError(w, r, err, "failed to load report")
		return
	}

	writeJSON(w, r, http.StatusOK, map[string]string{"report": report})
}

// HandleTriggerRCA handles POST /v1/investigations/{id}/rca.
// One-shot: a second call returns 409.
func (h *Handlers) HandleTriggerRCA(w http.ResponseWriter, r *http.Request) {
	id, err := parseInvestigationID(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}

	rca, err := h.orch.TriggerRCA(r.Context(), id)
	if err != nil {
		h.writePipelineError(w, r, err, "rca generation failed")
		return
	}

	writeJSON(w, r, http.StatusOK, rca)
}

// writePipelineError maps orchestrator and gateway errors onto the API
// error vocabulary. Unrecognized errors become 500s with the fallback
// message; the underlying error is logged, never echoed.
func (h *Handlers) writePipelineError(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	switch {
	case notFound(err):
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "investigation not found")
	case errors.Is(err, pipeline.ErrBusy):
		writeError(w, r, http.StatusConflict, model.ErrCodeConflict, "another command is in flight for this investigation")
	case errors.Is(err, pipeline.ErrDone):
		writeError(w, r, http.StatusConflict, model.ErrCodeConflict, "investigation already complete")
	case errors.Is(err, pipeline.ErrRCAAlreadyGenerated):
		writeError(w, r, http.StatusConflict, model.ErrCodeConflict, "rca report already generated")
	case errors.Is(err, pipeline.ErrWrongMode):
		writeError(w, r, http.StatusPreconditionFailed, model.ErrCodePreconditionFailed, "command not valid in current mode")
	case errors.Is(err, pipeline.ErrReportNotReady):
		writeError(w, r, http.StatusPreconditionFailed, model.ErrCodePreconditionFailed, "final report not ready")
	case errors.Is(err, pipeline.ErrNoEvent):
		writeError(w, r, http.StatusPreconditionFailed, model.ErrCodePreconditionFailed, "investigation has no originating event")
	case isGatewayError(err):
		writeError(w, r, http.StatusBadGateway, model.ErrCodeUpstreamFailure, upstreamMessage(err))
	default:
		h.writeInternalError(w, r, fallback, err)
	}
}

func isGatewayError(err error) bool {
	var gwErr *gateway.Error
	return errors.As(err, &gwErr)
}

// upstreamMessage produces a client-safe description of a gateway failure.
func upstreamMessage(err error) string {
	var gwErr *gateway.Error
	if errors.As(err, &gwErr) {
		return fmt.Sprintf("specialist gateway failure (%s) during %s", gwErr.Kind, gwErr.Op)
	}
	return "specialist gateway failure"
}

func parseInvestigationID(r *http.Request) (uuid.UUID, error) {
	idStr := r.PathValue("id")
	if idStr == "" {
		return uuid.Nil, fmt.Errorf("investigation id is required")
	}
	id, err := uuid.Parse(idStr)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid investigation id: %s", idStr)
	}
	return id, nil
}
