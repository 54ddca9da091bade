package httpapi

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"github.com/evalforge/evalforge/pkg/dedup"
	"github.com/evalforge/evalforge/pkg/domain"
	"github.com/evalforge/evalforge/pkg/extraction"
	"github.com/evalforge/evalforge/pkg/generator"
	"github.com/evalforge/evalforge/pkg/ingestion"
	"github.com/evalforge/evalforge/pkg/platform/ferrors"
)

var validate = validator.New()

// BatchRunRequest is the shared body of every POST /<stage>/run-once
// endpoint.
type BatchRunRequest struct {
	BatchSize      int      `json:"batchSize" validate:"omitempty,min=1,max=200"`
	DryRun         bool     `json:"dryRun"`
	TriggeredBy    string   `json:"triggeredBy" validate:"omitempty,oneof=scheduled manual"`
	TraceIDs       []string `json:"traceIds" validate:"omitempty,dive,min=1"`
	SuggestionIDs  []string `json:"suggestionIds" validate:"omitempty,dive,min=1"`
	ForceOverwrite bool     `json:"forceOverwrite"`
}

// decodeBatchRequest parses and validates a batch-trigger body. An
// empty body is a valid all-defaults request.
func decodeBatchRequest(r *http.Request) (*BatchRunRequest, error) {
	var req BatchRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
		return nil, ferrors.New(ferrors.KindInvalidJSON, "request body is not valid JSON", err)
	}
	if err := validate.Struct(&req); err != nil {
		return nil, ferrors.New(ferrors.KindInvalidJSON, "request body failed validation", err)
	}
	return &req, nil
}

// IngestionHandler serves the ingestion service's routes.
type IngestionHandler struct {
	Service *ingestion.Service
	Logger  *logrus.Logger
}

// IngestionRunRequest is the body of POST /ingestion/run-once.
type IngestionRunRequest struct {
	TraceLookbackHours int     `json:"traceLookbackHours" validate:"omitempty,min=1,max=720"`
	QualityThreshold   float64 `json:"qualityThreshold" validate:"omitempty,min=0,max=1"`
}

// Mount registers the handler on r.
func (h *IngestionHandler) Mount(r chi.Router) {
	r.Post("/ingestion/run-once", h.runOnce)
}

func (h *IngestionHandler) runOnce(w http.ResponseWriter, r *http.Request) {
	var req IngestionRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
		writeError(w, ferrors.New(ferrors.KindInvalidJSON, "request body is not valid JSON", err))
		return
	}
	if err := validate.Struct(&req); err != nil {
		writeError(w, ferrors.New(ferrors.KindInvalidJSON, "request body failed validation", err))
		return
	}

	summary, err := h.Service.RunOnce(r.Context(), ingestion.RunOptions{
		TraceLookbackHours: req.TraceLookbackHours,
		QualityThreshold:   req.QualityThreshold,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// ExtractionHandler serves the extraction service's routes.
type ExtractionHandler struct {
	Service *extraction.Service
	Logger  *logrus.Logger
}

// Mount registers the handler on r.
func (h *ExtractionHandler) Mount(r chi.Router) {
	r.Post("/extraction/run-once", h.runOnce)
}

func (h *ExtractionHandler) runOnce(w http.ResponseWriter, r *http.Request) {
	req, err := decodeBatchRequest(r)
	if err != nil {
		writeError(w, err)
		return
	}

	summary, err := h.Service.RunOnce(r.Context(), extraction.RunOptions{
		BatchSize:   req.BatchSize,
		DryRun:      req.DryRun,
		TriggeredBy: domain.TriggeredBy(req.TriggeredBy),
		TraceIDs:    req.TraceIDs,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// DedupHandler serves the deduplication service's routes.
type DedupHandler struct {
	Service *dedup.Service
	Logger  *logrus.Logger
}

// Mount registers the handler on r.
func (h *DedupHandler) Mount(r chi.Router) {
	r.Post("/dedup/run-once", h.runOnce)
}

func (h *DedupHandler) runOnce(w http.ResponseWriter, r *http.Request) {
	req, err := decodeBatchRequest(r)
	if err != nil {
		writeError(w, err)
		return
	}

	summary, err := h.Service.RunOnce(r.Context(), dedup.RunOptions{
		BatchSize:   req.BatchSize,
		DryRun:      req.DryRun,
		TriggeredBy: domain.TriggeredBy(req.TriggeredBy),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// GeneratorHandler serves one artifact generator's routes: the batch
// trigger plus the single-suggestion generate endpoint.
type GeneratorHandler struct {
	Engine *generator.Engine
	// Name is the route prefix and response artifact key: "eval",
	// "guardrail", or "runbook".
	Name   string
	Logger *logrus.Logger
}

// GenerateRequest is the optional body of POST /<type>/generate/{id}.
type GenerateRequest struct {
	ForceOverwrite bool `json:"forceOverwrite"`
}

// GenerateResponse is the single-item generation result.
type GenerateResponse struct {
	SuggestionID string                 `json:"suggestionId"`
	Status       string                 `json:"status"`
	Eval         *domain.EvalTestDraft  `json:"eval,omitempty"`
	Guardrail    *domain.GuardrailDraft `json:"guardrail,omitempty"`
	Runbook      *domain.RunbookDraft   `json:"runbook,omitempty"`
}

// Mount registers the handler on r.
func (h *GeneratorHandler) Mount(r chi.Router) {
	r.Post("/"+h.Name+"/run-once", h.runOnce)
	r.Post("/"+h.Name+"/generate/{suggestionID}", h.generate)
}

func (h *GeneratorHandler) runOnce(w http.ResponseWriter, r *http.Request) {
	req, err := decodeBatchRequest(r)
	if err != nil {
		writeError(w, err)
		return
	}

	summary, err := h.Engine.RunOnce(r.Context(), generator.RunOptions{
		BatchSize:      req.BatchSize,
		DryRun:         req.DryRun,
		TriggeredBy:    domain.TriggeredBy(req.TriggeredBy),
		SuggestionIDs:  req.SuggestionIDs,
		ForceOverwrite: req.ForceOverwrite,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (h *GeneratorHandler) generate(w http.ResponseWriter, r *http.Request) {
	suggestionID := chi.URLParam(r, "suggestionID")

	var req GenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
		writeError(w, ferrors.New(ferrors.KindInvalidJSON, "request body is not valid JSON", err))
		return
	}

	updated, err := h.Engine.Generate(r.Context(), suggestionID, req.ForceOverwrite)
	if err != nil {
		writeError(w, err)
		return
	}

	resp := GenerateResponse{SuggestionID: suggestionID, Status: "generated"}
	switch {
	case updated.SuggestionContent.Eval != nil:
		resp.Eval = updated.SuggestionContent.Eval
		resp.Status = string(updated.SuggestionContent.Eval.Status)
	case updated.SuggestionContent.Guardrail != nil:
		resp.Guardrail = updated.SuggestionContent.Guardrail
		resp.Status = string(updated.SuggestionContent.Guardrail.Status)
	case updated.SuggestionContent.Runbook != nil:
		resp.Runbook = updated.SuggestionContent.Runbook
		resp.Status = string(updated.SuggestionContent.Runbook.Status)
	}
	writeJSON(w, http.StatusOK, resp)
}
