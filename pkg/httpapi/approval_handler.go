package httpapi

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"github.com/evalforge/evalforge/pkg/approval"
	"github.com/evalforge/evalforge/pkg/domain"
	"github.com/evalforge/evalforge/pkg/platform/ferrors"
)

// ApprovalHandler serves the suggestion review surface. Write
// endpoints sit behind constant-time API-key auth; reads do not.
type ApprovalHandler struct {
	Service *approval.Service
	APIKey  string
	Logger  *logrus.Logger
}

// TransitionRequest is the body of POST /suggestions/{id}/approve and
// /reject.
type TransitionRequest struct {
	Actor  string `json:"actor"`
	Notes  string `json:"notes"`
	Reason string `json:"reason"`
}

// ListResponse is the body of GET /suggestions.
type ListResponse struct {
	Suggestions []domain.Suggestion `json:"suggestions"`
	NextCursor  string              `json:"nextCursor,omitempty"`
	HasMore     bool                `json:"hasMore"`
}

// Mount registers the handler on r.
func (h *ApprovalHandler) Mount(r chi.Router) {
	r.Route("/suggestions", func(r chi.Router) {
		r.Get("/", h.list)
		r.Get("/{suggestionID}", h.get)
		r.Get("/{suggestionID}/export", h.export)

		r.Group(func(r chi.Router) {
			r.Use(APIKeyAuth(h.APIKey, h.Logger))
			r.Post("/{suggestionID}/approve", h.approve)
			r.Post("/{suggestionID}/reject", h.reject)
		})
	})
}

func (h *ApprovalHandler) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := 0
	if raw := q.Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > 200 {
			writeError(w, ferrors.New(ferrors.KindInvalidJSON, "limit must be an integer in [1, 200]", nil))
			return
		}
		limit = parsed
	}

	result, err := h.Service.List(r.Context(), approval.ListOptions{
		Status: domain.SuggestionStatus(q.Get("status")),
		Type:   domain.SuggestionType(q.Get("type")),
		Limit:  limit,
		Cursor: q.Get("cursor"),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ListResponse{Suggestions: result.Suggestions, NextCursor: result.NextCursor, HasMore: result.HasMore})
}

func (h *ApprovalHandler) get(w http.ResponseWriter, r *http.Request) {
	s, err := h.Service.Get(r.Context(), chi.URLParam(r, "suggestionID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (h *ApprovalHandler) approve(w http.ResponseWriter, r *http.Request) {
	req, err := decodeTransitionRequest(r)
	if err != nil {
		writeError(w, err)
		return
	}
	s, err := h.Service.Approve(r.Context(), chi.URLParam(r, "suggestionID"), req.Actor, req.Notes)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (h *ApprovalHandler) reject(w http.ResponseWriter, r *http.Request) {
	req, err := decodeTransitionRequest(r)
	if err != nil {
		writeError(w, err)
		return
	}
	s, err := h.Service.Reject(r.Context(), chi.URLParam(r, "suggestionID"), req.Actor, req.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (h *ApprovalHandler) export(w http.ResponseWriter, r *http.Request) {
	format := r.URL.Query().Get("format")
	content, contentType, err := h.Service.Export(r.Context(), chi.URLParam(r, "suggestionID"), format)
	if err != nil {
		// A not-yet-approved suggestion is a caller mistake, not a
		// state conflict: the export endpoint contract is 400.
		if ferrors.KindOf(err) == ferrors.KindInvalidTransition {
			writeProblem(w, http.StatusBadRequest, string(ferrors.KindInvalidTransition), err.Error())
			return
		}
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(content)
}

func decodeTransitionRequest(r *http.Request) (*TransitionRequest, error) {
	var req TransitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
		return nil, ferrors.New(ferrors.KindInvalidJSON, "request body is not valid JSON", err)
	}
	return &req, nil
}
