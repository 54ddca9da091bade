// Package httpapi is the shared HTTP surface for every EvalForge
// service binary: one chi router builder, one problem+json error
// shape, one kind→status mapping, and per-service handler sets.
package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/evalforge/evalforge/pkg/platform/ferrors"
)

// Problem is the RFC7807-flavored error body every handler returns on
// failure.
type Problem struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Detail string `json:"detail,omitempty"`
	Status int    `json:"status"`
}

// statusForKind maps the closed-set error kinds onto HTTP status
// codes in one place.
func statusForKind(kind ferrors.Kind) int {
	switch kind {
	case ferrors.KindNotFound:
		return http.StatusNotFound
	case ferrors.KindWrongType, ferrors.KindOverwriteBlocked:
		return http.StatusConflict
	case ferrors.KindInvalidTransition:
		return http.StatusConflict
	case ferrors.KindRateLimited:
		return http.StatusTooManyRequests
	case ferrors.KindInvalidJSON:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders err as problem+json, deriving the status code
// from its kind.
func writeError(w http.ResponseWriter, err error) {
	kind := ferrors.KindOf(err)
	writeProblem(w, statusForKind(kind), string(kind), err.Error())
}

func writeProblem(w http.ResponseWriter, status int, title, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(Problem{
		Type:   "about:blank",
		Title:  title,
		Detail: detail,
		Status: status,
	})
}

// writeJSON renders v with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
