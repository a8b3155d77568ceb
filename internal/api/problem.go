package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/Lautarobarella/Personal-Fit-Santa-Fe-sub000/internal/domain"
)

// Problem is the error body returned by every endpoint. Type carries the domain error kind.
type Problem struct {
	Type   string            `json:"type"`
	Detail string            `json:"detail"`
	Reason string            `json:"reason,omitempty"`
	Fields map[string]string `json:"fields,omitempty"`
}

var problemStatus = map[string]int{
	"unauthenticated":      http.StatusUnauthorized,
	"forbidden":            http.StatusForbidden,
	"not_found":            http.StatusNotFound,
	"invalid_state":        http.StatusConflict,
	"already_enrolled":     http.StatusConflict,
	"capacity_exceeded":    http.StatusConflict,
	"concurrency_conflict": http.StatusConflict,
	"not_eligible":         http.StatusUnprocessableEntity,
	"outside_window":       http.StatusUnprocessableEntity,
	"validation_failed":    http.StatusBadRequest,
	"unavailable":          http.StatusServiceUnavailable,
}

func writeProblem(w http.ResponseWriter, err error) {
	kind := domain.ErrorKind(err)
	status, ok := problemStatus[kind]
	if !ok {
		status = http.StatusInternalServerError
	}

	problem := Problem{Type: kind, Detail: err.Error()}
	switch kind {
	case "not_eligible":
		var nErr *domain.NotEligibleError
		if errors.As(err, &nErr) {
			problem.Reason = nErr.Reason
		}
	case "validation_failed":
		var vErr *domain.ValidationError
		if errors.As(err, &vErr) {
			problem.Fields = vErr.FieldErrors
		}
	case "unavailable", "unexpected":
		// Infrastructure details stay in the logs.
		problem.Detail = http.StatusText(status)
	}

	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(problem)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
