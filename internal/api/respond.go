package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/LeadRouter/internal/apperr"
	"github.com/MikeSquared-Agency/LeadRouter/internal/validate"
)

type errorResponse struct {
	Error   string      `json:"error"`
	Kind    string      `json:"kind,omitempty"`
	Details interface{} `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps domain errors to their HTTP status. Untyped errors are
// logged and reported as 500.
func writeError(w http.ResponseWriter, logger *slog.Logger, err error) {
	var ae *apperr.Error
	if errors.As(err, &ae) {
		writeJSON(w, ae.HTTPStatus(), errorResponse{Error: ae.Error(), Kind: ae.Kind.String(), Details: ae.Details})
		return
	}
	logger.Error("request failed", "error", err)
	writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error(), Kind: apperr.KindInternal.String()})
}

// decodeBody decodes an optional JSON body and runs struct validation.
func decodeBody(r *http.Request, dst interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return apperr.Validation("invalid request body")
	}
	fieldErrs, err := validate.Struct(dst)
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "validate request", err)
	}
	if len(fieldErrs) > 0 {
		return apperr.Validation(validate.Summary(fieldErrs)).WithDetails(fieldErrs)
	}
	return nil
}

func proposalID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		return uuid.Nil, apperr.Validation("invalid proposal id")
	}
	return id, nil
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, apperr.Validation("invalid " + key)
	}
	return n, nil
}

// expectedVersion returns the proposal version a human action was based on,
// from the body or an If-Match header. Approve, reject and override require
// one so a rescore between read and action surfaces as a conflict.
func expectedVersion(r *http.Request, fromBody *int) (*int, error) {
	if fromBody != nil {
		return fromBody, nil
	}
	tag := strings.TrimSpace(r.Header.Get("If-Match"))
	if tag == "" {
		return nil, apperr.PreconditionRequired("expected_version or If-Match is required")
	}
	tag = strings.Trim(strings.TrimPrefix(tag, "W/"), `"`)
	v, err := strconv.Atoi(tag)
	if err != nil || v < 1 {
		return nil, apperr.Validation("invalid If-Match version")
	}
	return &v, nil
}

func versionETag(version int) string {
	return `"` + strconv.Itoa(version) + `"`
}
