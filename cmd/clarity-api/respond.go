package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/clarityhq/clarity/engine/domain"
	"github.com/clarityhq/clarity/pkg/mid"
)

var (
	errInvalidParam = errors.New("invalid query parameter")
	errInvalidBody  = errors.New("invalid request body")
)

type errorResponse struct {
	Error        string              `json:"error"`
	Field        string              `json:"field,omitempty"`
	ValidSources []domain.SourceType `json:"valid_sources,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// statusFor maps engine errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case domain.IsValidation(err), errors.Is(err, domain.ErrEmptyBatch), errors.Is(err, errInvalidBody):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func (a *api) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	body := errorResponse{Error: err.Error()}
	var ve *domain.ValidationError
	if errors.As(err, &ve) {
		body.Field = ve.Field
	}
	if errors.Is(err, domain.ErrInvalidSource) {
		body.ValidSources = domain.KnownSources
	}
	if status == http.StatusInternalServerError {
		a.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "request_id", mid.RequestIDFrom(r.Context()), "err", err)
		if !errors.Is(err, domain.ErrPersistence) {
			body.Error = "internal server error"
		}
	}
	writeJSON(w, status, body)
}

// decodeBody reads one JSON document of at most maxBodyBytes into v.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: %v", errInvalidBody, err)
	}
	return nil
}

func intParam(q url.Values, name string, def int) (int, error) {
	raw := q.Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, domain.NewValidationError(name, raw, errInvalidParam)
	}
	return n, nil
}

// brandParam returns the unescaped {brand} path segment.
func brandParam(r *http.Request) string {
	raw := chi.URLParam(r, "brand")
	if v, err := url.PathUnescape(raw); err == nil {
		return v
	}
	return raw
}
