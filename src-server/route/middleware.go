package route

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"edusched/src-server/conflict"
	"edusched/src-server/engine"
)

type UserCtxKeyType string

const (
	UserCtxKey     UserCtxKeyType = "user-id"
	UserHeaderName string         = "X-User-ID"
)

// UserMiddleware requires the caller's id in the X-User-ID header. Identity
// is established upstream; this service only records who made a change.
func UserMiddleware(next func(http.ResponseWriter, *http.Request)) func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := strings.TrimSpace(r.Header.Get(UserHeaderName))
		if userID == "" {
			writeJSON(w, http.StatusUnauthorized, errorBody{Error: UserHeaderName + " header not found"})
			return
		}
		ctx := context.WithValue(r.Context(), UserCtxKey, userID)
		next(w, r.WithContext(ctx))
	}
}

func userOf(r *http.Request) string {
	userID, _ := r.Context().Value(UserCtxKey).(string)
	return userID
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// LogMiddleware logs every request once it has been served.
func LogMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		startTimer := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		slog.Debug("http", "method", r.Method, "path", r.URL.Path, "status", rec.status, "took", time.Since(startTimer))
	})
}

type errorBody struct {
	Error     string              `json:"error"`
	Problems  []string            `json:"problems,omitempty"`
	Conflicts []conflict.Conflict `json:"conflicts,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Warn("can't write response", "error", err)
	}
}

// writeEngineError maps the engine's typed errors onto HTTP statuses.
func writeEngineError(w http.ResponseWriter, err error) {
	var (
		validation *engine.ValidationError
		conflicts  *engine.SchedulingConflictError
		notFound   *engine.NotFoundError
	)
	switch {
	case errors.As(err, &validation):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request", Problems: validation.Problems})
	case errors.As(err, &conflicts):
		writeJSON(w, http.StatusConflict, errorBody{Error: "scheduling conflict", Conflicts: conflicts.Conflicts})
	case errors.As(err, &notFound):
		writeJSON(w, http.StatusNotFound, errorBody{Error: notFound.Error()})
	default:
		slog.Error("request failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error"})
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body", Problems: []string{err.Error()}})
		return false
	}
	return true
}
