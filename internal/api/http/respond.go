package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/mind-engage/rehabscore/internal/logger"
	"github.com/mind-engage/rehabscore/internal/resolve"
	"github.com/mind-engage/rehabscore/internal/scoring"
	"github.com/mind-engage/rehabscore/internal/service"
	"github.com/mind-engage/rehabscore/internal/store"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		http.Error(w, "bad json: "+err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrConflict),
		errors.Is(err, service.ErrProtectedConfiguration),
		errors.Is(err, service.ErrSessionFinalized),
		errors.Is(err, service.ErrInactiveConfiguration):
		return http.StatusConflict
	case errors.Is(err, service.ErrInvalidArgument),
		errors.Is(err, scoring.ErrInvalidWeight),
		errors.Is(err, scoring.ErrWeightSumInvariantViolated),
		errors.Is(err, scoring.ErrIncompleteMappingTable),
		errors.Is(err, scoring.ErrInvalidRPEValue),
		errors.Is(err, scoring.ErrInvalidMeasurement):
		return http.StatusUnprocessableEntity
	case errors.Is(err, resolve.ErrNoActiveConfiguration):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func writeErr(w http.ResponseWriter, log *logger.Logger, err error) {
	code := statusFor(err)
	if code == http.StatusInternalServerError {
		log.Error("request failed", "err", err)
		http.Error(w, "internal error", code)
		return
	}
	http.Error(w, err.Error(), code)
}

func queryInt(r *http.Request, key string, def int) int {
	if v, err := strconv.Atoi(r.URL.Query().Get(key)); err == nil && v >= 0 {
		return v
	}
	return def
}
