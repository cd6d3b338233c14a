// Package render writes JSON responses and maps domain errors to HTTP
// statuses.
package render

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"

	"github.com/kilianp07/erg/core/model"
	"github.com/kilianp07/erg/core/registry"
	"github.com/kilianp07/erg/core/schedule"
	"github.com/kilianp07/erg/core/solver"
	"github.com/kilianp07/erg/core/tariff"
)

// MaxBody bounds request bodies.
const MaxBody = 1 << 20

// JSON writes data with the given status.
func JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// Error writes {"error": msg}.
func Error(w http.ResponseWriter, status int, msg string) {
	JSON(w, status, map[string]string{"error": msg})
}

// Err writes err with the status it maps to. Rate limit errors carrying a
// wait also set Retry-After.
func Err(w http.ResponseWriter, err error) {
	var rl *solver.RateLimitError
	if errors.As(err, &rl) && rl.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(rl.RetryAfter.Seconds()))))
	}
	Error(w, StatusFor(err), err.Error())
}

// StatusFor maps an error to an HTTP status.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, registry.ErrExists):
		return http.StatusConflict
	case errors.Is(err, registry.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, model.ErrInvalidSpec),
		errors.Is(err, tariff.ErrInvalidYAML),
		errors.Is(err, tariff.ErrInvalidTime),
		errors.Is(err, tariff.ErrInvalidPrice):
		return http.StatusBadRequest
	case errors.Is(err, schedule.ErrRefreshLimited), errors.Is(err, solver.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, solver.ErrUnreachable),
		errors.Is(err, solver.ErrUnauthorized),
		errors.Is(err, solver.ErrInvalidResponse):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Decode reads a JSON body into v, rejecting unknown fields.
func Decode(r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, MaxBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", model.ErrInvalidSpec, err)
	}
	return nil
}
