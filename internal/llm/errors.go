package llm

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrProviderUnavailable marks a provider that cannot serve requests,
// because it is unconfigured, unreachable, or skipped by health checks.
var ErrProviderUnavailable = errors.New("provider unavailable")

// StatusError is a non-2xx response from a provider API.
type StatusError struct {
	Provider string
	Code     int
	Body     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s error (status %d): %s", e.Provider, e.Code, e.Body)
}

// sessionRejected reports whether a provider refused the request itself,
// which is how a stale or unknown session id surfaces. Timeouts and server
// faults do not qualify; retrying those without the session would only
// double the latency.
func sessionRejected(err error) bool {
	var status *StatusError
	if !errors.As(err, &status) {
		return false
	}
	switch status.Code {
	case http.StatusBadRequest, http.StatusNotFound, http.StatusGone:
		return true
	}
	return false
}

// AttemptError records one failed provider attempt during fallback.
type AttemptError struct {
	Provider string
	Err      error
}

func (a AttemptError) String() string {
	return fmt.Sprintf("%s: %v", a.Provider, a.Err)
}

// ProviderExhaustedError is returned when every candidate in the fallback
// chain failed. It carries the per-provider attempts so the caller can log
// them and show a degraded-mode message instead of an empty result.
type ProviderExhaustedError struct {
	Attempts []AttemptError
}

func (e *ProviderExhaustedError) Error() string {
	parts := make([]string, len(e.Attempts))
	for i, a := range e.Attempts {
		parts[i] = a.String()
	}
	return "all providers failed: " + strings.Join(parts, "; ")
}
