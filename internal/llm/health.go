package llm

import "sync"

// healthTracker keeps a rolling window of recent call outcomes per provider
// so selection can route around a provider that has started failing.
type healthTracker struct {
	window int

	mu       sync.Mutex
	outcomes map[string][]bool
}

func newHealthTracker(window int) *healthTracker {
	if window <= 0 {
		window = 20
	}
	return &healthTracker{
		window:   window,
		outcomes: make(map[string][]bool),
	}
}

// record appends one outcome, evicting the oldest beyond the window.
func (h *healthTracker) record(provider string, ok bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	recent := append(h.outcomes[provider], ok)
	if len(recent) > h.window {
		recent = recent[len(recent)-h.window:]
	}
	h.outcomes[provider] = recent
}

// errorRate returns the failure fraction over the window. A provider with
// no history is healthy.
func (h *healthTracker) errorRate(provider string) float64 {
	h.mu.Lock()
	defer h.mu.Unlock()

	recent := h.outcomes[provider]
	if len(recent) == 0 {
		return 0
	}
	failures := 0
	for _, ok := range recent {
		if !ok {
			failures++
		}
	}
	return float64(failures) / float64(len(recent))
}
