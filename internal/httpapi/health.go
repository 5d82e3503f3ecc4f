package httpapi

import "net/http"

// handleHealth runs the registered probes and reports per-dependency
// status. Any failing probe makes the endpoint return 503.
func (rt *Router) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	results := make(map[string]string, len(rt.checks))

	for name, check := range rt.checks {
		if err := check(r.Context()); err != nil {
			rt.log.ErrorContext(r.Context(), "healthcheck failed", "check", name, "error", err)
			results[name] = "unhealthy"
			status = http.StatusServiceUnavailable
			continue
		}
		results[name] = "ok"
	}

	respondJSON(w, status, results)
}
