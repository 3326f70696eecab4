package handlers

import (
	"encoding/json"
	"net/http"

	"sellerhub/internal/auth/token"
)

// RefreshHandler triggers a full proactive refresh pass and reports the
// run summary.
func RefreshHandler(scheduler *token.Scheduler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		summary := scheduler.RunOnce(r.Context())

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status":    "ok",
			"selected":  summary.Selected,
			"refreshed": summary.Refreshed,
			"failed":    summary.Failed,
			"skipped":   summary.Skipped,
		})
	}
}
