package handlers

import (
	"encoding/json"
	"net/http"

	"gorm.io/gorm"

	"sellerhub/internal/db"
)

// GetAPIKeyHandler returns the current admin API key.
func GetAPIKeyHandler(database *gorm.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"api_key": db.GetAPIKey(database)})
	}
}

// RegenerateAPIKeyHandler rotates the admin API key.
func RegenerateAPIKeyHandler(database *gorm.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key, err := db.RegenerateAPIKey(database)
		if err != nil {
			http.Error(w, `{"error": "Failed to regenerate API key"}`, http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"api_key": key})
	}
}
