package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"sellerhub/internal/auth/token"
	"sellerhub/internal/db/models"
	"sellerhub/internal/store"
)

// AccountsHandler returns the requesting user's linked accounts as JSON,
// with token health and a needs-reconnect flag per account.
func AccountsHandler(accounts *store.Accounts) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := accounts.FindByUser(UserFromRequest(r))
		if err != nil {
			http.Error(w, `{"error": "Failed to list accounts"}`, http.StatusInternalServerError)
			return
		}

		type AccountView struct {
			ID                string    `json:"id"`
			MarketplaceUserID string    `json:"marketplace_user_id"`
			Nickname          string    `json:"nickname"`
			Status            string    `json:"status"`
			IsPrimary         bool      `json:"is_primary"`
			TokenExpiresAt    time.Time `json:"token_expires_at"`
			TokenHealth       int       `json:"token_health"`
			RefreshStatus     string    `json:"refresh_status"`
			NeedsReconnect    bool      `json:"needs_reconnect"`
		}

		views := make([]AccountView, 0, len(list))
		for _, acc := range list {
			views = append(views, AccountView{
				ID:                acc.ID,
				MarketplaceUserID: acc.MarketplaceUserID,
				Nickname:          acc.Nickname,
				Status:            acc.Status,
				IsPrimary:         acc.IsPrimary,
				TokenExpiresAt:    acc.TokenExpiresAt,
				TokenHealth:       token.Health(acc.TokenExpiresAt, acc.LastTokenRefresh),
				RefreshStatus:     acc.TokenRefreshStatus,
				NeedsReconnect:    acc.Status == models.StatusDisabled || !acc.Refreshable(),
			})
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"accounts": views,
			"count":    len(views),
		})
	}
}

// PromoteAccountHandler makes an account the user's primary one.
func PromoteAccountHandler(accounts *store.Accounts) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if err := accounts.PromotePrimary(UserFromRequest(r), id); err != nil {
			writeStoreError(w, err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"success": true}`))
	}
}

// SetAccountStatusHandler pauses or resumes an account.
func SetAccountStatusHandler(accounts *store.Accounts, status string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if err := accounts.SetStatus(id, status); err != nil {
			writeStoreError(w, err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": status})
	}
}

// DisconnectAccountHandler soft-disables the account and drops its tokens.
func DisconnectAccountHandler(accounts *store.Accounts) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if err := accounts.Disconnect(id); err != nil {
			writeStoreError(w, err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"success": true}`))
	}
}

// RefreshAccountHandler forces a token refresh for one account.
func RefreshAccountHandler(mgr *token.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		cred, err := mgr.Refresh(r.Context(), id)
		if err != nil {
			status := http.StatusBadGateway
			var rerr *token.RefreshError
			if errors.As(err, &rerr) && rerr.Kind != token.FailureTransient {
				status = http.StatusConflict
			}
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(status)
			json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status":     "ok",
			"expires_at": cred.ExpiresAt,
		})
	}
}

func writeStoreError(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")
	if errors.Is(err, store.ErrNotFound) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error": "Account not found"}`))
		return
	}
	w.WriteHeader(http.StatusInternalServerError)
	json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
