package handlers

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"sellerhub/internal/auth/token"
	"sellerhub/internal/config"
	"sellerhub/internal/db/models"
	"sellerhub/internal/marketplace"
	"sellerhub/internal/store"
)

// stateToken is used to protect against CSRF attacks
var stateToken string

func init() {
	b := make([]byte, 16)
	rand.Read(b)
	stateToken = hex.EncodeToString(b)
}

// DefaultUserID is assumed when no platform user is identified on the
// request. Single-operator installs never set one.
const DefaultUserID = "default"

// UserFromRequest resolves the platform user the request acts for.
func UserFromRequest(r *http.Request) string {
	if u := r.Header.Get("X-Hub-User"); u != "" {
		return u
	}
	if u := r.URL.Query().Get("user"); u != "" {
		return u
	}
	return DefaultUserID
}

// LinkLoginHandler starts the marketplace OAuth flow for linking a seller
// account to the requesting user.
func LinkLoginHandler(cfg *config.Config, oauth *marketplace.OAuthClient) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		creds := marketplace.AppCredentials{
			ClientID:     cfg.OAuth.ClientID,
			ClientSecret: cfg.OAuth.ClientSecret,
			RedirectURI:  redirectURL(cfg, r),
		}
		if creds.ClientID == "" || creds.ClientSecret == "" {
			http.Error(w, "Marketplace app credentials are not configured", http.StatusServiceUnavailable)
			return
		}

		state := stateToken + ":" + UserFromRequest(r)
		http.Redirect(w, r, oauth.AuthCodeURL(creds, state), http.StatusTemporaryRedirect)
	}
}

// LinkCallbackHandler processes the OAuth callback from the marketplace:
// code exchange, seller identity lookup, and account upsert. Reconnecting
// an already-linked seller updates the existing record.
func LinkCallbackHandler(cfg *config.Config, oauth *marketplace.OAuthClient, accounts *store.Accounts) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// Verify state token
		state := r.URL.Query().Get("state")
		userID, ok := parseState(state)
		if !ok {
			http.Error(w, "Invalid state token", http.StatusBadRequest)
			return
		}

		creds := marketplace.AppCredentials{
			ClientID:     cfg.OAuth.ClientID,
			ClientSecret: cfg.OAuth.ClientSecret,
			RedirectURI:  redirectURL(cfg, r),
		}

		code := r.URL.Query().Get("code")
		pair, err := oauth.ExchangeAuthorizationCode(r.Context(), creds, code)
		if err != nil {
			http.Error(w, fmt.Sprintf("Token exchange failed: %v", err), http.StatusInternalServerError)
			return
		}

		identity, err := oauth.FetchIdentity(r.Context(), pair.AccessToken)
		if err != nil {
			http.Error(w, fmt.Sprintf("Failed to fetch seller identity: %v", err), http.StatusInternalServerError)
			return
		}

		acc := &models.LinkedAccount{
			UserID:                 userID,
			MarketplaceUserID:      identity.MarketplaceUserID,
			Nickname:               identity.Nickname,
			Email:                  identity.Email,
			AccessToken:            pair.AccessToken,
			RefreshToken:           pair.RefreshToken,
			TokenExpiresAt:         pair.ExpiresAt,
			ClientID:               creds.ClientID,
			ClientSecret:           creds.ClientSecret,
			RedirectURI:            creds.RedirectURI,
			LastTokenRefresh:       time.Now(),
			NextTokenRefreshNeeded: pair.ExpiresAt.Add(-token.DefaultScheduleLead),
		}
		if err := accounts.UpsertLinked(acc); err != nil {
			http.Error(w, fmt.Sprintf("Failed to save account: %v", err), http.StatusInternalServerError)
			return
		}

		log.Printf("🔗 Linked seller %s for user %s (primary=%v)", identity.Nickname, userID, acc.IsPrimary)

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprintf(w, `<!DOCTYPE html>
<html lang="en">
<head><meta charset="UTF-8"><title>Account Linked</title></head>
<body>
	<h1>✅ Account linked!</h1>
	<p><strong>Seller:</strong> %s</p>
	<p><strong>Marketplace ID:</strong> %s</p>
	<p>You can close this window.</p>
</body>
</html>`, identity.Nickname, identity.MarketplaceUserID)
	}
}

func parseState(state string) (userID string, ok bool) {
	nonce, user, found := strings.Cut(state, ":")
	if !found || nonce != stateToken || user == "" {
		return "", false
	}
	return user, true
}

// redirectURL prefers the configured redirect URI and otherwise rebuilds it
// from the incoming request, so the flow works behind a proxy too.
func redirectURL(cfg *config.Config, r *http.Request) string {
	if cfg.OAuth.RedirectURI != "" {
		return cfg.OAuth.RedirectURI
	}
	scheme := "http"
	if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s/auth/meli/callback", scheme, r.Host)
}
