// Package token keeps every linked account's marketplace tokens valid: a
// scheduled pass renews the fleet ahead of expiry, and a request-path guard
// renews lazily when a call is about to use an expired token. Refresh
// tokens are single-use, so both paths funnel through a per-account
// singleflight and the store's conditional token swap.
package token

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"sellerhub/internal/db/models"
	"sellerhub/internal/marketplace"
	"sellerhub/internal/store"
	"sellerhub/internal/util"
)

// DefaultRefreshBuffer is how far ahead of expiry a token counts as needing
// proactive refresh. Zero buffer means critically expired: must not be used
// as-is.
const DefaultRefreshBuffer = 5 * time.Minute

// DefaultScheduleLead is how far ahead of expiry the next scheduled refresh
// is planned: one full pass interval plus the buffer, so a token never
// becomes due only after it has already expired.
const DefaultScheduleLead = time.Hour + DefaultRefreshBuffer

// ErrReconnectRequired means no usable credential can be produced without
// the user re-authorizing the account.
var ErrReconnectRequired = errors.New("account reconnect required")

var (
	errNoRefreshToken      = errors.New("account has no refresh token")
	errNoClientCredentials = errors.New("account has no oauth app credentials")
)

// FailureKind classifies why a refresh attempt failed.
type FailureKind string

const (
	// FailureNoRefreshToken: account was linked with manually pasted
	// tokens. Permanently skipped, not retried.
	FailureNoRefreshToken FailureKind = "no_refresh_token"
	// FailureNoClientCredentials: no app credentials recorded. Same
	// treatment as a missing refresh token.
	FailureNoClientCredentials FailureKind = "no_client_credentials"
	// FailureTransient: network/timeout/5xx. Retried on the next pass,
	// account status untouched.
	FailureTransient FailureKind = "transient"
	// FailureAuth: the marketplace rejected the refresh token itself.
	// Unrecoverable without user action; account is disabled.
	FailureAuth FailureKind = "auth"
)

// RefreshError is a classified refresh failure.
type RefreshError struct {
	Kind FailureKind
	Err  error
}

func (e *RefreshError) Error() string { return fmt.Sprintf("token refresh (%s): %v", e.Kind, e.Err) }
func (e *RefreshError) Unwrap() error { return e.Err }

// Credential is a validated access token plus the identity it belongs to.
type Credential struct {
	AccountID         string
	MarketplaceUserID string
	Nickname          string
	AccessToken       string
	ExpiresAt         time.Time
}

func credentialFrom(acc *models.LinkedAccount) *Credential {
	return &Credential{
		AccountID:         acc.ID,
		MarketplaceUserID: acc.MarketplaceUserID,
		Nickname:          acc.Nickname,
		AccessToken:       acc.AccessToken,
		ExpiresAt:         acc.TokenExpiresAt,
	}
}

// IsExpired reports whether a token expiring at expiresAt is already inside
// the buffer window. The boundary is inclusive: now+buffer == expiresAt is
// expired.
func IsExpired(expiresAt time.Time, buffer time.Duration) bool {
	return isExpiredAt(time.Now(), expiresAt, buffer)
}

func isExpiredAt(now, expiresAt time.Time, buffer time.Duration) bool {
	return !now.Add(buffer).Before(expiresAt)
}

// Health maps a token's remaining lifetime onto [0,100]: 100 right after
// refresh, 0 at expiry. Observability only, never a correctness input.
func Health(expiresAt, refreshedAt time.Time) int {
	return healthAt(time.Now(), expiresAt, refreshedAt)
}

func healthAt(now, expiresAt, refreshedAt time.Time) int {
	total := expiresAt.Sub(refreshedAt)
	if total <= 0 {
		return 0
	}
	left := expiresAt.Sub(now)
	if left <= 0 {
		return 0
	}
	if left >= total {
		return 100
	}
	return int(left * 100 / total)
}

// Manager owns token state transitions for all linked accounts. Two
// near-simultaneous refresh triggers for the same account collapse into one
// outbound exchange; accounts never contend with each other.
type Manager struct {
	store *store.Accounts
	oauth *marketplace.OAuthClient
	group singleflight.Group

	refreshBuffer time.Duration
	scheduleLead  time.Duration
}

// NewManager creates a manager over the given store and OAuth client.
func NewManager(st *store.Accounts, oauth *marketplace.OAuthClient) *Manager {
	return &Manager{
		store:         st,
		oauth:         oauth,
		refreshBuffer: DefaultRefreshBuffer,
		scheduleLead:  DefaultScheduleLead,
	}
}

// SetScheduleLead adjusts how far ahead of expiry the next scheduled
// refresh is planned. The scheduler sets this from its own pass interval.
func (m *Manager) SetScheduleLead(d time.Duration) {
	if d > 0 {
		m.scheduleLead = d
	}
}

// EnsureFresh is the last line of defense in the request path: the returned
// credential is guaranteed not critically expired. A synchronous refresh is
// performed if needed; when that cannot produce a usable token the in-flight
// request fails with ErrReconnectRequired instead of proceeding with a dead
// one.
func (m *Manager) EnsureFresh(ctx context.Context, acc *models.LinkedAccount) (*Credential, error) {
	if acc.Status == models.StatusDisabled {
		return nil, fmt.Errorf("%w: account %s is disabled", ErrReconnectRequired, acc.ID)
	}
	if !IsExpired(acc.TokenExpiresAt, 0) {
		return credentialFrom(acc), nil
	}
	if !acc.Refreshable() {
		// No marketplace call can help; fail fast without one.
		return nil, fmt.Errorf("%w: token expired and account %s has no refresh material", ErrReconnectRequired, acc.ID)
	}

	cred, err := m.Refresh(ctx, acc.ID)
	if err != nil {
		var rerr *RefreshError
		if errors.As(err, &rerr) && rerr.Kind != FailureTransient {
			return nil, fmt.Errorf("%w: %v", ErrReconnectRequired, err)
		}
		return nil, err
	}
	return cred, nil
}

// Refresh exchanges the account's refresh token for a fresh pair and stores
// it. Concurrent calls for the same account share one exchange.
func (m *Manager) Refresh(ctx context.Context, accountID string) (*Credential, error) {
	v, err, _ := m.group.Do(accountID, func() (interface{}, error) {
		// The exchange is shared by every concurrent caller, so one
		// caller's cancellation must not fail it for the rest. The OAuth
		// client's own timeout still bounds the call.
		return m.refresh(context.WithoutCancel(ctx), accountID)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Credential), nil
}

func (m *Manager) refresh(ctx context.Context, accountID string) (*Credential, error) {
	acc, err := m.store.FindByID(accountID)
	if err != nil {
		return nil, err
	}
	if acc.Status == models.StatusDisabled {
		return nil, &RefreshError{Kind: FailureAuth, Err: ErrReconnectRequired}
	}
	if acc.RefreshToken == "" {
		return nil, &RefreshError{Kind: FailureNoRefreshToken, Err: errNoRefreshToken}
	}
	if acc.ClientID == "" || acc.ClientSecret == "" {
		return nil, &RefreshError{Kind: FailureNoClientCredentials, Err: errNoClientCredentials}
	}

	creds := marketplace.AppCredentials{
		ClientID:     acc.ClientID,
		ClientSecret: acc.ClientSecret,
		RedirectURI:  acc.RedirectURI,
	}
	pair, err := m.oauth.ExchangeRefreshToken(ctx, creds, acc.RefreshToken)
	if err != nil {
		return m.handleExchangeFailure(acc, err)
	}

	next := pair.ExpiresAt.Add(-m.scheduleLead)
	ok, err := m.store.AtomicUpdateTokens(acc.ID, acc.RefreshToken, store.TokenPair{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		ExpiresAt:    pair.ExpiresAt,
	}, next)
	if err != nil {
		return nil, &RefreshError{Kind: FailureTransient, Err: err}
	}
	if !ok {
		// A concurrent writer rotated the pair between our read and write.
		// The stored tokens are newer than ours; adopt them.
		return m.adoptStoredPair(acc.ID, "store conflict")
	}

	log.Printf("✅ Refreshed token for %s (expires %s)", acc.Nickname, pair.ExpiresAt.Format(time.RFC3339))
	return &Credential{
		AccountID:         acc.ID,
		MarketplaceUserID: acc.MarketplaceUserID,
		Nickname:          acc.Nickname,
		AccessToken:       pair.AccessToken,
		ExpiresAt:         pair.ExpiresAt,
	}, nil
}

// handleExchangeFailure classifies a failed marketplace exchange. An auth
// rejection is first checked against the stored record: losing a race to a
// concurrent refresh also surfaces as invalid_grant, and disabling the
// account on a lost race would be a functional regression — the loser must
// adopt the winner's pair instead.
func (m *Manager) handleExchangeFailure(acc *models.LinkedAccount, exchangeErr error) (*Credential, error) {
	if !isAuthExchangeError(exchangeErr) {
		if err := m.store.SetRefreshStatus(acc.ID, models.RefreshFailed, exchangeErr.Error()); err != nil {
			log.Printf("⚠️ Failed to record refresh failure for %s: %v", acc.ID, err)
		}
		return nil, &RefreshError{Kind: FailureTransient, Err: exchangeErr}
	}

	fresh, err := m.store.FindByID(acc.ID)
	if err == nil && fresh.RefreshToken != acc.RefreshToken && !IsExpired(fresh.TokenExpiresAt, 0) {
		log.Printf("♻️ Lost refresh race for %s, adopting rotated token", acc.Nickname)
		return credentialFrom(fresh), nil
	}

	// Genuine auth failure: the marketplace no longer honors this refresh
	// token. Stop retrying until the user re-authorizes.
	if err := m.store.SetRefreshStatus(acc.ID, models.RefreshFailed, exchangeErr.Error()); err != nil {
		log.Printf("⚠️ Failed to record refresh failure for %s: %v", acc.ID, err)
	}
	if err := m.store.SetStatus(acc.ID, models.StatusDisabled); err != nil {
		log.Printf("⚠️ Failed to disable account %s: %v", acc.ID, err)
	}
	log.Printf("🔒 Account %s disabled after auth failure, reconnect required (token %s)",
		acc.Nickname, util.MaskToken(acc.RefreshToken))
	return nil, &RefreshError{Kind: FailureAuth, Err: exchangeErr}
}

// adoptStoredPair re-reads the record after losing a write race and returns
// the winner's credential.
func (m *Manager) adoptStoredPair(accountID, reason string) (*Credential, error) {
	fresh, err := m.store.FindByID(accountID)
	if err != nil {
		return nil, &RefreshError{Kind: FailureTransient, Err: err}
	}
	if IsExpired(fresh.TokenExpiresAt, 0) {
		return nil, &RefreshError{Kind: FailureTransient, Err: fmt.Errorf("lost refresh race (%s) but stored token is expired", reason)}
	}
	log.Printf("♻️ Lost refresh race for %s (%s), adopting stored pair", fresh.Nickname, reason)
	return credentialFrom(fresh), nil
}

// isAuthExchangeError reports whether the token endpoint rejected the
// grant itself, as opposed to failing transiently. Timeouts and 5xx are
// never treated as an invalid refresh token.
func isAuthExchangeError(err error) bool {
	if err == nil {
		return false
	}
	var rerr *oauth2.RetrieveError
	if errors.As(err, &rerr) {
		if resp := rerr.Response; resp != nil {
			switch resp.StatusCode {
			case 500, 503, 408, 429:
				return false
			}
		}
		switch rerr.ErrorCode {
		case "invalid_grant", "invalid_client", "unauthorized_client":
			return true
		}
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"invalid_grant",
		"invalid_client",
		"unauthorized_client",
		"token has been expired or revoked",
		"revoked",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
