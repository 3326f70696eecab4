// Package marketplace talks to the marketplace's OAuth and resource APIs.
// Every seller can authorize through their own registered app, so the OAuth
// client is parameterized with app credentials per call, never per process.
package marketplace

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"
)

// Default marketplace endpoints. Overridable for tests.
const (
	DefaultAuthURL    = "https://auth.mercadolibre.com/authorization"
	DefaultTokenURL   = "https://api.mercadolibre.com/oauth/token"
	DefaultAPIBaseURL = "https://api.mercadolibre.com"
)

// oauthTimeout bounds every token-endpoint call. A timeout is a transient
// failure, never "refresh token invalid".
const oauthTimeout = 15 * time.Second

// AppCredentials identifies the OAuth app a given seller authorized through.
type AppCredentials struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
}

// TokenPair is what a successful exchange yields. The refresh token is
// single-use: the marketplace kills the exchanged one the moment this pair
// is issued.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// Identity is the seller identity behind an access token.
type Identity struct {
	MarketplaceUserID string `json:"-"`
	ID                int64  `json:"id"`
	Nickname          string `json:"nickname"`
	Email             string `json:"email"`
}

// OAuthClient performs authorization-code and refresh-token exchanges
// against the marketplace OAuth endpoint.
type OAuthClient struct {
	authURL    string
	tokenURL   string
	apiBaseURL string
	httpClient *http.Client
}

// NewOAuthClient creates a client against the production marketplace.
func NewOAuthClient() *OAuthClient {
	return NewOAuthClientWithEndpoints(DefaultAuthURL, DefaultTokenURL, DefaultAPIBaseURL)
}

// NewOAuthClientWithEndpoints creates a client against custom endpoints.
func NewOAuthClientWithEndpoints(authURL, tokenURL, apiBaseURL string) *OAuthClient {
	return &OAuthClient{
		authURL:    authURL,
		tokenURL:   tokenURL,
		apiBaseURL: apiBaseURL,
		httpClient: &http.Client{Timeout: oauthTimeout},
	}
}

// config builds the per-call oauth2 config for one account's app.
func (c *OAuthClient) config(creds AppCredentials) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecret,
		RedirectURL:  creds.RedirectURI,
		Endpoint: oauth2.Endpoint{
			AuthURL:   c.authURL,
			TokenURL:  c.tokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}

// callCtx injects our bounded-timeout HTTP client into the oauth2 machinery.
func (c *OAuthClient) callCtx(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
}

// AuthCodeURL returns the consent-page URL for the link flow.
func (c *OAuthClient) AuthCodeURL(creds AppCredentials, state string) string {
	return c.config(creds).AuthCodeURL(state)
}

// ExchangeAuthorizationCode trades an authorization code for a token pair.
func (c *OAuthClient) ExchangeAuthorizationCode(ctx context.Context, creds AppCredentials, code string) (*TokenPair, error) {
	tok, err := c.config(creds).Exchange(c.callCtx(ctx), code)
	if err != nil {
		return nil, err
	}
	return pairFromToken(tok, ""), nil
}

// ExchangeRefreshToken trades a refresh token for a fresh pair using the
// account's own app credentials. On success the submitted refresh token is
// dead; the returned pair must replace both stored tokens together.
func (c *OAuthClient) ExchangeRefreshToken(ctx context.Context, creds AppCredentials, refreshToken string) (*TokenPair, error) {
	src := c.config(creds).TokenSource(c.callCtx(ctx), &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		return nil, err
	}
	return pairFromToken(tok, refreshToken), nil
}

// FetchIdentity resolves the seller identity behind an access token.
func (c *OAuthClient) FetchIdentity(ctx context.Context, accessToken string) (*Identity, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiBaseURL+"/users/me", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{StatusCode: resp.StatusCode, Endpoint: "/users/me"}
	}

	var id Identity
	if err := json.NewDecoder(resp.Body).Decode(&id); err != nil {
		return nil, fmt.Errorf("decode identity: %w", err)
	}
	id.MarketplaceUserID = fmt.Sprintf("%d", id.ID)
	return &id, nil
}

func pairFromToken(tok *oauth2.Token, oldRefresh string) *TokenPair {
	pair := &TokenPair{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    tok.Expiry,
	}
	// Some token endpoints omit the rotated refresh token when nothing
	// changed; carry the submitted one forward so the stored pair stays
	// usable.
	if pair.RefreshToken == "" {
		pair.RefreshToken = oldRefresh
	}
	return pair
}
