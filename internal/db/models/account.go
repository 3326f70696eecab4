package models

import "time"

// Account status values. Disabled accounts are excluded from both the
// scheduled refresh pass and cross-account aggregation until the user
// re-authorizes.
const (
	StatusActive   = "active"
	StatusPaused   = "paused"
	StatusDisabled = "disabled"
)

// Token refresh outcome recorded on the account after each attempt.
const (
	RefreshSuccess = "success"
	RefreshFailed  = "failed"
	RefreshPending = "pending"
)

// LinkedAccount stores one marketplace seller identity owned by a platform
// user, together with its OAuth token material. The refresh token is
// single-use: the marketplace invalidates it the moment it is exchanged, so
// access and refresh tokens are always replaced together.
type LinkedAccount struct {
	ID                string `gorm:"primaryKey"` // UUID
	UserID            string `gorm:"uniqueIndex:idx_user_meli;index"`
	MarketplaceUserID string `gorm:"uniqueIndex:idx_user_meli"` // seller id on the marketplace
	Nickname          string // seller display name, used to label aggregated items
	Email             string

	AccessToken    string
	RefreshToken   string // empty for manually pasted tokens; such accounts cannot be refreshed
	TokenExpiresAt time.Time

	// OAuth app credentials used to mint this account's tokens. Each seller
	// can authorize through their own registered app, so these live on the
	// account rather than in process config.
	ClientID     string
	ClientSecret string
	RedirectURI  string

	IsPrimary bool   `gorm:"default:false"`
	Status    string `gorm:"default:active;index"`

	LastTokenRefresh       time.Time
	NextTokenRefreshNeeded time.Time
	TokenRefreshStatus     string `gorm:"default:pending"`
	TokenRefreshError      string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Refreshable reports whether the account carries everything a
// refresh-token exchange needs.
func (a *LinkedAccount) Refreshable() bool {
	return a.RefreshToken != "" && a.ClientID != "" && a.ClientSecret != ""
}
