// Package store wraps all LinkedAccount persistence. Every mutation is an
// atomic read-modify-write on a single account row; cross-account operations
// never span rows in one transaction.
package store

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"sellerhub/internal/db/models"
)

// ErrNotFound is returned when an account lookup matches nothing.
var ErrNotFound = errors.New("account not found")

// TokenPair is the result of a successful token exchange.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// Accounts provides access to linked marketplace accounts.
type Accounts struct {
	db *gorm.DB
}

// New creates an account store over the given database handle.
func New(db *gorm.DB) *Accounts {
	return &Accounts{db: db}
}

// FindByID returns one account by its platform-assigned ID.
func (s *Accounts) FindByID(id string) (*models.LinkedAccount, error) {
	var acc models.LinkedAccount
	if err := s.db.First(&acc, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &acc, nil
}

// FindByUser returns every account linked by the user, primary first, then
// oldest first. Aggregation iterates accounts in exactly this order.
func (s *Accounts) FindByUser(userID string) ([]models.LinkedAccount, error) {
	var accounts []models.LinkedAccount
	err := s.db.Where("user_id = ?", userID).
		Order("is_primary DESC, created_at ASC").
		Find(&accounts).Error
	return accounts, err
}

// FindActiveByUser is FindByUser restricted to active accounts.
func (s *Accounts) FindActiveByUser(userID string) ([]models.LinkedAccount, error) {
	var accounts []models.LinkedAccount
	err := s.db.Where("user_id = ? AND status = ?", userID, models.StatusActive).
		Order("is_primary DESC, created_at ASC").
		Find(&accounts).Error
	return accounts, err
}

// FindPrimary returns the user's primary account, or ErrNotFound.
func (s *Accounts) FindPrimary(userID string) (*models.LinkedAccount, error) {
	var acc models.LinkedAccount
	err := s.db.Where("user_id = ? AND is_primary = ? AND status != ?",
		userID, true, models.StatusDisabled).First(&acc).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &acc, nil
}

// FindDueForRefresh returns active/paused accounts whose next scheduled
// refresh is due (or that were never refreshed). Accounts without refresh
// material are included so the caller can report them as skipped.
func (s *Accounts) FindDueForRefresh(now time.Time) ([]models.LinkedAccount, error) {
	var accounts []models.LinkedAccount
	err := s.db.Where("status IN ?", []string{models.StatusActive, models.StatusPaused}).
		Where("next_token_refresh_needed <= ? OR last_token_refresh = ?", now, time.Time{}).
		Order("next_token_refresh_needed ASC").
		Find(&accounts).Error
	return accounts, err
}

// CountByUser returns how many non-disabled accounts the user has linked.
func (s *Accounts) CountByUser(userID string) (int64, error) {
	var count int64
	err := s.db.Model(&models.LinkedAccount{}).
		Where("user_id = ? AND status != ?", userID, models.StatusDisabled).
		Count(&count).Error
	return count, err
}

// AtomicUpdateTokens replaces the stored token pair, conditional on the
// refresh token the caller exchanged still being the stored one. Returns
// false when a concurrent refresh already rotated the pair — the caller must
// re-read the row and adopt the winner's tokens rather than retry the
// exchange, because the old refresh token is now dead on the marketplace
// side too.
func (s *Accounts) AtomicUpdateTokens(id, oldRefreshToken string, pair TokenPair, nextRefresh time.Time) (bool, error) {
	res := s.db.Model(&models.LinkedAccount{}).
		Where("id = ? AND refresh_token = ?", id, oldRefreshToken).
		Updates(map[string]interface{}{
			"access_token":              pair.AccessToken,
			"refresh_token":             pair.RefreshToken,
			"token_expires_at":          pair.ExpiresAt,
			"last_token_refresh":        time.Now(),
			"next_token_refresh_needed": nextRefresh,
			"token_refresh_status":      models.RefreshSuccess,
			"token_refresh_error":       "",
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// SetRefreshStatus records the outcome of a refresh attempt.
func (s *Accounts) SetRefreshStatus(id, status, detail string) error {
	return s.db.Model(&models.LinkedAccount{}).Where("id = ?", id).
		Updates(map[string]interface{}{
			"token_refresh_status": status,
			"token_refresh_error":  detail,
		}).Error
}

// SetStatus changes the account lifecycle status. Disabling the primary
// account promotes the oldest remaining active account in its place.
func (s *Accounts) SetStatus(id, status string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		var acc models.LinkedAccount
		if err := tx.First(&acc, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}

		updates := map[string]interface{}{"status": status}
		if status == models.StatusDisabled && acc.IsPrimary {
			updates["is_primary"] = false
		}
		if err := tx.Model(&models.LinkedAccount{}).Where("id = ?", id).Updates(updates).Error; err != nil {
			return err
		}

		if status == models.StatusDisabled && acc.IsPrimary {
			return promoteOldestActive(tx, acc.UserID)
		}
		return nil
	})
}

// PromotePrimary makes the given account the user's only primary one.
func (s *Accounts) PromotePrimary(userID, id string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.LinkedAccount{}).
			Where("user_id = ? AND is_primary = ?", userID, true).
			Update("is_primary", false).Error; err != nil {
			return err
		}
		res := tx.Model(&models.LinkedAccount{}).
			Where("id = ? AND user_id = ?", id, userID).
			Update("is_primary", true)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// promoteOldestActive elects a new primary after the old one left the active
// set. A user with no active accounts simply has no primary.
func promoteOldestActive(tx *gorm.DB, userID string) error {
	var next models.LinkedAccount
	err := tx.Where("user_id = ? AND status = ?", userID, models.StatusActive).
		Order("created_at ASC").First(&next).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		return err
	}
	return tx.Model(&models.LinkedAccount{}).Where("id = ?", next.ID).
		Update("is_primary", true).Error
}

// UpsertLinked saves a freshly authorized seller identity. Reconnecting a
// seller already linked by this user updates the existing record in place
// (same account ID) instead of creating a duplicate. The user's first
// account becomes primary.
func (s *Accounts) UpsertLinked(acc *models.LinkedAccount) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		var existing models.LinkedAccount
		err := tx.Where("user_id = ? AND marketplace_user_id = ?",
			acc.UserID, acc.MarketplaceUserID).First(&existing).Error
		switch {
		case err == nil:
			acc.ID = existing.ID
			acc.IsPrimary = existing.IsPrimary
			acc.CreatedAt = existing.CreatedAt
		case errors.Is(err, gorm.ErrRecordNotFound):
			if acc.ID == "" {
				acc.ID = uuid.New().String()
			}
			var primaryCount int64
			if err := tx.Model(&models.LinkedAccount{}).
				Where("user_id = ? AND is_primary = ?", acc.UserID, true).
				Count(&primaryCount).Error; err != nil {
				return err
			}
			acc.IsPrimary = primaryCount == 0
		default:
			return err
		}

		acc.Status = models.StatusActive
		acc.TokenRefreshStatus = models.RefreshSuccess
		return tx.Save(acc).Error
	})
}

// Disconnect soft-disables the account and drops its token material. The
// row survives so the seller's history and identity mapping are kept for a
// later reconnect.
func (s *Accounts) Disconnect(id string) error {
	if err := s.db.Model(&models.LinkedAccount{}).Where("id = ?", id).
		Updates(map[string]interface{}{
			"access_token":  "",
			"refresh_token": "",
		}).Error; err != nil {
		return err
	}
	return s.SetStatus(id, models.StatusDisabled)
}
