package db

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"log"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"sellerhub/internal/db/models"
)

const apiKeySetting = "api_key"

// InitDB opens the SQLite database, runs migrations, and makes sure an
// admin API key exists.
func InitDB(dbPath string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, err
	}

	if err := db.AutoMigrate(&models.LinkedAccount{}, &models.Setting{}); err != nil {
		return nil, err
	}

	key, minted, err := EnsureAPIKey(db)
	if err != nil {
		return nil, err
	}
	if minted {
		log.Printf("🔑 Generated admin API key: %s", key)
	}
	return db, nil
}

// EnsureAPIKey returns the admin API key, minting one on first run. The
// second return reports whether a new key was created.
func EnsureAPIKey(db *gorm.DB) (string, bool, error) {
	var setting models.Setting
	err := db.Where("key = ?", apiKeySetting).First(&setting).Error
	switch {
	case err == nil:
		return setting.Value, false, nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		key := newAPIKey()
		if err := db.Create(&models.Setting{Key: apiKeySetting, Value: key}).Error; err != nil {
			return "", false, err
		}
		return key, true, nil
	default:
		return "", false, err
	}
}

// GetAPIKey returns the stored admin API key, or "" when none exists yet.
func GetAPIKey(db *gorm.DB) string {
	var setting models.Setting
	db.Where("key = ?", apiKeySetting).First(&setting)
	return setting.Value
}

// RegenerateAPIKey replaces the admin API key and returns the new one.
// The old key stops working immediately.
func RegenerateAPIKey(db *gorm.DB) (string, error) {
	key := newAPIKey()
	err := db.Model(&models.Setting{}).Where("key = ?", apiKeySetting).
		Update("value", key).Error
	if err != nil {
		return "", err
	}
	return key, nil
}

// newAPIKey mints an sh-prefixed 128-bit key.
func newAPIKey() string {
	b := make([]byte, 16)
	rand.Read(b)
	return "sh-" + hex.EncodeToString(b)
}
