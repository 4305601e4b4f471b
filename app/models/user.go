package models

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"gorm.io/gorm"
)

// User statuses
const (
	STATUS_ACTIVE   = "active"
	STATUS_DISABLED = "disabled"
)

type User struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	Name       string    `gorm:"type:varchar(100);not null" json:"name"`
	Email      string    `gorm:"type:varchar(191);uniqueIndex;not null" json:"email"`
	Status     string    `gorm:"type:varchar(20);not null;default:'active'" json:"status"`
	Plan       string    `gorm:"type:varchar(50);not null;default:'free'" json:"plan"`
	APIKeyHash string    `gorm:"type:char(64);index" json:"-"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// HashAPIKey returns the hex SHA-256 digest stored for API key lookup.
func HashAPIKey(apiKey string) string {
	sum := sha256.Sum256([]byte(apiKey))
	return hex.EncodeToString(sum[:])
}

// FindUserByAPIKeyHash resolves an API key hash to an active user record.
func FindUserByAPIKeyHash(db *gorm.DB, hash string) (*User, error) {
	var user User
	if err := db.Where("api_key_hash = ?", hash).First(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

// FindDocumentByUUID loads a document by its public identifier.
func FindDocumentByUUID(db *gorm.DB, uuid string) (*Document, error) {
	var doc Document
	if err := db.Where("uuid = ?", uuid).First(&doc).Error; err != nil {
		return nil, err
	}
	return &doc, nil
}
