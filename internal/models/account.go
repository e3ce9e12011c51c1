package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Account is the persisted identity record created at registration.
//
// Invariants maintained by the store layer:
//   - Email is unique and stored lowercase.
//   - VerificationToken is non-null exactly while the account is unverified
//     and a token has been issued; it is cleared in the same atomic update
//     that sets IsVerified.
//   - IsVerified becomes true at most once and never reverts.
type Account struct {
	ID        string `gorm:"primaryKey;type:uuid" json:"id"`
	Email     string `gorm:"uniqueIndex;not null" json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`

	PasswordHash string `gorm:"not null" json:"-"`

	IsVerified            bool       `gorm:"default:false" json:"is_verified"`
	VerificationToken     *string    `gorm:"uniqueIndex" json:"-"`
	VerificationExpiresAt *time.Time `gorm:"index" json:"-"`

	LastLoginAt *time.Time `json:"last_login_at"`
	LastLoginIP string     `json:"-"`

	FailedAttempts int        `gorm:"default:0" json:"-"`
	LockedUntil    *time.Time `json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BeforeCreate ensures a UUID is present before persisting.
func (a *Account) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	return nil
}
