package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Identity links an external OIDC subject to a local account so the SSO
// sign-in path resolves to the same Account record as credential login.
type Identity struct {
	ID        string   `gorm:"primaryKey;type:uuid" json:"id"`
	AccountID string   `gorm:"type:uuid;not null;index" json:"account_id"`
	Account   *Account `gorm:"foreignKey:AccountID" json:"-"`

	Provider string `gorm:"not null;uniqueIndex:idx_identity_subject" json:"provider"`
	Subject  string `gorm:"not null;uniqueIndex:idx_identity_subject" json:"subject"`
	Email    string `json:"email"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (i *Identity) BeforeCreate(tx *gorm.DB) error {
	if i.ID == "" {
		i.ID = uuid.NewString()
	}
	return nil
}
