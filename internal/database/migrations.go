package database

import (
	"gorm.io/gorm"

	"github.com/shoganaistudio/accounts/internal/models"
)

// AutoMigrate creates or updates the database schema for all models.
// The unique indexes on accounts.email and accounts.verification_token are
// what enforce duplicate rejection and at-most-once token consumption.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.Account{},
		&models.Session{},
		&models.Identity{},
	)
}
