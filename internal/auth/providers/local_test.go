package providers

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/shoganaistudio/accounts/internal/models"
	"github.com/shoganaistudio/accounts/internal/store"
	"github.com/shoganaistudio/accounts/pkg/crypto"
)

func TestAuthenticateSuccessResetsCounters(t *testing.T) {
	accounts := setupAccounts(t)
	current := time.Date(2024, 1, 2, 9, 0, 0, 0, time.UTC)

	provider, err := NewLocalProvider(accounts, LocalConfig{Clock: func() time.Time { return current }})
	require.NoError(t, err)

	account := createAccount(t, accounts, "alice@example.com", "password123", true)
	require.NoError(t, accounts.UpdateLockState(context.Background(), account.ID, 3, nil))

	result, err := provider.Authenticate(context.Background(), AuthenticateInput{
		Email:     "Alice@Example.com",
		Password:  "password123",
		IPAddress: "127.0.0.1",
	})
	require.NoError(t, err)
	require.Equal(t, account.ID, result.ID)
	require.Equal(t, 0, result.FailedAttempts)

	stored, err := accounts.FindByID(context.Background(), account.ID)
	require.NoError(t, err)
	require.Equal(t, 0, stored.FailedAttempts)
	require.Equal(t, "127.0.0.1", stored.LastLoginIP)
	require.NotNil(t, stored.LastLoginAt)
}

func TestAuthenticateUnknownEmail(t *testing.T) {
	accounts := setupAccounts(t)

	provider, err := NewLocalProvider(accounts, LocalConfig{})
	require.NoError(t, err)

	_, err = provider.Authenticate(context.Background(), AuthenticateInput{
		Email:    "ghost@example.com",
		Password: "whatever",
	})
	require.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestAuthenticateWrongPassword(t *testing.T) {
	accounts := setupAccounts(t)

	provider, err := NewLocalProvider(accounts, LocalConfig{})
	require.NoError(t, err)

	account := createAccount(t, accounts, "bob@example.com", "correct", true)

	_, err = provider.Authenticate(context.Background(), AuthenticateInput{
		Email:    "bob@example.com",
		Password: "incorrect",
	})
	require.ErrorIs(t, err, ErrInvalidCredentials)

	stored, err := accounts.FindByID(context.Background(), account.ID)
	require.NoError(t, err)
	require.Equal(t, 1, stored.FailedAttempts)
}

func TestAuthenticateUnverifiedAccount(t *testing.T) {
	accounts := setupAccounts(t)

	provider, err := NewLocalProvider(accounts, LocalConfig{})
	require.NoError(t, err)

	createAccount(t, accounts, "pending@example.com", "password123", false)

	// Wrong password on an unverified account still reads as invalid
	// credentials, not as an unverified account.
	_, err = provider.Authenticate(context.Background(), AuthenticateInput{
		Email:    "pending@example.com",
		Password: "wrong",
	})
	require.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = provider.Authenticate(context.Background(), AuthenticateInput{
		Email:    "pending@example.com",
		Password: "password123",
	})
	require.ErrorIs(t, err, ErrAccountNotVerified)
}

func TestAuthenticateLockout(t *testing.T) {
	accounts := setupAccounts(t)
	current := time.Date(2024, 1, 2, 9, 0, 0, 0, time.UTC)

	provider, err := NewLocalProvider(accounts, LocalConfig{
		LockoutThreshold: 3,
		LockoutDuration:  10 * time.Minute,
		Clock:            func() time.Time { return current },
	})
	require.NoError(t, err)

	createAccount(t, accounts, "carol@example.com", "password123", true)

	for i := 0; i < 2; i++ {
		_, err = provider.Authenticate(context.Background(), AuthenticateInput{
			Email:    "carol@example.com",
			Password: "bad",
		})
		require.ErrorIs(t, err, ErrInvalidCredentials)
	}

	// Third failure crosses the threshold.
	_, err = provider.Authenticate(context.Background(), AuthenticateInput{
		Email:    "carol@example.com",
		Password: "bad",
	})
	require.ErrorIs(t, err, ErrAccountLocked)

	// The correct password is rejected while the lock holds.
	_, err = provider.Authenticate(context.Background(), AuthenticateInput{
		Email:    "carol@example.com",
		Password: "password123",
	})
	require.ErrorIs(t, err, ErrAccountLocked)

	// After the lockout expires the account unlocks on the next attempt.
	current = current.Add(11 * time.Minute)
	result, err := provider.Authenticate(context.Background(), AuthenticateInput{
		Email:    "carol@example.com",
		Password: "password123",
	})
	require.NoError(t, err)
	require.Equal(t, 0, result.FailedAttempts)
}

func createAccount(t *testing.T, accounts store.Accounts, email, password string, verified bool) *models.Account {
	t.Helper()

	hashed, err := crypto.HashPassword(password)
	require.NoError(t, err)

	account := &models.Account{
		Email:        email,
		PasswordHash: hashed,
		IsVerified:   verified,
	}
	require.NoError(t, accounts.Create(context.Background(), account))
	return account
}

func setupAccounts(t *testing.T) store.Accounts {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)

	require.NoError(t, db.AutoMigrate(&models.Account{}))

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() {
		_ = sqlDB.Close()
	})

	accounts, err := store.NewAccounts(db)
	require.NoError(t, err)
	return accounts
}
