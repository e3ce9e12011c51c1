package providers

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shoganaistudio/accounts/internal/models"
	"github.com/shoganaistudio/accounts/internal/store"
	"github.com/shoganaistudio/accounts/pkg/crypto"
)

var (
	// ErrInvalidCredentials is returned when the supplied email/password pair is invalid.
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	// ErrAccountLocked signals that the account has exceeded the permitted failed attempts.
	ErrAccountLocked = errors.New("auth: account locked")
	// ErrAccountNotVerified signals a correct credential on an account whose
	// email has not been confirmed yet.
	ErrAccountNotVerified = errors.New("auth: account not verified")
)

// LocalConfig defines tunable behaviour for the local provider.
type LocalConfig struct {
	LockoutThreshold int
	LockoutDuration  time.Duration
	Clock            func() time.Time
}

// AuthenticateInput contains the credential and client metadata for a login attempt.
type AuthenticateInput struct {
	Email     string
	Password  string
	IPAddress string
	UserAgent string
}

// LocalProvider implements email/password authentication with account lockout controls.
type LocalProvider struct {
	accounts  store.Accounts
	clock     func() time.Time
	threshold int
	duration  time.Duration
}

// NewLocalProvider builds a provider with sane defaults.
func NewLocalProvider(accounts store.Accounts, cfg LocalConfig) (*LocalProvider, error) {
	if accounts == nil {
		return nil, errors.New("local provider: accounts store is required")
	}

	threshold := cfg.LockoutThreshold
	if threshold <= 0 {
		threshold = 5
	}

	duration := cfg.LockoutDuration
	if duration <= 0 {
		duration = 15 * time.Minute
	}

	clock := time.Now
	if cfg.Clock != nil {
		clock = cfg.Clock
	}

	return &LocalProvider{
		accounts:  accounts,
		clock:     clock,
		threshold: threshold,
		duration:  duration,
	}, nil
}

// Authenticate verifies the supplied credentials and returns the associated
// account when successful. Unknown emails and wrong passwords produce the
// same error so the response does not reveal which accounts exist. The
// unverified state is only reported after the password has been proven.
func (p *LocalProvider) Authenticate(ctx context.Context, input AuthenticateInput) (*models.Account, error) {
	email := store.NormalizeEmail(input.Email)
	if email == "" || input.Password == "" {
		return nil, ErrInvalidCredentials
	}

	account, err := p.accounts.FindByEmail(ctx, email)
	if errors.Is(err, store.ErrAccountNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("local provider: query account: %w", err)
	}

	now := p.clock()

	if account.LockedUntil != nil && account.LockedUntil.After(now) {
		return nil, ErrAccountLocked
	}

	// Unlock the account if the lockout duration has elapsed.
	if account.LockedUntil != nil && !account.LockedUntil.After(now) {
		account.LockedUntil = nil
		account.FailedAttempts = 0
		if err := p.accounts.UpdateLockState(ctx, account.ID, 0, nil); err != nil {
			return nil, fmt.Errorf("local provider: reset lock state: %w", err)
		}
	}

	if !crypto.VerifyPassword(account.PasswordHash, input.Password) {
		return nil, p.handleFailedAttempt(ctx, account, now)
	}

	if !account.IsVerified {
		return nil, ErrAccountNotVerified
	}

	if err := p.accounts.RecordLogin(ctx, account.ID, input.IPAddress, now); err != nil {
		return nil, fmt.Errorf("local provider: record login: %w", err)
	}

	account.FailedAttempts = 0
	account.LockedUntil = nil
	account.LastLoginAt = &now
	account.LastLoginIP = strings.TrimSpace(input.IPAddress)

	return account, nil
}

func (p *LocalProvider) handleFailedAttempt(ctx context.Context, account *models.Account, now time.Time) error {
	account.FailedAttempts++

	var lockedUntil *time.Time
	if account.FailedAttempts >= p.threshold {
		lockUntil := now.Add(p.duration)
		lockedUntil = &lockUntil
		account.LockedUntil = lockedUntil
	}

	if err := p.accounts.UpdateLockState(ctx, account.ID, account.FailedAttempts, lockedUntil); err != nil {
		return fmt.Errorf("local provider: update failed attempts: %w", err)
	}

	if account.LockedUntil != nil && account.LockedUntil.After(now) {
		return ErrAccountLocked
	}

	return ErrInvalidCredentials
}
