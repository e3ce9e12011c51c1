package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/shoganaistudio/accounts/internal/models"
)

var (
	// ErrAccountNotFound indicates no account matches the lookup.
	ErrAccountNotFound = errors.New("store: account not found")
	// ErrDuplicateEmail is returned when a create collides with an existing
	// email. The unique index is authoritative; callers must not rely on a
	// preceding read.
	ErrDuplicateEmail = errors.New("store: email already registered")
	// ErrDuplicateToken marks a verification token collision on insert, a
	// retryable condition.
	ErrDuplicateToken = errors.New("store: verification token already in use")
	// ErrTokenNotConsumed covers every way a token can fail to verify an
	// account: unknown, already consumed, expired, or lost race. The cases
	// are deliberately indistinguishable.
	ErrTokenNotConsumed = errors.New("store: verification token not consumed")
)

// Accounts is the persistence boundary for account records. Implementations
// must enforce email uniqueness and at-most-once token consumption
// atomically at the database, never by check-then-write.
type Accounts interface {
	FindByEmail(ctx context.Context, email string) (*models.Account, error)
	FindByID(ctx context.Context, id string) (*models.Account, error)
	Create(ctx context.Context, account *models.Account) error
	ConsumeVerificationToken(ctx context.Context, token string, now time.Time) (*models.Account, error)
	RecordLogin(ctx context.Context, id, ip string, at time.Time) error
	UpdateLockState(ctx context.Context, id string, failedAttempts int, lockedUntil *time.Time) error
}

// NormalizeEmail applies the uniqueness normalization rule: addresses are
// trimmed and lowercased before storage and before every lookup.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

type gormAccounts struct {
	db *gorm.DB
}

// NewAccounts returns a gorm-backed Accounts store.
func NewAccounts(db *gorm.DB) (Accounts, error) {
	if db == nil {
		return nil, errors.New("store: db is required")
	}
	return &gormAccounts{db: db}, nil
}

func (s *gormAccounts) FindByEmail(ctx context.Context, email string) (*models.Account, error) {
	var account models.Account
	err := s.db.WithContext(ctx).
		Where("email = ?", NormalizeEmail(email)).
		Take(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: find account by email: %w", err)
	}
	return &account, nil
}

func (s *gormAccounts) FindByID(ctx context.Context, id string) (*models.Account, error) {
	var account models.Account
	err := s.db.WithContext(ctx).Take(&account, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: find account by id: %w", err)
	}
	return &account, nil
}

func (s *gormAccounts) Create(ctx context.Context, account *models.Account) error {
	account.Email = NormalizeEmail(account.Email)

	if err := s.db.WithContext(ctx).Create(account).Error; err != nil {
		if isUniqueConstraintError(err) {
			return s.classifyUniqueViolation(ctx, account, err)
		}
		return fmt.Errorf("store: create account: %w", err)
	}
	return nil
}

// classifyUniqueViolation decides which unique index rejected the insert.
// TranslateError collapses driver errors to gorm.ErrDuplicatedKey before any
// column name survives, so the existing rows are consulted instead.
func (s *gormAccounts) classifyUniqueViolation(ctx context.Context, account *models.Account, cause error) error {
	if strings.Contains(strings.ToLower(cause.Error()), "verification_token") {
		return ErrDuplicateToken
	}

	var taken int64
	err := s.db.WithContext(ctx).
		Model(&models.Account{}).
		Where("email = ?", account.Email).
		Count(&taken).Error
	if err == nil && taken > 0 {
		return ErrDuplicateEmail
	}

	if account.VerificationToken != nil {
		err := s.db.WithContext(ctx).
			Model(&models.Account{}).
			Where("verification_token = ?", *account.VerificationToken).
			Count(&taken).Error
		if err == nil && taken > 0 {
			return ErrDuplicateToken
		}
	}

	return ErrDuplicateEmail
}

// ConsumeVerificationToken marks the matching account verified and clears
// the token in a single conditional UPDATE. Two concurrent calls with the
// same token see exactly one success; the loser observes zero affected rows.
func (s *gormAccounts) ConsumeVerificationToken(ctx context.Context, token string, now time.Time) (*models.Account, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrTokenNotConsumed
	}

	var account models.Account
	err := s.db.WithContext(ctx).
		Where("verification_token = ?", token).
		Take(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrTokenNotConsumed
	}
	if err != nil {
		return nil, fmt.Errorf("store: find verification token: %w", err)
	}

	if account.VerificationExpiresAt != nil && account.VerificationExpiresAt.Before(now) {
		return nil, ErrTokenNotConsumed
	}

	result := s.db.WithContext(ctx).
		Model(&models.Account{}).
		Where("id = ? AND verification_token = ? AND is_verified = ?", account.ID, token, false).
		Updates(map[string]any{
			"is_verified":             true,
			"verification_token":      nil,
			"verification_expires_at": nil,
		})
	if result.Error != nil {
		return nil, fmt.Errorf("store: consume verification token: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, ErrTokenNotConsumed
	}

	account.IsVerified = true
	account.VerificationToken = nil
	account.VerificationExpiresAt = nil
	return &account, nil
}

func (s *gormAccounts) RecordLogin(ctx context.Context, id, ip string, at time.Time) error {
	err := s.db.WithContext(ctx).
		Model(&models.Account{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"failed_attempts": 0,
			"locked_until":    nil,
			"last_login_at":   at,
			"last_login_ip":   strings.TrimSpace(ip),
		}).Error
	if err != nil {
		return fmt.Errorf("store: record login: %w", err)
	}
	return nil
}

func (s *gormAccounts) UpdateLockState(ctx context.Context, id string, failedAttempts int, lockedUntil *time.Time) error {
	err := s.db.WithContext(ctx).
		Model(&models.Account{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"failed_attempts": failedAttempts,
			"locked_until":    lockedUntil,
		}).Error
	if err != nil {
		return fmt.Errorf("store: update lock state: %w", err)
	}
	return nil
}
