package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/shoganaistudio/accounts/internal/auth/providers"
	"github.com/shoganaistudio/accounts/internal/models"
	"github.com/shoganaistudio/accounts/pkg/crypto"
)

var (
	// ErrSSOEmailRequired indicates the upstream identity did not supply an email address.
	ErrSSOEmailRequired = errors.New("sso manager: email is required")
	// ErrSSOEmailUnverified is returned when the upstream provider has not
	// verified the email and the identity maps to no existing link.
	ErrSSOEmailUnverified = errors.New("sso manager: email not verified by provider")
	// ErrSSOAccountNotFound is returned when the identity cannot be mapped and auto-provisioning is disabled.
	ErrSSOAccountNotFound = errors.New("sso manager: account not found")
)

// SSOConfig exposes tunable behaviour for the SSOManager.
type SSOConfig struct {
	AutoProvision bool
	Clock         func() time.Time
}

// SSOManager maps external provider identities to local accounts and issues sessions.
type SSOManager struct {
	db            *gorm.DB
	sessions      *SessionService
	autoProvision bool
	clock         func() time.Time
}

// NewSSOManager constructs an SSOManager.
func NewSSOManager(db *gorm.DB, sessions *SessionService, cfg SSOConfig) (*SSOManager, error) {
	if db == nil {
		return nil, errors.New("sso manager: db is required")
	}
	if sessions == nil {
		return nil, errors.New("sso manager: session service is required")
	}

	clock := time.Now
	if cfg.Clock != nil {
		clock = cfg.Clock
	}

	return &SSOManager{
		db:            db,
		sessions:      sessions,
		autoProvision: cfg.AutoProvision,
		clock:         clock,
	}, nil
}

// Resolve maps an external identity to a local account and issues a session
// token pair. New links require the provider to assert a verified email.
func (m *SSOManager) Resolve(ctx context.Context, identity providers.Identity, meta SessionMetadata) (TokenPair, *models.Account, *models.Session, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	account, err := m.LinkIdentity(ctx, identity)
	if err != nil {
		return TokenPair{}, nil, nil, err
	}

	tokens, session, err := m.sessions.CreateSession(account.ID, meta)
	if err != nil {
		return TokenPair{}, nil, nil, fmt.Errorf("sso manager: create session: %w", err)
	}

	now := m.clock()
	lastIP := strings.TrimSpace(meta.IPAddress)
	update := map[string]any{
		"last_login_at": now,
		"last_login_ip": lastIP,
	}
	if err := m.db.WithContext(ctx).Model(&models.Account{}).Where("id = ?", account.ID).Updates(update).Error; err == nil {
		account.LastLoginAt = &now
		account.LastLoginIP = lastIP
	}

	return tokens, account, session, nil
}

// LinkIdentity associates an external identity with an account. Lookup runs
// by provider subject first, then by email; unmatched identities are
// provisioned when auto-provisioning is enabled.
func (m *SSOManager) LinkIdentity(ctx context.Context, identity providers.Identity) (*models.Account, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	provider := strings.ToLower(strings.TrimSpace(identity.Provider))
	subject := strings.TrimSpace(identity.Subject)
	if provider == "" || subject == "" {
		return nil, errors.New("sso manager: provider and subject are required")
	}

	var link models.Identity
	err := m.db.WithContext(ctx).
		Where("provider = ? AND subject = ?", provider, subject).
		Take(&link).Error
	switch {
	case err == nil:
		var account models.Account
		if err := m.db.WithContext(ctx).Take(&account, "id = ?", link.AccountID).Error; err != nil {
			return nil, fmt.Errorf("sso manager: load linked account: %w", err)
		}
		return &account, nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return m.linkByEmail(ctx, identity, provider, subject)
	default:
		return nil, fmt.Errorf("sso manager: find identity: %w", err)
	}
}

func (m *SSOManager) linkByEmail(ctx context.Context, identity providers.Identity, provider, subject string) (*models.Account, error) {
	email := strings.ToLower(strings.TrimSpace(identity.Email))
	if email == "" {
		return nil, ErrSSOEmailRequired
	}
	if !identity.EmailVerified {
		return nil, ErrSSOEmailUnverified
	}

	var account models.Account
	err := m.db.WithContext(ctx).Where("email = ?", email).Take(&account).Error
	switch {
	case err == nil:
	case errors.Is(err, gorm.ErrRecordNotFound):
		if !m.autoProvision {
			return nil, ErrSSOAccountNotFound
		}
		provisioned, provErr := m.provisionAccount(ctx, identity, email)
		if provErr != nil {
			return nil, provErr
		}
		account = *provisioned
	default:
		return nil, fmt.Errorf("sso manager: find account: %w", err)
	}

	// The provider's assertion completes pending email verification.
	if !account.IsVerified {
		updates := map[string]any{
			"is_verified":             true,
			"verification_token":      nil,
			"verification_expires_at": nil,
		}
		if err := m.db.WithContext(ctx).Model(&account).Updates(updates).Error; err != nil {
			return nil, fmt.Errorf("sso manager: mark verified: %w", err)
		}
		account.IsVerified = true
		account.VerificationToken = nil
		account.VerificationExpiresAt = nil
	}

	link := models.Identity{
		AccountID: account.ID,
		Provider:  provider,
		Subject:   subject,
		Email:     email,
	}
	if err := m.db.WithContext(ctx).Create(&link).Error; err != nil {
		return nil, fmt.Errorf("sso manager: create identity link: %w", err)
	}

	return &account, nil
}

func (m *SSOManager) provisionAccount(ctx context.Context, identity providers.Identity, email string) (*models.Account, error) {
	placeholder, err := m.generatePlaceholderPassword()
	if err != nil {
		return nil, err
	}

	account := &models.Account{
		Email:        email,
		FirstName:    strings.TrimSpace(identity.FirstName),
		LastName:     strings.TrimSpace(identity.LastName),
		PasswordHash: placeholder,
		IsVerified:   true,
	}

	if err := m.db.WithContext(ctx).Create(account).Error; err != nil {
		return nil, fmt.Errorf("sso manager: create account: %w", err)
	}

	return account, nil
}

// generatePlaceholderPassword produces an unguessable credential so
// provisioned accounts can never be entered through the password form.
func (m *SSOManager) generatePlaceholderPassword() (string, error) {
	token, err := crypto.GenerateToken(48)
	if err != nil {
		return "", fmt.Errorf("sso manager: generate placeholder password: %w", err)
	}
	hashed, err := crypto.HashPassword(token)
	if err != nil {
		return "", fmt.Errorf("sso manager: hash placeholder password: %w", err)
	}
	return hashed, nil
}
