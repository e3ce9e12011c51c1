package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/shoganaistudio/accounts/internal/models"
	"github.com/shoganaistudio/accounts/internal/store"
	"github.com/shoganaistudio/accounts/pkg/crypto"
	"github.com/shoganaistudio/accounts/pkg/logger"
	"github.com/shoganaistudio/accounts/pkg/mail"
	"github.com/shoganaistudio/accounts/pkg/metrics"
)

const (
	defaultVerificationExpiry     = 24 * time.Hour
	defaultVerificationTokenBytes = 32

	// tokenRetries bounds regeneration attempts when a freshly generated
	// token collides with a stored one.
	tokenRetries = 3
)

// RegistrationOption customises the RegistrationService.
type RegistrationOption func(*RegistrationService)

// WithVerificationBaseURL sets the base URL used in verification links.
func WithVerificationBaseURL(url string) RegistrationOption {
	return func(s *RegistrationService) {
		s.baseURL = strings.TrimRight(url, "/")
	}
}

// WithVerificationExpiry overrides the token lifetime.
func WithVerificationExpiry(d time.Duration) RegistrationOption {
	return func(s *RegistrationService) {
		if d > 0 {
			s.expiry = d
		}
	}
}

// WithVerificationTokenSize adjusts the number of random bytes in generated tokens.
func WithVerificationTokenSize(size int) RegistrationOption {
	return func(s *RegistrationService) {
		if size > 0 {
			s.tokenBytes = size
		}
	}
}

// WithRegistrationClock injects a custom time source.
func WithRegistrationClock(clock func() time.Time) RegistrationOption {
	return func(s *RegistrationService) {
		if clock != nil {
			s.now = clock
		}
	}
}

// RegisterInput carries the fields accepted at sign-up. Email and Password
// are required; validation happens at the HTTP boundary.
type RegisterInput struct {
	FirstName string
	LastName  string
	Email     string
	Password  string
	IPAddress string
}

// RegistrationResult reports the outcome of a successful registration.
// EmailDispatched is false when the account was created but the
// verification email could not be sent.
type RegistrationResult struct {
	Account         *models.Account
	EmailDispatched bool
}

// RegistrationService creates unverified accounts and dispatches
// verification emails. Email delivery is best effort: a created account is
// never rolled back because the mailer failed.
type RegistrationService struct {
	accounts   store.Accounts
	mailer     mail.Mailer
	baseURL    string
	expiry     time.Duration
	tokenBytes int
	now        func() time.Time
	log        *zap.Logger
}

// NewRegistrationService constructs a registration service with the provided dependencies.
func NewRegistrationService(accounts store.Accounts, mailer mail.Mailer, opts ...RegistrationOption) (*RegistrationService, error) {
	if accounts == nil {
		return nil, errors.New("registration service: accounts store is required")
	}

	service := &RegistrationService{
		accounts:   accounts,
		mailer:     mailer,
		expiry:     defaultVerificationExpiry,
		tokenBytes: defaultVerificationTokenBytes,
		now:        time.Now,
		log:        logger.WithModule("services.registration"),
	}

	for _, opt := range opts {
		opt(service)
	}

	return service, nil
}

// Register creates an unverified account and emails its verification link.
// The stored password is a bcrypt hash; the plaintext is never persisted.
func (s *RegistrationService) Register(ctx context.Context, input RegisterInput) (*RegistrationResult, error) {
	email := store.NormalizeEmail(input.Email)
	if email == "" {
		return nil, errors.New("registration service: email is required")
	}
	if input.Password == "" {
		return nil, errors.New("registration service: password is required")
	}

	// Courtesy fast path that skips the bcrypt work on duplicate
	// submissions; the unique index stays authoritative under races.
	if _, err := s.accounts.FindByEmail(ctx, email); err == nil {
		metrics.Registrations.WithLabelValues("duplicate").Inc()
		return nil, ErrEmailTaken
	} else if !errors.Is(err, store.ErrAccountNotFound) {
		metrics.Registrations.WithLabelValues("error").Inc()
		return nil, err
	}

	hash, err := crypto.HashPassword(input.Password)
	if err != nil {
		metrics.Registrations.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("registration service: hash password: %w", err)
	}

	account, err := s.createWithToken(ctx, input, email, hash)
	if err != nil {
		if errors.Is(err, store.ErrDuplicateEmail) {
			metrics.Registrations.WithLabelValues("duplicate").Inc()
			return nil, ErrEmailTaken
		}
		metrics.Registrations.WithLabelValues("error").Inc()
		return nil, err
	}
	metrics.Registrations.WithLabelValues("created").Inc()

	dispatched := s.sendVerificationEmail(ctx, account)

	return &RegistrationResult{Account: account, EmailDispatched: dispatched}, nil
}

// createWithToken inserts the account, regenerating the verification token
// on the unlikely collision with an existing one.
func (s *RegistrationService) createWithToken(ctx context.Context, input RegisterInput, email, hash string) (*models.Account, error) {
	for attempt := 0; attempt < tokenRetries; attempt++ {
		token, err := crypto.GenerateToken(s.tokenBytes)
		if err != nil {
			return nil, fmt.Errorf("registration service: generate token: %w", err)
		}

		expires := s.now().Add(s.expiry)
		account := &models.Account{
			Email:                 email,
			FirstName:             strings.TrimSpace(input.FirstName),
			LastName:              strings.TrimSpace(input.LastName),
			PasswordHash:          hash,
			VerificationToken:     &token,
			VerificationExpiresAt: &expires,
		}

		err = s.accounts.Create(ctx, account)
		if err == nil {
			return account, nil
		}
		if errors.Is(err, store.ErrDuplicateToken) {
			continue
		}
		return nil, err
	}
	return nil, errors.New("registration service: token collisions exhausted retries")
}

func (s *RegistrationService) sendVerificationEmail(ctx context.Context, account *models.Account) bool {
	if s.mailer == nil || account.VerificationToken == nil {
		return false
	}

	message := mail.Message{
		To:      account.Email,
		Subject: "Confirma tu cuenta",
		Body:    s.verificationBody(account.FirstName, s.verificationLink(*account.VerificationToken)),
	}

	if err := s.mailer.Send(ctx, message); err != nil {
		if errors.Is(err, mail.ErrSMTPDisabled) {
			return false
		}
		metrics.EmailDispatches.WithLabelValues("failed").Inc()
		s.log.Warn("verification email dispatch failed",
			zap.String("account_id", account.ID),
			zap.Error(err))
		return false
	}

	metrics.EmailDispatches.WithLabelValues("sent").Inc()
	return true
}

func (s *RegistrationService) verificationLink(token string) string {
	if s.baseURL == "" {
		return token
	}
	return fmt.Sprintf("%s?token=%s", s.baseURL, token)
}

func (s *RegistrationService) verificationBody(firstName, link string) string {
	greeting := "Hola"
	if firstName != "" {
		greeting = fmt.Sprintf("Hola %s", firstName)
	}
	return fmt.Sprintf("%s,\n\nGracias por registrarte. Confirma tu correo visitando el siguiente enlace:\n%s\n\nSi no creaste esta cuenta, puedes ignorar este mensaje.\n", greeting, link)
}
