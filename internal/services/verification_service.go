package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shoganaistudio/accounts/internal/models"
	"github.com/shoganaistudio/accounts/internal/store"
	"github.com/shoganaistudio/accounts/pkg/metrics"
)

// VerificationOption customises the VerificationService.
type VerificationOption func(*VerificationService)

// WithVerificationClock injects a custom time source.
func WithVerificationClock(clock func() time.Time) VerificationOption {
	return func(s *VerificationService) {
		if clock != nil {
			s.now = clock
		}
	}
}

// VerificationService consumes email verification tokens. A token verifies
// at most one account exactly once; everything else is ErrTokenInvalid.
type VerificationService struct {
	accounts store.Accounts
	now      func() time.Time
}

// NewVerificationService constructs a verification service.
func NewVerificationService(accounts store.Accounts, opts ...VerificationOption) (*VerificationService, error) {
	if accounts == nil {
		return nil, errors.New("verification service: accounts store is required")
	}

	service := &VerificationService{
		accounts: accounts,
		now:      time.Now,
	}

	for _, opt := range opts {
		opt(service)
	}

	return service, nil
}

// Verify consumes the token and returns the now-verified account.
func (s *VerificationService) Verify(ctx context.Context, token string) (*models.Account, error) {
	account, err := s.accounts.ConsumeVerificationToken(ctx, token, s.now())
	if err != nil {
		if errors.Is(err, store.ErrTokenNotConsumed) {
			metrics.Verifications.WithLabelValues("invalid").Inc()
			return nil, ErrTokenInvalid
		}
		metrics.Verifications.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("verification service: %w", err)
	}

	metrics.Verifications.WithLabelValues("verified").Inc()
	return account, nil
}
