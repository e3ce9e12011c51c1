package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	iauth "github.com/shoganaistudio/accounts/internal/auth"
	"github.com/shoganaistudio/accounts/internal/auth/providers"
	"github.com/shoganaistudio/accounts/pkg/crypto"
	appErrors "github.com/shoganaistudio/accounts/pkg/errors"
	"github.com/shoganaistudio/accounts/pkg/logger"
	"github.com/shoganaistudio/accounts/pkg/metrics"
	"github.com/shoganaistudio/accounts/pkg/response"
)

// ssoProvider abstracts the external identity provider for testability.
type ssoProvider interface {
	Begin(req providers.BeginAuthRequest) (string, error)
	Callback(ctx context.Context, req providers.CallbackRequest) (*providers.Identity, error)
}

// SSOHandler drives the redirect-based SSO login flow.
type SSOHandler struct {
	provider ssoProvider
	manager  *iauth.SSOManager
	codec    *iauth.StateCodec
}

// NewSSOHandler builds an SSO handler around a configured provider.
func NewSSOHandler(provider ssoProvider, manager *iauth.SSOManager, codec *iauth.StateCodec) *SSOHandler {
	return &SSOHandler{provider: provider, manager: manager, codec: codec}
}

// GET /api/auth/sso/login
func (h *SSOHandler) Login(c *gin.Context) {
	nonce, err := crypto.GenerateToken(16)
	if err != nil {
		response.Error(c, appErrors.ErrInternalServer)
		return
	}

	pkce, err := iauth.GeneratePKCE()
	if err != nil {
		response.Error(c, appErrors.ErrInternalServer)
		return
	}

	state, err := h.codec.Encode(iauth.StatePayload{
		Provider: "oidc",
		Nonce:    nonce,
		PKCE:     pkce.Verifier,
	})
	if err != nil {
		response.Error(c, appErrors.ErrInternalServer)
		return
	}

	redirect, err := h.provider.Begin(providers.BeginAuthRequest{
		State:         state,
		Nonce:         nonce,
		PKCEChallenge: pkce.Challenge,
	})
	if err != nil {
		response.Error(c, appErrors.ErrInternalServer)
		return
	}

	c.Redirect(http.StatusFound, redirect)
}

// GET /api/auth/sso/callback
func (h *SSOHandler) Callback(c *gin.Context) {
	payload, err := h.codec.Decode(c.Query("state"))
	if err != nil {
		metrics.AuthAttempts.WithLabelValues("failure").Inc()
		response.Error(c, appErrors.NewBadRequest("invalid or expired state"))
		return
	}

	identity, err := h.provider.Callback(c.Request.Context(), providers.CallbackRequest{
		PKCEVerifier:   payload.PKCE,
		ExpectedNonce:  payload.Nonce,
		RawHTTPRequest: c.Request,
	})
	if err != nil {
		metrics.AuthAttempts.WithLabelValues("failure").Inc()
		logger.WithModule("handlers.sso").Warn("callback rejected", zap.Error(err))
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	tokens, account, _, err := h.manager.Resolve(c.Request.Context(), *identity, iauth.SessionMetadata{
		IPAddress: c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
	})
	if err != nil {
		metrics.AuthAttempts.WithLabelValues("failure").Inc()
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	metrics.AuthAttempts.WithLabelValues("success").Inc()

	response.Success(c, http.StatusOK, gin.H{
		"tokens": tokenResponse{AccessToken: tokens.AccessToken, RefreshToken: tokens.RefreshToken},
		"account": gin.H{
			"id":         account.ID,
			"email":      account.Email,
			"first_name": account.FirstName,
			"last_name":  account.LastName,
		},
	})
}
