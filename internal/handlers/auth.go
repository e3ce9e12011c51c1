package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	iauth "github.com/shoganaistudio/accounts/internal/auth"
	"github.com/shoganaistudio/accounts/internal/auth/providers"
	"github.com/shoganaistudio/accounts/internal/services"
	"github.com/shoganaistudio/accounts/internal/store"
	appErrors "github.com/shoganaistudio/accounts/pkg/errors"
	"github.com/shoganaistudio/accounts/pkg/metrics"
	"github.com/shoganaistudio/accounts/pkg/response"
)

// AuthHandler manages registration, email verification and credential flows.
type AuthHandler struct {
	registration *services.RegistrationService
	verification *services.VerificationService
	local        *providers.LocalProvider
	sessions     *iauth.SessionService
	accounts     store.Accounts
	redirectBase string
}

// NewAuthHandler wires the account lifecycle services into HTTP handlers.
// redirectBase is the browser-facing URL verification links land on.
func NewAuthHandler(
	registration *services.RegistrationService,
	verification *services.VerificationService,
	local *providers.LocalProvider,
	sessions *iauth.SessionService,
	accounts store.Accounts,
	redirectBase string,
) *AuthHandler {
	return &AuthHandler{
		registration: registration,
		verification: verification,
		local:        local,
		sessions:     sessions,
		accounts:     accounts,
		redirectBase: strings.TrimRight(redirectBase, "/"),
	}
}

type registerRequest struct {
	FirstName string `json:"first_name" validate:"required,max=100"`
	LastName  string `json:"last_name" validate:"max=100"`
	Email     string `json:"email" validate:"required,email"`
	Password  string `json:"password" validate:"required,min=8,max=72"`
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// POST /api/auth/register
func (h *AuthHandler) Register(c *gin.Context) {
	var req registerRequest
	if !bindAndValidate(c, &req) {
		return
	}

	result, err := h.registration.Register(c.Request.Context(), services.RegisterInput{
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Email:     req.Email,
		Password:  req.Password,
		IPAddress: c.ClientIP(),
	})
	if err != nil {
		if errors.Is(err, services.ErrEmailTaken) {
			response.Error(c, appErrors.ErrDuplicateEmail)
			return
		}
		response.Error(c, appErrors.ErrInternalServer)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"message": "Registro exitoso",
		"account": gin.H{
			"id":         result.Account.ID,
			"email":      result.Account.Email,
			"first_name": result.Account.FirstName,
			"last_name":  result.Account.LastName,
		},
		"email_dispatched": result.EmailDispatched,
	})
}

// GET /api/auth/verify
//
// Browser-facing endpoint: the outcome is reported through a redirect query
// parameter instead of a JSON body.
func (h *AuthHandler) Verify(c *gin.Context) {
	token := strings.TrimSpace(c.Query("token"))
	if token == "" {
		h.redirect(c, "error=token_invalid")
		return
	}

	_, err := h.verification.Verify(c.Request.Context(), token)
	switch {
	case err == nil:
		h.redirect(c, "verified=true")
	case errors.Is(err, services.ErrTokenInvalid):
		h.redirect(c, "error=token_invalid")
	default:
		h.redirect(c, "error=server_error")
	}
}

func (h *AuthHandler) redirect(c *gin.Context, query string) {
	target := h.redirectBase
	if target == "" {
		target = "/"
	}
	separator := "?"
	if strings.Contains(target, "?") {
		separator = "&"
	}
	c.Redirect(http.StatusFound, target+separator+query)
}

// POST /api/auth/login
func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if !bindAndValidate(c, &req) {
		return
	}

	account, err := h.local.Authenticate(c.Request.Context(), providers.AuthenticateInput{
		Email:     req.Email,
		Password:  req.Password,
		IPAddress: c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
	})
	if err != nil {
		metrics.AuthAttempts.WithLabelValues("failure").Inc()
		switch {
		case errors.Is(err, providers.ErrAccountNotVerified):
			response.Error(c, appErrors.ErrAccountNotVerified)
		case errors.Is(err, providers.ErrInvalidCredentials), errors.Is(err, providers.ErrAccountLocked):
			// Unknown email, wrong password and locked accounts all read the same.
			response.Error(c, appErrors.ErrInvalidCredentials)
		default:
			response.Error(c, appErrors.ErrInternalServer)
		}
		return
	}

	pair, _, err := h.sessions.CreateSession(account.ID, iauth.SessionMetadata{
		IPAddress: c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
	})
	if err != nil {
		metrics.AuthAttempts.WithLabelValues("failure").Inc()
		response.Error(c, appErrors.ErrInternalServer)
		return
	}

	metrics.AuthAttempts.WithLabelValues("success").Inc()

	response.Success(c, http.StatusOK, gin.H{
		"tokens": tokenResponse{AccessToken: pair.AccessToken, RefreshToken: pair.RefreshToken},
		"account": gin.H{
			"id":         account.ID,
			"email":      account.Email,
			"first_name": account.FirstName,
			"last_name":  account.LastName,
		},
	})
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

// POST /api/auth/refresh
func (h *AuthHandler) Refresh(c *gin.Context) {
	var req refreshRequest
	if !bindAndValidate(c, &req) {
		return
	}
	req.RefreshToken = strings.TrimSpace(req.RefreshToken)
	if req.RefreshToken == "" {
		response.Error(c, appErrors.NewBadRequest("refresh token is required"))
		return
	}

	pair, _, err := h.sessions.RefreshSession(req.RefreshToken)
	if err != nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	response.Success(c, http.StatusOK, tokenResponse{AccessToken: pair.AccessToken, RefreshToken: pair.RefreshToken})
}

// POST /api/auth/logout
func (h *AuthHandler) Logout(c *gin.Context) {
	v, ok := c.Get("sessionID")
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	sid, _ := v.(string)
	if sid == "" {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	if err := h.sessions.RevokeSession(sid); err != nil {
		response.Error(c, appErrors.ErrInternalServer)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"revoked": true})
}

// GET /api/auth/me
func (h *AuthHandler) Me(c *gin.Context) {
	v, ok := c.Get("accountID")
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	accountID, _ := v.(string)

	account, err := h.accounts.FindByID(c.Request.Context(), accountID)
	if err != nil {
		response.Error(c, appErrors.ErrNotFound)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"id":          account.ID,
		"email":       account.Email,
		"first_name":  account.FirstName,
		"last_name":   account.LastName,
		"is_verified": account.IsVerified,
		"created_at":  account.CreatedAt,
	})
}
