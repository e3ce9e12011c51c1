package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	iauth "github.com/shoganaistudio/accounts/internal/auth"
	"github.com/shoganaistudio/accounts/internal/auth/providers"
	"github.com/shoganaistudio/accounts/internal/models"
)

type fakeSSOProvider struct {
	identity *providers.Identity
	lastReq  providers.CallbackRequest
}

func (f *fakeSSOProvider) Begin(req providers.BeginAuthRequest) (string, error) {
	return "https://idp.example.com/auth?state=" + req.State, nil
}

func (f *fakeSSOProvider) Callback(_ context.Context, req providers.CallbackRequest) (*providers.Identity, error) {
	f.lastReq = req
	return f.identity, nil
}

func TestSSOLoginRedirectsWithState(t *testing.T) {
	router, _, codec := newSSOTestRouter(t, &fakeSSOProvider{})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/auth/sso/login", nil))

	require.Equal(t, http.StatusFound, w.Code)
	location := w.Header().Get("Location")
	require.Contains(t, location, "https://idp.example.com/auth?state=")

	// The state round-trips through the codec.
	state := location[len("https://idp.example.com/auth?state="):]
	payload, err := codec.Decode(state)
	require.NoError(t, err)
	require.Equal(t, "oidc", payload.Provider)
	require.NotEmpty(t, payload.Nonce)
	require.NotEmpty(t, payload.PKCE)
}

func TestSSOCallbackIssuesTokens(t *testing.T) {
	provider := &fakeSSOProvider{
		identity: &providers.Identity{
			Provider:      "oidc",
			Subject:       "subject-1",
			Email:         "sso@example.com",
			EmailVerified: true,
			FirstName:     "Sol",
		},
	}
	router, _, codec := newSSOTestRouter(t, provider)

	state, err := codec.Encode(iauth.StatePayload{
		Provider: "oidc",
		Nonce:    "nonce-1",
		PKCE:     "verifier-1",
	})
	require.NoError(t, err)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/auth/sso/callback?state="+state+"&code=abc", nil))

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.Contains(t, w.Body.String(), "access_token")
	require.Contains(t, w.Body.String(), "sso@example.com")

	// The decoded state material reached the provider callback.
	require.Equal(t, "verifier-1", provider.lastReq.PKCEVerifier)
	require.Equal(t, "nonce-1", provider.lastReq.ExpectedNonce)
}

func TestSSOCallbackRejectsBadState(t *testing.T) {
	router, _, _ := newSSOTestRouter(t, &fakeSSOProvider{})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/auth/sso/callback?state=garbage", nil))

	require.Equal(t, http.StatusBadRequest, w.Code)
}

func newSSOTestRouter(t *testing.T, provider ssoProvider) (*gin.Engine, *gorm.DB, *iauth.StateCodec) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.Account{}, &models.Session{}, &models.Identity{}))

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() {
		_ = sqlDB.Close()
	})

	jwtSvc, err := iauth.NewJWTService(iauth.JWTConfig{Secret: "sso-handler-test"})
	require.NoError(t, err)

	sessions, err := iauth.NewSessionService(db, jwtSvc, iauth.SessionConfig{})
	require.NoError(t, err)

	manager, err := iauth.NewSSOManager(db, sessions, iauth.SSOConfig{AutoProvision: true})
	require.NoError(t, err)

	codec, err := iauth.NewStateCodec([]byte("0123456789abcdef0123456789abcdef"), 10*time.Minute, nil)
	require.NoError(t, err)

	handler := NewSSOHandler(provider, manager, codec)

	router := gin.New()
	router.GET("/api/auth/sso/login", handler.Login)
	router.GET("/api/auth/sso/callback", handler.Callback)
	return router, db, codec
}
