package api

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"regexp"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/shoganaistudio/accounts/internal/app"
	iauth "github.com/shoganaistudio/accounts/internal/auth"
	"github.com/shoganaistudio/accounts/internal/models"
	"github.com/shoganaistudio/accounts/pkg/mail"
)

var tokenPattern = regexp.MustCompile(`token=([A-Za-z0-9_-]+)`)

type testEnv struct {
	router *gin.Engine
	mailer *recordingMailer
	sqlDB  *sql.DB
}

type recordingMailer struct {
	mu       sync.Mutex
	messages []mail.Message
}

func (m *recordingMailer) Send(_ context.Context, msg mail.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, msg)
	return nil
}

func (m *recordingMailer) last(t *testing.T) mail.Message {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	require.NotEmpty(t, m.messages)
	return m.messages[len(m.messages)-1]
}

func TestRegisterVerifyLoginFlow(t *testing.T) {
	env := newTestEnv(t)

	// Register a new account.
	w := env.request(t, http.MethodPost, "/api/auth/register", map[string]any{
		"first_name": "Ines",
		"email":      "ines@example.com",
		"password":   "sup3r secret",
	}, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var registered struct {
		Success bool `json:"success"`
		Data    struct {
			Message         string `json:"message"`
			EmailDispatched bool   `json:"email_dispatched"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &registered))
	require.True(t, registered.Success)
	require.Equal(t, "Registro exitoso", registered.Data.Message)
	require.True(t, registered.Data.EmailDispatched)

	// Logging in before verification is rejected with a distinct code.
	w = env.request(t, http.MethodPost, "/api/auth/login", map[string]any{
		"email":    "ines@example.com",
		"password": "sup3r secret",
	}, "")
	require.Equal(t, http.StatusForbidden, w.Code)
	require.Contains(t, w.Body.String(), "ACCOUNT_NOT_VERIFIED")

	// The verification token travels only in the email.
	match := tokenPattern.FindStringSubmatch(env.mailer.last(t).Body)
	require.Len(t, match, 2)
	token := match[1]

	// Verification redirects back to the frontend.
	w = env.request(t, http.MethodGet, "/api/auth/verify?token="+token, nil, "")
	require.Equal(t, http.StatusFound, w.Code)
	require.Contains(t, w.Header().Get("Location"), "verified=true")

	// Replaying the link reports an invalid token.
	w = env.request(t, http.MethodGet, "/api/auth/verify?token="+token, nil, "")
	require.Equal(t, http.StatusFound, w.Code)
	require.Contains(t, w.Header().Get("Location"), "error=token_invalid")

	// Login now succeeds.
	w = env.request(t, http.MethodPost, "/api/auth/login", map[string]any{
		"email":    "ines@example.com",
		"password": "sup3r secret",
	}, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var login struct {
		Data struct {
			Tokens struct {
				AccessToken  string `json:"access_token"`
				RefreshToken string `json:"refresh_token"`
			} `json:"tokens"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &login))
	require.NotEmpty(t, login.Data.Tokens.AccessToken)
	require.NotEmpty(t, login.Data.Tokens.RefreshToken)

	// The access token opens the protected profile route.
	w = env.request(t, http.MethodGet, "/api/auth/me", nil, login.Data.Tokens.AccessToken)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "ines@example.com")

	// Refresh rotates the pair.
	w = env.request(t, http.MethodPost, "/api/auth/refresh", map[string]any{
		"refresh_token": login.Data.Tokens.RefreshToken,
	}, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	// Logout revokes the session behind the access token.
	w = env.request(t, http.MethodPost, "/api/auth/logout", nil, login.Data.Tokens.AccessToken)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestRegisterDuplicateEmail(t *testing.T) {
	env := newTestEnv(t)

	payload := map[string]any{
		"first_name": "Ana",
		"email":      "ana@example.com",
		"password":   "password-123",
	}

	w := env.request(t, http.MethodPost, "/api/auth/register", payload, "")
	require.Equal(t, http.StatusOK, w.Code)

	// Same address with different case is still a duplicate.
	payload["email"] = "ANA@example.com"
	w = env.request(t, http.MethodPost, "/api/auth/register", payload, "")
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Contains(t, w.Body.String(), "DUPLICATE_EMAIL")
}

func TestRegisterValidation(t *testing.T) {
	env := newTestEnv(t)

	w := env.request(t, http.MethodPost, "/api/auth/register", map[string]any{
		"first_name": "Ana",
		"email":      "not-an-email",
		"password":   "short",
	}, "")
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Contains(t, w.Body.String(), "BAD_REQUEST")
}

func TestVerifyUnknownToken(t *testing.T) {
	env := newTestEnv(t)

	w := env.request(t, http.MethodGet, "/api/auth/verify?token=never-issued", nil, "")
	require.Equal(t, http.StatusFound, w.Code)
	require.Contains(t, w.Header().Get("Location"), "error=token_invalid")

	w = env.request(t, http.MethodGet, "/api/auth/verify", nil, "")
	require.Equal(t, http.StatusFound, w.Code)
	require.Contains(t, w.Header().Get("Location"), "error=token_invalid")
}

func TestLoginUnknownEmail(t *testing.T) {
	env := newTestEnv(t)

	w := env.request(t, http.MethodPost, "/api/auth/login", map[string]any{
		"email":    "ghost@example.com",
		"password": "does not matter",
	}, "")
	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.Contains(t, w.Body.String(), "INVALID_CREDENTIALS")
}

func TestLoginStoreFailureIsInternalError(t *testing.T) {
	env := newTestEnv(t)

	// A lost database must not masquerade as bad credentials.
	require.NoError(t, env.sqlDB.Close())

	w := env.request(t, http.MethodPost, "/api/auth/login", map[string]any{
		"email":    "sara@example.com",
		"password": "sup3r secret",
	}, "")
	require.Equal(t, http.StatusInternalServerError, w.Code, w.Body.String())
	require.Contains(t, w.Body.String(), "INTERNAL_SERVER_ERROR")
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	env := newTestEnv(t)

	w := env.request(t, http.MethodGet, "/api/auth/me", nil, "")
	require.Equal(t, http.StatusUnauthorized, w.Code)

	w = env.request(t, http.MethodPost, "/api/auth/logout", nil, "")
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func newTestEnv(t *testing.T) *testEnv {
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

	cfg, err := app.LoadConfig(t.TempDir())
	require.NoError(t, err)
	cfg.Auth.JWT.Secret = "router-test-secret"
	cfg.Monitoring.Prometheus.Enabled = false
	cfg.Server.RateLimit.MaxRequests = 0
	cfg.UI.RedirectBase = "https://example.com/login"
	cfg.Verification.BaseURL = "https://example.com/api/auth/verify"

	jwtSvc, err := iauth.NewJWTService(cfg.Auth.JWTServiceConfig())
	require.NoError(t, err)

	sessions, err := iauth.NewSessionService(db, jwtSvc, cfg.Auth.SessionServiceConfig())
	require.NoError(t, err)

	mailer := &recordingMailer{}

	router, err := NewRouter(db, cfg, jwtSvc, sessions, mailer, nil)
	require.NoError(t, err)

	return &testEnv{router: router, mailer: mailer, sqlDB: sqlDB}
}

func (e *testEnv) request(t *testing.T, method, path string, payload any, token string) *httptest.ResponseRecorder {
	t.Helper()

	var body *bytes.Buffer
	if payload != nil {
		raw, err := json.Marshal(payload)
		require.NoError(t, err)
		body = bytes.NewBuffer(raw)
	} else {
		body = bytes.NewBuffer(nil)
	}

	req := httptest.NewRequest(method, path, body)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}
