package providers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestNewOIDCProviderRequiresFields(t *testing.T) {
	type testCase struct {
		name string
		cfg  OIDCConfig
		want string
	}

	cases := []testCase{
		{name: "issuer", cfg: OIDCConfig{}, want: "issuer is required"},
		{name: "client id", cfg: OIDCConfig{Issuer: "https://issuer"}, want: "client id is required"},
		{name: "client secret", cfg: OIDCConfig{Issuer: "https://issuer", ClientID: "abc"}, want: "client secret is required"},
		{name: "redirect url", cfg: OIDCConfig{Issuer: "https://issuer", ClientID: "abc", ClientSecret: "secret"}, want: "redirect url is required"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewOIDCProvider(context.Background(), tc.cfg, OIDCOptions{})
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}
}

func TestNewOIDCProviderDiscoveryAndBegin(t *testing.T) {
	var server *httptest.Server
	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/.well-known/openid-configuration":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"issuer":                 server.URL,
				"authorization_endpoint": server.URL + "/auth",
				"token_endpoint":         server.URL + "/token",
				"jwks_uri":               server.URL + "/jwks",
			})
		case "/jwks":
			_ = json.NewEncoder(w).Encode(map[string]any{"keys": []any{}})
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(server.Close)

	provider, err := NewOIDCProvider(context.Background(), OIDCConfig{
		Issuer:       server.URL,
		ClientID:     "client-123",
		ClientSecret: "super-secret",
		RedirectURL:  "https://app.example.com/callback",
	}, OIDCOptions{
		HTTPClient: server.Client(),
		Timeout:    time.Second,
	})
	if err != nil {
		t.Fatalf("unexpected error creating provider: %v", err)
	}

	redirect, err := provider.Begin(BeginAuthRequest{
		State:         "state-abc",
		Nonce:         "nonce-def",
		PKCEChallenge: "challenge-ghi",
	})
	if err != nil {
		t.Fatalf("unexpected error beginning flow: %v", err)
	}

	for _, fragment := range []string{"state=state-abc", "nonce=nonce-def", "code_challenge=challenge-ghi", "code_challenge_method=S256"} {
		if !strings.Contains(redirect, fragment) {
			t.Fatalf("redirect URL missing %q: %s", fragment, redirect)
		}
	}
}

func TestOIDCBeginRequiresMaterial(t *testing.T) {
	provider := &OIDCProvider{}

	if _, err := provider.Begin(BeginAuthRequest{Nonce: "n", PKCEChallenge: "c"}); err == nil {
		t.Fatal("expected error for missing state")
	}
	if _, err := provider.Begin(BeginAuthRequest{State: "s", PKCEChallenge: "c"}); err == nil {
		t.Fatal("expected error for missing nonce")
	}
	if _, err := provider.Begin(BeginAuthRequest{State: "s", Nonce: "n"}); err == nil {
		t.Fatal("expected error for missing pkce challenge")
	}
}
