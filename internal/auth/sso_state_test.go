package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestStateCodecRoundTrip(t *testing.T) {
	current := time.Date(2024, 4, 3, 9, 0, 0, 0, time.UTC)
	codec, err := NewStateCodec([]byte("0123456789abcdef0123456789abcdef"), 10*time.Minute, func() time.Time { return current })
	require.NoError(t, err)

	encoded, err := codec.Encode(StatePayload{
		Provider: "OIDC",
		Nonce:    "nonce-123",
		PKCE:     "verifier-456",
	})
	require.NoError(t, err)

	decoded, err := codec.Decode(encoded)
	require.NoError(t, err)
	require.Equal(t, "oidc", decoded.Provider)
	require.Equal(t, "nonce-123", decoded.Nonce)
	require.Equal(t, "verifier-456", decoded.PKCE)
}

func TestStateCodecExpiry(t *testing.T) {
	current := time.Date(2024, 4, 3, 9, 0, 0, 0, time.UTC)
	codec, err := NewStateCodec([]byte("0123456789abcdef0123456789abcdef"), time.Minute, func() time.Time { return current })
	require.NoError(t, err)

	encoded, err := codec.Encode(StatePayload{Provider: "oidc"})
	require.NoError(t, err)

	current = current.Add(2 * time.Minute)

	_, err = codec.Decode(encoded)
	require.ErrorIs(t, err, ErrStateExpired)
}

func TestStateCodecRejectsTampering(t *testing.T) {
	codec, err := NewStateCodec([]byte("0123456789abcdef0123456789abcdef"), time.Minute, nil)
	require.NoError(t, err)

	encoded, err := codec.Encode(StatePayload{Provider: "oidc"})
	require.NoError(t, err)

	_, err = codec.Decode(encoded + "x")
	require.ErrorIs(t, err, ErrStateInvalid)

	_, err = codec.Decode("")
	require.ErrorIs(t, err, ErrStateInvalid)
}

func TestGeneratePKCE(t *testing.T) {
	pair, err := GeneratePKCE()
	require.NoError(t, err)
	require.NotEmpty(t, pair.Verifier)
	require.NotEmpty(t, pair.Challenge)
	require.NotEqual(t, pair.Verifier, pair.Challenge)
}
