package auth

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/febrile-severity-server/internal/domain"
	"github.com/febrile-severity-server/internal/logging"
)

const (
	testSecret = "super-secret-jwt-token-with-at-least-32-characters"
	testIssuer = "https://project.supabase.co"
)

func newTestVerifier(t *testing.T, cfg domain.AuthConfig, keys KeyResolver) *Verifier {
	t.Helper()
	if cfg.Audience == "" {
		cfg.Audience = "authenticated"
	}
	return NewVerifier(cfg, keys, logging.Discard(), nil)
}

func asymmetricSetup(t *testing.T, fallback bool, secret string) (*Verifier, *jwksServer, signingKey) {
	t.Helper()
	key := newSigningKey(t, "k1")
	srv := newJWKSServer(t, key)
	cache := newTestKeyCache(t, KeyCacheConfig{})
	v := newTestVerifier(t, domain.AuthConfig{
		JWKSURL:           srv.url(),
		JWTSecret:         secret,
		SymmetricFallback: fallback,
	}, cache)
	return v, srv, key
}

func requireKind(t *testing.T, err error, want domain.AuthErrorKind) {
	t.Helper()
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrUnauthenticated), "every rejection is unauthenticated")
	kind, ok := domain.AuthKind(err)
	require.True(t, ok, "error carries a kind: %v", err)
	assert.Equal(t, want, kind)
}

func TestVerifier_DevMode(t *testing.T) {
	v := newTestVerifier(t, domain.AuthConfig{}, nil)
	require.True(t, v.DevMode())

	for _, token := range []string{"", "garbage", "a.b.c"} {
		id, err := v.Verify(context.Background(), token)
		require.NoError(t, err)
		assert.Equal(t, domain.DevSubject, id.Subject)
		assert.Equal(t, domain.DevEmail, id.Email)
		assert.True(t, id.DevMode)
	}
}

func TestVerifier_DevModeWithSecretButNoIssuer(t *testing.T) {
	v := newTestVerifier(t, domain.AuthConfig{JWTSecret: testSecret}, nil)
	require.True(t, v.DevMode())

	id, err := v.Verify(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, domain.DevSubject, id.Subject)

	id, err = v.Verify(context.Background(), signHS256(t, validClaims(), []byte("some-other-secret")))
	require.NoError(t, err)
	assert.Equal(t, domain.DevSubject, id.Subject)
}

func TestVerifier_DevModeUnreachableWithIssuer(t *testing.T) {
	v := newTestVerifier(t, domain.AuthConfig{IssuerURL: "https://project.supabase.co", JWKSPath: "/auth/v1/.well-known/jwks.json"}, nil)
	assert.False(t, v.DevMode())

	_, err := v.Verify(context.Background(), "")
	requireKind(t, err, domain.AuthMissingCredential)
}

func TestVerifier_Symmetric(t *testing.T) {
	encoded := base64.StdEncoding.EncodeToString([]byte(testSecret))

	tests := []struct {
		name       string
		configured string
		signWith   []byte
	}{
		{"raw secret", testSecret, []byte(testSecret)},
		{"base64 secret signed with decoded bytes", encoded, []byte(testSecret)},
		{"base64 secret signed with the encoded text", encoded, []byte(encoded)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := newTestVerifier(t, domain.AuthConfig{IssuerURL: testIssuer, JWTSecret: tt.configured}, nil)
			out := v.Evaluate(context.Background(), signHS256(t, validClaims(), tt.signWith))
			require.True(t, out.Accepted(), "rejected: %v", out.Err)
			assert.Equal(t, PathSymmetric, out.Path)
			assert.Equal(t, "user-123", out.Identity.Subject)
			assert.Equal(t, "medico@hospital.ec", out.Identity.Email)
			assert.Equal(t, "authenticated", out.Identity.Role)
			assert.WithinDuration(t, time.Now().Add(time.Hour), out.Identity.ExpiresAt, time.Minute)
		})
	}
}

func TestVerifier_SymmetricRejections(t *testing.T) {
	v := newTestVerifier(t, domain.AuthConfig{IssuerURL: testIssuer, JWTSecret: testSecret}, nil)
	ctx := context.Background()

	expired := validClaims()
	expired["exp"] = time.Now().Add(-time.Minute).Unix()

	wrongAudience := validClaims()
	wrongAudience["aud"] = "anon"

	noExpiry := validClaims()
	delete(noExpiry, "exp")

	noSubject := validClaims()
	delete(noSubject, "sub")

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, validClaims()).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
		want  domain.AuthErrorKind
	}{
		{"expired", signHS256(t, expired, []byte(testSecret)), domain.AuthTokenExpired},
		{"wrong secret", signHS256(t, validClaims(), []byte("another-secret")), domain.AuthInvalidSignature},
		{"wrong audience", signHS256(t, wrongAudience, []byte(testSecret)), domain.AuthInvalidToken},
		{"missing exp", signHS256(t, noExpiry, []byte(testSecret)), domain.AuthInvalidToken},
		{"missing subject", signHS256(t, noSubject, []byte(testSecret)), domain.AuthInvalidToken},
		{"malformed", "not-a-token", domain.AuthInvalidToken},
		{"alg none", none, domain.AuthUnsupportedAlgorithm},
		{"empty", "   ", domain.AuthMissingCredential},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.Verify(ctx, tt.token)
			requireKind(t, err, tt.want)
		})
	}
}

func TestVerifier_ExpiryLeeway(t *testing.T) {
	v := newTestVerifier(t, domain.AuthConfig{IssuerURL: testIssuer, JWTSecret: testSecret, Leeway: time.Minute}, nil)
	claims := validClaims()
	claims["exp"] = time.Now().Add(-10 * time.Second).Unix()

	_, err := v.Verify(context.Background(), signHS256(t, claims, []byte(testSecret)))
	assert.NoError(t, err)
}

func TestVerifier_ExpectedIssuer(t *testing.T) {
	v := newTestVerifier(t, domain.AuthConfig{IssuerURL: testIssuer, JWTSecret: testSecret, ExpectedIssuer: "https://project.supabase.co/auth/v1"}, nil)

	claims := validClaims()
	claims["iss"] = "https://other.example/auth/v1"
	_, err := v.Verify(context.Background(), signHS256(t, claims, []byte(testSecret)))
	requireKind(t, err, domain.AuthInvalidToken)

	claims["iss"] = "https://project.supabase.co/auth/v1"
	_, err = v.Verify(context.Background(), signHS256(t, claims, []byte(testSecret)))
	assert.NoError(t, err)
}

func TestVerifier_HMACWithoutSecret(t *testing.T) {
	v, _, _ := asymmetricSetup(t, true, "")
	_, err := v.Verify(context.Background(), signHS256(t, validClaims(), []byte(testSecret)))
	requireKind(t, err, domain.AuthKeyResolutionFailed)
}

func TestVerifier_Asymmetric(t *testing.T) {
	v, _, key := asymmetricSetup(t, true, testSecret)

	out := v.Evaluate(context.Background(), key.sign(t, validClaims()))
	require.True(t, out.Accepted(), "rejected: %v", out.Err)
	assert.Equal(t, PathAsymmetric, out.Path)
	assert.Equal(t, "user-123", out.Identity.Subject)
}

func TestVerifier_AsymmetricRejectionsNeverFallBack(t *testing.T) {
	v, _, key := asymmetricSetup(t, true, testSecret)
	ctx := context.Background()

	impostor := newSigningKey(t, "k1")
	expired := validClaims()
	expired["exp"] = time.Now().Add(-time.Hour).Unix()

	tests := []struct {
		name  string
		token string
		want  domain.AuthErrorKind
	}{
		{"signature from another key", impostor.sign(t, validClaims()), domain.AuthInvalidSignature},
		{"expired", key.sign(t, expired), domain.AuthTokenExpired},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := v.Evaluate(ctx, tt.token)
			require.False(t, out.Accepted())
			assert.Equal(t, tt.want, out.Kind())
			assert.Equal(t, PathAsymmetric, out.Path)
		})
	}
}

func TestVerifier_FallbackOnKeyResolutionFailure(t *testing.T) {
	ctx := context.Background()

	t.Run("key set unavailable", func(t *testing.T) {
		v, srv, _ := asymmetricSetup(t, true, testSecret)
		srv.setStatus(http.StatusServiceUnavailable)

		out := v.Evaluate(ctx, signDisguised(t, validClaims(), []byte(testSecret), "k1"))
		require.True(t, out.Accepted(), "rejected: %v", out.Err)
		assert.Equal(t, PathFallback, out.Path)
	})

	t.Run("unknown kid", func(t *testing.T) {
		v, srv, _ := asymmetricSetup(t, true, testSecret)

		out := v.Evaluate(ctx, signDisguised(t, validClaims(), []byte(testSecret), "retired"))
		require.True(t, out.Accepted(), "rejected: %v", out.Err)
		assert.Equal(t, PathFallback, out.Path)
		assert.Equal(t, int32(1), srv.hits.Load())
	})

	t.Run("fallback still enforces claims", func(t *testing.T) {
		v, srv, _ := asymmetricSetup(t, true, testSecret)
		srv.setStatus(http.StatusServiceUnavailable)
		claims := validClaims()
		claims["exp"] = time.Now().Add(-time.Hour).Unix()

		out := v.Evaluate(ctx, signDisguised(t, claims, []byte(testSecret), "k1"))
		assert.Equal(t, domain.AuthTokenExpired, out.Kind())
		assert.Equal(t, PathFallback, out.Path)
	})

	t.Run("fallback with wrong secret", func(t *testing.T) {
		v, srv, _ := asymmetricSetup(t, true, testSecret)
		srv.setStatus(http.StatusServiceUnavailable)

		out := v.Evaluate(ctx, signDisguised(t, validClaims(), []byte("not-the-secret"), "k1"))
		assert.Equal(t, domain.AuthInvalidSignature, out.Kind())
	})

	t.Run("fallback disabled", func(t *testing.T) {
		v, srv, _ := asymmetricSetup(t, false, testSecret)
		srv.setStatus(http.StatusServiceUnavailable)

		_, err := v.Verify(ctx, signDisguised(t, validClaims(), []byte(testSecret), "k1"))
		requireKind(t, err, domain.AuthKeyResolutionFailed)
		assert.ErrorIs(t, err, domain.ErrKeyResolutionFailed)
	})

	t.Run("no secret configured", func(t *testing.T) {
		v, srv, _ := asymmetricSetup(t, true, "")
		srv.setStatus(http.StatusServiceUnavailable)

		_, err := v.Verify(ctx, signDisguised(t, validClaims(), []byte(testSecret), "k1"))
		requireKind(t, err, domain.AuthKeyResolutionFailed)
	})
}

func TestVerifier_ProperlySignedAsymmetricTokenNotAcceptedBySecret(t *testing.T) {
	// A genuine ES256 token from an unknown key must not pass the HMAC fallback.
	v, srv, _ := asymmetricSetup(t, true, testSecret)
	srv.setStatus(http.StatusServiceUnavailable)
	other := newSigningKey(t, "k9")

	out := v.Evaluate(context.Background(), other.sign(t, validClaims()))
	assert.False(t, out.Accepted())
	assert.Equal(t, domain.AuthInvalidSignature, out.Kind())
}

func TestJWKSURL(t *testing.T) {
	assert.Equal(t, "", JWKSURL(domain.AuthConfig{}))
	assert.Equal(t, "https://p.supabase.co/auth/v1/.well-known/jwks.json",
		JWKSURL(domain.AuthConfig{IssuerURL: "https://p.supabase.co/", JWKSPath: "/auth/v1/.well-known/jwks.json"}))
	assert.Equal(t, "https://keys.example/jwks",
		JWKSURL(domain.AuthConfig{IssuerURL: "https://p.supabase.co", JWKSURL: "https://keys.example/jwks"}))
}

func TestSecretCandidates(t *testing.T) {
	assert.Nil(t, secretCandidates(""))

	plain := secretCandidates("not base64!")
	assert.Equal(t, [][]byte{[]byte("not base64!")}, plain)

	encoded := base64.StdEncoding.EncodeToString([]byte("decoded"))
	got := secretCandidates(encoded)
	require.GreaterOrEqual(t, len(got), 2)
	assert.Equal(t, []byte("decoded"), got[0], "decoded form is tried first")
	assert.Equal(t, []byte(encoded), got[len(got)-1], "raw form is tried last")
}

func TestOutcome(t *testing.T) {
	ok := accepted(PathSymmetric, &domain.Identity{Subject: "u"})
	id, err := ok.Result()
	require.NoError(t, err)
	assert.Equal(t, "u", id.Subject)
	assert.Equal(t, domain.AuthErrorKind(""), ok.Kind())

	bad := rejected(PathAsymmetric, domain.AuthTokenExpired, jwt.ErrTokenExpired)
	_, err = bad.Result()
	requireKind(t, err, domain.AuthTokenExpired)

	_, err = Outcome{}.Result()
	requireKind(t, err, domain.AuthInvalidToken)
}

func TestExpiresIn(t *testing.T) {
	now := time.Now()
	assert.Equal(t, time.Duration(0), ExpiresIn(nil, now))
	assert.Equal(t, time.Hour, ExpiresIn(&domain.Identity{ExpiresAt: now.Add(time.Hour)}, now))
}

func TestVerifier_NeverAcceptsTamperedTokens(t *testing.T) {
	v, _, key := asymmetricSetup(t, true, testSecret)
	ctx := context.Background()
	tokens := []string{
		key.sign(t, validClaims()),
		signHS256(t, validClaims(), []byte(testSecret)),
	}

	rapid.Check(t, func(rt *rapid.T) {
		token := rapid.SampledFrom(tokens).Draw(rt, "token")
		parts := strings.Split(token, ".")
		part := rapid.IntRange(0, 2).Draw(rt, "part")
		seg := []byte(parts[part])
		if len(seg) == 0 {
			rt.Skip("empty segment")
		}
		pos := rapid.IntRange(0, len(seg)-1).Draw(rt, "pos")
		repl := rapid.SampledFrom([]byte("ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789-_")).Draw(rt, "char")
		if seg[pos] == repl {
			rt.Skip("no-op mutation")
		}
		seg[pos] = repl
		parts[part] = string(seg)
		tampered := strings.Join(parts, ".")

		if out := v.Evaluate(ctx, tampered); out.Accepted() {
			// base64url's final character can carry unused bits; only an
			// identical decoded token may verify
			if decodedEqual(token, tampered) {
				return
			}
			rt.Fatalf("tampered token accepted via %s", out.Path)
		}
	})
}

func TestVerifier_NeverAcceptsForeignSecrets(t *testing.T) {
	v := newTestVerifier(t, domain.AuthConfig{IssuerURL: testIssuer, JWTSecret: testSecret}, nil)

	rapid.Check(t, func(rt *rapid.T) {
		secret := rapid.SliceOfN(rapid.Byte(), 1, 64).Draw(rt, "secret")
		if string(secret) == testSecret {
			rt.Skip("drew the real secret")
		}
		for _, c := range secretCandidates(testSecret) {
			if string(c) == string(secret) {
				rt.Skip("drew a candidate")
			}
		}
		if out := v.Evaluate(context.Background(), signHS256(t, validClaims(), secret)); out.Accepted() {
			rt.Fatalf("token signed with a foreign secret accepted")
		}
	})
}

func decodedEqual(a, b string) bool {
	pa, pb := strings.Split(a, "."), strings.Split(b, ".")
	for i := range pa {
		da, errA := base64.RawURLEncoding.DecodeString(pa[i])
		db, errB := base64.RawURLEncoding.DecodeString(pb[i])
		if errA != nil || errB != nil || string(da) != string(db) {
			return false
		}
	}
	return true
}
