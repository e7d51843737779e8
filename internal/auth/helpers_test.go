package auth

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

type signingKey struct {
	kid  string
	priv *ecdsa.PrivateKey
}

func newSigningKey(t testing.TB, kid string) signingKey {
	t.Helper()
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	return signingKey{kid: kid, priv: priv}
}

func (k signingKey) jwk() map[string]string {
	coord := func(b []byte) string { return base64.RawURLEncoding.EncodeToString(b) }
	return map[string]string{
		"kty": "EC",
		"crv": "P-256",
		"use": "sig",
		"alg": "ES256",
		"kid": k.kid,
		"x":   coord(k.priv.X.FillBytes(make([]byte, 32))),
		"y":   coord(k.priv.Y.FillBytes(make([]byte, 32))),
	}
}

func (k signingKey) sign(t testing.TB, claims jwt.MapClaims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodES256, claims)
	tok.Header["kid"] = k.kid
	s, err := tok.SignedString(k.priv)
	require.NoError(t, err)
	return s
}

func signHS256(t testing.TB, claims jwt.MapClaims, secret []byte) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	require.NoError(t, err)
	return s
}

// signDisguised produces an HMAC-signed token whose header claims an
// asymmetric algorithm, as issued by providers during key rotation.
func signDisguised(t testing.TB, claims jwt.MapClaims, secret []byte, kid string) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tok.Header["alg"] = "ES256"
	tok.Header["kid"] = kid
	s, err := tok.SignedString(secret)
	require.NoError(t, err)
	return s
}

func validClaims() jwt.MapClaims {
	now := time.Now()
	return jwt.MapClaims{
		"sub":   "user-123",
		"email": "medico@hospital.ec",
		"role":  "authenticated",
		"aud":   "authenticated",
		"iat":   now.Add(-time.Minute).Unix(),
		"exp":   now.Add(time.Hour).Unix(),
	}
}

// jwksServer serves a mutable key set and records requests.
type jwksServer struct {
	*httptest.Server

	mu      sync.Mutex
	keys    []signingKey
	status  int
	headers http.Header
	hits    atomic.Int32
}

func newJWKSServer(t testing.TB, keys ...signingKey) *jwksServer {
	t.Helper()
	s := &jwksServer{keys: keys, status: http.StatusOK}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.hits.Add(1)
		s.mu.Lock()
		defer s.mu.Unlock()
		s.headers = r.Header.Clone()
		if s.status != http.StatusOK {
			w.WriteHeader(s.status)
			return
		}
		list := make([]map[string]string, 0, len(s.keys))
		for _, k := range s.keys {
			list = append(list, k.jwk())
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"keys": list})
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *jwksServer) setKeys(keys ...signingKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys = keys
}

func (s *jwksServer) setStatus(status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = status
}

func (s *jwksServer) lastHeaders() http.Header {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.headers
}

func (s *jwksServer) url() string {
	return s.URL + "/auth/v1/.well-known/jwks.json"
}

// memStore is an in-memory shared tier.
type memStore struct {
	mu   sync.Mutex
	data map[string][]byte
	gets int
}

func newMemStore() *memStore {
	return &memStore{data: map[string][]byte{}}
}

func (m *memStore) Get(_ context.Context, url string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gets++
	return m.data[url], nil
}

func (m *memStore) Set(_ context.Context, url string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[url] = data
	return nil
}

func (m *memStore) Delete(_ context.Context, url string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, url)
	return nil
}
