package auth

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

var hmacMethods = []string{"HS256", "HS384", "HS512"}

var asymmetricMethods = []string{
	"ES256", "ES384", "ES512",
	"RS256", "RS384", "RS512",
	"PS256", "PS384", "PS512",
	"EdDSA",
}

func isHMAC(alg string) bool {
	for _, m := range hmacMethods {
		if alg == m {
			return true
		}
	}
	return false
}

func isAsymmetric(alg string) bool {
	for _, m := range asymmetricMethods {
		if alg == m {
			return true
		}
	}
	return false
}

// secretCandidates lists the HMAC keys to try for a configured secret: its
// base64 decodings first (providers commonly publish the secret encoded), then
// the secret as given.
func secretCandidates(secret string) [][]byte {
	if secret == "" {
		return nil
	}
	var out [][]byte
	add := func(k []byte) {
		if len(k) == 0 {
			return
		}
		for _, existing := range out {
			if bytes.Equal(existing, k) {
				return
			}
		}
		out = append(out, k)
	}

	trimmed := strings.TrimSpace(secret)
	for _, enc := range []*base64.Encoding{
		base64.StdEncoding,
		base64.URLEncoding,
		base64.RawStdEncoding,
		base64.RawURLEncoding,
	} {
		if decoded, err := enc.DecodeString(trimmed); err == nil {
			add(decoded)
		}
	}
	add([]byte(secret))
	return out
}

var errNoSecret = errors.New("no shared secret configured")

// verifyHMAC checks the token signature with method against each candidate
// in order. It returns the first candidate that verifies.
func verifyHMAC(raw string, method jwt.SigningMethod, candidates [][]byte) ([]byte, error) {
	if len(candidates) == 0 {
		return nil, errNoSecret
	}
	parts := strings.Split(raw, ".")
	if len(parts) != 3 {
		return nil, fmt.Errorf("%w: token has %d segments", jwt.ErrTokenMalformed, len(parts))
	}
	sig, err := jwt.NewParser().DecodeSegment(parts[2])
	if err != nil {
		return nil, fmt.Errorf("%w: decoding signature: %v", jwt.ErrTokenMalformed, err)
	}

	signingString := parts[0] + "." + parts[1]
	for _, key := range candidates {
		if err := method.Verify(signingString, sig, key); err == nil {
			return key, nil
		}
	}
	return nil, jwt.ErrTokenSignatureInvalid
}
