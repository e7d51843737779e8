// Package auth verifies bearer tokens issued by the identity provider.
//
// Asymmetric tokens are checked against the provider's published key set,
// fetched lazily and cached per issuer. Symmetric tokens are checked against
// the shared secret. When the key set cannot resolve a signing key and the
// shared secret is configured, the token is re-verified as HS256; every other
// failure is final.
package auth

import "github.com/febrile-severity-server/internal/domain"

// Path records which verification route produced an Outcome.
type Path string

const (
	PathNone       Path = ""
	PathDev        Path = "dev"
	PathAsymmetric Path = "asymmetric"
	PathSymmetric  Path = "symmetric"
	PathFallback   Path = "fallback"
)

// Outcome is the tagged result of verifying one token: exactly one of
// Identity and Err is set.
type Outcome struct {
	Path     Path
	Identity *domain.Identity
	Err      *domain.AuthError
}

func accepted(path Path, id *domain.Identity) Outcome {
	return Outcome{Path: path, Identity: id}
}

func rejected(path Path, kind domain.AuthErrorKind, err error) Outcome {
	return Outcome{Path: path, Err: domain.NewAuthError(kind, err)}
}

// Accepted reports whether the token was verified.
func (o Outcome) Accepted() bool {
	return o.Err == nil && o.Identity != nil
}

// Kind returns the rejection kind, or "" when accepted.
func (o Outcome) Kind() domain.AuthErrorKind {
	if o.Err == nil {
		return ""
	}
	return o.Err.Kind
}

// Result unpacks the outcome into the conventional pair.
func (o Outcome) Result() (*domain.Identity, error) {
	if o.Accepted() {
		return o.Identity, nil
	}
	if o.Err == nil {
		return nil, domain.NewAuthError(domain.AuthInvalidToken, nil)
	}
	return nil, o.Err
}
