package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/febrile-severity-server/internal/domain"
	"github.com/febrile-severity-server/internal/metrics"
	"github.com/febrile-severity-server/internal/telemetry"
)

// KeyResolver resolves asymmetric signing keys by key set URL and kid.
type KeyResolver interface {
	Key(ctx context.Context, url, kid string) (any, error)
}

type tokenClaims struct {
	jwt.RegisteredClaims
	Email string `json:"email,omitempty"`
	Role  string `json:"role,omitempty"`
}

func (c *tokenClaims) identity() *domain.Identity {
	id := &domain.Identity{
		Subject: c.Subject,
		Email:   c.Email,
		Role:    c.Role,
	}
	if c.ExpiresAt != nil {
		id.ExpiresAt = c.ExpiresAt.Time
	}
	return id
}

// Verifier verifies bearer tokens and extracts the caller identity.
type Verifier struct {
	cfg        domain.AuthConfig
	jwksURL    string
	keys       KeyResolver
	candidates [][]byte
	logger     *logrus.Logger
	metrics    *metrics.Collector
	tracer     trace.Tracer
	devMode    bool
}

// JWKSURL derives the key set URL from the auth configuration. An explicit
// jwks_url wins over issuer_url + jwks_path.
func JWKSURL(cfg domain.AuthConfig) string {
	if cfg.JWKSURL != "" {
		return cfg.JWKSURL
	}
	if cfg.IssuerURL == "" {
		return ""
	}
	return strings.TrimRight(cfg.IssuerURL, "/") + cfg.JWKSPath
}

// NewVerifier creates a verifier. keys may be nil when no issuer is
// configured. Without an issuer the verifier runs in development mode and
// accepts every request as the development identity, shared secret or not.
func NewVerifier(cfg domain.AuthConfig, keys KeyResolver, logger *logrus.Logger, m *metrics.Collector) *Verifier {
	v := &Verifier{
		cfg:        cfg,
		jwksURL:    JWKSURL(cfg),
		keys:       keys,
		candidates: secretCandidates(cfg.JWTSecret),
		logger:     logger,
		metrics:    m,
		tracer:     otel.Tracer(telemetry.InstrumentationName),
	}
	v.devMode = v.jwksURL == ""

	if v.devMode {
		logger.Warn("No token issuer configured; authentication is bypassed (development mode)")
	} else {
		logger.WithFields(logrus.Fields{
			"jwks_url":           v.jwksURL,
			"symmetric":          len(v.candidates) > 0,
			"symmetric_fallback": cfg.SymmetricFallback,
			"audience":           cfg.Audience,
		}).Info("Token verifier configured")
	}
	return v
}

// DevMode reports whether authentication is bypassed.
func (v *Verifier) DevMode() bool {
	return v.devMode
}

// Verify checks raw and returns the identity it carries.
func (v *Verifier) Verify(ctx context.Context, raw string) (*domain.Identity, error) {
	return v.Evaluate(ctx, raw).Result()
}

// Evaluate runs the verification state machine and reports the tagged outcome.
func (v *Verifier) Evaluate(ctx context.Context, raw string) Outcome {
	ctx, span := v.tracer.Start(ctx, "auth.Verify")
	defer span.End()

	out := v.evaluate(ctx, raw)

	span.SetAttributes(attribute.String("auth.path", string(out.Path)))
	if out.Accepted() {
		v.metrics.ObserveAuth("accepted", string(out.Path))
	} else {
		span.SetAttributes(attribute.String("auth.rejection", string(out.Kind())))
		span.SetStatus(codes.Error, string(out.Kind()))
		v.metrics.ObserveAuth("rejected", string(out.Kind()))
		v.logger.WithFields(logrus.Fields{
			"path":  out.Path,
			"kind":  out.Kind(),
			"cause": out.Err.Err,
		}).Warn("Token rejected")
	}
	return out
}

func (v *Verifier) evaluate(ctx context.Context, raw string) Outcome {
	if v.devMode {
		v.logger.Warn("Authentication bypassed in development mode")
		return accepted(PathDev, domain.DevIdentity())
	}

	raw = strings.TrimSpace(raw)
	if raw == "" {
		return rejected(PathNone, domain.AuthMissingCredential, errors.New("no bearer token"))
	}

	unverified, _, err := jwt.NewParser().ParseUnverified(raw, &tokenClaims{})
	if err != nil {
		return rejected(PathNone, domain.AuthInvalidToken, err)
	}
	alg, _ := unverified.Header["alg"].(string)
	kid, _ := unverified.Header["kid"].(string)

	switch {
	case isHMAC(alg):
		if len(v.candidates) == 0 {
			return rejected(PathSymmetric, domain.AuthKeyResolutionFailed, errNoSecret)
		}
		return v.verifySymmetric(raw, jwt.GetSigningMethod(alg), PathSymmetric)

	case isAsymmetric(alg):
		out := v.verifyAsymmetric(ctx, raw, alg, kid)
		if out.Kind() != domain.AuthKeyResolutionFailed {
			return out
		}
		if !v.cfg.SymmetricFallback || len(v.candidates) == 0 {
			return out
		}
		v.metrics.ObserveFallback()
		v.logger.WithFields(logrus.Fields{
			"alg":   alg,
			"kid":   kid,
			"cause": out.Err.Err,
		}).Warn("Signing key unavailable, verifying with shared secret")
		return v.verifySymmetric(raw, jwt.SigningMethodHS256, PathFallback)

	default:
		return rejected(PathNone, domain.AuthUnsupportedAlgorithm, fmt.Errorf("algorithm %q is not accepted", alg))
	}
}

func (v *Verifier) verifyAsymmetric(ctx context.Context, raw, alg, kid string) Outcome {
	if v.keys == nil || v.jwksURL == "" {
		return rejected(PathAsymmetric, domain.AuthKeyResolutionFailed, errors.New("no key set configured"))
	}

	key, err := v.keys.Key(ctx, v.jwksURL, kid)
	if err != nil {
		var authErr *domain.AuthError
		if errors.As(err, &authErr) {
			return Outcome{Path: PathAsymmetric, Err: authErr}
		}
		return rejected(PathAsymmetric, domain.AuthKeyResolutionFailed, err)
	}

	var claims tokenClaims
	_, err = jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return key, nil
	}, v.parserOptions(alg)...)
	if err != nil {
		return rejected(PathAsymmetric, classify(err), err)
	}
	return v.finish(PathAsymmetric, &claims)
}

func (v *Verifier) verifySymmetric(raw string, method jwt.SigningMethod, path Path) Outcome {
	if _, err := verifyHMAC(raw, method, v.candidates); err != nil {
		return rejected(path, classify(err), err)
	}

	// signature verified; decode and validate claims
	var claims tokenClaims
	if _, _, err := jwt.NewParser().ParseUnverified(raw, &claims); err != nil {
		return rejected(path, domain.AuthInvalidToken, err)
	}
	if err := jwt.NewValidator(v.validationOptions()...).Validate(&claims); err != nil {
		return rejected(path, classify(err), err)
	}
	return v.finish(path, &claims)
}

func (v *Verifier) finish(path Path, claims *tokenClaims) Outcome {
	if claims.Subject == "" {
		return rejected(path, domain.AuthInvalidToken, errors.New("token has no subject"))
	}
	return accepted(path, claims.identity())
}

func (v *Verifier) validationOptions() []jwt.ParserOption {
	opts := []jwt.ParserOption{
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
	}
	if v.cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(v.cfg.Audience))
	}
	if v.cfg.ExpectedIssuer != "" {
		opts = append(opts, jwt.WithIssuer(v.cfg.ExpectedIssuer))
	}
	if v.cfg.Leeway > 0 {
		opts = append(opts, jwt.WithLeeway(v.cfg.Leeway))
	}
	return opts
}

func (v *Verifier) parserOptions(alg string) []jwt.ParserOption {
	return append(v.validationOptions(), jwt.WithValidMethods([]string{alg}))
}

// classify maps golang-jwt errors onto rejection kinds.
func classify(err error) domain.AuthErrorKind {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return domain.AuthTokenExpired
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return domain.AuthInvalidSignature
	case errors.Is(err, errNoSecret):
		return domain.AuthKeyResolutionFailed
	default:
		return domain.AuthInvalidToken
	}
}

// ExpiresIn is a convenience for logging how long a verified identity remains valid.
func ExpiresIn(id *domain.Identity, now time.Time) time.Duration {
	if id == nil || id.ExpiresAt.IsZero() {
		return 0
	}
	return id.ExpiresAt.Sub(now)
}
