package domain

import "time"

// Development placeholder identity returned when no issuer is configured.
const (
	DevSubject = "dev-user"
	DevEmail   = "dev@local"
)

// Identity is the verified claim set extracted from a bearer token.
// It lives only for the duration of one request.
type Identity struct {
	Subject   string    `json:"sub"`
	Role      string    `json:"role,omitempty"`
	Email     string    `json:"email,omitempty"`
	ExpiresAt time.Time `json:"exp,omitempty"`
	DevMode   bool      `json:"dev_mode,omitempty"`
}

// DevIdentity returns the fixed development-mode identity.
func DevIdentity() *Identity {
	return &Identity{
		Subject: DevSubject,
		Email:   DevEmail,
		Role:    "authenticated",
		DevMode: true,
	}
}
