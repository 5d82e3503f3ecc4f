package auth

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	ErrMissingToken = errors.New("auth: missing bearer token")
	ErrInvalidToken = errors.New("auth: invalid token")
)

// Config carries the verification parameters shared with the auth
// platform.
type Config struct {
	JWTSecret string `env:"AUTH_JWT_SECRET,required"`
	Audience  string `env:"AUTH_JWT_AUDIENCE" envDefault:"authenticated"`
}

// Identity is the authenticated caller derived from a verified token.
type Identity struct {
	UserID uuid.UUID
	Email  string
}

type claims struct {
	jwt.RegisteredClaims
	Email string `json:"email"`
}

// Verifier validates platform-issued JWTs.
type Verifier struct {
	secret []byte
	parser *jwt.Parser
}

// NewVerifier creates a Verifier from configuration.
func NewVerifier(cfg Config) (*Verifier, error) {
	if cfg.JWTSecret == "" {
		return nil, errors.New("auth: jwt secret is required")
	}

	opts := []jwt.ParserOption{
		// Pinning the algorithm prevents confusion attacks via the header.
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}

	return &Verifier{
		secret: []byte(cfg.JWTSecret),
		parser: jwt.NewParser(opts...),
	}, nil
}

// Verify checks the token signature and temporal claims and returns the
// caller identity. The subject claim must be the platform user id (UUID).
func (v *Verifier) Verify(tokenString string) (Identity, error) {
	var c claims
	_, err := v.parser.ParseWithClaims(tokenString, &c, func(t *jwt.Token) (any, error) {
		return v.secret, nil
	})
	if err != nil {
		return Identity{}, errors.Join(ErrInvalidToken, err)
	}

	userID, err := uuid.Parse(c.Subject)
	if err != nil {
		return Identity{}, errors.Join(ErrInvalidToken, fmt.Errorf("subject is not a user id: %w", err))
	}

	return Identity{UserID: userID, Email: c.Email}, nil
}
