// Package auth validates bearer tokens and maps them onto domain actors.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/Lautarobarella/Personal-Fit-Santa-Fe-sub000/internal/domain"
)

// Config holds signer verification parameters.
type Config struct {
	Secret string
	Issuer string
}

// Claims is the normalized payload of a verified token.
type Claims struct {
	Subject   string
	Role      domain.Role
	ExpiresAt time.Time
}

// Actor converts the claims into the identity used by the domain service.
func (c Claims) Actor() domain.Actor {
	return domain.Actor{UserID: c.Subject, Role: c.Role}
}

var (
	// ErrMissingToken is returned when the Authorization header is absent.
	ErrMissingToken = errors.New("missing bearer token")
	// ErrInvalidToken wraps parsing and validation errors.
	ErrInvalidToken = errors.New("invalid bearer token")
)

type tokenClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Parse validates an HS256 token and returns normalized claims. Tokens must carry a
// subject, a known role and an expiry.
func Parse(token string, cfg Config) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrMissingToken
	}

	var claims tokenClaims
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}),
		jwt.WithExpirationRequired(),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	parsed, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return []byte(cfg.Secret), nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !parsed.Valid || claims.Subject == "" {
		return nil, ErrInvalidToken
	}

	role, err := domain.ParseRole(claims.Role)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	return &Claims{
		Subject:   claims.Subject,
		Role:      role,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

// Issue signs a token for subject. It backs local tooling and tests; production tokens
// come from the identity provider.
func Issue(cfg Config, subject string, role domain.Role, ttl time.Duration, now time.Time) (string, error) {
	claims := tokenClaims{
		Role: string(role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(cfg.Secret))
}
