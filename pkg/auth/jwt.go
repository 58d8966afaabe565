package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	DefaultIssuer   = "LingClassroom"
	DefaultTokenTTL = 12 * time.Hour
)

var (
	ErrEmptySecret  = errors.New("auth: secret key is required")
	ErrEmptySubject = errors.New("auth: user id is required")
	ErrInvalidToken = errors.New("auth: invalid token")
	ErrWrongSubject = errors.New("auth: token was issued for another user")
)

// Claims identify the user a socket token was issued for. The user id is
// carried in the registered "sub" claim.
type Claims struct {
	Name string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// TokenConfig represents socket token configuration
type TokenConfig struct {
	SecretKey string
	TTL       time.Duration // DefaultTokenTTL when zero
	Issuer    string        // DefaultIssuer when empty
}

// TokenManager signs and checks HS256 socket tokens.
type TokenManager struct {
	config TokenConfig
	now    func() time.Time
}

// NewTokenManager creates a token manager
func NewTokenManager(config TokenConfig) (*TokenManager, error) {
	if config.SecretKey == "" {
		return nil, ErrEmptySecret
	}
	if config.TTL <= 0 {
		config.TTL = DefaultTokenTTL
	}
	if config.Issuer == "" {
		config.Issuer = DefaultIssuer
	}
	return &TokenManager{config: config, now: time.Now}, nil
}

// Issue signs a token for userID.
func (m *TokenManager) Issue(userID, name string) (string, time.Time, error) {
	if userID == "" {
		return "", time.Time{}, ErrEmptySubject
	}
	now := m.now()
	expires := now.Add(m.config.TTL)
	claims := &Claims{
		Name: name,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    m.config.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(m.config.SecretKey))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("auth: sign token: %w", err)
	}
	return signed, expires, nil
}

// Validate parses tokenString and checks signature, issuer and expiry.
func (m *TokenManager) Validate(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(m.config.SecretKey), nil
	},
		jwt.WithIssuer(m.config.Issuer),
		jwt.WithTimeFunc(m.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// ValidateFor is Validate plus a check that the token belongs to userID.
func (m *TokenManager) ValidateFor(tokenString, userID string) (*Claims, error) {
	claims, err := m.Validate(tokenString)
	if err != nil {
		return nil, err
	}
	if claims.Subject != userID {
		return nil, ErrWrongSubject
	}
	return claims, nil
}
