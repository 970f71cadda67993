package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const defaultShareTokenTTL = 24 * time.Hour

var (
	errMissingShareSecret  = errors.New("share token signing secret must be provided")
	errMissingShareSession = errors.New("share token session id must be provided")
)

// ShareTokenConfig configures the signed share-link issuer.
type ShareTokenConfig struct {
	SigningSecret []byte
	Issuer        string
	Audience      string
	TokenTTL      time.Duration
	Clock         func() time.Time
}

// ShareTokenIssuer mints and validates HS256 tokens that grant access to a
// password-protected session without the password.
type ShareTokenIssuer struct {
	config ShareTokenConfig
	clock  func() time.Time
}

// NewShareTokenIssuer constructs a ShareTokenIssuer with sane defaults.
func NewShareTokenIssuer(cfg ShareTokenConfig) *ShareTokenIssuer {
	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = defaultShareTokenTTL
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &ShareTokenIssuer{
		config: ShareTokenConfig{
			SigningSecret: append([]byte(nil), cfg.SigningSecret...),
			Issuer:        cfg.Issuer,
			Audience:      cfg.Audience,
			TokenTTL:      ttl,
			Clock:         clock,
		},
		clock: clock,
	}
}

// Issue produces a signed share token for the session and its expiry in seconds.
func (i *ShareTokenIssuer) Issue(sessionID string) (string, int64, error) {
	if len(i.config.SigningSecret) == 0 {
		return "", 0, errMissingShareSecret
	}
	if sessionID == "" {
		return "", 0, errMissingShareSession
	}

	now := i.clock().UTC()
	expiresAt := now.Add(i.config.TokenTTL).UTC()

	claims := jwt.RegisteredClaims{
		Subject:   sessionID,
		Issuer:    i.config.Issuer,
		Audience:  []string{i.config.Audience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(i.config.SigningSecret)
	if err != nil {
		return "", 0, err
	}
	return signed, int64(expiresAt.Sub(now).Seconds()), nil
}

// Validate checks a share token and returns the session id it grants.
func (i *ShareTokenIssuer) Validate(tokenString string) (string, error) {
	if len(i.config.SigningSecret) == 0 {
		return "", errMissingShareSecret
	}

	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(
		tokenString,
		claims,
		func(token *jwt.Token) (interface{}, error) {
			if token.Method.Alg() != jwt.SigningMethodHS256.Alg() {
				return nil, fmt.Errorf("unexpected signing algorithm: %s", token.Method.Alg())
			}
			return i.config.SigningSecret, nil
		},
		jwt.WithAudience(i.config.Audience),
		jwt.WithIssuer(i.config.Issuer),
		jwt.WithTimeFunc(i.clock),
	)
	if err != nil {
		return "", err
	}
	if claims.Subject == "" {
		return "", errMissingShareSession
	}
	return claims.Subject, nil
}
