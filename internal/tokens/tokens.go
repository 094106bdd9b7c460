package tokens

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	typeAccess  = "access"
	typeRefresh = "refresh"
)

var (
	ErrExpired = errors.New("token expired")
	ErrInvalid = errors.New("token invalid")
)

type AccessClaims struct {
	UserID uint   `json:"userId"`
	Role   string `json:"role"`
	Type   string `json:"typ"`
	jwt.RegisteredClaims
}

// Email is the subject of an access token.
func (c *AccessClaims) Email() string { return c.Subject }

type RefreshClaims struct {
	Type string `json:"typ"`
	jwt.RegisteredClaims
}

type Config struct {
	Secret        []byte
	RefreshSecret []byte
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	Issuer        string
	// Now overrides the clock used for issuing and validating; nil means time.Now.
	Now func() time.Time
}

// Codec signs and validates HS256 access and refresh tokens. It is read-only
// after construction; rotating the secret means building a new Codec, which
// invalidates every outstanding token.
type Codec struct {
	secret        []byte
	refreshSecret []byte
	accessTTL     time.Duration
	refreshTTL    time.Duration
	issuer        string
	now           func() time.Time
}

func NewCodec(cfg Config) (*Codec, error) {
	if len(cfg.Secret) == 0 {
		return nil, errors.New("jwt secret is required")
	}
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 {
		return nil, errors.New("token TTLs must be positive")
	}
	refreshSecret := cfg.RefreshSecret
	if len(refreshSecret) == 0 {
		refreshSecret = cfg.Secret
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Codec{
		secret:        cfg.Secret,
		refreshSecret: refreshSecret,
		accessTTL:     cfg.AccessTTL,
		refreshTTL:    cfg.RefreshTTL,
		issuer:        cfg.Issuer,
		now:           now,
	}, nil
}

func (c *Codec) IssueAccessToken(userID uint, email, role string) (string, time.Time, error) {
	iat := c.now()
	exp := iat.Add(c.accessTTL)
	claims := AccessClaims{
		UserID:           userID,
		Role:             role,
		Type:             typeAccess,
		RegisteredClaims: c.registered(email, iat, exp),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign access token: %w", err)
	}
	return signed, exp, nil
}

func (c *Codec) IssueRefreshToken(email string) (string, time.Time, error) {
	iat := c.now()
	exp := iat.Add(c.refreshTTL)
	claims := RefreshClaims{
		Type:             typeRefresh,
		RegisteredClaims: c.registered(email, iat, exp),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.refreshSecret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign refresh token: %w", err)
	}
	return signed, exp, nil
}

func (c *Codec) ValidateAccess(raw string) (*AccessClaims, error) {
	var claims AccessClaims
	if err := c.parse(raw, &claims, c.secret); err != nil {
		return nil, err
	}
	if claims.Type != typeAccess || claims.Subject == "" || claims.UserID == 0 || claims.Role == "" {
		return nil, fmt.Errorf("%w: not an access token", ErrInvalid)
	}
	return &claims, nil
}

func (c *Codec) ValidateRefresh(raw string) (*RefreshClaims, error) {
	var claims RefreshClaims
	if err := c.parse(raw, &claims, c.refreshSecret); err != nil {
		return nil, err
	}
	if claims.Type != typeRefresh || claims.Subject == "" {
		return nil, fmt.Errorf("%w: not a refresh token", ErrInvalid)
	}
	return &claims, nil
}

func (c *Codec) registered(subject string, iat, exp time.Time) jwt.RegisteredClaims {
	return jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		Subject:   subject,
		Issuer:    c.issuer,
		IssuedAt:  jwt.NewNumericDate(iat),
		ExpiresAt: jwt.NewNumericDate(exp),
	}
}

func (c *Codec) parse(raw string, claims jwt.Claims, key []byte) error {
	if raw == "" {
		return fmt.Errorf("%w: empty token", ErrInvalid)
	}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		return key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, jwt.ErrTokenExpired):
		return fmt.Errorf("%w: %v", ErrExpired, err)
	default:
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
}
