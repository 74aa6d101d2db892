package auth

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-iam/internal/shared"
	"github.com/odyssey-erp/odyssey-iam/internal/users"
)

const (
	DefaultAccessTTL  = time.Hour
	DefaultRefreshTTL = 7 * 24 * time.Hour

	nonceBytes      = 32
	retryNonceBytes = 64
)

// IssuerConfig configures token signing.
type IssuerConfig struct {
	AccessSecret  string
	RefreshSecret string
	Issuer        string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
}

// AccessClaims is the payload of an access token.
type AccessClaims struct {
	Email string `json:"email"`
	Role  string `json:"role"`
	jwt.RegisteredClaims
}

type refreshClaims struct {
	Nonce string `json:"nonce"`
	Stamp int64  `json:"ts,omitempty"`
	jwt.RegisteredClaims
}

// Issuer signs access tokens and mints refresh values.
type Issuer struct {
	accessKey  []byte
	refreshKey []byte
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// NewIssuer validates cfg and builds an Issuer.
func NewIssuer(cfg IssuerConfig) (*Issuer, error) {
	if cfg.AccessSecret == "" || cfg.RefreshSecret == "" {
		return nil, errors.New("auth: access and refresh secrets are required")
	}
	if cfg.AccessSecret == cfg.RefreshSecret {
		return nil, errors.New("auth: access and refresh secrets must differ")
	}
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = DefaultAccessTTL
	}
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = DefaultRefreshTTL
	}
	return &Issuer{
		accessKey:  []byte(cfg.AccessSecret),
		refreshKey: []byte(cfg.RefreshSecret),
		issuer:     cfg.Issuer,
		accessTTL:  cfg.AccessTTL,
		refreshTTL: cfg.RefreshTTL,
		now:        time.Now,
	}, nil
}

// IssueAccess signs an access token for p carrying its current role name.
func (i *Issuer) IssueAccess(p *users.Principal) (AccessToken, error) {
	now := i.now().UTC()
	exp := now.Add(i.accessTTL)
	claims := AccessClaims{
		Email: p.Email,
		Role:  p.RoleName(),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(p.ID, 10),
			Issuer:    i.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.accessKey)
	if err != nil {
		return AccessToken{}, fmt.Errorf("auth: sign access token: %w", err)
	}
	return AccessToken{Token: signed, ExpiresAt: exp}, nil
}

// VerifyAccess checks signature, algorithm, expiry and issuer. Every failure
// wraps shared.ErrUnauthenticated.
func (i *Issuer) VerifyAccess(raw string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	}
	if i.issuer != "" {
		opts = append(opts, jwt.WithIssuer(i.issuer))
	}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return i.accessKey, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("auth: verify access token: %w: %w", shared.ErrUnauthenticated, err)
	}
	return claims, nil
}

// VerifySubject verifies raw and returns the principal id it was issued to.
func (i *Issuer) VerifySubject(raw string) (int64, error) {
	claims, err := i.VerifyAccess(raw)
	if err != nil {
		return 0, err
	}
	id, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("auth: access token subject: %w", shared.ErrUnauthenticated)
	}
	return id, nil
}

// NewRefreshValue mints an opaque refresh value for principalID. Attempt 0
// uses a 256-bit nonce; later attempts use a 512-bit nonce plus a nanosecond
// timestamp. The returned time is the row expiry.
func (i *Issuer) NewRefreshValue(principalID int64, attempt int) (string, time.Time, error) {
	size := nonceBytes
	if attempt > 0 {
		size = retryNonceBytes
	}
	nonce := make([]byte, size)
	if _, err := rand.Read(nonce); err != nil {
		return "", time.Time{}, fmt.Errorf("auth: refresh nonce: %w", err)
	}

	now := i.now().UTC()
	exp := now.Add(i.refreshTTL)
	claims := refreshClaims{
		Nonce: base64.RawURLEncoding.EncodeToString(nonce),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(principalID, 10),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	if attempt > 0 {
		claims.Stamp = now.UnixNano()
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.refreshKey)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("auth: sign refresh token: %w", err)
	}
	return signed, exp, nil
}
