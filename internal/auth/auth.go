package auth

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Identity is the verified caller.
type Identity struct {
	Subject string
	Token   string
}

// Claims are the JWT claims accepted from the identity provider. Some
// providers carry the account id in user_id in addition to sub.
type Claims struct {
	UserID string `json:"user_id,omitempty"`
	jwt.RegisteredClaims
}

// Verifier turns an opaque bearer token into an Identity.
type Verifier interface {
	Verify(ctx context.Context, token string) (Identity, error)
}

// VerifierFunc adapts a function to Verifier.
type VerifierFunc func(ctx context.Context, token string) (Identity, error)

func (f VerifierFunc) Verify(ctx context.Context, token string) (Identity, error) {
	return f(ctx, token)
}

// JWTVerifier validates HS256 or RS256 signed tokens.
type JWTVerifier struct {
	secret    []byte
	publicKey *rsa.PublicKey
	issuer    string
	audience  string
	leeway    time.Duration
	now       func() time.Time
}

var _ Verifier = (*JWTVerifier)(nil)

// VerifierOption configures JWTVerifier.
type VerifierOption func(*JWTVerifier) error

// WithHMACSecret enables HS256 verification.
func WithHMACSecret(secret string) VerifierOption {
	return func(v *JWTVerifier) error {
		if strings.TrimSpace(secret) == "" {
			return nil
		}
		v.secret = []byte(secret)
		return nil
	}
}

// WithRSAPublicKeyPEM enables RS256 verification with a PEM encoded key.
func WithRSAPublicKeyPEM(pemData string) VerifierOption {
	return func(v *JWTVerifier) error {
		pemData = strings.TrimSpace(pemData)
		if pemData == "" {
			return nil
		}
		key, err := jwt.ParseRSAPublicKeyFromPEM([]byte(pemData))
		if err != nil {
			return fmt.Errorf("auth: parse public key: %w", err)
		}
		v.publicKey = key
		return nil
	}
}

// WithIssuer requires the iss claim.
func WithIssuer(issuer string) VerifierOption {
	return func(v *JWTVerifier) error {
		v.issuer = strings.TrimSpace(issuer)
		return nil
	}
}

// WithAudience requires the aud claim to contain audience.
func WithAudience(audience string) VerifierOption {
	return func(v *JWTVerifier) error {
		v.audience = strings.TrimSpace(audience)
		return nil
	}
}

// WithClock overrides the time source (tests).
func WithClock(fn func() time.Time) VerifierOption {
	return func(v *JWTVerifier) error {
		if fn != nil {
			v.now = fn
		}
		return nil
	}
}

// NewJWTVerifier builds a verifier; at least one key must be configured.
func NewJWTVerifier(opts ...VerifierOption) (*JWTVerifier, error) {
	v := &JWTVerifier{
		leeway: 5 * time.Second,
		now:    time.Now,
	}
	for _, opt := range opts {
		if err := opt(v); err != nil {
			return nil, err
		}
	}
	if len(v.secret) == 0 && v.publicKey == nil {
		return nil, ErrNoVerificationKey
	}
	return v, nil
}

// Verify checks signature, expiry, issuer and audience. Any failure is ErrInvalidToken.
func (v *JWTVerifier) Verify(_ context.Context, token string) (Identity, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Identity{}, ErrInvalidToken
	}

	methods := make([]string, 0, 2)
	if len(v.secret) > 0 {
		methods = append(methods, jwt.SigningMethodHS256.Alg())
	}
	if v.publicKey != nil {
		methods = append(methods, jwt.SigningMethodRS256.Alg())
	}
	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods(methods),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(v.leeway),
		jwt.WithTimeFunc(v.now),
	}
	if v.issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(v.issuer))
	}
	if v.audience != "" {
		parserOpts = append(parserOpts, jwt.WithAudience(v.audience))
	}

	parsed, err := jwt.ParseWithClaims(token, &Claims{}, v.keyFor, parserOpts...)
	if err != nil {
		return Identity{}, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return Identity{}, ErrInvalidToken
	}
	subject := strings.TrimSpace(claims.Subject)
	if subject == "" {
		subject = strings.TrimSpace(claims.UserID)
	}
	if subject == "" {
		return Identity{}, ErrInvalidToken
	}
	return Identity{Subject: subject, Token: token}, nil
}

func (v *JWTVerifier) keyFor(t *jwt.Token) (any, error) {
	switch t.Method.(type) {
	case *jwt.SigningMethodHMAC:
		if len(v.secret) == 0 {
			return nil, errors.New("hmac not enabled")
		}
		return v.secret, nil
	case *jwt.SigningMethodRSA:
		if v.publicKey == nil {
			return nil, errors.New("rsa not enabled")
		}
		return v.publicKey, nil
	default:
		return nil, errors.New("unexpected signing method")
	}
}

// GenerateToken signs an HS256 token for subject. Used by the operator CLI to
// mint development tokens; production tokens come from the identity provider.
func GenerateToken(secret, subject, issuer, audience string, ttl time.Duration) (string, time.Time, error) {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return "", time.Time{}, errors.New("subject is required")
	}
	if ttl <= 0 {
		return "", time.Time{}, errors.New("ttl must be greater than zero")
	}
	if strings.TrimSpace(secret) == "" {
		return "", time.Time{}, ErrNoVerificationKey
	}

	now := time.Now().UTC()
	exp := now.Add(ttl)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.NewString(),
		},
	}
	if audience != "" {
		claims.Audience = jwt.ClaimStrings{audience}
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, exp, nil
}
