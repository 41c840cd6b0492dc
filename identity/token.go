package identity

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
)

var (
	ErrInvalidToken     = errors.New("invalid token format")
	ErrTokenExpired     = errors.New("token has expired")
	ErrTokenNotYetValid = errors.New("token not yet valid")
	ErrInvalidSignature = errors.New("invalid token signature")
	ErrInvalidIssuer    = errors.New("invalid issuer")
	ErrMissingSubject   = errors.New("token carries no user id")
)

// Claims is the bearer token payload. The user id is read from "userId" when
// present and from "sub" otherwise.
type Claims struct {
	Issuer    string `json:"iss,omitempty"`
	Subject   string `json:"sub,omitempty"`
	UserIDRaw string `json:"userId,omitempty"`
	IssuedAt  int64  `json:"iat,omitempty"`
	ExpiresAt int64  `json:"exp,omitempty"`
}

// UserID returns the authenticated user id carried by the claims.
func (c *Claims) UserID() string {
	if c.UserIDRaw != "" {
		return c.UserIDRaw
	}
	return c.Subject
}

// TokenVerifier validates HS256 bearer tokens.
type TokenVerifier struct {
	secret    []byte
	issuer    string
	clockSkew time.Duration
	now       func() time.Time
}

// NewTokenVerifier returns nil when secret is empty so callers can treat
// "no secret configured" as "everyone is anonymous".
func NewTokenVerifier(secret, issuer string, clockSkew time.Duration) *TokenVerifier {
	if secret == "" {
		return nil
	}
	return &TokenVerifier{secret: []byte(secret), issuer: issuer, clockSkew: clockSkew, now: time.Now}
}

// Verify checks signature, timestamps and issuer, and returns the claims.
func (v *TokenVerifier) Verify(tokenString string) (*Claims, error) {
	if tokenString == "" {
		return nil, ErrInvalidToken
	}

	tok, err := jwt.ParseSigned(tokenString, []jose.SignatureAlgorithm{jose.HS256})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims := &Claims{}
	if err := tok.Claims(v.secret, claims); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	now := v.now().Unix()
	skew := int64(v.clockSkew.Seconds())

	if claims.ExpiresAt > 0 && claims.ExpiresAt < now-skew {
		return nil, ErrTokenExpired
	}
	if claims.IssuedAt > 0 && claims.IssuedAt > now+skew {
		return nil, ErrTokenNotYetValid
	}
	if v.issuer != "" && claims.Issuer != v.issuer {
		return nil, fmt.Errorf("%w: expected '%s', got '%s'", ErrInvalidIssuer, v.issuer, claims.Issuer)
	}
	if claims.UserID() == "" {
		return nil, ErrMissingSubject
	}

	return claims, nil
}

// IssueToken signs claims with the verifier's secret. Token issuance belongs to
// the auth service; this exists for operators and tests.
func (v *TokenVerifier) IssueToken(userID string, ttl time.Duration) (string, error) {
	signer, err := jose.NewSigner(jose.SigningKey{Algorithm: jose.HS256, Key: v.secret}, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create signer: %w", err)
	}

	now := v.now()
	claims := Claims{
		Issuer:    v.issuer,
		Subject:   userID,
		IssuedAt:  now.Unix(),
		ExpiresAt: now.Add(ttl).Unix(),
	}

	token, err := jwt.Signed(signer).Claims(claims).Serialize()
	if err != nil {
		return "", fmt.Errorf("failed to create JWT: %w", err)
	}
	return token, nil
}
