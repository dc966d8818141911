// ABOUTME: JWT token minting and verification for stateless authentication
// ABOUTME: Uses HS256 signing with a configured secret and a fixed TTL

package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/2389/huerto-gateway/internal/store"
)

// MinSecretLength is the minimum accepted HS256 secret length in bytes.
const MinSecretLength = 32

// DefaultTokenTTL is used when no TTL is configured.
const DefaultTokenTTL = 24 * time.Hour

// Token is a verified or freshly minted bearer token. It is never persisted.
type Token struct {
	Subject   string
	Role      store.Role
	IssuedAt  time.Time
	ExpiresAt time.Time
	Raw       string
}

// TokenVerifier defines the interface for token verification
type TokenVerifier interface {
	Verify(raw string, now time.Time) (*Token, error)
}

// claims is the token payload. Authorities duplicates the role in the legacy
// "ROLE_x" form for clients that still read it.
type claims struct {
	Role        string   `json:"role,omitempty"`
	Authorities []string `json:"authorities,omitempty"`
	jwt.RegisteredClaims
}

// Codec mints and verifies HS256 tokens
type Codec struct {
	secret []byte
	ttl    time.Duration
}

// NewCodec creates a codec with the given secret and TTL. A ttl of zero or
// less selects DefaultTokenTTL.
func NewCodec(secret []byte, ttl time.Duration) (*Codec, error) {
	if len(secret) < MinSecretLength {
		return nil, fmt.Errorf("%w: need at least %d bytes, got %d", ErrWeakSecret, MinSecretLength, len(secret))
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &Codec{
		secret: append([]byte(nil), secret...),
		ttl:    ttl,
	}, nil
}

// TTL returns the lifetime of minted tokens
func (c *Codec) TTL() time.Duration {
	return c.ttl
}

// Mint creates a signed token for subject with role, issued at now.
// Timestamps are whole seconds, so validity may end up to 1s before now+TTL.
func (c *Codec) Mint(subject string, role store.Role, now time.Time) (*Token, error) {
	if subject == "" {
		return nil, fmt.Errorf("%w: empty subject", ErrMalformed)
	}
	if _, err := store.ParseRole(string(role)); err != nil {
		return nil, err
	}

	// NumericDate has second precision; truncate so exp - iat is exactly the TTL.
	issued := now.UTC().Truncate(time.Second)
	expires := issued.Add(c.ttl)

	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		Role:        string(role),
		Authorities: []string{role.Authority()},
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(issued),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	})
	raw, err := tok.SignedString(c.secret)
	if err != nil {
		return nil, fmt.Errorf("signing token: %w", err)
	}

	return &Token{
		Subject:   subject,
		Role:      role,
		IssuedAt:  issued,
		ExpiresAt: expires,
		Raw:       raw,
	}, nil
}

// Verify checks the signature, then expiry (now must be before exp), then
// the claims. Errors wrap ErrMalformed, ErrBadSignature or ErrExpired.
// Segments are decoded strictly: non-zero trailing bits in the final base64
// character are rejected, so every encoded bit of the signature counts.
func (c *Codec) Verify(raw string, now time.Time) (*Token, error) {
	var cl claims
	_, err := jwt.ParseWithClaims(raw, &cl,
		func(*jwt.Token) (any, error) { return c.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(func() time.Time { return now }),
		jwt.WithExpirationRequired(),
		jwt.WithStrictDecoding(),
	)
	if err != nil {
		return nil, classifyJWTError(err)
	}

	if cl.Subject == "" {
		return nil, fmt.Errorf("%w: missing sub", ErrMalformed)
	}

	role, err := claimedRole(&cl)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	tok := &Token{
		Subject:   cl.Subject,
		Role:      role,
		ExpiresAt: cl.ExpiresAt.Time.UTC(),
		Raw:       raw,
	}
	if cl.IssuedAt != nil {
		tok.IssuedAt = cl.IssuedAt.Time.UTC()
	}
	return tok, nil
}

// claimedRole reads the role claim, falling back to the legacy authorities list.
func claimedRole(cl *claims) (store.Role, error) {
	if cl.Role != "" {
		return store.ParseRole(cl.Role)
	}
	for _, a := range cl.Authorities {
		if r, err := store.ParseRole(a); err == nil {
			return r, nil
		}
	}
	return "", errors.New("missing role claim")
}

// classifyJWTError maps jwt parser errors onto the codec's sentinels.
// The parser verifies the signature before it validates claims, so an
// expired token with a bad signature reports ErrBadSignature.
func classifyJWTError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenMalformed):
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return fmt.Errorf("%w: %v", ErrBadSignature, err)
	case errors.Is(err, jwt.ErrTokenRequiredClaimMissing):
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrExpired
	default:
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
}

// Ensure Codec implements TokenVerifier
var _ TokenVerifier = (*Codec)(nil)
