package token

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const secretEnv = "FORMULACHAT_TOKEN_SECRET"

// ErrDecode marks a token that is malformed or whose subject is not a
// session identifier.
var ErrDecode = errors.New("malformed token")

// Codec encodes and decodes the signed bearer credential carrying a
// session identifier.
type Codec struct {
	secret []byte
	ttl    time.Duration
}

// NewCodec builds a codec with the given signing secret and claim lifetime.
func NewCodec(secret []byte, ttl time.Duration) *Codec {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Codec{secret: secret, ttl: ttl}
}

// NewCodecFromEnv reads the signing secret from FORMULACHAT_TOKEN_SECRET.
func NewCodecFromEnv(ttl time.Duration) (*Codec, error) {
	raw := strings.TrimSpace(os.Getenv(secretEnv))
	if raw == "" {
		return nil, fmt.Errorf("%s not set", secretEnv)
	}
	return NewCodec([]byte(raw), ttl), nil
}

// Encode mints a signed token whose subject is the session identifier.
func (c *Codec) Encode(sessionID uuid.UUID) (string, error) {
	now := time.Now().UTC()
	claims := jwt.RegisteredClaims{
		Subject:   sessionID.String(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(c.ttl)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Decode extracts the embedded session identifier. The signature and the
// exp claim are NOT checked here: the token is only an identifier carrier,
// and trust is established by the auth gate against the stored session row
// (exact token match plus expires_at), so logout takes effect immediately
// even though the token payload itself never expires.
func (c *Codec) Decode(raw string) (uuid.UUID, error) {
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(raw, &claims); err != nil {
		return uuid.Nil, ErrDecode
	}
	id, err := uuid.Parse(claims.Subject)
	if err != nil {
		return uuid.Nil, ErrDecode
	}
	return id, nil
}

// TTL reports the lifetime stamped into encoded tokens.
func (c *Codec) TTL() time.Duration {
	return c.ttl
}
