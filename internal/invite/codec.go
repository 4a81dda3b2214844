// Package invite issues and verifies collaboration invite tokens.
//
// A token is a compact HS256 JWT carrying the draft id, the invitee's email
// and millisecond issue/expiry stamps. Nothing is stored server side: the
// token describes itself and stops verifying after its own expiry. A token
// may be replayed any number of times before it expires.
package invite

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// MinSecretLength is the minimum signing secret size in bytes.
const MinSecretLength = 32

// Reason explains a verification outcome.
type Reason string

const (
	ReasonOK                Reason = "OK"
	ReasonMissing           Reason = "missing"
	ReasonMalformed         Reason = "malformed"
	ReasonSignatureMismatch Reason = "signature_mismatch"
	ReasonExpired           Reason = "expired"
)

// Payload is what an inviter asks to embed.
type Payload struct {
	DraftID      string
	InviteeEmail string
}

// Claims is the signed body of a token. Times are unix milliseconds.
type Claims struct {
	DraftID      string `json:"draftId"`
	InviteeEmail string `json:"inviteeEmail"`
	IssuedAt     int64  `json:"issuedAt"`
	ExpiresAt    int64  `json:"expiresAt"`
}

// ExpiresAtTime returns the expiry as a UTC time.
func (c *Claims) ExpiresAtTime() time.Time {
	return time.UnixMilli(c.ExpiresAt).UTC()
}

// IssuedAtTime returns the issue time as a UTC time.
func (c *Claims) IssuedAtTime() time.Time {
	return time.UnixMilli(c.IssuedAt).UTC()
}

// The registered-claim getters return nothing: expiry is checked by Verify
// at millisecond precision, not by the jwt validator.

func (c *Claims) GetExpirationTime() (*jwt.NumericDate, error) { return nil, nil }
func (c *Claims) GetIssuedAt() (*jwt.NumericDate, error)       { return nil, nil }
func (c *Claims) GetNotBefore() (*jwt.NumericDate, error)      { return nil, nil }
func (c *Claims) GetIssuer() (string, error)                   { return "", nil }
func (c *Claims) GetSubject() (string, error)                  { return "", nil }
func (c *Claims) GetAudience() (jwt.ClaimStrings, error)       { return nil, nil }

// wellFormed reports whether decoded claims have the expected shape.
func (c *Claims) wellFormed() bool {
	return strings.TrimSpace(c.DraftID) != "" &&
		strings.TrimSpace(c.InviteeEmail) != "" &&
		c.IssuedAt > 0 &&
		c.ExpiresAt >= c.IssuedAt
}

// Result is the tagged outcome of Verify. Payload is set only when Valid.
type Result struct {
	Valid   bool
	Payload *Claims
	Reason  Reason
}

// Codec signs and verifies tokens with one server-held secret.
// It is safe for concurrent use.
type Codec struct {
	secret []byte
	parser *jwt.Parser
	now    func() time.Time
}

// NewCodec creates a codec. The secret must be at least MinSecretLength bytes.
func NewCodec(secret []byte) (*Codec, error) {
	if len(secret) < MinSecretLength {
		return nil, fmt.Errorf("invite signing secret must be at least %d bytes, got %d", MinSecretLength, len(secret))
	}
	return &Codec{
		secret: append([]byte(nil), secret...),
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithoutClaimsValidation(),
			jwt.WithStrictDecoding(),
		),
		now: time.Now,
	}, nil
}

// Encode issues a token valid from now until now+ttl inclusive.
func (c *Codec) Encode(p Payload, ttl time.Duration) (string, error) {
	if ttl < 0 {
		return "", fmt.Errorf("invite ttl must not be negative, got %s", ttl)
	}
	if strings.TrimSpace(p.DraftID) == "" || strings.TrimSpace(p.InviteeEmail) == "" {
		return "", errors.New("invite payload requires draft id and invitee email")
	}

	issued := c.now().UnixMilli()
	claims := &Claims{
		DraftID:      p.DraftID,
		InviteeEmail: p.InviteeEmail,
		IssuedAt:     issued,
		ExpiresAt:    issued + ttl.Milliseconds(),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("sign invite: %w", err)
	}
	return signed, nil
}

// Verify checks a token in the order missing, malformed, signature, expiry.
// It never returns an error; every outcome is a Reason.
func (c *Codec) Verify(token string) Result {
	token = strings.TrimSpace(token)
	if token == "" {
		return Result{Reason: ReasonMissing}
	}

	// Shape first: a token whose body cannot be read is malformed whatever
	// its signature says.
	var unverified Claims
	if _, _, err := c.parser.ParseUnverified(token, &unverified); err != nil || !unverified.wellFormed() {
		return Result{Reason: ReasonMalformed}
	}

	// HS256 verification compares MACs with hmac.Equal.
	var claims Claims
	if _, err := c.parser.ParseWithClaims(token, &claims, c.key); err != nil {
		return Result{Reason: ReasonSignatureMismatch}
	}

	if c.now().UnixMilli() > claims.ExpiresAt {
		return Result{Reason: ReasonExpired}
	}

	return Result{Valid: true, Payload: &claims, Reason: ReasonOK}
}

func (c *Codec) key(t *jwt.Token) (any, error) {
	if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
		return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
	}
	return c.secret, nil
}
