// Package auth implements the auth boundary (spec section 4.13): bearer
// JWT verification against a shared symmetric secret, issuer/audience
// checks, and principal projection to downstream components via an
// X-User-Id header. Credential minting (registration, login, OAuth) is
// out of scope -- this package only verifies tokens issued elsewhere.
package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken is returned for any bearer credential that fails
// signature, issuer, audience, or expiry checks. The specific cause is
// intentionally not exposed to callers (spec section 7: do not leak
// internal error detail across the auth boundary).
var ErrInvalidToken = errors.New("auth: invalid token")

// Claims is the verified principal projected from a bearer token.
type Claims struct {
	Subject string
}

// Config configures token verification.
type Config struct {
	// Secret is the shared HMAC signing secret. Must be at least 32
	// bytes; config.Config.Validate enforces this at startup.
	Secret string `yaml:"secret"`
	// Issuer is the expected "iss" claim.
	Issuer string `yaml:"issuer"`
	// Audience is the expected "aud" claim.
	Audience string `yaml:"audience"`
	// BcryptCost is the work factor used when hashing credentials
	// belonging to this engine's own process config (spec section 6:
	// "bcrypt cost factor 12"). Default 12.
	BcryptCost int `yaml:"bcrypt_cost"`
}

func (c Config) applyDefaults() Config {
	if c.BcryptCost == 0 {
		c.BcryptCost = 12
	}
	return c
}

// Verifier validates bearer tokens against a Config.
type Verifier struct {
	config Config
}

// NewVerifier creates a Verifier.
func NewVerifier(config Config) *Verifier {
	return &Verifier{config: config.applyDefaults()}
}

// Verify parses and validates tokenString, checking the HMAC signature,
// issuer, and audience. On success it returns the verified subject
// claim; on any failure it returns ErrInvalidToken.
func (v *Verifier) Verify(tokenString string) (*Claims, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return []byte(v.config.Secret), nil
	},
		jwt.WithIssuer(v.config.Issuer),
		jwt.WithAudience(v.config.Audience),
		jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}),
	)
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrInvalidToken
	}
	subject, err := claims.GetSubject()
	if err != nil || subject == "" {
		return nil, ErrInvalidToken
	}
	return &Claims{Subject: subject}, nil
}

// minSecretBytes is the spec section 6 minimum JWT secret length.
const minSecretBytes = 32

// weakSecrets is a known-placeholder blocklist; config.Config.Validate
// refuses to start the process if the configured secret matches one of
// these, even if it happens to be long enough.
var weakSecrets = map[string]bool{
	"changeme":                         true,
	"secret":                           true,
	"your-256-bit-secret":              true,
	"0000000000000000000000000000000": true,
}

// ValidateSecret enforces spec section 6's JWT secret strength rule.
func ValidateSecret(secret string) error {
	if len(secret) < minSecretBytes {
		return errors.New("auth: JWT secret must be at least 32 bytes")
	}
	if weakSecrets[secret] {
		return errors.New("auth: JWT secret matches a known weak placeholder")
	}
	return nil
}

// IssueForTesting mints a token signed with config's secret, for use in
// tests and local development fixtures. Production token minting is out
// of scope for this engine (spec section 1).
func IssueForTesting(config Config, subject string, ttl time.Duration) (string, error) {
	config = config.applyDefaults()
	now := time.Now()
	claims := jwt.MapClaims{
		"sub": subject,
		"iss": config.Issuer,
		"aud": config.Audience,
		"iat": now.Unix(),
		"exp": now.Add(ttl).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(config.Secret))
}
