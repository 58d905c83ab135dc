package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Token kinds embedded in the "type" claim.
const (
	KindAccess  = "access"
	KindRefresh = "refresh"
)

var (
	// ErrExpired indicates the token's exp claim is in the past.
	ErrExpired = errors.New("token expired")
	// ErrBadSignature indicates the signature does not match the shared secret.
	ErrBadSignature = errors.New("token signature invalid")
	// ErrWrongKind indicates the token's type claim does not match the expected kind.
	ErrWrongKind = errors.New("unexpected token kind")
	// ErrMalformedClaims indicates a required claim is missing or has the wrong shape.
	ErrMalformedClaims = errors.New("malformed token claims")
	// ErrUnparseable indicates the token string could not be decoded at all.
	ErrUnparseable = errors.New("unparseable token")
	// ErrInvalidSubject indicates the subject is not a canonical user id.
	ErrInvalidSubject = errors.New("subject is not a valid user id")
	// ErrMissingRole indicates issuance was attempted without a role.
	ErrMissingRole = errors.New("role must not be empty")
)

// Claims is the decoded payload of a signed token. Role is embedded at
// issuance time so verification never needs a database round trip.
type Claims struct {
	Kind string `json:"type"`
	Role string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

type Config struct {
	SecretKey       string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
	// Now overrides the clock, it defaults to time.Now (UTC).
	Now func() time.Time
}

// Manager issues and verifies signed, time-boxed claim sets. All tokens are
// signed HS256 with the shared secret; other algorithms are rejected on parse.
type Manager struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
	parser     *jwt.Parser
}

func NewManager(cfg Config) (*Manager, error) {
	if cfg.SecretKey == "" {
		return nil, errors.New("token: secret key is required")
	}
	if cfg.AccessTokenTTL <= 0 || cfg.RefreshTokenTTL <= 0 {
		return nil, errors.New("token: TTLs must be positive")
	}
	now := cfg.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}

	return &Manager{
		secret:     []byte(cfg.SecretKey),
		accessTTL:  cfg.AccessTokenTTL,
		refreshTTL: cfg.RefreshTokenTTL,
		now:        now,
		// Expiry is checked manually against the injected clock, so the
		// parser's own claim validation stays off.
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithoutClaimsValidation(),
		),
	}, nil
}

// Issue builds a claim set with a fresh jti and signs it. The subject must be
// a canonical user id (UUID) and the role must be non-empty.
func (m *Manager) Issue(subject, kind, role string, ttl time.Duration) (string, error) {
	normalized, err := uuid.Parse(subject)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidSubject, err)
	}
	if role == "" {
		return "", ErrMissingRole
	}

	issuedAt := m.now()
	claims := Claims{
		Kind: kind,
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   normalized.String(),
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(issuedAt.Add(ttl)),
		},
	}

	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
}

// IssueAccess signs an access token with the configured access TTL.
func (m *Manager) IssueAccess(subject, role string) (string, error) {
	return m.Issue(subject, KindAccess, role, m.accessTTL)
}

// IssueRefresh signs a refresh token with the configured refresh TTL.
func (m *Manager) IssueRefresh(subject, role string) (string, error) {
	return m.Issue(subject, KindRefresh, role, m.refreshTTL)
}

// Verify checks the signature and decodes the claims, enforcing that all
// required claims are present and well-typed, that the token kind matches,
// and that the token has not expired.
func (m *Manager) Verify(tokenStr, expectedKind string) (*Claims, error) {
	return m.decode(tokenStr, expectedKind, false)
}

// VerifyAllowExpired performs the same checks as Verify except the expiry
// gate. Logout uses it to resolve ledger records of expired but authentically
// signed tokens.
func (m *Manager) VerifyAllowExpired(tokenStr, expectedKind string) (*Claims, error) {
	return m.decode(tokenStr, expectedKind, true)
}

// RefreshTTL reports the configured refresh token lifetime.
func (m *Manager) RefreshTTL() time.Duration {
	return m.refreshTTL
}

func (m *Manager) decode(tokenStr, expectedKind string, allowExpired bool) (*Claims, error) {
	parsed, err := m.parser.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		return m.secret, nil
	})
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return nil, ErrBadSignature
		default:
			return nil, ErrUnparseable
		}
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok {
		return nil, ErrUnparseable
	}

	if claims.Kind != expectedKind {
		return nil, ErrWrongKind
	}
	if _, err := uuid.Parse(claims.Subject); err != nil {
		return nil, ErrMalformedClaims
	}
	if _, err := uuid.Parse(claims.ID); err != nil {
		return nil, ErrMalformedClaims
	}
	if claims.IssuedAt == nil || claims.ExpiresAt == nil {
		return nil, ErrMalformedClaims
	}

	if !allowExpired && !m.now().Before(claims.ExpiresAt.Time) {
		return nil, ErrExpired
	}

	return claims, nil
}
