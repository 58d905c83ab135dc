package token

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

// Test manager with a controllable clock
func newTestManager(t *testing.T, now *time.Time) *Manager {
	m, err := NewManager(Config{
		SecretKey:       testSecret,
		AccessTokenTTL:  15 * time.Minute,
		RefreshTokenTTL: 7 * 24 * time.Hour,
		Now:             func() time.Time { return *now },
	})
	require.NoError(t, err)
	return m
}

func TestManager_RoundTrip(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	m := newTestManager(t, &now)
	subject := uuid.NewString()

	tests := []struct {
		name string
		kind string
		role string
		ttl  time.Duration
	}{
		{name: "access token", kind: KindAccess, role: "user", ttl: 15 * time.Minute},
		{name: "refresh token", kind: KindRefresh, role: "admin", ttl: 24 * time.Hour},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			signed, err := m.Issue(subject, tt.kind, tt.role, tt.ttl)
			require.NoError(t, err)

			claims, err := m.Verify(signed, tt.kind)
			require.NoError(t, err)

			assert.Equal(t, subject, claims.Subject)
			assert.Equal(t, tt.kind, claims.Kind)
			assert.Equal(t, tt.role, claims.Role)
			assert.Equal(t, tt.ttl, claims.ExpiresAt.Time.Sub(claims.IssuedAt.Time))

			_, err = uuid.Parse(claims.ID)
			assert.NoError(t, err, "jti must be a fresh UUID")
		})
	}
}

func TestManager_IssueValidation(t *testing.T) {
	now := time.Now().UTC()
	m := newTestManager(t, &now)

	_, err := m.Issue("not-a-uuid", KindAccess, "user", time.Minute)
	assert.ErrorIs(t, err, ErrInvalidSubject)

	_, err = m.Issue(uuid.NewString(), KindAccess, "", time.Minute)
	assert.ErrorIs(t, err, ErrMissingRole)
}

func TestManager_ExpiryBoundary(t *testing.T) {
	issuedAt := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	now := issuedAt
	m := newTestManager(t, &now)

	signed, err := m.Issue(uuid.NewString(), KindAccess, "user", time.Minute)
	require.NoError(t, err)

	tests := []struct {
		name    string
		clockAt time.Time
		wantErr error
	}{
		{name: "one second before expiry", clockAt: issuedAt.Add(59 * time.Second)},
		{name: "exactly at expiry", clockAt: issuedAt.Add(time.Minute), wantErr: ErrExpired},
		{name: "past expiry", clockAt: issuedAt.Add(2 * time.Minute), wantErr: ErrExpired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			now = tt.clockAt
			_, err := m.Verify(signed, KindAccess)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestManager_VerifyFailureKinds(t *testing.T) {
	now := time.Now().UTC()
	m := newTestManager(t, &now)

	otherSecret, err := NewManager(Config{
		SecretKey:       "another-secret",
		AccessTokenTTL:  time.Minute,
		RefreshTokenTTL: time.Minute,
		Now:             func() time.Time { return now },
	})
	require.NoError(t, err)

	valid, err := m.IssueAccess(uuid.NewString(), "user")
	require.NoError(t, err)

	foreign, err := otherSecret.IssueAccess(uuid.NewString(), "user")
	require.NoError(t, err)

	tests := []struct {
		name     string
		tokenStr string
		kind     string
		wantErr  error
	}{
		{name: "garbage string", tokenStr: "not.a.token", kind: KindAccess, wantErr: ErrUnparseable},
		{name: "empty string", tokenStr: "", kind: KindAccess, wantErr: ErrUnparseable},
		{name: "foreign signature", tokenStr: foreign, kind: KindAccess, wantErr: ErrBadSignature},
		{name: "wrong kind", tokenStr: valid, kind: KindRefresh, wantErr: ErrWrongKind},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := m.Verify(tt.tokenStr, tt.kind)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestManager_MalformedClaims(t *testing.T) {
	now := time.Now().UTC()
	m := newTestManager(t, &now)

	// Authentically signed tokens whose claims fail the shape checks.
	sign := func(claims Claims) string {
		signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
		require.NoError(t, err)
		return signed
	}

	dates := jwt.RegisteredClaims{
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(time.Minute)),
	}

	tests := []struct {
		name   string
		claims Claims
	}{
		{
			name: "subject not a uuid",
			claims: Claims{Kind: KindAccess, Role: "user", RegisteredClaims: jwt.RegisteredClaims{
				Subject: "42", ID: uuid.NewString(), IssuedAt: dates.IssuedAt, ExpiresAt: dates.ExpiresAt,
			}},
		},
		{
			name: "jti not a uuid",
			claims: Claims{Kind: KindAccess, Role: "user", RegisteredClaims: jwt.RegisteredClaims{
				Subject: uuid.NewString(), ID: "token-1", IssuedAt: dates.IssuedAt, ExpiresAt: dates.ExpiresAt,
			}},
		},
		{
			name: "missing timestamps",
			claims: Claims{Kind: KindAccess, Role: "user", RegisteredClaims: jwt.RegisteredClaims{
				Subject: uuid.NewString(), ID: uuid.NewString(),
			}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := m.Verify(sign(tt.claims), KindAccess)
			assert.ErrorIs(t, err, ErrMalformedClaims)
		})
	}
}

func TestManager_VerifyAllowExpired(t *testing.T) {
	issuedAt := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	now := issuedAt
	m := newTestManager(t, &now)

	subject := uuid.NewString()
	signed, err := m.Issue(subject, KindRefresh, "user", time.Minute)
	require.NoError(t, err)

	now = issuedAt.Add(time.Hour)

	_, err = m.Verify(signed, KindRefresh)
	require.ErrorIs(t, err, ErrExpired)

	claims, err := m.VerifyAllowExpired(signed, KindRefresh)
	require.NoError(t, err)
	assert.Equal(t, subject, claims.Subject)

	// Everything but the expiry gate still holds.
	_, err = m.VerifyAllowExpired(signed, KindAccess)
	assert.ErrorIs(t, err, ErrWrongKind)
	_, err = m.VerifyAllowExpired("garbage", KindRefresh)
	assert.ErrorIs(t, err, ErrUnparseable)
}
