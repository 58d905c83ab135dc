package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mkholodov/authgate/internal/logger"
	"github.com/mkholodov/authgate/internal/password"
	"github.com/mkholodov/authgate/internal/repository"
	"github.com/mkholodov/authgate/internal/repository/models"
	"github.com/mkholodov/authgate/internal/throttle"
	"github.com/mkholodov/authgate/internal/token"
)

const reuseReason = "reuse detected"

// TokenPair is the successful outcome of login and refresh.
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	RefreshExpiresAt time.Time
}

// RequestContext carries client metadata recorded on every ledger entry.
type RequestContext struct {
	DeviceID  string
	ClientIP  string
	UserAgent string
}

// AuthService composes the token codec, the refresh token ledger, and the
// login throttle into the login/refresh/logout contract. It is the only
// writer of ledger records.
type AuthService struct {
	tokens   *token.Manager
	ledger   repository.RefreshTokenRepository
	users    repository.UserRepository
	throttle *throttle.LoginThrottle
	hasher   password.Hasher
	l        logger.Logger
	now      func() time.Time
}

type Option func(*AuthService)

// WithClock overrides the service clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *AuthService) { s.now = now }
}

func NewAuthService(
	tokens *token.Manager,
	ledger repository.RefreshTokenRepository,
	users repository.UserRepository,
	throttle *throttle.LoginThrottle,
	hasher password.Hasher,
	l logger.Logger,
	opts ...Option,
) *AuthService {
	s := &AuthService{
		tokens:   tokens,
		ledger:   ledger,
		users:    users,
		throttle: throttle,
		hasher:   hasher,
		l:        l,
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Login verifies credentials behind the lockout gate and, on success, issues
// an access/refresh pair and persists the refresh token as a new ledger root.
//
// Failures are recorded against the presented principal whether or not the
// account exists, so behavior does not leak account existence.
func (s *AuthService) Login(ctx context.Context, username, plainPassword string, rc RequestContext) (*TokenPair, error) {
	// Lockout gate first: short-circuits credential reads under brute force.
	if s.throttle.IsLocked(ctx, username) {
		return nil, ErrAccountLocked
	}

	user, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			s.throttle.RecordFailure(ctx, username)
			return nil, ErrInvalidCredentials
		}
		s.l.Error("Account lookup failed", logger.Error(err))
		return nil, fmt.Errorf("%w: account lookup: %v", ErrPersistence, err)
	}

	if !user.IsActive {
		return nil, ErrAccountDisabled
	}

	if !s.hasher.Verify(plainPassword, user.PasswordHash) {
		attempts, becameLocked := s.throttle.RecordFailure(ctx, username)
		if becameLocked {
			s.l.Warn("Account locked after repeated login failures",
				logger.String("username", username),
				logger.Int("attempts", int(attempts)))
			return nil, ErrAccountLocked
		}
		return nil, ErrInvalidCredentials
	}

	s.throttle.ResetOnSuccess(ctx, username)

	pair, record, err := s.issuePair(user.ID, user.Role, nil, rc)
	if err != nil {
		return nil, err
	}

	if err := s.ledger.Create(ctx, record); err != nil {
		s.l.Error("Failed to persist refresh token root", logger.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	s.l.Info("Login succeeded",
		logger.String("owner_id", user.ID),
		logger.String("jti", record.JTI))
	return pair, nil
}

// Refresh rotates a presented refresh token: the old record is consumed
// exactly once and a child record is inserted. A replay of an already
// consumed token revokes the entire family.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string, rc RequestContext) (*TokenPair, error) {
	if refreshToken == "" {
		return nil, ErrTokenMissing
	}

	claims, err := s.tokens.Verify(refreshToken, token.KindRefresh)
	if err != nil {
		if errors.Is(err, token.ErrExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrTokenInvalid
	}

	record, err := s.ledger.GetByJTI(ctx, claims.ID)
	if err != nil {
		if errors.Is(err, repository.ErrTokenNotFound) {
			return nil, ErrTokenInvalid
		}
		s.l.Error("Ledger lookup failed", logger.Error(err), logger.String("jti", claims.ID))
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	if record.Revoked {
		return nil, ErrTokenRevoked
	}
	// Ledger-side expiry check, independent of the codec's.
	if record.IsExpired(s.now()) {
		return nil, ErrTokenExpired
	}

	if record.IsUsed() {
		return nil, s.handleReuse(ctx, record)
	}

	// The conditional mark-used is the compare-and-swap: of two concurrent
	// rotations on this record, the loser lands in the reuse path above.
	if err := s.ledger.MarkUsed(ctx, record.JTI, s.now()); err != nil {
		switch {
		case errors.Is(err, repository.ErrAlreadyUsed):
			return nil, s.handleReuse(ctx, record)
		case errors.Is(err, repository.ErrTokenNotFound):
			return nil, ErrTokenInvalid
		default:
			s.l.Error("Failed to consume refresh token", logger.Error(err), logger.String("jti", record.JTI))
			return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
		}
	}

	// Subject and role are trusted from the verified token; only the entity
	// that validated the password can have minted it.
	parentJTI := record.JTI
	pair, child, err := s.issuePair(claims.Subject, claims.Role, &parentJTI, rc)
	if err != nil {
		return nil, err
	}

	if err := s.ledger.Create(ctx, child); err != nil {
		// The old token is consumed but the child is unrecorded: surface as
		// retryable, never as success.
		s.l.Error("Failed to persist rotated refresh token",
			logger.Error(err),
			logger.String("parent_jti", record.JTI))
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	s.l.Info("Refresh token rotated",
		logger.String("owner_id", record.OwnerID),
		logger.String("parent_jti", record.JTI),
		logger.String("jti", child.JTI))
	return pair, nil
}

// Logout revokes the presented token's whole family. It is idempotent by
// design and never reports token-specific errors: a missing, garbled, or
// unknown token leaves nothing to revoke and still counts as success.
func (s *AuthService) Logout(ctx context.Context, refreshToken string) {
	if refreshToken == "" {
		return
	}

	// Expired tokens still identify a family; only the signature must hold.
	claims, err := s.tokens.VerifyAllowExpired(refreshToken, token.KindRefresh)
	if err != nil {
		return
	}

	if err := s.ledger.RevokeFamily(ctx, claims.ID, "logout", s.now()); err != nil {
		if !errors.Is(err, repository.ErrTokenNotFound) {
			s.l.Error("Logout revocation failed", logger.Error(err), logger.String("jti", claims.ID))
		}
	}
}

// handleReuse fails the whole family, not just the replayed branch. The event
// is logged distinctly from routine invalid-token failures: it is the one
// failure mode that indicates token theft.
func (s *AuthService) handleReuse(ctx context.Context, record *models.RefreshToken) error {
	s.l.Warn("Refresh token reuse detected, revoking family",
		logger.String("jti", record.JTI),
		logger.String("owner_id", record.OwnerID))

	if err := s.ledger.RevokeFamily(ctx, record.JTI, reuseReason, s.now()); err != nil {
		s.l.Error("Family revocation after reuse failed",
			logger.Error(err),
			logger.String("jti", record.JTI))
	}
	return ErrReuseDetected
}

func (s *AuthService) issuePair(subject, role string, parentJTI *string, rc RequestContext) (*TokenPair, *models.RefreshToken, error) {
	access, err := s.tokens.IssueAccess(subject, role)
	if err != nil {
		s.l.Error("Access token issuance failed", logger.Error(err))
		return nil, nil, fmt.Errorf("%w: issue access: %v", ErrPersistence, err)
	}

	refresh, err := s.tokens.IssueRefresh(subject, role)
	if err != nil {
		s.l.Error("Refresh token issuance failed", logger.Error(err))
		return nil, nil, fmt.Errorf("%w: issue refresh: %v", ErrPersistence, err)
	}

	// Decode our own freshly minted token so the ledger entry carries exactly
	// the jti and lifetime embedded in it.
	claims, err := s.tokens.Verify(refresh, token.KindRefresh)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: decode issued refresh: %v", ErrPersistence, err)
	}

	record := &models.RefreshToken{
		JTI:       claims.ID,
		ParentJTI: parentJTI,
		OwnerID:   subject,
		IssuedAt:  claims.IssuedAt.Time,
		ExpiresAt: claims.ExpiresAt.Time,
		DeviceID:  optional(rc.DeviceID),
		ClientIP:  optional(rc.ClientIP),
		UserAgent: optional(rc.UserAgent),
	}

	pair := &TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		RefreshExpiresAt: claims.ExpiresAt.Time,
	}
	return pair, record, nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
