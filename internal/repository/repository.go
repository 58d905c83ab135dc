package repository

import (
	"context"
	"errors"
	"time"

	"github.com/mkholodov/authgate/internal/repository/models"
)

var (
	// ErrTokenNotFound is returned when no ledger record matches the jti.
	ErrTokenNotFound = errors.New("refresh token not found")
	// ErrDuplicateJTI is returned when inserting a record whose jti already
	// exists. A hard integrity violation: jtis are generated as UUIDs.
	ErrDuplicateJTI = errors.New("duplicate refresh token jti")
	// ErrAlreadyUsed is returned when MarkUsed observes used_at already set.
	// Callers must treat this as a protocol event (replay), never swallow it.
	ErrAlreadyUsed = errors.New("refresh token already used")
	// ErrLedgerIntegrity is returned when parent pointers form a cycle or a
	// chain deeper than the traversal bound.
	ErrLedgerIntegrity = errors.New("refresh token ledger integrity violation")
	// ErrUserNotFound is returned when no account matches the principal name.
	ErrUserNotFound = errors.New("user not found")
)

// RefreshTokenRepository is the persistence and traversal contract over
// refresh token ledger records.
type RefreshTokenRepository interface {
	Create(ctx context.Context, token *models.RefreshToken) error
	GetByJTI(ctx context.Context, jti string) (*models.RefreshToken, error)
	// MarkUsed sets used_at exactly once; a second call on the same record
	// returns ErrAlreadyUsed. This is the compare-and-swap two concurrent
	// rotations race on: exactly one wins.
	MarkUsed(ctx context.Context, jti string, when time.Time) error
	FindRoot(ctx context.Context, jti string) (*models.RefreshToken, error)
	CollectFamily(ctx context.Context, rootJTI string) ([]string, error)
	RevokeFamily(ctx context.Context, jti, reason string, when time.Time) error
	CleanExpired(ctx context.Context, retainFor time.Duration) (int64, error)
	Close() error
}

// UserRepository reads account rows for the authentication facade.
type UserRepository interface {
	GetByUsername(ctx context.Context, username string) (*models.User, error)
}
