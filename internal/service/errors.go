package service

import "errors"

var (
	// ErrInvalidCredentials covers both unknown principal and wrong password;
	// callers must not be able to tell the two apart.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrAccountLocked means the principal is inside a lockout window.
	ErrAccountLocked = errors.New("account locked")
	// ErrAccountDisabled means the account exists but is not active.
	ErrAccountDisabled = errors.New("account disabled")
	// ErrTokenMissing means no refresh token was presented.
	ErrTokenMissing = errors.New("refresh token missing")
	// ErrTokenExpired means the refresh token's lifetime has passed.
	ErrTokenExpired = errors.New("refresh token expired")
	// ErrTokenInvalid covers signature, claim shape, kind, and unknown-jti failures.
	ErrTokenInvalid = errors.New("refresh token invalid")
	// ErrTokenRevoked means the ledger record was revoked before this call.
	ErrTokenRevoked = errors.New("refresh token revoked")
	// ErrReuseDetected means an already-consumed refresh token was replayed;
	// the whole family has been revoked in response.
	ErrReuseDetected = errors.New("refresh token reuse detected")
	// ErrPersistence means a ledger write failed after a security-relevant
	// read. The operation must be retried; tokens are never issued unrecorded.
	ErrPersistence = errors.New("ledger persistence failure")
)
