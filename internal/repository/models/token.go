package models

import "time"

// RefreshToken is a ledger entry for one issued refresh token. Entries form a
// forest of rotation chains: ParentJTI points at the record that was consumed
// to mint this one, roots have no parent. Records are never deleted on
// revocation; expiry is logical via ExpiresAt.
type RefreshToken struct {
	ID            int64      `db:"id" json:"id"`
	JTI           string     `db:"jti" json:"jti"`
	ParentJTI     *string    `db:"parent_jti" json:"parent_jti,omitempty"`
	OwnerID       string     `db:"owner_id" json:"owner_id"`
	IssuedAt      time.Time  `db:"issued_at" json:"issued_at"`
	ExpiresAt     time.Time  `db:"expires_at" json:"expires_at"`
	UsedAt        *time.Time `db:"used_at" json:"used_at,omitempty"`
	Revoked       bool       `db:"revoked" json:"revoked"`
	RevokedReason *string    `db:"revoked_reason" json:"revoked_reason,omitempty"`
	DeviceID      *string    `db:"device_id" json:"device_id,omitempty"`
	ClientIP      *string    `db:"client_ip" json:"client_ip,omitempty"`
	UserAgent     *string    `db:"user_agent" json:"user_agent,omitempty"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time  `db:"updated_at" json:"updated_at"`
}

// IsExpired reports whether the record's lifetime has passed at the given instant.
func (t *RefreshToken) IsExpired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// IsUsed reports whether the record has already been consumed by a rotation.
func (t *RefreshToken) IsUsed() bool {
	return t.UsedAt != nil
}
