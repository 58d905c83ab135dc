package repository

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkholodov/authgate/internal/logger"
	"github.com/mkholodov/authgate/internal/repository/models"
)

// Mock logger
type mockLogger struct{}

func (m *mockLogger) Debug(msg string, fields ...logger.Field)  {}
func (m *mockLogger) Info(msg string, fields ...logger.Field)   {}
func (m *mockLogger) Warn(msg string, fields ...logger.Field)   {}
func (m *mockLogger) Error(msg string, fields ...logger.Field)  {}
func (m *mockLogger) Fatal(msg string, fields ...logger.Field)  {}
func (m *mockLogger) Panic(msg string, fields ...logger.Field)  {}
func (m *mockLogger) With(fields ...logger.Field) logger.Logger { return m }
func (m *mockLogger) Sync() error                               { return nil }
func (m *mockLogger) SetLevel(level logger.Level)               {}

// Test repo initialization helper
func setupTokenRepo(t *testing.T) (*refreshTokenRepo, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	repo := &refreshTokenRepo{
		db: sqlx.NewDb(db, "postgres"),
		l:  &mockLogger{},
	}

	return repo, mock, func() { db.Close() }
}

func tokenColumns() []string {
	return []string{
		"id", "jti", "parent_jti", "owner_id", "issued_at", "expires_at",
		"used_at", "revoked", "revoked_reason", "device_id", "client_ip",
		"user_agent", "created_at", "updated_at",
	}
}

func tokenRow(tok *models.RefreshToken) *sqlmock.Rows {
	return sqlmock.NewRows(tokenColumns()).AddRow(
		tok.ID, tok.JTI, tok.ParentJTI, tok.OwnerID, tok.IssuedAt, tok.ExpiresAt,
		tok.UsedAt, tok.Revoked, tok.RevokedReason, tok.DeviceID, tok.ClientIP,
		tok.UserAgent, tok.CreatedAt, tok.UpdatedAt,
	)
}

func createTestToken() *models.RefreshToken {
	deviceID := "device-1"
	now := time.Now().UTC()
	return &models.RefreshToken{
		JTI:       "11111111-1111-1111-1111-111111111111",
		OwnerID:   "22222222-2222-2222-2222-222222222222",
		IssuedAt:  now,
		ExpiresAt: now.Add(24 * time.Hour),
		DeviceID:  &deviceID,
	}
}

func TestRefreshTokenRepo_Create(t *testing.T) {
	tests := []struct {
		name    string
		mockFn  func(sqlmock.Sqlmock)
		wantErr error
		errMsg  string
	}{
		{
			name: "successful create",
			mockFn: func(m sqlmock.Sqlmock) {
				m.ExpectPrepare(`INSERT INTO refresh_tokens`).
					ExpectQuery().
					WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).
						AddRow(1, time.Now(), time.Now()))
			},
		},
		{
			name: "duplicate jti",
			mockFn: func(m sqlmock.Sqlmock) {
				m.ExpectPrepare(`INSERT INTO refresh_tokens`).
					ExpectQuery().
					WillReturnError(&pq.Error{Code: pqUniqueViolation})
			},
			wantErr: ErrDuplicateJTI,
		},
		{
			name: "prepare statement error",
			mockFn: func(m sqlmock.Sqlmock) {
				m.ExpectPrepare(`INSERT INTO refresh_tokens`).
					WillReturnError(fmt.Errorf("prepare error"))
			},
			errMsg: "failed to prepare query",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo, mock, cleanup := setupTokenRepo(t)
			defer cleanup()

			tt.mockFn(mock)

			err := repo.Create(context.Background(), createTestToken())

			switch {
			case tt.wantErr != nil:
				assert.ErrorIs(t, err, tt.wantErr)
			case tt.errMsg != "":
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errMsg)
			default:
				assert.NoError(t, err)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestRefreshTokenRepo_GetByJTI(t *testing.T) {
	repo, mock, cleanup := setupTokenRepo(t)
	defer cleanup()

	tok := createTestToken()
	tok.ID = 7

	mock.ExpectQuery(`SELECT id, jti`).WithArgs(tok.JTI).WillReturnRows(tokenRow(tok))

	got, err := repo.GetByJTI(context.Background(), tok.JTI)
	require.NoError(t, err)
	assert.Equal(t, tok.JTI, got.JTI)
	assert.Equal(t, tok.OwnerID, got.OwnerID)
	assert.Nil(t, got.ParentJTI)

	mock.ExpectQuery(`SELECT id, jti`).WithArgs("missing").WillReturnError(sql.ErrNoRows)

	_, err = repo.GetByJTI(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrTokenNotFound)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRefreshTokenRepo_MarkUsed(t *testing.T) {
	when := time.Now().UTC()

	t.Run("consumes unused token", func(t *testing.T) {
		repo, mock, cleanup := setupTokenRepo(t)
		defer cleanup()

		mock.ExpectExec(`UPDATE refresh_tokens`).
			WithArgs("jti-1", when).
			WillReturnResult(sqlmock.NewResult(0, 1))

		assert.NoError(t, repo.MarkUsed(context.Background(), "jti-1", when))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("second consumption reports already used", func(t *testing.T) {
		repo, mock, cleanup := setupTokenRepo(t)
		defer cleanup()

		tok := createTestToken()
		usedAt := when.Add(-time.Minute)
		tok.UsedAt = &usedAt

		mock.ExpectExec(`UPDATE refresh_tokens`).
			WithArgs(tok.JTI, when).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(`SELECT id, jti`).WithArgs(tok.JTI).WillReturnRows(tokenRow(tok))

		err := repo.MarkUsed(context.Background(), tok.JTI, when)
		assert.ErrorIs(t, err, ErrAlreadyUsed)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown jti reports not found", func(t *testing.T) {
		repo, mock, cleanup := setupTokenRepo(t)
		defer cleanup()

		mock.ExpectExec(`UPDATE refresh_tokens`).
			WithArgs("missing", when).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(`SELECT id, jti`).WithArgs("missing").WillReturnError(sql.ErrNoRows)

		err := repo.MarkUsed(context.Background(), "missing", when)
		assert.ErrorIs(t, err, ErrTokenNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestRefreshTokenRepo_FindRoot(t *testing.T) {
	t.Run("walks the chain to the root", func(t *testing.T) {
		repo, mock, cleanup := setupTokenRepo(t)
		defer cleanup()

		rootJTI := "root"
		child := createTestToken()
		child.JTI = "child"
		child.ParentJTI = &rootJTI

		root := createTestToken()
		root.JTI = rootJTI

		mock.ExpectQuery(`SELECT id, jti`).WithArgs("child").WillReturnRows(tokenRow(child))
		mock.ExpectQuery(`SELECT id, jti`).WithArgs("root").WillReturnRows(tokenRow(root))

		got, err := repo.FindRoot(context.Background(), "child")
		require.NoError(t, err)
		assert.Equal(t, "root", got.JTI)
		assert.Nil(t, got.ParentJTI)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("reports a parent cycle instead of looping", func(t *testing.T) {
		repo, mock, cleanup := setupTokenRepo(t)
		defer cleanup()

		jtiA, jtiB := "aaa", "bbb"
		tokA := createTestToken()
		tokA.JTI = jtiA
		tokA.ParentJTI = &jtiB
		tokB := createTestToken()
		tokB.JTI = jtiB
		tokB.ParentJTI = &jtiA

		mock.ExpectQuery(`SELECT id, jti`).WithArgs(jtiA).WillReturnRows(tokenRow(tokA))
		mock.ExpectQuery(`SELECT id, jti`).WithArgs(jtiB).WillReturnRows(tokenRow(tokB))
		mock.ExpectQuery(`SELECT id, jti`).WithArgs(jtiA).WillReturnRows(tokenRow(tokA))

		_, err := repo.FindRoot(context.Background(), jtiA)
		assert.ErrorIs(t, err, ErrLedgerIntegrity)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("reports a dangling parent", func(t *testing.T) {
		repo, mock, cleanup := setupTokenRepo(t)
		defer cleanup()

		gone := "gone"
		tok := createTestToken()
		tok.ParentJTI = &gone

		mock.ExpectQuery(`SELECT id, jti`).WithArgs(tok.JTI).WillReturnRows(tokenRow(tok))
		mock.ExpectQuery(`SELECT id, jti`).WithArgs(gone).WillReturnError(sql.ErrNoRows)

		_, err := repo.FindRoot(context.Background(), tok.JTI)
		assert.ErrorIs(t, err, ErrLedgerIntegrity)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestRefreshTokenRepo_CollectFamily(t *testing.T) {
	repo, mock, cleanup := setupTokenRepo(t)
	defer cleanup()

	mock.ExpectQuery(`SELECT jti FROM refresh_tokens`).
		WithArgs(pq.Array([]string{"root"})).
		WillReturnRows(sqlmock.NewRows([]string{"jti"}).AddRow("c1").AddRow("c2"))
	mock.ExpectQuery(`SELECT jti FROM refresh_tokens`).
		WithArgs(pq.Array([]string{"c1", "c2"})).
		WillReturnRows(sqlmock.NewRows([]string{"jti"}).AddRow("g1").AddRow("c1")) // duplicate pointer must not recurse
	mock.ExpectQuery(`SELECT jti FROM refresh_tokens`).
		WithArgs(pq.Array([]string{"g1"})).
		WillReturnRows(sqlmock.NewRows([]string{"jti"}))

	family, err := repo.CollectFamily(context.Background(), "root")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"root", "c1", "c2", "g1"}, family)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRefreshTokenRepo_RevokeFamily(t *testing.T) {
	repo, mock, cleanup := setupTokenRepo(t)
	defer cleanup()

	rootJTI := "root"
	child := createTestToken()
	child.JTI = "child"
	child.ParentJTI = &rootJTI
	root := createTestToken()
	root.JTI = rootJTI

	when := time.Now().UTC()

	// Root resolution, then family expansion.
	mock.ExpectQuery(`SELECT id, jti`).WithArgs("child").WillReturnRows(tokenRow(child))
	mock.ExpectQuery(`SELECT id, jti`).WithArgs("root").WillReturnRows(tokenRow(root))
	mock.ExpectQuery(`SELECT jti FROM refresh_tokens`).
		WithArgs(pq.Array([]string{"root"})).
		WillReturnRows(sqlmock.NewRows([]string{"jti"}).AddRow("child"))
	mock.ExpectQuery(`SELECT jti FROM refresh_tokens`).
		WithArgs(pq.Array([]string{"child"})).
		WillReturnRows(sqlmock.NewRows([]string{"jti"}))

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE refresh_tokens`).
		WithArgs(pq.Array([]string{"root", "child"}), "reuse detected").
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(`UPDATE refresh_tokens`).
		WithArgs("child", when).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := repo.RevokeFamily(context.Background(), "child", "reuse detected", when)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRefreshTokenRepo_CleanExpired(t *testing.T) {
	repo, mock, cleanup := setupTokenRepo(t)
	defer cleanup()

	mock.ExpectExec(`DELETE FROM refresh_tokens`).
		WillReturnResult(sqlmock.NewResult(0, 3))

	deleted, err := repo.CleanExpired(context.Background(), 30*24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(3), deleted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepo_GetByUsername(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := &userRepo{db: sqlx.NewDb(db, "postgres"), l: &mockLogger{}}

	columns := []string{"id", "username", "password_hash", "role", "is_active", "created_at", "updated_at"}
	now := time.Now().UTC()

	mock.ExpectQuery(`SELECT id, username`).
		WithArgs("alice").
		WillReturnRows(sqlmock.NewRows(columns).
			AddRow("33333333-3333-3333-3333-333333333333", "alice", "$2a$10$hash", "user", true, now, now))

	user, err := repo.GetByUsername(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, "alice", user.Username)
	assert.True(t, user.IsActive)

	mock.ExpectQuery(`SELECT id, username`).WithArgs("nobody").WillReturnError(sql.ErrNoRows)

	_, err = repo.GetByUsername(context.Background(), "nobody")
	assert.ErrorIs(t, err, ErrUserNotFound)

	assert.NoError(t, mock.ExpectationsWereMet())
}
