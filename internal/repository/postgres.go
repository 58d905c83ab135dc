package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file" //used for migrations
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/mkholodov/authgate/internal/config"
	"github.com/mkholodov/authgate/internal/logger"
	"github.com/mkholodov/authgate/internal/repository/models"
)

const (
	pqUniqueViolation = "23505"

	// Rotation chains grow by one per refresh; anything deeper than this is
	// corrupt data, not a long-lived session.
	maxChainDepth = 64
	// Upper bound on family expansion, guards against cyclic or duplicated
	// parent pointers inflating the BFS frontier.
	maxFamilySize = 4096
)

// Connect opens a postgres connection pool and verifies it with a ping.
func Connect(cfg config.DatabaseConfig) (*sqlx.DB, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host,
		cfg.Port,
		cfg.User,
		cfg.Password,
		cfg.DBName,
		cfg.SSLMode,
	)
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("could not open db connection: %w", err)
	}
	if err = db.Ping(); err != nil {
		return nil, fmt.Errorf("could not establish db connection: %w", err)
	}
	return db, nil
}

// RunMigrations applies all pending migrations from migrationsPath.
func RunMigrations(db *sqlx.DB, migrationsPath string) error {
	driver, err := postgres.WithInstance(db.DB, &postgres.Config{})
	if err != nil {
		return err
	}

	m, err := migrate.NewWithDatabaseInstance("file://"+migrationsPath, "postgres", driver)
	if err != nil {
		return err
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return err
	}

	return nil
}

type refreshTokenRepo struct {
	db *sqlx.DB
	l  logger.Logger
}

func NewRefreshTokenRepository(db *sqlx.DB, l logger.Logger) RefreshTokenRepository {
	return &refreshTokenRepo{db: db, l: l}
}

func (r *refreshTokenRepo) Close() error {
	return r.db.Close()
}

func (r *refreshTokenRepo) Create(ctx context.Context, token *models.RefreshToken) error {
	query := `
		INSERT INTO refresh_tokens (jti, parent_jti, owner_id, issued_at, expires_at, used_at, revoked, revoked_reason, device_id, client_ip, user_agent)
		VALUES (:jti, :parent_jti, :owner_id, :issued_at, :expires_at, :used_at, :revoked, :revoked_reason, :device_id, :client_ip, :user_agent)
		RETURNING id, created_at, updated_at`

	stmt, err := r.db.PrepareNamedContext(ctx, query)
	if err != nil {
		r.l.Error("Failed to prepare query", logger.Error(err))
		return fmt.Errorf("failed to prepare query: %w", err)
	}
	defer stmt.Close()

	err = stmt.QueryRowxContext(ctx, token).Scan(&token.ID, &token.CreatedAt, &token.UpdatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation {
			r.l.Error("Refresh token jti collision", logger.String("jti", token.JTI))
			return fmt.Errorf("%w: %s", ErrDuplicateJTI, token.JTI)
		}
		r.l.Error("Failed to execute insert query", logger.Error(err))
		return err
	}

	r.l.Info("Refresh token created",
		logger.String("jti", token.JTI),
		logger.String("owner_id", token.OwnerID))
	return nil
}

func (r *refreshTokenRepo) GetByJTI(ctx context.Context, jti string) (*models.RefreshToken, error) {
	query := `
		SELECT id, jti, parent_jti, owner_id, issued_at, expires_at, used_at, revoked, revoked_reason, device_id, client_ip, user_agent, created_at, updated_at
		FROM refresh_tokens
		WHERE jti = $1`

	token := &models.RefreshToken{}
	err := r.db.GetContext(ctx, token, query, jti)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrTokenNotFound, jti)
		}
		return nil, fmt.Errorf("failed to get refresh token: %w", err)
	}

	return token, nil
}

// MarkUsed is the single most safety-critical write in the system: the
// conditional "WHERE used_at IS NULL" plus the affected-row check make the
// read-then-mark sequence a compare-and-swap. Of two concurrent rotations on
// the same record, exactly one sees ErrAlreadyUsed and takes the reuse path.
func (r *refreshTokenRepo) MarkUsed(ctx context.Context, jti string, when time.Time) error {
	query := `
		UPDATE refresh_tokens
		SET used_at = $2, updated_at = NOW()
		WHERE jti = $1 AND used_at IS NULL`

	result, err := r.db.ExecContext(ctx, query, jti, when)
	if err != nil {
		r.l.Error("Failed to mark token as used", logger.Error(err), logger.String("jti", jti))
		return fmt.Errorf("failed to mark token as used: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		r.l.Error("Failed to get rows affected after mark as used", logger.Error(err))
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		if _, getErr := r.GetByJTI(ctx, jti); errors.Is(getErr, ErrTokenNotFound) {
			return getErr
		}
		return fmt.Errorf("%w: %s", ErrAlreadyUsed, jti)
	}

	return nil
}

func (r *refreshTokenRepo) FindRoot(ctx context.Context, jti string) (*models.RefreshToken, error) {
	current, err := r.GetByJTI(ctx, jti)
	if err != nil {
		return nil, err
	}

	visited := make(map[string]struct{})
	for depth := 0; current.ParentJTI != nil; depth++ {
		if depth >= maxChainDepth {
			r.l.Error("Rotation chain exceeds depth bound", logger.String("jti", jti))
			return nil, fmt.Errorf("%w: chain deeper than %d", ErrLedgerIntegrity, maxChainDepth)
		}
		if _, seen := visited[current.JTI]; seen {
			r.l.Error("Cycle in rotation chain", logger.String("jti", current.JTI))
			return nil, fmt.Errorf("%w: parent cycle at %s", ErrLedgerIntegrity, current.JTI)
		}
		visited[current.JTI] = struct{}{}

		parent, err := r.GetByJTI(ctx, *current.ParentJTI)
		if err != nil {
			if errors.Is(err, ErrTokenNotFound) {
				return nil, fmt.Errorf("%w: dangling parent %s", ErrLedgerIntegrity, *current.ParentJTI)
			}
			return nil, err
		}
		current = parent
	}

	return current, nil
}

func (r *refreshTokenRepo) CollectFamily(ctx context.Context, rootJTI string) ([]string, error) {
	query := `SELECT jti FROM refresh_tokens WHERE parent_jti = ANY($1)`

	family := []string{rootJTI}
	visited := map[string]struct{}{rootJTI: {}}
	frontier := []string{rootJTI}

	for len(frontier) > 0 {
		var children []string
		if err := r.db.SelectContext(ctx, &children, query, pq.Array(frontier)); err != nil {
			return nil, fmt.Errorf("failed to collect family: %w", err)
		}

		frontier = frontier[:0]
		for _, child := range children {
			if _, seen := visited[child]; seen {
				continue
			}
			visited[child] = struct{}{}
			family = append(family, child)
			frontier = append(frontier, child)
		}

		if len(family) > maxFamilySize {
			r.l.Error("Token family exceeds size bound", logger.String("root_jti", rootJTI))
			return nil, fmt.Errorf("%w: family larger than %d", ErrLedgerIntegrity, maxFamilySize)
		}
	}

	return family, nil
}

func (r *refreshTokenRepo) RevokeFamily(ctx context.Context, jti, reason string, when time.Time) error {
	root, err := r.FindRoot(ctx, jti)
	if err != nil {
		return err
	}

	family, err := r.CollectFamily(ctx, root.JTI)
	if err != nil {
		return err
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin revoke transaction: %w", err)
	}
	defer tx.Rollback()

	revokeQuery := `
		UPDATE refresh_tokens
		SET revoked = true, revoked_reason = $2, updated_at = NOW()
		WHERE jti = ANY($1) AND revoked = false`
	if _, err := tx.ExecContext(ctx, revokeQuery, pq.Array(family), reason); err != nil {
		r.l.Error("Failed to revoke token family", logger.Error(err), logger.String("root_jti", root.JTI))
		return fmt.Errorf("failed to revoke family: %w", err)
	}

	// Record when the presented member was observed, if a rotation had not
	// already consumed it.
	usedQuery := `
		UPDATE refresh_tokens
		SET used_at = $2, updated_at = NOW()
		WHERE jti = $1 AND used_at IS NULL`
	if _, err := tx.ExecContext(ctx, usedQuery, jti, when); err != nil {
		r.l.Error("Failed to mark presented token", logger.Error(err), logger.String("jti", jti))
		return fmt.Errorf("failed to mark presented token: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit revoke transaction: %w", err)
	}

	r.l.Info("Refresh token family revoked",
		logger.String("root_jti", root.JTI),
		logger.String("reason", reason),
		logger.Int("family_size", len(family)))
	return nil
}

func (r *refreshTokenRepo) CleanExpired(ctx context.Context, retainFor time.Duration) (int64, error) {
	query := `DELETE FROM refresh_tokens WHERE expires_at < NOW() - $1::interval`

	result, err := r.db.ExecContext(ctx, query, fmt.Sprintf("%d seconds", int64(retainFor.Seconds())))
	if err != nil {
		return 0, fmt.Errorf("failed to clean expired tokens: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rowsAffected, nil
}

type userRepo struct {
	db *sqlx.DB
	l  logger.Logger
}

func NewUserRepository(db *sqlx.DB, l logger.Logger) UserRepository {
	return &userRepo{db: db, l: l}
}

func (r *userRepo) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	query := `
		SELECT id, username, password_hash, role, is_active, created_at, updated_at
		FROM users
		WHERE username = $1`

	user := &models.User{}
	err := r.db.GetContext(ctx, user, query, username)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrUserNotFound, username)
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	return user, nil
}
