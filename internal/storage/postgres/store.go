package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hongminglow/homeservices-identity/internal/models"
	"github.com/hongminglow/homeservices-identity/internal/storage"
)

// Ensure Store satisfies the storage.Store interface at compile time.
var _ storage.Store = (*Store)(nil)

const userColumns = `id, email, password_hash, full_name, phone, role, is_verified, otp, otp_expires, created_at, updated_at`

// Store provides Postgres-backed persistence for users and profiles.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore connects, retrying a few times, and runs migrations.
func NewStore(ctx context.Context, databaseURL string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	pool, err := connect(ctx, cfg, 3, 2*time.Second)
	if err != nil {
		return nil, err
	}

	s := &Store{pool: pool}
	if err := migrate(ctx, pool, logger); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func connect(ctx context.Context, cfg *pgxpool.Config, attempts int, interval time.Duration) (*pgxpool.Pool, error) {
	var lastErr error
	for i := range attempts {
		pool, err := pgxpool.NewWithConfig(ctx, cfg)
		if err == nil {
			if err = pool.Ping(ctx); err == nil {
				return pool, nil
			}
			pool.Close()
		}
		lastErr = err
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("connect to database: %w", ctx.Err())
		case <-time.After(time.Duration(i+1) * interval):
		}
	}
	return nil, fmt.Errorf("connect to database: %w", lastErr)
}

// Close releases database resources.
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// CreateUser inserts a new user row.
func (s *Store) CreateUser(ctx context.Context, user models.User) (models.User, error) {
	const query = `
		INSERT INTO users (id, email, password_hash, full_name, phone, role, is_verified, otp, otp_expires)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING ` + userColumns
	row := s.pool.QueryRow(ctx, query,
		user.ID, user.Email, user.PasswordHash, user.FullName, user.Phone, string(user.Role),
		user.IsVerified, user.OTP, user.OTPExpires)
	created, err := scanUser(row)
	if err != nil {
		if isUniqueViolation(err) {
			return models.User{}, storage.ErrAlreadyExists
		}
		return models.User{}, fmt.Errorf("create user: %w", err)
	}
	return created, nil
}

// FindByEmail fetches a user by email address.
func (s *Store) FindByEmail(ctx context.Context, email string) (models.User, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email)
	return scanUser(row)
}

// FindByID fetches a user by primary key. Malformed ids resolve to ErrNotFound.
func (s *Store) FindByID(ctx context.Context, id string) (models.User, error) {
	key, ok := canonicalID(id)
	if !ok {
		return models.User{}, storage.ErrNotFound
	}
	row := s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, key)
	return scanUser(row)
}

// UpdatePending overwrites an unverified registration.
func (s *Store) UpdatePending(ctx context.Context, reg storage.PendingRegistration) (models.User, error) {
	const query = `
		UPDATE users
		SET password_hash = $2, full_name = $3, role = $4, otp = $5, otp_expires = $6, updated_at = NOW()
		WHERE email = $1 AND is_verified = FALSE
		RETURNING ` + userColumns
	row := s.pool.QueryRow(ctx, query,
		reg.Email, reg.PasswordHash, reg.FullName, string(reg.Role), reg.Challenge.Code, reg.Challenge.ExpiresAt)
	return scanUser(row)
}

// SetOTP arms a new challenge.
func (s *Store) SetOTP(ctx context.Context, id string, ch storage.Challenge) error {
	key, ok := canonicalID(id)
	if !ok {
		return storage.ErrNotFound
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE users SET otp = $2, otp_expires = $3, updated_at = NOW() WHERE id = $1`,
		key, ch.Code, ch.ExpiresAt)
	if err != nil {
		return fmt.Errorf("set otp: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// ConsumeOTP clears a matching, unexpired challenge and marks the user verified in one statement.
func (s *Store) ConsumeOTP(ctx context.Context, id, code string, now time.Time) (models.User, error) {
	const query = `
		UPDATE users
		SET otp = NULL, otp_expires = NULL, is_verified = TRUE, updated_at = NOW()
		WHERE id = $1 AND otp = $2 AND otp_expires > $3
		RETURNING ` + userColumns
	key, ok := canonicalID(id)
	if !ok {
		return models.User{}, storage.ErrNotFound
	}
	return scanUser(s.pool.QueryRow(ctx, query, key, code, now))
}

// UpdateUser applies a whitelisted patch.
func (s *Store) UpdateUser(ctx context.Context, id string, patch storage.Patch) (models.User, error) {
	key, ok := canonicalID(id)
	if !ok {
		return models.User{}, storage.ErrNotFound
	}
	set, args, err := buildSet(patch, storage.UserFields)
	if err != nil {
		return models.User{}, err
	}
	args = append(args, key)
	query := fmt.Sprintf(`UPDATE users SET %s, updated_at = NOW() WHERE id = $%d RETURNING %s`,
		set, len(args), userColumns)
	return scanUser(s.pool.QueryRow(ctx, query, args...))
}

func profileTable(role models.Role) string {
	if role == models.RoleWorker {
		return "worker_profiles"
	}
	return "customer_profiles"
}

func profileColumns(role models.Role) string {
	if role == models.RoleWorker {
		return `id, user_id, bio, location, status, created_at, updated_at`
	}
	return `id, user_id, full_name, email, phone, address, created_at, updated_at`
}

// FindProfile fetches the role-specific profile of a user.
func (s *Store) FindProfile(ctx context.Context, role models.Role, userID string) (models.Profile, error) {
	key, ok := canonicalID(userID)
	if !ok {
		return models.Profile{}, storage.ErrNotFound
	}
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE user_id = $1`, profileColumns(role), profileTable(role))
	return scanProfile(s.pool.QueryRow(ctx, query, key), role)
}

// InsertProfile inserts a profile; the unique user_id index turns a duplicate into ErrAlreadyExists.
func (s *Store) InsertProfile(ctx context.Context, p models.Profile) error {
	var err error
	if p.Role == models.RoleWorker {
		_, err = s.pool.Exec(ctx,
			`INSERT INTO worker_profiles (id, user_id, bio, location, status, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			p.ID, p.UserID, p.Bio, p.Location, p.Status, p.CreatedAt, p.UpdatedAt)
	} else {
		_, err = s.pool.Exec(ctx,
			`INSERT INTO customer_profiles (id, user_id, full_name, email, phone, address, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			p.ID, p.UserID, p.FullName, p.Email, p.Phone, p.Address, p.CreatedAt, p.UpdatedAt)
	}
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrAlreadyExists
		}
		return fmt.Errorf("insert profile: %w", err)
	}
	return nil
}

// UpdateProfile applies a whitelisted patch to a role-specific profile.
func (s *Store) UpdateProfile(ctx context.Context, role models.Role, userID string, patch storage.Patch) (models.Profile, error) {
	key, ok := canonicalID(userID)
	if !ok {
		return models.Profile{}, storage.ErrNotFound
	}
	set, args, err := buildSet(patch, storage.ProfileFields(role))
	if err != nil {
		return models.Profile{}, err
	}
	args = append(args, key)
	query := fmt.Sprintf(`UPDATE %s SET %s, updated_at = NOW() WHERE user_id = $%d RETURNING %s`,
		profileTable(role), set, len(args), profileColumns(role))
	return scanProfile(s.pool.QueryRow(ctx, query, args...), role)
}

// buildSet renders "col = $n" pairs. Column names come from the whitelist only.
func buildSet(patch storage.Patch, wl storage.Whitelist) (string, []any, error) {
	if patch.Entity() != wl.Entity() || patch.Len() == 0 {
		return "", nil, storage.ErrInvalidPatch
	}
	fields := patch.Fields()
	parts := make([]string, 0, len(fields))
	args := make([]any, 0, len(fields)+1)
	for i, field := range fields {
		if !wl.Allows(field) {
			return "", nil, storage.ErrInvalidPatch
		}
		value, _ := patch.Get(field)
		parts = append(parts, fmt.Sprintf("%s = $%d", field, i+1))
		args = append(args, value)
	}
	return strings.Join(parts, ", "), args, nil
}

func scanUser(row pgx.Row) (models.User, error) {
	var user models.User
	var role string
	if err := row.Scan(&user.ID, &user.Email, &user.PasswordHash, &user.FullName, &user.Phone, &role,
		&user.IsVerified, &user.OTP, &user.OTPExpires, &user.CreatedAt, &user.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.User{}, storage.ErrNotFound
		}
		return models.User{}, err
	}
	user.Role = models.Role(role)
	return user, nil
}

func scanProfile(row pgx.Row, role models.Role) (models.Profile, error) {
	p := models.Profile{Role: role}
	var err error
	if role == models.RoleWorker {
		err = row.Scan(&p.ID, &p.UserID, &p.Bio, &p.Location, &p.Status, &p.CreatedAt, &p.UpdatedAt)
	} else {
		err = row.Scan(&p.ID, &p.UserID, &p.FullName, &p.Email, &p.Phone, &p.Address, &p.CreatedAt, &p.UpdatedAt)
	}
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Profile{}, storage.ErrNotFound
		}
		return models.Profile{}, err
	}
	return p, nil
}

// canonicalID normalises a user or profile id; anything that is not a UUID cannot exist.
func canonicalID(id string) (string, bool) {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return "", false
	}
	return parsed.String(), true
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
