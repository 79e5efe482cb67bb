// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

// Package sqlstore is the SQLite storage engine. Unlike the file engine it
// writes one row per mutation.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"codeberg.org/oliverandrich/student-portal/internal/models"
	"codeberg.org/oliverandrich/student-portal/internal/store"
	"github.com/vinovest/sqlx"
)

// Options configures a Store.
type Options struct {
	DSN    string
	Sealer *store.Sealer
	Admin  store.BootstrapAdmin
	Now    func() time.Time
}

// Store implements store.Store on SQLite.
type Store struct {
	db     *sqlx.DB
	sealer *store.Sealer
	now    func() time.Time
}

var _ store.Store = (*Store)(nil)

// New opens the database, migrates it and seeds the bootstrap admin.
func New(ctx context.Context, opts Options) (*Store, error) {
	if opts.Sealer == nil {
		return nil, fmt.Errorf("sqlstore: sealer is required")
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	db, err := Open(ctx, opts.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &Store{db: db, sealer: opts.Sealer, now: opts.Now}
	if _, err := store.EnsureAdmin(ctx, s, opts.Admin); err != nil {
		_ = db.Close()
		return nil, err
	}

	return s, nil
}

// DB returns the underlying connection pool.
func (s *Store) DB() *sqlx.DB {
	return s.db
}

// Close closes the database.
func (s *Store) Close(context.Context) error {
	return s.db.Close()
}

// wrapError converts database errors to store errors
func wrapError(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	return err
}

func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

// withTx runs fn in a transaction. The DSN sets _txlock=immediate, so
// concurrent writers queue on the database lock before reading MAX(id).
func (s *Store) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func nextID(ctx context.Context, tx *sqlx.Tx, table string) (int64, error) {
	var id int64
	err := tx.GetContext(ctx, &id, "SELECT COALESCE(MAX(id), 0) + 1 FROM "+table)
	return id, err
}

// ===== User Methods =====

type userRow struct {
	ID             int64          `db:"id"`
	Username       string         `db:"username"`
	FullName       string         `db:"full_name"`
	EmailEncrypted string         `db:"email_encrypted"`
	EmailIndex     string         `db:"email_index"`
	PasswordHash   string         `db:"password_hash"`
	Role           string         `db:"role"`
	IsVerified     bool           `db:"is_verified"`
	DegreeProgram  sql.NullString `db:"degree_program"`
	Subjects       sql.NullString `db:"subjects"`
	CreatedAt      int64          `db:"created_at"`
}

const userColumns = `id, username, full_name, email_encrypted, email_index, password_hash,
	role, is_verified, degree_program, subjects, created_at`

func (s *Store) toUser(r userRow) (*models.User, error) {
	email, err := s.sealer.Open(r.EmailEncrypted)
	if err != nil {
		return nil, err
	}

	user := &models.User{
		ID:           r.ID,
		Username:     r.Username,
		FullName:     r.FullName,
		Email:        email,
		PasswordHash: r.PasswordHash,
		Role:         models.Role(r.Role),
		IsVerified:   r.IsVerified,
		CreatedAt:    fromMillis(r.CreatedAt),
	}
	if r.DegreeProgram.Valid {
		program := r.DegreeProgram.String
		user.DegreeProgram = &program
	}
	if r.Subjects.Valid {
		if err := json.Unmarshal([]byte(r.Subjects.String), &user.Subjects); err != nil {
			return nil, fmt.Errorf("failed to decode subjects: %w", err)
		}
	}
	return user, nil
}

func (s *Store) getUser(ctx context.Context, q sqlx.QueryerContext, where string, arg any) (*models.User, error) {
	var row userRow
	if err := sqlx.GetContext(ctx, q, &row, "SELECT "+userColumns+" FROM users WHERE "+where, arg); err != nil {
		return nil, wrapError(err)
	}
	return s.toUser(row)
}

// GetUser retrieves a user by ID.
func (s *Store) GetUser(ctx context.Context, id int64) (*models.User, error) {
	return s.getUser(ctx, s.db, "id = ?", id)
}

// GetUserByUsername retrieves a user by username.
func (s *Store) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	return s.getUser(ctx, s.db, "username = ?", username)
}

// GetUserByEmail retrieves a user by email address.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return s.getUser(ctx, s.db, "email_index = ?", s.sealer.Index(email))
}

// CreateUser creates an unverified student account.
func (s *Store) CreateUser(ctx context.Context, data models.NewUser) (*models.User, error) {
	return s.createUser(ctx, data, models.RoleStudent, false)
}

// CreateAdminUser creates a verified admin account.
func (s *Store) CreateAdminUser(ctx context.Context, data models.NewUser) (*models.User, error) {
	return s.createUser(ctx, data, models.RoleAdmin, true)
}

func (s *Store) createUser(ctx context.Context, data models.NewUser, role models.Role, verified bool) (*models.User, error) {
	sealed, err := s.sealer.Seal(data.Email)
	if err != nil {
		return nil, err
	}

	createdAt := s.now().UTC()
	var id int64
	err = s.withTx(ctx, func(tx *sqlx.Tx) error {
		var taken int
		if err := sqlx.GetContext(ctx, tx, &taken,
			"SELECT count(*) FROM users WHERE email_index = ? OR username = ?", sealed.Index, data.Username); err != nil {
			return err
		}
		if taken > 0 {
			return store.ErrConflict
		}
		if id, err = nextID(ctx, tx, "users"); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO users (id, username, full_name, email_encrypted, email_index, password_hash, role, is_verified, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			id, data.Username, data.FullName, sealed.Encrypted, sealed.Index, data.PasswordHash, string(role), verified, toMillis(createdAt))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	return &models.User{
		ID:           id,
		Username:     data.Username,
		FullName:     data.FullName,
		Email:        data.Email,
		PasswordHash: data.PasswordHash,
		Role:         role,
		IsVerified:   verified,
		CreatedAt:    fromMillis(toMillis(createdAt)),
	}, nil
}

// UpdateUser merges update into the user with the given ID.
func (s *Store) UpdateUser(ctx context.Context, id int64, update models.UserUpdate) (*models.User, error) {
	var user *models.User
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		if user, err = s.getUser(ctx, tx, "id = ?", id); err != nil {
			return err
		}
		update.Apply(user)

		var subjects sql.NullString
		if user.Subjects != nil {
			data, err := json.Marshal(user.Subjects)
			if err != nil {
				return err
			}
			subjects = sql.NullString{String: string(data), Valid: true}
		}
		var program sql.NullString
		if user.DegreeProgram != nil {
			program = sql.NullString{String: *user.DegreeProgram, Valid: true}
		}

		_, err = tx.ExecContext(ctx,
			`UPDATE users SET full_name = ?, password_hash = ?, is_verified = ?, degree_program = ?, subjects = ?
			 WHERE id = ?`,
			user.FullName, user.PasswordHash, user.IsVerified, program, subjects, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return user, nil
}

// UpdateUserProfile sets the degree program and subjects of a user.
func (s *Store) UpdateUserProfile(ctx context.Context, id int64, degreeProgram string, subjects []string) (*models.User, error) {
	return s.UpdateUser(ctx, id, store.ProfileUpdate(degreeProgram, subjects))
}

// ===== Pending User Methods =====

type pendingUserRow struct {
	ID             int64  `db:"id"`
	Username       string `db:"username"`
	FullName       string `db:"full_name"`
	EmailEncrypted string `db:"email_encrypted"`
	EmailIndex     string `db:"email_index"`
	PasswordHash   string `db:"password_hash"`
	CreatedAt      int64  `db:"created_at"`
}

// CreatePendingUser stores a pending signup, replacing any previous one for
// the same email.
func (s *Store) CreatePendingUser(ctx context.Context, data models.NewUser) (*models.PendingUser, error) {
	sealed, err := s.sealer.Seal(data.Email)
	if err != nil {
		return nil, err
	}

	createdAt := s.now().UTC()
	var id int64
	err = s.withTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM pending_users WHERE email_index = ?", sealed.Index); err != nil {
			return err
		}
		if id, err = nextID(ctx, tx, "pending_users"); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO pending_users (id, username, full_name, email_encrypted, email_index, password_hash, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			id, data.Username, data.FullName, sealed.Encrypted, sealed.Index, data.PasswordHash, toMillis(createdAt))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create pending user: %w", err)
	}

	return &models.PendingUser{
		ID:           id,
		Username:     data.Username,
		FullName:     data.FullName,
		Email:        data.Email,
		PasswordHash: data.PasswordHash,
		CreatedAt:    fromMillis(toMillis(createdAt)),
	}, nil
}

// GetPendingUserByEmail retrieves the pending signup for email.
func (s *Store) GetPendingUserByEmail(ctx context.Context, email string) (*models.PendingUser, error) {
	var row pendingUserRow
	err := s.db.GetContext(ctx, &row,
		`SELECT id, username, full_name, email_encrypted, email_index, password_hash, created_at
		 FROM pending_users WHERE email_index = ?`, s.sealer.Index(email))
	if err != nil {
		return nil, wrapError(err)
	}

	plain, err := s.sealer.Open(row.EmailEncrypted)
	if err != nil {
		return nil, err
	}
	return &models.PendingUser{
		ID:           row.ID,
		Username:     row.Username,
		FullName:     row.FullName,
		Email:        plain,
		PasswordHash: row.PasswordHash,
		CreatedAt:    fromMillis(row.CreatedAt),
	}, nil
}

// DeletePendingUser removes the pending signup for email, if any.
func (s *Store) DeletePendingUser(ctx context.Context, email string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM pending_users WHERE email_index = ?", s.sealer.Index(email))
	return err
}

// ===== OTP Methods =====

type otpRow struct {
	ID             int64  `db:"id"`
	EmailEncrypted string `db:"email_encrypted"`
	EmailIndex     string `db:"email_index"`
	Code           string `db:"code"`
	ExpiresAt      int64  `db:"expires_at"`
	IsUsed         bool   `db:"is_used"`
	CreatedAt      int64  `db:"created_at"`
}

const otpColumns = "id, email_encrypted, email_index, code, expires_at, is_used, created_at"

func (s *Store) toOtp(r otpRow) (*models.OtpCode, error) {
	email, err := s.sealer.Open(r.EmailEncrypted)
	if err != nil {
		return nil, err
	}
	return &models.OtpCode{
		ID:        r.ID,
		Email:     email,
		Code:      r.Code,
		ExpiresAt: fromMillis(r.ExpiresAt),
		IsUsed:    r.IsUsed,
		CreatedAt: fromMillis(r.CreatedAt),
	}, nil
}

// CreateOtpCode stores a new unused passcode.
func (s *Store) CreateOtpCode(ctx context.Context, data models.NewOtpCode) (*models.OtpCode, error) {
	sealed, err := s.sealer.Seal(data.Email)
	if err != nil {
		return nil, err
	}

	createdAt := s.now().UTC()
	var id int64
	err = s.withTx(ctx, func(tx *sqlx.Tx) error {
		if id, err = nextID(ctx, tx, "otp_codes"); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO otp_codes (id, email_encrypted, email_index, code, expires_at, is_used, created_at)
			 VALUES (?, ?, ?, ?, ?, 0, ?)`,
			id, sealed.Encrypted, sealed.Index, data.Code, toMillis(data.ExpiresAt), toMillis(createdAt))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create otp code: %w", err)
	}

	return &models.OtpCode{
		ID:        id,
		Email:     data.Email,
		Code:      data.Code,
		ExpiresAt: fromMillis(toMillis(data.ExpiresAt)),
		CreatedAt: fromMillis(toMillis(createdAt)),
	}, nil
}

func (s *Store) findOtp(ctx context.Context, email, code string, includeUsed bool) (*models.OtpCode, error) {
	query := "SELECT " + otpColumns + " FROM otp_codes WHERE email_index = ? AND code = ? AND expires_at > ?"
	if !includeUsed {
		query += " AND is_used = 0"
	}
	query += " ORDER BY id LIMIT 1"

	var row otpRow
	if err := s.db.GetContext(ctx, &row, query, s.sealer.Index(email), code, toMillis(s.now())); err != nil {
		return nil, wrapError(err)
	}
	return s.toOtp(row)
}

// GetValidOtpCode returns an unused, unexpired code matching email and code.
func (s *Store) GetValidOtpCode(ctx context.Context, email, code string) (*models.OtpCode, error) {
	return s.findOtp(ctx, email, code, false)
}

// CheckOtpCodeValidity returns an unexpired code matching email and code,
// whether or not it has been used.
func (s *Store) CheckOtpCodeValidity(ctx context.Context, email, code string) (*models.OtpCode, error) {
	return s.findOtp(ctx, email, code, true)
}

// ListOtpCodes returns every stored code for email in creation order.
func (s *Store) ListOtpCodes(ctx context.Context, email string) ([]models.OtpCode, error) {
	var rows []otpRow
	err := s.db.SelectContext(ctx, &rows,
		"SELECT "+otpColumns+" FROM otp_codes WHERE email_index = ? ORDER BY id", s.sealer.Index(email))
	if err != nil {
		return nil, err
	}

	codes := make([]models.OtpCode, 0, len(rows))
	for _, r := range rows {
		otp, err := s.toOtp(r)
		if err != nil {
			return nil, err
		}
		codes = append(codes, *otp)
	}
	return codes, nil
}

// MarkOtpAsUsed flags a code as consumed. Unknown IDs are ignored.
func (s *Store) MarkOtpAsUsed(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, "UPDATE otp_codes SET is_used = 1 WHERE id = ?", id)
	return err
}

// CleanupExpiredOtps deletes every expired code.
func (s *Store) CleanupExpiredOtps(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM otp_codes WHERE expires_at <= ?", toMillis(s.now()))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
