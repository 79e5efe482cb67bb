// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

// Package filestore is the local-file storage engine. Each collection lives
// in its own JSON file inside a data directory and is rewritten in full on
// every mutation of that collection.
package filestore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"codeberg.org/oliverandrich/student-portal/internal/cryptox"
	"codeberg.org/oliverandrich/student-portal/internal/models"
	"codeberg.org/oliverandrich/student-portal/internal/store"
	"github.com/samber/lo"
)

// Collection file names inside the data directory.
const (
	UsersFile        = "users.json"
	PendingUsersFile = "pending_users.json"
	OtpCodesFile     = "otp_codes.json"
)

type userEntry struct {
	sealed store.SealedEmail
	user   models.User
}

type pendingEntry struct {
	sealed  store.SealedEmail
	pending models.PendingUser
}

type otpEntry struct {
	sealed store.SealedEmail
	otp    models.OtpCode
}

// Options configures a Store.
type Options struct {
	Dir    string
	Sealer *store.Sealer
	Admin  store.BootstrapAdmin
	Now    func() time.Time
}

// Store implements store.Store on JSON files.
//
// All mutations hold mu for the whole read-modify-write cycle, so id
// allocation (max id + 1) cannot hand out the same id twice.
type Store struct {
	sealer  *store.Sealer
	now     func() time.Time
	dir     string
	users   []userEntry
	pending []pendingEntry
	otps    []otpEntry
	mu      sync.RWMutex
}

var _ store.Store = (*Store)(nil)

// New loads the collections from opts.Dir and seeds the bootstrap admin.
func New(ctx context.Context, opts Options) (*Store, error) {
	if opts.Sealer == nil {
		return nil, fmt.Errorf("filestore: sealer is required")
	}
	if opts.Dir == "" {
		opts.Dir = "./data"
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if err := os.MkdirAll(opts.Dir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	s := &Store{
		sealer: opts.Sealer,
		now:    opts.Now,
		dir:    opts.Dir,
	}
	if err := s.load(); err != nil {
		return nil, err
	}

	if _, err := store.EnsureAdmin(ctx, s, opts.Admin); err != nil {
		return nil, err
	}

	return s, nil
}

func (s *Store) path(name string) string {
	return filepath.Join(s.dir, name)
}

// openEmail recovers the plaintext of a stored email and returns its
// current sealed form. resealed is true when that form differs from what is
// on disk: plaintext-only records, legacy ciphertext, and records whose
// ciphertext no longer opens but still carry the plaintext address.
func (s *Store) openEmail(plain, encrypted string) (email string, sealed store.SealedEmail, resealed bool, err error) {
	if encrypted == "" && cryptox.IsEncrypted(plain) {
		encrypted, plain = plain, ""
	}
	if encrypted == "" {
		sealed, err = s.sealer.Seal(plain)
		return plain, sealed, true, err
	}

	email, err = s.sealer.Open(encrypted)
	switch {
	case err == nil && cryptox.IsLegacy(encrypted):
		sealed, err = s.sealer.Seal(email)
		return email, sealed, true, err
	case err == nil:
		return email, store.SealedEmail{Encrypted: encrypted, Index: s.sealer.Index(email)}, false, nil
	case plain != "":
		slog.Warn("email_resealed", "reason", err)
		sealed, err = s.sealer.Seal(plain)
		return plain, sealed, true, err
	default:
		return "", store.SealedEmail{}, false, err
	}
}

func (s *Store) load() error {
	users, dirtyUsers, err := loadEntries(s.path(UsersFile), func(r userRecord) (userEntry, bool, error) {
		email, sealed, resealed, err := s.openEmail(r.Email, r.EmailEncrypted)
		return userEntry{sealed: sealed, user: models.User{
			ID:            r.ID,
			Username:      r.Username,
			FullName:      r.FullName,
			Email:         email,
			PasswordHash:  r.Password,
			Role:          r.Role,
			IsVerified:    r.IsVerified || r.Role == models.RoleAdmin,
			DegreeProgram: r.DegreeProgram,
			Subjects:      r.Subjects,
			CreatedAt:     r.CreatedAt,
		}}, resealed, err
	})
	if err != nil {
		return err
	}

	pending, dirtyPending, err := loadEntries(s.path(PendingUsersFile), func(r pendingUserRecord) (pendingEntry, bool, error) {
		email, sealed, resealed, err := s.openEmail(r.Email, r.EmailEncrypted)
		return pendingEntry{sealed: sealed, pending: models.PendingUser{
			ID:           r.ID,
			Username:     r.Username,
			FullName:     r.FullName,
			Email:        email,
			PasswordHash: r.Password,
			CreatedAt:    r.CreatedAt,
		}}, resealed, err
	})
	if err != nil {
		return err
	}

	otps, dirtyOtps, err := loadEntries(s.path(OtpCodesFile), func(r otpRecord) (otpEntry, bool, error) {
		email, sealed, resealed, err := s.openEmail(r.Email, r.EmailEncrypted)
		return otpEntry{sealed: sealed, otp: models.OtpCode{
			ID:        r.ID,
			Email:     email,
			Code:      r.Code,
			ExpiresAt: r.ExpiresAt,
			IsUsed:    r.IsUsed,
			CreatedAt: r.CreatedAt,
		}}, resealed, err
	})
	if err != nil {
		return err
	}

	s.users, s.pending, s.otps = users, pending, otps

	// Rewrite migrated collections now so no plaintext stays on disk.
	if dirtyUsers {
		if err := s.saveUsers(users); err != nil {
			return err
		}
	}
	if dirtyPending {
		if err := s.savePending(pending); err != nil {
			return err
		}
	}
	if dirtyOtps {
		if err := s.saveOtps(otps); err != nil {
			return err
		}
	}
	return nil
}

// loadEntries reads path and converts every record. A record that cannot be
// converted quarantines the file and the collection starts empty, except
// when its ciphertext fails authentication: that points at a wrong key and
// is returned as an error, leaving the file in place.
func loadEntries[R, E any](path string, convert func(R) (E, bool, error)) ([]E, bool, error) {
	records := readCollection[R](path)
	entries := make([]E, 0, len(records))
	dirty := false
	for _, r := range records {
		e, resealed, err := convert(r)
		if errors.Is(err, cryptox.ErrAuthentication) {
			return nil, false, fmt.Errorf("failed to load %s (wrong encryption key?): %w", filepath.Base(path), err)
		}
		if err != nil {
			quarantine(path, err)
			return nil, false, nil
		}
		dirty = dirty || resealed
		entries = append(entries, e)
	}
	return entries, dirty, nil
}

func (s *Store) saveUsers(entries []userEntry) error {
	return writeCollection(s.path(UsersFile), lo.Map(entries, func(e userEntry, _ int) userRecord {
		return userRecord{
			ID:             e.user.ID,
			Username:       e.user.Username,
			FullName:       e.user.FullName,
			EmailEncrypted: e.sealed.Encrypted,
			EmailIndex:     e.sealed.Index,
			Password:       e.user.PasswordHash,
			Role:           e.user.Role,
			IsVerified:     e.user.IsVerified,
			DegreeProgram:  e.user.DegreeProgram,
			Subjects:       e.user.Subjects,
			CreatedAt:      e.user.CreatedAt,
		}
	}))
}

func (s *Store) savePending(entries []pendingEntry) error {
	return writeCollection(s.path(PendingUsersFile), lo.Map(entries, func(e pendingEntry, _ int) pendingUserRecord {
		return pendingUserRecord{
			ID:             e.pending.ID,
			Username:       e.pending.Username,
			FullName:       e.pending.FullName,
			EmailEncrypted: e.sealed.Encrypted,
			EmailIndex:     e.sealed.Index,
			Password:       e.pending.PasswordHash,
			CreatedAt:      e.pending.CreatedAt,
		}
	}))
}

func (s *Store) saveOtps(entries []otpEntry) error {
	return writeCollection(s.path(OtpCodesFile), lo.Map(entries, func(e otpEntry, _ int) otpRecord {
		return otpRecord{
			ID:             e.otp.ID,
			EmailEncrypted: e.sealed.Encrypted,
			EmailIndex:     e.sealed.Index,
			Code:           e.otp.Code,
			ExpiresAt:      e.otp.ExpiresAt,
			IsUsed:         e.otp.IsUsed,
			CreatedAt:      e.otp.CreatedAt,
		}
	}))
}

func nextID(ids []int64) int64 {
	return lo.Max(ids) + 1
}

func cloneUser(u models.User) *models.User {
	if u.DegreeProgram != nil {
		program := *u.DegreeProgram
		u.DegreeProgram = &program
	}
	u.Subjects = slices.Clone(u.Subjects)
	return &u
}

// ===== User Methods =====

func (s *Store) findUser(match func(models.User) bool) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := lo.Find(s.users, func(e userEntry) bool { return match(e.user) })
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneUser(entry.user), nil
}

// GetUser retrieves a user by ID.
func (s *Store) GetUser(_ context.Context, id int64) (*models.User, error) {
	return s.findUser(func(u models.User) bool { return u.ID == id })
}

// GetUserByUsername retrieves a user by username.
func (s *Store) GetUserByUsername(_ context.Context, username string) (*models.User, error) {
	return s.findUser(func(u models.User) bool { return u.Username == username })
}

// GetUserByEmail retrieves a user by email address.
func (s *Store) GetUserByEmail(_ context.Context, email string) (*models.User, error) {
	return s.findUser(func(u models.User) bool { return u.Email == email })
}

// CreateUser creates an unverified student account.
func (s *Store) CreateUser(_ context.Context, data models.NewUser) (*models.User, error) {
	return s.createUser(data, models.RoleStudent, false)
}

// CreateAdminUser creates a verified admin account.
func (s *Store) CreateAdminUser(_ context.Context, data models.NewUser) (*models.User, error) {
	return s.createUser(data, models.RoleAdmin, true)
}

func (s *Store) createUser(data models.NewUser, role models.Role, verified bool) (*models.User, error) {
	sealed, err := s.sealer.Seal(data.Email)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if lo.ContainsBy(s.users, func(e userEntry) bool {
		return e.user.Email == data.Email || e.user.Username == data.Username
	}) {
		return nil, store.ErrConflict
	}

	user := models.User{
		ID:           nextID(lo.Map(s.users, func(e userEntry, _ int) int64 { return e.user.ID })),
		Username:     data.Username,
		FullName:     data.FullName,
		Email:        data.Email,
		PasswordHash: data.PasswordHash,
		Role:         role,
		IsVerified:   verified,
		CreatedAt:    s.now().UTC(),
	}

	next := append(slices.Clone(s.users), userEntry{sealed: sealed, user: user})
	if err := s.saveUsers(next); err != nil {
		return nil, err
	}
	s.users = next

	return cloneUser(user), nil
}

// UpdateUser merges update into the user with the given ID.
func (s *Store) UpdateUser(_ context.Context, id int64, update models.UserUpdate) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, index, ok := lo.FindIndexOf(s.users, func(e userEntry) bool { return e.user.ID == id })
	if !ok {
		return nil, store.ErrNotFound
	}

	next := slices.Clone(s.users)
	updated := *cloneUser(next[index].user)
	update.Apply(&updated)
	next[index].user = updated

	if err := s.saveUsers(next); err != nil {
		return nil, err
	}
	s.users = next

	return cloneUser(updated), nil
}

// UpdateUserProfile sets the degree program and subjects of a user.
func (s *Store) UpdateUserProfile(ctx context.Context, id int64, degreeProgram string, subjects []string) (*models.User, error) {
	return s.UpdateUser(ctx, id, store.ProfileUpdate(degreeProgram, subjects))
}

// ===== Pending User Methods =====

// CreatePendingUser stores a pending signup, replacing any previous one for
// the same email.
func (s *Store) CreatePendingUser(_ context.Context, data models.NewUser) (*models.PendingUser, error) {
	sealed, err := s.sealer.Seal(data.Email)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	pending := models.PendingUser{
		ID:           nextID(lo.Map(s.pending, func(e pendingEntry, _ int) int64 { return e.pending.ID })),
		Username:     data.Username,
		FullName:     data.FullName,
		Email:        data.Email,
		PasswordHash: data.PasswordHash,
		CreatedAt:    s.now().UTC(),
	}

	next := lo.Reject(s.pending, func(e pendingEntry, _ int) bool { return e.pending.Email == data.Email })
	next = append(next, pendingEntry{sealed: sealed, pending: pending})
	if err := s.savePending(next); err != nil {
		return nil, err
	}
	s.pending = next

	return &pending, nil
}

// GetPendingUserByEmail retrieves the pending signup for email.
func (s *Store) GetPendingUserByEmail(_ context.Context, email string) (*models.PendingUser, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := lo.Find(s.pending, func(e pendingEntry) bool { return e.pending.Email == email })
	if !ok {
		return nil, store.ErrNotFound
	}
	pending := entry.pending
	return &pending, nil
}

// DeletePendingUser removes the pending signup for email, if any.
func (s *Store) DeletePendingUser(_ context.Context, email string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := lo.Reject(s.pending, func(e pendingEntry, _ int) bool { return e.pending.Email == email })
	if len(next) == len(s.pending) {
		return nil
	}
	if err := s.savePending(next); err != nil {
		return err
	}
	s.pending = next
	return nil
}

// ===== OTP Methods =====

// CreateOtpCode stores a new unused passcode.
func (s *Store) CreateOtpCode(_ context.Context, data models.NewOtpCode) (*models.OtpCode, error) {
	sealed, err := s.sealer.Seal(data.Email)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	otp := models.OtpCode{
		ID:        nextID(lo.Map(s.otps, func(e otpEntry, _ int) int64 { return e.otp.ID })),
		Email:     data.Email,
		Code:      data.Code,
		ExpiresAt: data.ExpiresAt.UTC(),
		IsUsed:    false,
		CreatedAt: s.now().UTC(),
	}

	next := append(slices.Clone(s.otps), otpEntry{sealed: sealed, otp: otp})
	if err := s.saveOtps(next); err != nil {
		return nil, err
	}
	s.otps = next

	return &otp, nil
}

func (s *Store) findOtp(match func(models.OtpCode) bool) (*models.OtpCode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := lo.Find(s.otps, func(e otpEntry) bool { return match(e.otp) })
	if !ok {
		return nil, store.ErrNotFound
	}
	otp := entry.otp
	return &otp, nil
}

// GetValidOtpCode returns an unused, unexpired code matching email and code.
func (s *Store) GetValidOtpCode(_ context.Context, email, code string) (*models.OtpCode, error) {
	now := s.now()
	return s.findOtp(func(o models.OtpCode) bool { return o.Matches(email, code) && o.Valid(now) })
}

// CheckOtpCodeValidity returns an unexpired code matching email and code,
// whether or not it has been used.
func (s *Store) CheckOtpCodeValidity(_ context.Context, email, code string) (*models.OtpCode, error) {
	now := s.now()
	return s.findOtp(func(o models.OtpCode) bool { return o.Matches(email, code) && !o.Expired(now) })
}

// ListOtpCodes returns every stored code for email in creation order.
func (s *Store) ListOtpCodes(_ context.Context, email string) ([]models.OtpCode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return lo.FilterMap(s.otps, func(e otpEntry, _ int) (models.OtpCode, bool) {
		return e.otp, e.otp.Email == email
	}), nil
}

// MarkOtpAsUsed flags a code as consumed. Unknown IDs are ignored.
func (s *Store) MarkOtpAsUsed(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, index, ok := lo.FindIndexOf(s.otps, func(e otpEntry) bool { return e.otp.ID == id })
	if !ok || s.otps[index].otp.IsUsed {
		return nil
	}

	next := slices.Clone(s.otps)
	next[index].otp.IsUsed = true
	if err := s.saveOtps(next); err != nil {
		return err
	}
	s.otps = next
	return nil
}

// CleanupExpiredOtps deletes every expired code.
func (s *Store) CleanupExpiredOtps(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	next := lo.Reject(s.otps, func(e otpEntry, _ int) bool { return e.otp.Expired(now) })
	removed := int64(len(s.otps) - len(next))
	if removed == 0 {
		return 0, nil
	}
	if err := s.saveOtps(next); err != nil {
		return 0, err
	}
	s.otps = next
	return removed, nil
}

// Close is a no-op; every mutation is already on disk.
func (s *Store) Close(context.Context) error {
	return nil
}
