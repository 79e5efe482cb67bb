// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package sqlstore_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"codeberg.org/oliverandrich/student-portal/internal/models"
	"codeberg.org/oliverandrich/student-portal/internal/store"
	"codeberg.org/oliverandrich/student-portal/internal/store/sqlstore"
	"codeberg.org/oliverandrich/student-portal/internal/store/storetest"
	"codeberg.org/oliverandrich/student-portal/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T, opts sqlstore.Options) *sqlstore.Store {
	t.Helper()
	if opts.Sealer == nil {
		opts.Sealer = testutil.NewTestSealer(t)
	}
	s, err := sqlstore.New(context.Background(), opts)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = s.Close(context.Background())
	})
	return s
}

func TestConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T, now func() time.Time) store.Store {
		return newStore(t, sqlstore.Options{DSN: ":memory:", Now: now})
	})
}

// A file database uses a connection pool, so concurrent writers really race.
func TestConformance_FileDatabase(t *testing.T) {
	storetest.Run(t, func(t *testing.T, now func() time.Time) store.Store {
		return newStore(t, sqlstore.Options{DSN: filepath.Join(t.TempDir(), "accounts.db"), Now: now})
	})
}

func TestOpen_MigrationsApplied(t *testing.T) {
	db, err := sqlstore.Open(context.Background(), ":memory:")
	require.NoError(t, err)
	defer func() {
		_ = db.Close()
	}()

	for _, table := range []string{"users", "pending_users", "otp_codes"} {
		var count int64
		err = db.Get(&count, "SELECT count(*) FROM sqlite_master WHERE type='table' AND name=?", table)
		require.NoError(t, err)
		assert.Equal(t, int64(1), count, table)
	}
}

func TestOpen_FileDatabase(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "subdir", "accounts.db")

	db, err := sqlstore.Open(context.Background(), dbPath)
	require.NoError(t, err)
	defer func() {
		_ = db.Close()
	}()

	var journalMode string
	require.NoError(t, db.Get(&journalMode, "PRAGMA journal_mode"))
	assert.Equal(t, "wal", journalMode)
}

func TestEmailIsSealedAtRest(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, sqlstore.Options{DSN: ":memory:"})

	_, err := s.CreateUser(ctx, models.NewUser{Username: "alice", Email: "alice@vu.edu.pk", PasswordHash: "hash"})
	require.NoError(t, err)

	var stored string
	require.NoError(t, s.DB().Get(&stored, "SELECT email_encrypted FROM users WHERE username = 'alice'"))
	assert.NotContains(t, stored, "alice@vu.edu.pk")

	var plaintextHits int64
	require.NoError(t, s.DB().Get(&plaintextHits,
		"SELECT count(*) FROM users WHERE email_encrypted LIKE '%vu.edu.pk%' OR email_index LIKE '%vu.edu.pk%'"))
	assert.Zero(t, plaintextHits)
}

func TestSeedsAdminOnce(t *testing.T) {
	ctx := context.Background()
	dsn := filepath.Join(t.TempDir(), "accounts.db")
	sealer := testutil.NewTestSealer(t)
	admin := store.BootstrapAdmin{Email: "admin@vu.edu.pk", Username: "admin", FullName: "Administrator", PasswordHash: "$2a$10$admin"}

	first := newStore(t, sqlstore.Options{DSN: dsn, Sealer: sealer, Admin: admin})
	require.NoError(t, first.Close(ctx))
	s := newStore(t, sqlstore.Options{DSN: dsn, Sealer: sealer, Admin: admin})

	var count int64
	require.NoError(t, s.DB().Get(&count, "SELECT count(*) FROM users"))
	assert.Equal(t, int64(1), count)

	user, err := s.GetUserByEmail(ctx, "admin@vu.edu.pk")
	require.NoError(t, err)
	assert.Equal(t, models.RoleAdmin, user.Role)
	assert.True(t, user.IsVerified)
}
