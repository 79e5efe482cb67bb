// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package mongostore_test

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"codeberg.org/oliverandrich/student-portal/internal/models"
	"codeberg.org/oliverandrich/student-portal/internal/store"
	"codeberg.org/oliverandrich/student-portal/internal/store/filestore"
	"codeberg.org/oliverandrich/student-portal/internal/store/mongostore"
	"codeberg.org/oliverandrich/student-portal/internal/store/storetest"
	"codeberg.org/oliverandrich/student-portal/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Nothing listens on port 1, so Ping fails fast.
const unreachableURI = "mongodb://127.0.0.1:1/?connect=direct"

func newFallback(t *testing.T, sealer *store.Sealer, now func() time.Time) store.Store {
	t.Helper()
	fb, err := filestore.New(context.Background(), filestore.Options{Dir: t.TempDir(), Sealer: sealer, Now: now})
	require.NoError(t, err)
	return fb
}

func TestNew_RequiresFallback(t *testing.T) {
	_, err := mongostore.New(context.Background(), mongostore.Options{
		URI:    unreachableURI,
		Sealer: testutil.NewTestSealer(t),
	})

	require.Error(t, err)
}

func TestNew_UnreachableFallsBack(t *testing.T) {
	ctx := context.Background()
	sealer := testutil.NewTestSealer(t)
	fallback := newFallback(t, sealer, nil)

	s, err := mongostore.New(ctx, mongostore.Options{
		URI:            unreachableURI,
		ConnectTimeout: 200 * time.Millisecond,
		Sealer:         sealer,
		Fallback:       fallback,
	})
	require.NoError(t, err)
	assert.False(t, s.Connected())

	created, err := s.CreateUser(ctx, models.NewUser{Username: "alice", Email: "alice@vu.edu.pk", PasswordHash: "hash"})
	require.NoError(t, err)

	fromFallback, err := fallback.GetUserByEmail(ctx, "alice@vu.edu.pk")
	require.NoError(t, err)
	assert.Equal(t, created.ID, fromFallback.ID)

	require.NoError(t, s.Close(ctx))
}

func TestNew_InvalidURIFallsBack(t *testing.T) {
	sealer := testutil.NewTestSealer(t)

	s, err := mongostore.New(context.Background(), mongostore.Options{
		URI:      "not-a-mongo-uri",
		Sealer:   sealer,
		Fallback: newFallback(t, sealer, nil),
	})

	require.NoError(t, err)
	assert.False(t, s.Connected())
}

func TestConformance_Fallback(t *testing.T) {
	storetest.Run(t, func(t *testing.T, now func() time.Time) store.Store {
		sealer := testutil.NewTestSealer(t)
		s, err := mongostore.New(context.Background(), mongostore.Options{
			URI:            unreachableURI,
			ConnectTimeout: 100 * time.Millisecond,
			Sealer:         sealer,
			Fallback:       newFallback(t, sealer, now),
			Now:            now,
		})
		require.NoError(t, err)
		return s
	})
}

// TestConformance_Live runs against a real server when
// STUDENT_PORTAL_TEST_MONGO_URI is set.
func TestConformance_Live(t *testing.T) {
	uri := os.Getenv("STUDENT_PORTAL_TEST_MONGO_URI")
	if uri == "" {
		t.Skip("STUDENT_PORTAL_TEST_MONGO_URI not set")
	}

	storetest.Run(t, func(t *testing.T, now func() time.Time) store.Store {
		sealer := testutil.NewTestSealer(t)
		s, err := mongostore.New(context.Background(), mongostore.Options{
			URI:      uri,
			Database: fmt.Sprintf("student_portal_test_%d", time.Now().UnixNano()),
			Sealer:   sealer,
			Fallback: newFallback(t, sealer, now),
			Now:      now,
		})
		require.NoError(t, err)
		require.True(t, s.Connected())
		t.Cleanup(func() {
			_ = s.Drop(context.Background())
			_ = s.Close(context.Background())
		})
		return s
	})
}
