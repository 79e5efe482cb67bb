// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

// Package storetest holds the behaviour every storage engine must share.
// Engine packages call Run from their own tests.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"codeberg.org/oliverandrich/student-portal/internal/models"
	"codeberg.org/oliverandrich/student-portal/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Clock is a manually advanced time source.
type Clock struct {
	now time.Time
	mu  sync.Mutex
}

// NewClock returns a clock fixed at a whole second.
func NewClock() *Clock {
	return &Clock{now: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)}
}

// Now returns the current clock time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Factory opens an empty store reading time from now.
type Factory func(t *testing.T, now func() time.Time) store.Store

// Run executes the shared store tests against the engine built by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Helper()

	tests := []struct {
		name string
		fn   func(*testing.T, store.Store, *Clock)
	}{
		{"CreateUser", testCreateUser},
		{"CreateUserSequentialIDs", testSequentialIDs},
		{"CreateAdminUser", testCreateAdminUser},
		{"DuplicateEmail", testDuplicateEmail},
		{"DuplicateUsername", testDuplicateUsername},
		{"ConcurrentCreates", testConcurrentCreates},
		{"GetUserNotFound", testGetUserNotFound},
		{"UpdateUser", testUpdateUser},
		{"UpdateUserNotFound", testUpdateUserNotFound},
		{"UpdateUserProfile", testUpdateUserProfile},
		{"ReturnedUserIsCopy", testReturnedUserIsCopy},
		{"PendingUserSupersede", testPendingUserSupersede},
		{"DeletePendingUser", testDeletePendingUser},
		{"OtpValidity", testOtpValidity},
		{"OtpExpiry", testOtpExpiry},
		{"MarkOtpAsUsed", testMarkOtpAsUsed},
		{"CleanupExpiredOtps", testCleanupExpiredOtps},
		{"ListOtpCodes", testListOtpCodes},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock := NewClock()
			s := newStore(t, clock.Now)
			tt.fn(t, s, clock)
		})
	}
}

func newUser(name string) models.NewUser {
	return models.NewUser{
		Username:     name,
		FullName:     name + " Example",
		Email:        name + "@vu.edu.pk",
		PasswordHash: "$2a$10$hash-of-" + name,
	}
}

func testCreateUser(t *testing.T, s store.Store, clock *Clock) {
	ctx := context.Background()

	user, err := s.CreateUser(ctx, newUser("alice"))
	require.NoError(t, err)

	assert.Equal(t, int64(1), user.ID)
	assert.Equal(t, "alice", user.Username)
	assert.Equal(t, "alice Example", user.FullName)
	assert.Equal(t, "alice@vu.edu.pk", user.Email)
	assert.Equal(t, "$2a$10$hash-of-alice", user.PasswordHash)
	assert.Equal(t, models.RoleStudent, user.Role)
	assert.False(t, user.IsVerified)
	assert.Nil(t, user.DegreeProgram)
	assert.Empty(t, user.Subjects)
	assert.WithinDuration(t, clock.Now(), user.CreatedAt, time.Second)

	byEmail, err := s.GetUserByEmail(ctx, "alice@vu.edu.pk")
	require.NoError(t, err)
	assert.Equal(t, user.ID, byEmail.ID)

	byName, err := s.GetUserByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, user.ID, byName.ID)

	byID, err := s.GetUser(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice@vu.edu.pk", byID.Email)
}

func testSequentialIDs(t *testing.T, s store.Store, _ *Clock) {
	ctx := context.Background()

	for i, name := range []string{"a", "b", "c"} {
		user, err := s.CreateUser(ctx, newUser(name))
		require.NoError(t, err)
		assert.Equal(t, int64(i+1), user.ID)
	}

	first, err := s.CreateOtpCode(ctx, models.NewOtpCode{Email: "a@vu.edu.pk", Code: "111111", ExpiresAt: time.Now().Add(time.Hour)})
	require.NoError(t, err)
	second, err := s.CreateOtpCode(ctx, models.NewOtpCode{Email: "a@vu.edu.pk", Code: "222222", ExpiresAt: time.Now().Add(time.Hour)})
	require.NoError(t, err)
	assert.Equal(t, int64(1), first.ID)
	assert.Equal(t, int64(2), second.ID)
}

func testCreateAdminUser(t *testing.T, s store.Store, _ *Clock) {
	ctx := context.Background()

	admin, err := s.CreateAdminUser(ctx, newUser("admin"))
	require.NoError(t, err)

	assert.Equal(t, models.RoleAdmin, admin.Role)
	assert.True(t, admin.IsVerified)

	unverified := false
	updated, err := s.UpdateUser(ctx, admin.ID, models.UserUpdate{IsVerified: &unverified})
	require.NoError(t, err)
	assert.True(t, updated.IsVerified)
}

func testDuplicateEmail(t *testing.T, s store.Store, _ *Clock) {
	ctx := context.Background()
	_, err := s.CreateUser(ctx, newUser("alice"))
	require.NoError(t, err)

	dup := newUser("alice2")
	dup.Email = "alice@vu.edu.pk"
	_, err = s.CreateUser(ctx, dup)
	require.ErrorIs(t, err, store.ErrConflict)

	_, err = s.CreateAdminUser(ctx, dup)
	require.ErrorIs(t, err, store.ErrConflict)

	_, err = s.GetUserByUsername(ctx, "alice2")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func testDuplicateUsername(t *testing.T, s store.Store, _ *Clock) {
	ctx := context.Background()
	_, err := s.CreateUser(ctx, newUser("alice"))
	require.NoError(t, err)

	dup := newUser("alice")
	dup.Email = "other@vu.edu.pk"
	_, err = s.CreateUser(ctx, dup)
	require.ErrorIs(t, err, store.ErrConflict)

	_, err = s.GetUserByEmail(ctx, "other@vu.edu.pk")
	require.ErrorIs(t, err, store.ErrNotFound)

	next, err := s.CreateUser(ctx, newUser("bob"))
	require.NoError(t, err)
	assert.Equal(t, int64(2), next.ID, "a rejected create does not use up an id")
}

func testConcurrentCreates(t *testing.T, s store.Store, clock *Clock) {
	ctx := context.Background()

	const n = 10
	otpIDs := make([]int64, n)
	userIDs := make([]int64, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(2)
		go func() {
			defer wg.Done()
			otp, err := s.CreateOtpCode(ctx, models.NewOtpCode{
				Email:     "alice@vu.edu.pk",
				Code:      "123456",
				ExpiresAt: clock.Now().Add(time.Hour),
			})
			if assert.NoError(t, err) {
				otpIDs[i] = otp.ID
			}
		}()
		go func() {
			defer wg.Done()
			user, err := s.CreateUser(ctx, newUser(fmt.Sprintf("user%d", i)))
			if assert.NoError(t, err) {
				userIDs[i] = user.ID
			}
		}()
	}
	wg.Wait()

	want := []int64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	assert.ElementsMatch(t, want, otpIDs)
	assert.ElementsMatch(t, want, userIDs)
}

func testGetUserNotFound(t *testing.T, s store.Store, _ *Clock) {
	ctx := context.Background()

	_, err := s.GetUser(ctx, 42)
	require.ErrorIs(t, err, store.ErrNotFound)

	_, err = s.GetUserByEmail(ctx, "nobody@vu.edu.pk")
	require.ErrorIs(t, err, store.ErrNotFound)

	_, err = s.GetUserByUsername(ctx, "nobody")
	require.ErrorIs(t, err, store.ErrNotFound)

	_, err = s.GetPendingUserByEmail(ctx, "nobody@vu.edu.pk")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func testUpdateUser(t *testing.T, s store.Store, _ *Clock) {
	ctx := context.Background()
	user, err := s.CreateUser(ctx, newUser("alice"))
	require.NoError(t, err)

	verified := true
	hash := "$2a$10$new-hash"
	updated, err := s.UpdateUser(ctx, user.ID, models.UserUpdate{IsVerified: &verified, PasswordHash: &hash})
	require.NoError(t, err)

	assert.True(t, updated.IsVerified)
	assert.Equal(t, hash, updated.PasswordHash)
	assert.Equal(t, "alice Example", updated.FullName, "unset fields are unchanged")

	reloaded, err := s.GetUserByEmail(ctx, "alice@vu.edu.pk")
	require.NoError(t, err)
	assert.True(t, reloaded.IsVerified)
	assert.Equal(t, hash, reloaded.PasswordHash)
}

func testUpdateUserNotFound(t *testing.T, s store.Store, _ *Clock) {
	verified := true

	_, err := s.UpdateUser(context.Background(), 99, models.UserUpdate{IsVerified: &verified})

	require.ErrorIs(t, err, store.ErrNotFound)
}

func testUpdateUserProfile(t *testing.T, s store.Store, _ *Clock) {
	ctx := context.Background()
	user, err := s.CreateUser(ctx, newUser("alice"))
	require.NoError(t, err)

	updated, err := s.UpdateUserProfile(ctx, user.ID, "BSCS", []string{"CS101", "MTH101"})
	require.NoError(t, err)
	require.NotNil(t, updated.DegreeProgram)
	assert.Equal(t, "BSCS", *updated.DegreeProgram)
	assert.Equal(t, []string{"CS101", "MTH101"}, updated.Subjects)

	reloaded, err := s.GetUser(ctx, user.ID)
	require.NoError(t, err)
	require.NotNil(t, reloaded.DegreeProgram)
	assert.Equal(t, "BSCS", *reloaded.DegreeProgram)
	assert.Equal(t, []string{"CS101", "MTH101"}, reloaded.Subjects)

	_, err = s.UpdateUserProfile(ctx, 99, "BSCS", []string{"CS101"})
	require.ErrorIs(t, err, store.ErrNotFound)
}

func testReturnedUserIsCopy(t *testing.T, s store.Store, _ *Clock) {
	ctx := context.Background()
	user, err := s.CreateUser(ctx, newUser("alice"))
	require.NoError(t, err)
	_, err = s.UpdateUserProfile(ctx, user.ID, "BSCS", []string{"CS101"})
	require.NoError(t, err)

	first, err := s.GetUser(ctx, user.ID)
	require.NoError(t, err)
	first.Subjects[0] = "tampered"
	*first.DegreeProgram = "tampered"
	first.FullName = "tampered"

	second, err := s.GetUser(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"CS101"}, second.Subjects)
	assert.Equal(t, "BSCS", *second.DegreeProgram)
	assert.Equal(t, "alice Example", second.FullName)
}

func testPendingUserSupersede(t *testing.T, s store.Store, _ *Clock) {
	ctx := context.Background()

	_, err := s.CreatePendingUser(ctx, newUser("alice"))
	require.NoError(t, err)

	again := newUser("alice")
	again.FullName = "Alice Second"
	again.PasswordHash = "$2a$10$second"
	_, err = s.CreatePendingUser(ctx, again)
	require.NoError(t, err)

	pending, err := s.GetPendingUserByEmail(ctx, "alice@vu.edu.pk")
	require.NoError(t, err)
	assert.Equal(t, "Alice Second", pending.FullName)
	assert.Equal(t, "$2a$10$second", pending.PasswordHash)

	require.NoError(t, s.DeletePendingUser(ctx, "alice@vu.edu.pk"))
	_, err = s.GetPendingUserByEmail(ctx, "alice@vu.edu.pk")
	require.ErrorIs(t, err, store.ErrNotFound, "only one pending record per email")
}

func testDeletePendingUser(t *testing.T, s store.Store, _ *Clock) {
	ctx := context.Background()
	_, err := s.CreatePendingUser(ctx, newUser("alice"))
	require.NoError(t, err)
	_, err = s.CreatePendingUser(ctx, newUser("bob"))
	require.NoError(t, err)

	require.NoError(t, s.DeletePendingUser(ctx, "alice@vu.edu.pk"))
	require.NoError(t, s.DeletePendingUser(ctx, "alice@vu.edu.pk"), "deleting twice is not an error")

	_, err = s.GetPendingUserByEmail(ctx, "alice@vu.edu.pk")
	require.ErrorIs(t, err, store.ErrNotFound)
	_, err = s.GetPendingUserByEmail(ctx, "bob@vu.edu.pk")
	require.NoError(t, err)
}

func testOtpValidity(t *testing.T, s store.Store, clock *Clock) {
	ctx := context.Background()
	otp, err := s.CreateOtpCode(ctx, models.NewOtpCode{
		Email:     "alice@vu.edu.pk",
		Code:      "123456",
		ExpiresAt: clock.Now().Add(10 * time.Minute),
	})
	require.NoError(t, err)
	assert.False(t, otp.IsUsed)

	found, err := s.GetValidOtpCode(ctx, "alice@vu.edu.pk", "123456")
	require.NoError(t, err)
	assert.Equal(t, otp.ID, found.ID)

	_, err = s.GetValidOtpCode(ctx, "alice@vu.edu.pk", "654321")
	require.ErrorIs(t, err, store.ErrNotFound)

	_, err = s.GetValidOtpCode(ctx, "bob@vu.edu.pk", "123456")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func testOtpExpiry(t *testing.T, s store.Store, clock *Clock) {
	ctx := context.Background()
	_, err := s.CreateOtpCode(ctx, models.NewOtpCode{
		Email:     "alice@vu.edu.pk",
		Code:      "123456",
		ExpiresAt: clock.Now().Add(10 * time.Minute),
	})
	require.NoError(t, err)

	clock.Advance(10*time.Minute - time.Second)
	_, err = s.GetValidOtpCode(ctx, "alice@vu.edu.pk", "123456")
	require.NoError(t, err)

	clock.Advance(time.Second)
	_, err = s.GetValidOtpCode(ctx, "alice@vu.edu.pk", "123456")
	require.ErrorIs(t, err, store.ErrNotFound, "a code is expired at its expiry instant")

	_, err = s.CheckOtpCodeValidity(ctx, "alice@vu.edu.pk", "123456")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func testMarkOtpAsUsed(t *testing.T, s store.Store, clock *Clock) {
	ctx := context.Background()
	otp, err := s.CreateOtpCode(ctx, models.NewOtpCode{
		Email:     "alice@vu.edu.pk",
		Code:      "123456",
		ExpiresAt: clock.Now().Add(10 * time.Minute),
	})
	require.NoError(t, err)

	require.NoError(t, s.MarkOtpAsUsed(ctx, otp.ID))
	require.NoError(t, s.MarkOtpAsUsed(ctx, otp.ID), "marking twice is not an error")
	require.NoError(t, s.MarkOtpAsUsed(ctx, 999), "unknown ids are ignored")

	_, err = s.GetValidOtpCode(ctx, "alice@vu.edu.pk", "123456")
	require.ErrorIs(t, err, store.ErrNotFound)

	checked, err := s.CheckOtpCodeValidity(ctx, "alice@vu.edu.pk", "123456")
	require.NoError(t, err)
	assert.True(t, checked.IsUsed)
}

func testCleanupExpiredOtps(t *testing.T, s store.Store, clock *Clock) {
	ctx := context.Background()
	for i, ttl := range []time.Duration{time.Minute, 2 * time.Minute, time.Hour} {
		_, err := s.CreateOtpCode(ctx, models.NewOtpCode{
			Email:     "alice@vu.edu.pk",
			Code:      []string{"111111", "222222", "333333"}[i],
			ExpiresAt: clock.Now().Add(ttl),
		})
		require.NoError(t, err)
	}

	removed, err := s.CleanupExpiredOtps(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), removed)

	clock.Advance(5 * time.Minute)
	removed, err = s.CleanupExpiredOtps(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), removed)

	codes, err := s.ListOtpCodes(ctx, "alice@vu.edu.pk")
	require.NoError(t, err)
	require.Len(t, codes, 1)
	assert.Equal(t, "333333", codes[0].Code)
}

func testListOtpCodes(t *testing.T, s store.Store, clock *Clock) {
	ctx := context.Background()
	for _, email := range []string{"alice@vu.edu.pk", "bob@vu.edu.pk", "alice@vu.edu.pk"} {
		_, err := s.CreateOtpCode(ctx, models.NewOtpCode{
			Email:     email,
			Code:      "123456",
			ExpiresAt: clock.Now().Add(time.Minute),
		})
		require.NoError(t, err)
	}

	codes, err := s.ListOtpCodes(ctx, "alice@vu.edu.pk")
	require.NoError(t, err)
	require.Len(t, codes, 2)
	assert.Equal(t, int64(1), codes[0].ID)
	assert.Equal(t, int64(3), codes[1].ID)

	none, err := s.ListOtpCodes(ctx, "carol@vu.edu.pk")
	require.NoError(t, err)
	assert.Empty(t, none)
}
