// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package models_test

import (
	"testing"
	"time"

	"codeberg.org/oliverandrich/student-portal/internal/models"
	"github.com/stretchr/testify/assert"
)

func TestUserUpdate_Apply(t *testing.T) {
	user := &models.User{ID: 1, FullName: "Alice", Role: models.RoleStudent}
	program := "BSCS"
	subjects := []string{"CS101", "MTH101"}
	verified := true

	models.UserUpdate{
		DegreeProgram: &program,
		Subjects:      &subjects,
		IsVerified:    &verified,
	}.Apply(user)

	assert.Equal(t, "Alice", user.FullName)
	assert.True(t, user.IsVerified)
	assert.Equal(t, "BSCS", *user.DegreeProgram)
	assert.Equal(t, []string{"CS101", "MTH101"}, user.Subjects)

	// The update must not alias the caller's slice.
	subjects[0] = "changed"
	assert.Equal(t, "CS101", user.Subjects[0])
}

func TestUserUpdate_Apply_AdminStaysVerified(t *testing.T) {
	user := &models.User{Role: models.RoleAdmin, IsVerified: true}
	unverified := false

	models.UserUpdate{IsVerified: &unverified}.Apply(user)

	assert.True(t, user.IsVerified)
}

func TestOtpCode_Valid(t *testing.T) {
	now := time.Now()
	code := &models.OtpCode{Email: "a@vu.edu.pk", Code: "123456", ExpiresAt: now.Add(time.Minute)}

	assert.True(t, code.Valid(now))
	assert.True(t, code.Matches("a@vu.edu.pk", "123456"))
	assert.False(t, code.Matches("a@vu.edu.pk", "654321"))

	assert.False(t, code.Valid(now.Add(time.Minute)), "expiry is exclusive")

	code.IsUsed = true
	assert.False(t, code.Valid(now))
	assert.False(t, code.Expired(now))
}

func TestPendingUser_NewUser(t *testing.T) {
	p := &models.PendingUser{Username: "alice", FullName: "Alice A", Email: "alice@vu.edu.pk", PasswordHash: "hash"}

	nu := p.NewUser()

	assert.Equal(t, models.NewUser{Username: "alice", FullName: "Alice A", Email: "alice@vu.edu.pk", PasswordHash: "hash"}, nu)
}
