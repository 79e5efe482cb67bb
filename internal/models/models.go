// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

// Package models defines the account records shared by the storage engines
// and the credential service.
package models

// Role is the authorization level of an account.
type Role string

const (
	RoleStudent Role = "student"
	RoleAdmin   Role = "admin"
)
