package auth

import "time"

// User is an API account that can open and negotiate agreements.
type User struct {
	ID           string
	Email        string
	FullName     string
	PasswordHash string
	CreatedAt    time.Time
}

// RegisterRequest carries the signup fields.
type RegisterRequest struct {
	Email    string
	FullName string
	Password string
}

// LoginRequest carries the credential pair.
type LoginRequest struct {
	Email    string
	Password string
}

// CreateUserParams enumerates the insert columns.
type CreateUserParams struct {
	Email        string
	FullName     string
	PasswordHash string
}
