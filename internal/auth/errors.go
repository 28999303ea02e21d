package auth

import "errors"

var (
	ErrAccountNotFound = errors.New("account not found")
	ErrAccountExists   = errors.New("account already exists")
	ErrSessionNotFound = errors.New("session not found")
	ErrCodeNotFound    = errors.New("verification code not found")

	// ErrInvalidCredentials covers both unknown email and wrong password so
	// callers cannot distinguish the two.
	ErrInvalidCredentials = errors.New("invalid credentials")

	ErrMFAInvalid        = errors.New("invalid mfa code")
	ErrMFANotConfigured  = errors.New("mfa not configured")
	ErrMFAAlreadyEnabled = errors.New("mfa already enabled")
	ErrCodeInvalid       = errors.New("invalid verification code")
	ErrCodeLockedOut     = errors.New("verification code locked out")
	ErrWeakPassword      = errors.New("password too weak")
	ErrTokenInvalid      = errors.New("invalid token")
)
