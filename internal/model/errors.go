package model

import "errors"

var (
	// Account related errors
	ErrAccountNotFound    = errors.New("account not found")
	ErrDuplicateIdentity  = errors.New("an account with this email already exists")
	ErrWeakCredential     = errors.New("password does not meet strength requirements")
	ErrInvalidCredentials = errors.New("invalid email or password")

	// Access related errors
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")

	// Infrastructure errors
	ErrStorageUnavailable = errors.New("storage unavailable")

	// Generic errors
	ErrInvalidInput = errors.New("invalid input")
)
