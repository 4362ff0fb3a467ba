package domain

import "errors"

var (
	ErrUserNotFound      = errors.New("user not found")
	ErrNoCredential      = errors.New("user has no stored credential")
	ErrCredentialExpired = errors.New("credential expired and cannot be refreshed")
	ErrInvalidLocation   = errors.New("invalid location")
	ErrDuplicateLocation = errors.New("location with this name already exists")
	ErrLocationNotFound  = errors.New("location not found")
	ErrInvalidEmail      = errors.New("invalid email address")
)
