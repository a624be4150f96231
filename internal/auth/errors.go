package auth

import (
	"errors"
	"fmt"
)

var (
	// ErrUnauthorized is the root of every authentication or authorization failure.
	ErrUnauthorized = errors.New("auth: unauthorized")
	// ErrInvalidToken indicates the token failed verification.
	ErrInvalidToken = fmt.Errorf("%w: invalid token", ErrUnauthorized)
	// ErrNotOwner indicates the caller does not own the referenced contact,
	// or ownership could not be established.
	ErrNotOwner = fmt.Errorf("%w: contact not owned by caller", ErrUnauthorized)
	// ErrNoVerificationKey is returned when no key is configured.
	ErrNoVerificationKey = errors.New("auth: no token verification key configured")
)
