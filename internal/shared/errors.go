package shared

import "errors"

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrInvalidCredentials indicates login failure. The same value is
	// returned whatever the underlying cause was.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrUnauthenticated indicates a missing, invalid or expired credential
	// on a protected operation.
	ErrUnauthenticated = errors.New("authentication required")
	// ErrForbidden indicates an authenticated principal lacking a required
	// role or permission.
	ErrForbidden = errors.New("access denied")
	// ErrConflict indicates a uniqueness violation on write.
	ErrConflict = errors.New("conflict")
)
