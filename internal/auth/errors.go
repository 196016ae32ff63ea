package auth

import "errors"

// Every error below is terminal for the request. Handlers map them to fixed
// status codes; anything else is a 500.
var (
	ErrInvalidCredentials = errors.New("incorrect username or password")
	ErrMalformedToken     = errors.New("malformed token")
	ErrInvalidSignature   = errors.New("invalid token signature")
	ErrExpired            = errors.New("token expired")
	ErrMissingSubject     = errors.New("token has no subject")
	ErrUnauthorized       = errors.New("could not validate credentials")
	ErrInactiveAccount    = errors.New("inactive user")
	ErrDuplicateUser      = errors.New("user already exists")
	ErrUserNotFound       = errors.New("user not found")
	ErrPasswordTooLong    = errors.New("password exceeds 72 bytes")
)

// IsTokenError reports whether err is one of the verification failures.
func IsTokenError(err error) bool {
	return errors.Is(err, ErrMalformedToken) ||
		errors.Is(err, ErrInvalidSignature) ||
		errors.Is(err, ErrExpired) ||
		errors.Is(err, ErrMissingSubject)
}
