// Package auth implements the credential directory and the signed access
// tokens that gate the signaling connection.
package auth

import (
	"crypto/subtle"
	"errors"
)

var (
	// ErrInvalidCredentials is returned for both unknown usernames and wrong
	// passwords so a caller cannot probe which usernames exist.
	ErrInvalidCredentials = errors.New("invalid credentials")

	ErrTokenInvalid = errors.New("token invalid")
	ErrTokenExpired = errors.New("token expired")
)

// Directory is the fixed username -> password table the broker admits.
// Lookups are case-sensitive.
type Directory map[string]string

// check verifies username/password against the directory. The password
// comparison is constant-time and runs even for unknown usernames.
func (d Directory) check(username, password string) error {
	expected, known := d[username]
	match := subtle.ConstantTimeCompare([]byte(password), []byte(expected)) == 1
	if !known || !match {
		return ErrInvalidCredentials
	}
	return nil
}
