// Package auth validates and creates player accounts. It owns the credential
// record layout, password hashing and the account stores; callers only see a
// Status.
package auth

import "fmt"

// Status is the closed result set reported to game clients.
type Status uint32

const (
	Success Status = iota
	AlreadyExists
	InvalidCredentials
	StoreUnavailable
)

// String returns the snake_case name of the status.
func (s Status) String() string {
	switch s {
	case Success:
		return "success"
	case AlreadyExists:
		return "already_exists"
	case InvalidCredentials:
		return "invalid_credentials"
	case StoreUnavailable:
		return "store_unavailable"
	default:
		return fmt.Sprintf("status_%d", uint32(s))
	}
}

// OK reports whether s is Success.
func (s Status) OK() bool {
	return s == Success
}
