package remote

import (
	"errors"
	"fmt"
)

// ErrorKind classifies remote platform failures
type ErrorKind string

const (
	// KindAuthExpired means the credential was rejected; the caller should
	// refresh once and retry
	KindAuthExpired ErrorKind = "auth_expired"

	// KindNotFound means the remote workflow no longer exists upstream
	KindNotFound ErrorKind = "remote_not_found"

	// KindUnavailable covers transient network, rate-limit, and timeout
	// failures; retryable with backoff
	KindUnavailable ErrorKind = "remote_unavailable"
)

// Error is a typed failure from the automation platform API
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("remote %s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("remote %s: %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the error kind, or empty when err is not a remote error
func KindOf(err error) ErrorKind {
	var re *Error
	if errors.As(err, &re) {
		return re.Kind
	}
	return ""
}

// IsAuthExpired reports whether err is a credential rejection
func IsAuthExpired(err error) bool {
	return KindOf(err) == KindAuthExpired
}

// IsNotFound reports whether err means the remote entity vanished
func IsNotFound(err error) bool {
	return KindOf(err) == KindNotFound
}

// IsUnavailable reports whether err is transient
func IsUnavailable(err error) bool {
	return KindOf(err) == KindUnavailable
}
