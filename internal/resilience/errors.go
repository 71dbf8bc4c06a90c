package resilience

import (
	"errors"
	"net"
	"net/http"
	"strings"
	"syscall"
)

// ErrorClass groups failures for run history and alerting.
type ErrorClass string

const (
	ClassTransient ErrorClass = "transient"
	ClassPermanent ErrorClass = "permanent"
)

// Classify sorts err into a class.
func Classify(err error) ErrorClass {
	if IsTransient(err) {
		return ClassTransient
	}
	return ClassPermanent
}

// transientError marks an error as worth retrying.
type transientError struct {
	err    error
	status int
}

func (e *transientError) Error() string   { return e.err.Error() }
func (e *transientError) Unwrap() error   { return e.err }
func (e *transientError) HTTPStatus() int { return e.status }

// Transient marks err as retryable. status is the HTTP status behind it, or
// zero.
func Transient(err error, status int) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err, status: status}
}

// statusCoder is satisfied by the API client errors under pkg/.
type statusCoder interface {
	HTTPStatus() int
}

// networkHints are substrings of network failures that surface without a
// typed error.
var networkHints = []string{
	"connection reset by peer",
	"broken pipe",
	"temporary failure in name resolution",
	"tls handshake timeout",
	"i/o timeout",
	"server closed idle connection",
	"transport connection broken",
	"unexpected eof",
}

// IsTransient reports whether retrying err later could succeed.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var te *transientError
	if errors.As(err, &te) {
		return true
	}
	var sc statusCoder
	if errors.As(err, &sc) {
		return RetryableStatus(sc.HTTPStatus())
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	for _, errno := range []error{syscall.ECONNRESET, syscall.ECONNREFUSED, syscall.ECONNABORTED} {
		if errors.Is(err, errno) {
			return true
		}
	}

	msg := strings.ToLower(err.Error())
	for _, hint := range networkHints {
		if strings.Contains(msg, hint) {
			return true
		}
	}
	return false
}

// RetryableStatus reports whether an HTTP status is a timeout, throttle or
// server-side outage.
func RetryableStatus(code int) bool {
	switch code {
	case http.StatusRequestTimeout, http.StatusTooManyRequests,
		http.StatusInternalServerError, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}
