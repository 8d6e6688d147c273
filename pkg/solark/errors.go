package solark

import (
	"errors"
	"fmt"
)

// Kind categorizes a failure talking to the cloud so callers can branch
// without inspecting messages.
type Kind int

const (
	KindUnknown Kind = iota
	// KindHTTPStatus is a non-2xx HTTP response.
	KindHTTPStatus
	// KindInvalidJSON is a response body that isn't JSON.
	KindInvalidJSON
	// KindAPICode is a JSON envelope with a non-zero "code".
	KindAPICode
	KindTimeout
	KindNetwork
	// KindAuth means every login method failed.
	KindAuth
	KindNoInverters
	KindMasterNotFound
	// KindNotMaster is a write aimed at an inverter that isn't the master.
	KindNotMaster
	// KindInvalidSettings is a settings read whose data isn't an object.
	KindInvalidSettings
	// KindInvalidArgument is rejected before any request is made.
	KindInvalidArgument
)

func (k Kind) String() string {
	switch k {
	case KindHTTPStatus:
		return "http_status"
	case KindInvalidJSON:
		return "invalid_json"
	case KindAPICode:
		return "api_code"
	case KindTimeout:
		return "timeout"
	case KindNetwork:
		return "network"
	case KindAuth:
		return "auth"
	case KindNoInverters:
		return "no_inverters"
	case KindMasterNotFound:
		return "master_not_found"
	case KindNotMaster:
		return "not_master"
	case KindInvalidSettings:
		return "invalid_settings"
	case KindInvalidArgument:
		return "invalid_argument"
	default:
		return "unknown"
	}
}

// APIError is returned by every Client operation that fails.
type APIError struct {
	Kind Kind
	Msg  string
	// StatusCode is set for KindHTTPStatus.
	StatusCode int
	// Code is the envelope code for KindAPICode.
	Code any
	Err  error
}

func (e *APIError) Error() string {
	return e.Msg
}

func (e *APIError) Unwrap() error {
	return e.Err
}

func newError(kind Kind, err error, format string, args ...any) *APIError {
	return &APIError{
		Kind: kind,
		Msg:  fmt.Sprintf(format, args...),
		Err:  err,
	}
}

// ErrorKind returns the Kind of the first APIError in err's chain, or
// KindUnknown.
func ErrorKind(err error) Kind {
	var ae *APIError
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindUnknown
}

// IsKind reports whether err is an APIError of the given kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && ErrorKind(err) == kind
}

// isUnauthorized reports whether err means the bearer token was rejected.
func isUnauthorized(err error) bool {
	var ae *APIError
	if !errors.As(err, &ae) {
		return false
	}
	switch ae.Kind {
	case KindHTTPStatus:
		return ae.StatusCode == 401
	case KindAPICode:
		f, ok := toFloat(ae.Code)
		return ok && f == 401
	}
	return false
}
