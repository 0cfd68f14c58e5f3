package errors

import (
	stdErrors "errors"
	"fmt"
)

// Kind classifies the layer and cause of a producer error.
type Kind int

const (
	KindArgument Kind = iota
	KindResource
	KindParse
	KindState
	KindNetwork
	KindRestful
	KindPutMedia
	KindSigV4
	KindCallback
)

func (k Kind) String() string {
	switch k {
	case KindArgument:
		return "argument"
	case KindResource:
		return "resource"
	case KindParse:
		return "parse"
	case KindState:
		return "state"
	case KindNetwork:
		return "network"
	case KindRestful:
		return "restful"
	case KindPutMedia:
		return "putmedia"
	case KindSigV4:
		return "sigv4"
	case KindCallback:
		return "callback"
	default:
		return "unknown"
	}
}

// Error is the single error type used across every component. Code carries
// the HTTP status for KindRestful and the fragment ErrorId for KindPutMedia;
// it is zero and unused for every other kind.
type Error struct {
	Op   string
	Kind Kind
	Code int
	Err  error
}

func (e *Error) Error() string {
	var code string
	if e.Code != 0 {
		code = fmt.Sprintf("[%d] ", e.Code)
	}
	if e.Err == nil {
		return fmt.Sprintf("%s error: %s%s", e.Kind, code, e.Op)
	}
	return fmt.Sprintf("%s error: %s%s: %v", e.Kind, code, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches on Kind, and additionally on Code when target carries a
// nonzero Code (so errors.Is(err, &Error{Kind: KindRestful, Code: 404})
// only matches a 404 specifically).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if e.Kind != t.Kind {
		return false
	}
	if t.Code != 0 && e.Code != t.Code {
		return false
	}
	return true
}

func New(op string, kind Kind, cause error) error {
	return &Error{Op: op, Kind: kind, Err: cause}
}

func NewArgumentError(op string, cause error) error { return New(op, KindArgument, cause) }
func NewResourceError(op string, cause error) error { return New(op, KindResource, cause) }
func NewParseError(op string, cause error) error    { return New(op, KindParse, cause) }
func NewStateError(op string, cause error) error    { return New(op, KindState, cause) }
func NewNetworkError(op string, cause error) error  { return New(op, KindNetwork, cause) }
func NewSigV4Error(op string, cause error) error     { return New(op, KindSigV4, cause) }
func NewCallbackError(op string, cause error) error  { return New(op, KindCallback, cause) }

func NewRestfulError(op string, statusCode int, cause error) error {
	return &Error{Op: op, Kind: KindRestful, Code: statusCode, Err: cause}
}

func NewPutMediaError(op string, fragmentErrorID int, cause error) error {
	return &Error{Op: op, Kind: KindPutMedia, Code: fragmentErrorID, Err: cause}
}

// Is reports whether err's chain contains an *Error of the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if !stdErrors.As(err, &e) {
		return false
	}
	return e.Kind == kind
}

// RestfulStatus returns the HTTP status code carried by a KindRestful error
// in err's chain, and whether one was found.
func RestfulStatus(err error) (int, bool) {
	var e *Error
	if !stdErrors.As(err, &e) || e.Kind != KindRestful {
		return 0, false
	}
	return e.Code, true
}

// FragmentErrorID returns the PutMedia fragment ErrorId carried by a
// KindPutMedia error in err's chain, and whether one was found.
func FragmentErrorID(err error) (int, bool) {
	var e *Error
	if !stdErrors.As(err, &e) || e.Kind != KindPutMedia {
		return 0, false
	}
	return e.Code, true
}

// IsFatal reports whether err should terminate the current PutMedia
// session (close+open to resume), per the session-fatal taxonomy: any
// PutMedia ACK error, any network send failure, and a timecode regression
// (ErrorId 4004) specifically.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	var e *Error
	if !stdErrors.As(err, &e) {
		return false
	}
	switch e.Kind {
	case KindPutMedia:
		return true
	case KindNetwork:
		return true
	default:
		return false
	}
}
