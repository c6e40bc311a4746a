package fulfillment

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrDuplicateSubmission = errors.New("duplicate submission")
	ErrUnknownProduct      = errors.New("unknown product")
	ErrUnknownPeriod       = errors.New("period not offered for product")
	ErrNoIdentifiers       = errors.New("no identifiers")
	ErrTooManyIdentifiers  = errors.New("too many identifiers for product")
	ErrWildcardNotAllowed  = errors.New("wildcard identifiers not allowed for product")
	ErrInvalidIdentifier   = errors.New("invalid identifier")
	ErrInvalidDCVMethod    = errors.New("invalid dcv method")
	ErrRefundWindowClosed  = errors.New("refund window closed")
	ErrCancelStarted       = errors.New("deferred cancel already started")
	ErrWrongState          = errors.New("operation not allowed in current state")
	ErrNotIssued           = errors.New("certificate not issued")
)

// Kind classifies business errors for the transport layer.
type Kind string

const (
	KindVendor     Kind = "vendor"
	KindValidation Kind = "validation"
	KindState      Kind = "state"
	KindPolicy     Kind = "policy"
)

// Error is a business-rule failure. Infrastructure failures are returned as
// plain wrapped errors instead.
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	} else if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	return fmt.Sprintf("%s: %s", e.Op, msg)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind Kind, op string, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...), Err: err}
}

func stateError(op string, c *Cert) *Error {
	return newError(KindState, op, ErrWrongState, "cert %d is %s", c.ID, c.Status)
}

// KindOf returns the Kind of a business error.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// IsKind reports whether err is a business error of kind k.
func IsKind(err error, k Kind) bool {
	got, ok := KindOf(err)
	return ok && got == k
}
