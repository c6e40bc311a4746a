package ca

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrUnknownVendor     = errors.New("unknown ca vendor")
	ErrUnsupportedAction = errors.New("action not supported by ca vendor")
	ErrDuplicateVendor   = errors.New("ca vendor already registered")
	ErrEmptyResponse     = errors.New("empty ca vendor response")
)

// RejectedError is a vendor answer with a non-OK code.
type RejectedError struct {
	Vendor string
	Action Action
	Code   int
	Msg    string
	Errors []string
}

func (e *RejectedError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s rejected %s (code %d)", e.Vendor, e.Action, e.Code)
	if e.Msg != "" {
		b.WriteString(": ")
		b.WriteString(e.Msg)
	}
	if len(e.Errors) > 0 {
		b.WriteString(" [")
		b.WriteString(strings.Join(e.Errors, "; "))
		b.WriteString("]")
	}
	return b.String()
}

// IsRejected reports whether err carries a vendor rejection.
func IsRejected(err error) bool {
	var re *RejectedError
	return errors.As(err, &re)
}
