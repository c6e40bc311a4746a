package acme

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/dmitrymomot/acmefront/core/jws"
	"github.com/dmitrymomot/acmefront/core/router"
	"github.com/dmitrymomot/acmefront/internal/fulfillment"
)

const problemPrefix = "urn:ietf:params:acme:error:"

// Problem codes (RFC 8555 section 6.7).
const (
	CodeMalformed               = "malformed"
	CodeBadNonce                = "badNonce"
	CodeUnauthorized            = "unauthorized"
	CodeAccountDoesNotExist     = "accountDoesNotExist"
	CodeExternalAccountRequired = "externalAccountRequired"
	CodeUnsupportedIdentifier   = "unsupportedIdentifier"
	CodeBadCSR                  = "badCSR"
	CodeOrderNotReady           = "orderNotReady"
	CodeBadSignatureAlgorithm   = "badSignatureAlgorithm"
	CodeRejectedIdentifier      = "rejectedIdentifier"
	CodeBadRevocationReason     = "badRevocationReason"
	CodeServerInternal          = "serverInternal"
)

var defaultStatus = map[string]int{
	CodeMalformed:               http.StatusBadRequest,
	CodeBadNonce:                http.StatusBadRequest,
	CodeUnauthorized:            http.StatusForbidden,
	CodeAccountDoesNotExist:     http.StatusNotFound,
	CodeExternalAccountRequired: http.StatusUnauthorized,
	CodeUnsupportedIdentifier:   http.StatusBadRequest,
	CodeBadCSR:                  http.StatusBadRequest,
	CodeOrderNotReady:           http.StatusForbidden,
	CodeBadSignatureAlgorithm:   http.StatusBadRequest,
	CodeRejectedIdentifier:      http.StatusBadRequest,
	CodeBadRevocationReason:     http.StatusBadRequest,
	CodeServerInternal:          http.StatusInternalServerError,
}

// Problem is an RFC 7807 problem document with an ACME error type.
type Problem struct {
	Type   string `json:"type"`
	Detail string `json:"detail,omitempty"`
	Status int    `json:"status"`

	code string
}

// NewProblem returns a problem with the default status for code.
func NewProblem(code, format string, args ...any) *Problem {
	status, ok := defaultStatus[code]
	if !ok {
		status = http.StatusBadRequest
	}
	return &Problem{
		Type:   problemPrefix + code,
		Detail: fmt.Sprintf(format, args...),
		Status: status,
		code:   code,
	}
}

// WithStatus overrides the HTTP status.
func (p *Problem) WithStatus(status int) *Problem {
	p.Status = status
	return p
}

// Code returns the short ACME error code.
func (p *Problem) Code() string { return p.code }

func (p *Problem) Error() string {
	return p.code + ": " + p.Detail
}

// StatusCode implements router.StatusCoder.
func (p *Problem) StatusCode() int { return p.Status }

// problemFor translates any error into the problem the client sees.
// Business errors are mapped by kind; anything unknown is serverInternal.
func problemFor(err error) *Problem {
	var p *Problem
	if errors.As(err, &p) {
		return p
	}

	var fe *fulfillment.Error
	if errors.As(err, &fe) {
		switch fe.Kind {
		case fulfillment.KindValidation:
			return NewProblem(CodeRejectedIdentifier, "%s", fe.Error())
		case fulfillment.KindState:
			return NewProblem(CodeOrderNotReady, "%s", fe.Error())
		case fulfillment.KindPolicy:
			return NewProblem(CodeUnauthorized, "%s", fe.Error())
		default:
			return NewProblem(CodeServerInternal, "certificate authority rejected the request")
		}
	}

	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		return NewProblem(CodeMalformed, "request body exceeds %d bytes", tooLarge.Limit).
			WithStatus(http.StatusRequestEntityTooLarge)
	case errors.Is(err, ErrNotFound), errors.Is(err, fulfillment.ErrNotFound):
		return NewProblem(CodeMalformed, "resource not found").WithStatus(http.StatusNotFound)
	case errors.Is(err, jws.ErrMalformed), errors.Is(err, jws.ErrNotFlattened),
		errors.Is(err, jws.ErrSignatureCount), errors.Is(err, jws.ErrMissingAlgorithm):
		return NewProblem(CodeMalformed, "%s", err.Error())
	case errors.Is(err, router.ErrRouteNotFound):
		return NewProblem(CodeMalformed, "no such resource").WithStatus(http.StatusNotFound)
	case errors.Is(err, router.ErrMethodNotAllowed):
		return NewProblem(CodeMalformed, "method not allowed").WithStatus(http.StatusMethodNotAllowed)
	}
	return NewProblem(CodeServerInternal, "internal error")
}
