package ca

import (
	"context"
	"fmt"
)

// Action names one vendor operation.
type Action string

const (
	ActionSubmit     Action = "submit"
	ActionGet        Action = "get"
	ActionCancel     Action = "cancel"
	ActionRevalidate Action = "revalidate"
	ActionUpdateDCV  Action = "update_dcv"
	ActionFinalize   Action = "finalize"
	ActionRevoke     Action = "revoke"
)

// Actions lists every action in a stable order.
var Actions = []Action{
	ActionSubmit,
	ActionGet,
	ActionCancel,
	ActionRevalidate,
	ActionUpdateDCV,
	ActionFinalize,
	ActionRevoke,
}

// Valid reports whether a is a known action.
func (a Action) Valid() bool {
	for _, known := range Actions {
		if a == known {
			return true
		}
	}
	return false
}

func (a Action) String() string { return string(a) }

// DCV methods understood by vendors.
const (
	MethodDNSTXT   = "dns-txt"
	MethodHTTPFile = "http-file"
)

// Apply statuses reported in Data.CertApplyStatus.
const (
	ApplyPending    = "pending"
	ApplyProcessing = "processing"
	ApplyApproving  = "approving"
	ApplyIssued     = "issued"
	ApplyCancelled  = "cancelled"
	ApplyRevoked    = "revoked"
	ApplyFailed     = "failed"
	ApplyExpired    = "expired"
)

// Validation statuses.
const (
	ValidationPending = "pending"
	ValidationValid   = "valid"
	ValidationInvalid = "invalid"
)

// CodeOK marks an accepted request.
const CodeOK = 1

// Request is the normalized payload sent to a vendor. Fields not used by an
// action are ignored.
type Request struct {
	VendorID     string   `json:"api_id,omitempty"`
	ProductCode  string   `json:"product_code,omitempty"`
	Period       int      `json:"period,omitempty"`
	Identifiers  []string `json:"identifiers,omitempty"`
	DCVMethod    string   `json:"dcv_method,omitempty"`
	CSR          []byte   `json:"csr,omitempty"`
	Contact      string   `json:"contact,omitempty"`
	Organization string   `json:"organization,omitempty"`
	Certificate  []byte   `json:"certificate,omitempty"`
	Reason       int      `json:"reason,omitempty"`
}

// Validation is one per-identifier DCV entry as reported by the vendor.
type Validation struct {
	Identifier string `json:"identifier"`
	Method     string `json:"method"`
	Name       string `json:"name,omitempty"`
	Value      string `json:"value,omitempty"`
	Status     string `json:"status"`
}

// Resolved reports whether the vendor has reached a final verdict.
func (v Validation) Resolved() bool {
	return v.Status == ValidationValid || v.Status == ValidationInvalid
}

// DCV is the vendor-side validation configuration.
type DCV struct {
	Method string `json:"method"`
}

// Data is the envelope payload.
type Data struct {
	APIID           string       `json:"api_id,omitempty"`
	CertApplyStatus string       `json:"cert_apply_status,omitempty"`
	DCV             *DCV         `json:"dcv,omitempty"`
	Validation      []Validation `json:"validation,omitempty"`
	Cert            string       `json:"cert,omitempty"`
	Intermediate    string       `json:"intermediate,omitempty"`
}

// Envelope is the uniform vendor response.
type Envelope struct {
	Code   int      `json:"code"`
	Data   Data     `json:"data"`
	Msg    string   `json:"msg,omitempty"`
	Errors []string `json:"errors,omitempty"`
}

// OK reports whether the vendor accepted the request.
func (e *Envelope) OK() bool { return e != nil && e.Code == CodeOK }

// Vendor is one CA integration.
type Vendor interface {
	Name() string
	// Call performs action. A returned error means the call did not complete;
	// rejections come back as an envelope with a non-OK code.
	Call(ctx context.Context, action Action, req Request) (*Envelope, error)
}

// Do calls the vendor and turns rejections into *RejectedError.
func Do(ctx context.Context, v Vendor, action Action, req Request) (*Data, error) {
	if !action.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedAction, action)
	}

	env, err := v.Call(ctx, action, req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", v.Name(), action, err)
	}
	if env == nil {
		return nil, fmt.Errorf("%s %s: %w", v.Name(), action, ErrEmptyResponse)
	}
	if !env.OK() {
		return nil, &RejectedError{
			Vendor: v.Name(),
			Action: action,
			Code:   env.Code,
			Msg:    env.Msg,
			Errors: env.Errors,
		}
	}
	return &env.Data, nil
}

// Accepted builds an OK envelope around data.
func Accepted(data Data) *Envelope {
	return &Envelope{Code: CodeOK, Data: data}
}

// Rejected builds a rejection envelope.
func Rejected(msg string, errs ...string) *Envelope {
	return &Envelope{Code: 0, Msg: msg, Errors: errs}
}
