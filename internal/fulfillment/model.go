package fulfillment

import (
	"slices"
	"strings"
	"time"

	"github.com/dmitrymomot/acmefront/internal/ca"
)

// Status is the lifecycle state of a Cert.
type Status string

const (
	StatusUnpaid     Status = "unpaid"
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusApproving  Status = "approving"
	StatusActive     Status = "active"
	StatusCancelling Status = "cancelling"
	StatusCancelled  Status = "cancelled"
	StatusRevoked    Status = "revoked"
	StatusRenewed    Status = "renewed"
	StatusReissued   Status = "reissued"
	StatusFailed     Status = "failed"
	StatusExpired    Status = "expired"
)

// Terminal reports whether no further transition is expected.
func (s Status) Terminal() bool {
	switch s {
	case StatusCancelled, StatusRevoked, StatusRenewed, StatusReissued, StatusFailed, StatusExpired:
		return true
	}
	return false
}

// InFlight reports whether the CA is working on the cert.
func (s Status) InFlight() bool {
	return s == StatusProcessing || s == StatusApproving
}

func (s Status) rank() int {
	switch s {
	case StatusUnpaid:
		return 0
	case StatusPending:
		return 1
	case StatusProcessing:
		return 2
	case StatusApproving:
		return 3
	case StatusActive:
		return 4
	case StatusCancelling:
		return 5
	default:
		return 6
	}
}

// canAdvance reports whether a reconciled transition from s to to keeps the
// lifecycle monotonic.
func (s Status) canAdvance(to Status) bool {
	switch {
	case to == "" || to == s || s.Terminal():
		return false
	case to.Terminal():
		return true
	case s == StatusCancelling || to == StatusCancelling:
		return false
	default:
		return to.rank() > s.rank()
	}
}

// statusFromVendor maps a vendor apply status.
func statusFromVendor(apply string) Status {
	switch apply {
	case ca.ApplyPending, ca.ApplyProcessing:
		return StatusProcessing
	case ca.ApplyApproving:
		return StatusApproving
	case ca.ApplyIssued:
		return StatusActive
	case ca.ApplyCancelled:
		return StatusCancelled
	case ca.ApplyRevoked:
		return StatusRevoked
	case ca.ApplyFailed:
		return StatusFailed
	case ca.ApplyExpired:
		return StatusExpired
	}
	return ""
}

// CertAction records how a Cert came to be.
type CertAction string

const (
	ActionNew     CertAction = "new"
	ActionRenew   CertAction = "renew"
	ActionReissue CertAction = "reissue"
)

// Channel is the surface an order is fulfilled through.
type Channel string

const (
	ChannelAPI  Channel = "api"
	ChannelACME Channel = "acme"
)

// Order is a purchasing unit.
type Order struct {
	ID           int64
	UserID       int64
	ProductID    string
	Period       int
	Amount       int64
	Contact      string
	Organization string
	EABKeyID     string
	EABHMAC      []byte
	EABUsedAt    *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Validation is the local view of one per-identifier DCV entry.
type Validation struct {
	Identifier   string     `json:"identifier"`
	Method       string     `json:"method"`
	Name         string     `json:"name,omitempty"`
	Value        string     `json:"value,omitempty"`
	Status       string     `json:"status"`
	WrittenAt    *time.Time `json:"written_at,omitempty"`
	DelegationID int64      `json:"delegation_id,omitempty"`
}

// Resolved reports whether the CA reached a verdict for this entry.
func (v Validation) Resolved() bool {
	return v.Status == ca.ValidationValid || v.Status == ca.ValidationInvalid
}

// Cert is one issuance attempt.
type Cert struct {
	ID          int64
	OrderID     int64
	LastCertID  int64
	Action      CertAction
	Channel     Channel
	Status      Status
	PrevStatus  Status
	Vendor      string
	VendorID    string
	DCVMethod   string
	Validation  []Validation
	Identifiers []string
	CSR         []byte
	CertPEM     string
	ChainPEM    string
	Issuer      string
	Serial      string
	NotBefore   *time.Time
	NotAfter    *time.Time
	Token       string
	Amount      int64
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ValidationFor returns the entry for identifier.
func (c *Cert) ValidationFor(identifier string) (Validation, bool) {
	for _, v := range c.Validation {
		if strings.EqualFold(v.Identifier, identifier) {
			return v, true
		}
	}
	return Validation{}, false
}

// AllValid reports whether every identifier has a valid entry.
func (c *Cert) AllValid() bool {
	if len(c.Identifiers) == 0 {
		return false
	}
	for _, id := range c.Identifiers {
		v, ok := c.ValidationFor(id)
		if !ok || v.Status != ca.ValidationValid {
			return false
		}
	}
	return true
}

// Unresolved reports whether any identifier still awaits validation.
func (c *Cert) Unresolved() bool {
	for _, id := range c.Identifiers {
		v, ok := c.ValidationFor(id)
		if !ok || !v.Resolved() {
			return true
		}
	}
	return false
}

// Clone returns a deep copy.
func (c *Cert) Clone() *Cert {
	cp := *c
	cp.Validation = slices.Clone(c.Validation)
	cp.Identifiers = slices.Clone(c.Identifiers)
	cp.CSR = slices.Clone(c.CSR)
	return &cp
}

// Intermediate is a CA certificate used to assemble chains.
type Intermediate struct {
	Subject   string
	PEM       string
	CreatedAt time.Time
}

// mergeValidation folds vendor entries into local ones. Resolved local
// entries are kept as they are. Written markers survive only while the token
// value is unchanged.
func mergeValidation(local []Validation, remote []ca.Validation) []Validation {
	out := slices.Clone(local)
	for _, r := range remote {
		i := slices.IndexFunc(out, func(v Validation) bool {
			return strings.EqualFold(v.Identifier, r.Identifier)
		})
		if i < 0 {
			out = append(out, Validation{
				Identifier: r.Identifier,
				Method:     r.Method,
				Name:       r.Name,
				Value:      r.Value,
				Status:     r.Status,
			})
			continue
		}
		if out[i].Resolved() {
			continue
		}
		if out[i].Value != r.Value || out[i].Name != r.Name {
			out[i].WrittenAt = nil
			out[i].DelegationID = 0
		}
		out[i].Method = r.Method
		out[i].Name = r.Name
		out[i].Value = r.Value
		if r.Status != "" {
			out[i].Status = r.Status
		}
	}
	return out
}
