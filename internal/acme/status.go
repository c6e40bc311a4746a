package acme

import (
	"strings"
	"time"

	"github.com/dmitrymomot/acmefront/internal/ca"
	"github.com/dmitrymomot/acmefront/internal/fulfillment"
)

// RFC 8555 object states.
const (
	StatusPending    = "pending"
	StatusReady      = "ready"
	StatusProcessing = "processing"
	StatusValid      = "valid"
	StatusInvalid    = "invalid"
)

// Challenge types offered per DCV method.
const (
	ChallengeDNS01  = "dns-01"
	ChallengeHTTP01 = "http-01"
)

func challengeType(dcvMethod string) string {
	if dcvMethod == ca.MethodHTTPFile {
		return ChallengeHTTP01
	}
	return ChallengeDNS01
}

// orderStatus projects a cert onto the ACME order states.
func orderStatus(c *fulfillment.Cert) string {
	switch c.Status {
	case fulfillment.StatusUnpaid, fulfillment.StatusPending:
		return StatusPending
	case fulfillment.StatusProcessing:
		switch {
		case len(c.CSR) > 0:
			return StatusProcessing
		case anyInvalid(c):
			return StatusInvalid
		case c.AllValid():
			return StatusReady
		}
		return StatusPending
	case fulfillment.StatusApproving:
		return StatusProcessing
	case fulfillment.StatusActive:
		return StatusValid
	case fulfillment.StatusRenewed, fulfillment.StatusReissued:
		if c.CertPEM != "" {
			return StatusValid
		}
	}
	return StatusInvalid
}

// authzStatus projects the cert's validation entry for id. It is
// valid only once the entry is valid or the cert was issued.
func authzStatus(c *fulfillment.Cert, id string) string {
	v, ok := c.ValidationFor(id)
	switch {
	case ok && v.Status == ca.ValidationValid:
		return StatusValid
	case ok && v.Status == ca.ValidationInvalid:
		return StatusInvalid
	case !ok && c.CertPEM != "":
		// No entry to consult; an issued cert implies control was shown.
		return StatusValid
	case c.Status.Terminal() || c.Status == fulfillment.StatusCancelling:
		return StatusInvalid
	}
	return StatusPending
}

func anyInvalid(c *fulfillment.Cert) bool {
	for _, id := range c.Identifiers {
		if v, ok := c.ValidationFor(id); ok && v.Status == ca.ValidationInvalid {
			return true
		}
	}
	return false
}

type identifier struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

type accountView struct {
	Status  AccountStatus `json:"status"`
	Contact []string      `json:"contact,omitempty"`
	Orders  string        `json:"orders"`
}

type orderView struct {
	Status         string       `json:"status"`
	Expires        time.Time    `json:"expires"`
	Identifiers    []identifier `json:"identifiers"`
	NotBefore      *time.Time   `json:"notBefore,omitempty"`
	NotAfter       *time.Time   `json:"notAfter,omitempty"`
	Authorizations []string     `json:"authorizations"`
	Finalize       string       `json:"finalize"`
	Certificate    string       `json:"certificate,omitempty"`
	Error          *Problem     `json:"error,omitempty"`
}

type authzView struct {
	Status     string          `json:"status"`
	Expires    time.Time       `json:"expires"`
	Identifier identifier      `json:"identifier"`
	Challenges []challengeView `json:"challenges"`
	Wildcard   bool            `json:"wildcard,omitempty"`
}

// challengeView carries the vendor's token record next to the RFC fields.
// Clients publish the record, not a key authorization.
type challengeView struct {
	Type      string      `json:"type"`
	URL       string      `json:"url"`
	Status    string      `json:"status"`
	Token     string      `json:"token"`
	Validated *time.Time  `json:"validated,omitempty"`
	Record    *recordView `json:"record,omitempty"`
	Error     *Problem    `json:"error,omitempty"`
}

type recordView struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

func (s *Server) accountView(a *Account) accountView {
	return accountView{
		Status:  a.Status,
		Contact: a.Contact,
		Orders:  s.url("/acct", a.KeyID, "orders"),
	}
}

func (s *Server) orderView(c *fulfillment.Cert, authzs []Authorization) orderView {
	v := orderView{
		Status:         orderStatus(c),
		Expires:        c.CreatedAt.Add(s.cfg.OrderLifetime).UTC(),
		Identifiers:    make([]identifier, 0, len(c.Identifiers)),
		Authorizations: make([]string, 0, len(authzs)),
		Finalize:       s.url("/order", c.Token, "finalize"),
	}
	for _, id := range c.Identifiers {
		v.Identifiers = append(v.Identifiers, identifier{Type: "dns", Value: id})
	}
	for _, a := range authzs {
		v.Authorizations = append(v.Authorizations, s.url("/authz", a.Token))
	}
	switch v.Status {
	case StatusValid:
		v.Certificate = s.url("/cert", c.Token)
		v.NotBefore, v.NotAfter = c.NotBefore, c.NotAfter
	case StatusInvalid:
		v.Error = NewProblem(CodeRejectedIdentifier, "order is %s", c.Status)
	}
	return v
}

func (s *Server) authzView(c *fulfillment.Cert, a *Authorization) authzView {
	status := authzStatus(c, a.Identifier)
	ch := challengeView{
		Type:   a.ChallengeType,
		URL:    s.url("/chall", a.Token),
		Status: status,
		Token:  a.ChallengeToken,
	}
	v, ok := c.ValidationFor(a.Identifier)
	if ok && v.Value != "" {
		ch.Record = &recordView{Name: v.Name, Value: v.Value}
	}
	switch status {
	case StatusValid:
		validated := c.UpdatedAt.UTC()
		ch.Validated = &validated
	case StatusInvalid:
		ch.Error = NewProblem(CodeUnauthorized, "validation of %s failed", a.Identifier)
	}

	return authzView{
		Status:     status,
		Expires:    c.CreatedAt.Add(s.cfg.OrderLifetime).UTC(),
		Identifier: identifier{Type: "dns", Value: strings.TrimPrefix(a.Identifier, "*.")},
		Challenges: []challengeView{ch},
		Wildcard:   a.Wildcard,
	}
}
