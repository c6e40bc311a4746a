package delegation

import (
	"context"
	"time"
)

// Delegation is one CNAME binding from Prefix.Zone to TargetFQDN.
type Delegation struct {
	ID         int64
	UserID     int64
	Zone       string
	Prefix     string
	Label      string
	TargetFQDN string
	Valid      bool
	FailCount  int
	LastError  string
	CheckedAt  *time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Source is the customer-side name that must carry the CNAME.
func (d Delegation) Source() string {
	return d.Prefix + "." + d.Zone
}

// Entry is one validation token to publish.
type Entry struct {
	Identifier   string
	Name         string
	Value        string
	WrittenAt    *time.Time
	DelegationID int64
}

// Written reports whether the token was already published.
func (e Entry) Written() bool { return e.WrittenAt != nil }

// Repository persists delegations.
type Repository interface {
	CreateDelegation(ctx context.Context, d *Delegation) error
	GetDelegationByLabel(ctx context.Context, label string) (*Delegation, error)
	// FindDelegations returns the user's delegations for prefix whose zone is
	// one of zones.
	FindDelegations(ctx context.Context, userID int64, prefix string, zones []string) ([]Delegation, error)
	ListDelegations(ctx context.Context) ([]Delegation, error)
	UpdateDelegationHealth(ctx context.Context, d *Delegation) error
	DeleteDelegation(ctx context.Context, id int64) error
	// DelegationReferenced reports whether a live certificate depends on d.
	DelegationReferenced(ctx context.Context, d Delegation) (bool, error)
}

// DNSProvider writes TXT records in the hosted zone.
type DNSProvider interface {
	// UpsertTXT adds values to the TXT set at name. ErrRecordExists means the
	// values are already present.
	UpsertTXT(ctx context.Context, zone, name string, values []string) error
	DeleteTXT(ctx context.Context, zone, name string) error
}

// Resolver looks up the CNAME target of a name.
type Resolver interface {
	LookupCNAME(ctx context.Context, name string) (string, error)
}
