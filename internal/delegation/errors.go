package delegation

import "errors"

var (
	ErrNotFound          = errors.New("delegation not found")
	ErrNoDelegation      = errors.New("no delegation matches identifier")
	ErrInvalidDomain     = errors.New("invalid domain")
	ErrRecordExists      = errors.New("dns record already exists")
	ErrRecordNotFound    = errors.New("dns record not found")
	ErrCNAMEMismatch     = errors.New("cname does not point to delegation target")
	ErrCNAMEMissing      = errors.New("no cname record")
	ErrResolverFailure   = errors.New("dns resolver failure")
	ErrHostedZoneMissing = errors.New("delegation hosted zone is not configured")
)
