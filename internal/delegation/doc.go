// Package delegation lets the system answer DNS-TXT domain validation on a
// customer's behalf.
//
// A customer points a CNAME from the validation name of their domain to a
// name inside a zone we control:
//
//	_acme-challenge.example.com.  CNAME  3f2a...c9.dcv.example.net.
//
// The target label is a fixed-width hash of the owning user id and the
// normalized source name, so two users delegating the same domain never share
// a record. Provision writes all outstanding tokens for one delegation in a
// single provider call and marks each entry written; entries already written
// are skipped. Sweep re-checks the live CNAME of every delegation, records
// failures and prunes delegations that no live certificate depends on.
package delegation
