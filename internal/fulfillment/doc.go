// Package fulfillment drives business orders through certificate issuance.
//
// An Order is what a customer bought; every issuance attempt for it is a
// Cert. The latest Cert of an Order moves through
//
//	unpaid -> pending -> processing -> approving -> active
//
// and may end in cancelled, revoked, renewed, reissued, failed or expired,
// with cancelling as the transient state of a deferred cancel. Renew and
// reissue append a new Cert linked to its predecessor via LastCertID; History
// walks that chain.
//
// Mutations that touch the order run in one store transaction holding the
// order row lock, and tasks created inside it are written through the same
// transaction. Upstream polling, validation retries, deferred cancels and DNS
// record writes run as queue tasks (see TaskHandlers). Calls made with a
// non-empty actor are additionally protected by a short-lived idempotency key
// so a double-submitted form does not run twice.
package fulfillment
