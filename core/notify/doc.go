// Package notify delivers lifecycle notifications (issued, cancelled,
// revoked) over named channels. Delivery is best-effort: callers log the
// joined error and carry on.
package notify
