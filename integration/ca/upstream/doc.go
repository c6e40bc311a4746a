// Package upstream implements a ca.Vendor that fulfils orders against an
// upstream ACME CA (Let's Encrypt, ZeroSSL, a private step-ca) using lego's
// low-level acme/api client.
//
// The vendor reference (api_id) is the upstream order URL. Action mapping:
//
//	submit      new order, then read every authorization
//	get         read order and authorizations; download the chain once valid
//	revalidate  answer every pending challenge of the configured type
//	update_dcv  switch the reported challenge type
//	finalize    post the CSR to the order's finalize URL
//	cancel      deactivate pending authorizations
//	revoke      revoke the issued certificate
//
// ACME problem documents from the upstream CA become rejection envelopes;
// network failures are returned as errors so the task queue retries them.
// The upstream account is registered lazily on first use.
package upstream
