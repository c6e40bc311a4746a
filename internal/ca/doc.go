// Package ca is the certificate-authority vendor abstraction.
//
// Each upstream CA is a Vendor that answers a fixed set of actions (see Action)
// with a uniform Envelope:
//
//	{"code": 1, "data": {"api_id": "...", "cert_apply_status": "...", "dcv": {...},
//	 "validation": [...], "cert": "...", "intermediate": "..."}, "msg": "", "errors": []}
//
// A code of CodeOK means the vendor accepted the request. Any other code is a
// rejection and is reported by Do as a *RejectedError. Transport failures are
// plain errors.
//
// Vendors are resolved by name through a Registry built once at startup:
//
//	reg := ca.NewRegistry(upstreamVendor, ca.NewFake("fake"))
//	v, err := reg.Get(product.Vendor)
//	data, err := ca.Do(ctx, v, ca.ActionSubmit, req)
package ca
