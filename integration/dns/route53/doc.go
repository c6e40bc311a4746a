// Package route53 is a delegation.DNSProvider backed by AWS Route 53.
//
// TXT records are written with UPSERT after merging with the values already
// present, so several validation tokens can live on one name. A write that
// would not change the record set reports delegation.ErrRecordExists, which
// the delegation service treats as success.
//
//	p, err := route53.New(ctx, route53.Config{Region: "us-east-1"})
//	err = p.UpsertTXT(ctx, hostedZoneID, "abc123.dcv.example.net", []string{"token"})
package route53
