package acme

import (
	"crypto/x509"
	"fmt"
	"net/http"

	"github.com/dmitrymomot/acmefront/core/handler"
	"github.com/dmitrymomot/acmefront/core/jws"
	"github.com/dmitrymomot/acmefront/core/logger"
	"github.com/dmitrymomot/acmefront/core/response"
)

const pemChainType = "application/pem-certificate-chain"

// certificate returns the leaf followed by its intermediate.
func (s *Server) certificate(ctx *Context) handler.Response {
	c, err := s.ownedCert(ctx, ctx.Param("token"))
	if err != nil {
		return response.Error(err)
	}
	if orderStatus(c) != StatusValid || c.CertPEM == "" {
		return response.Error(NewProblem(CodeOrderNotReady, "certificate is not issued"))
	}

	chain, err := s.engine.Chain(ctx, c)
	if err != nil {
		return response.Error(err)
	}
	return response.Bytes([]byte(chain), pemChainType, http.StatusOK)
}

type revokeRequest struct {
	Certificate string `json:"certificate"`
	Reason      *int   `json:"reason"`
}

func (s *Server) revokeCert(ctx *Context) handler.Response {
	acct := ctx.Auth().Account

	var req revokeRequest
	if ok, err := payload(ctx, &req); err != nil {
		return response.Error(err)
	} else if !ok || req.Certificate == "" {
		return response.Error(NewProblem(CodeMalformed, "certificate is required"))
	}

	reason := 0
	if req.Reason != nil {
		reason = *req.Reason
	}
	// RFC 5280 reason codes; 7 is unused.
	if reason < 0 || reason > 10 || reason == 7 {
		return response.Error(NewProblem(CodeBadRevocationReason, "reason %d is not allowed", reason))
	}

	der, err := jws.DecodeSegment(req.Certificate)
	if err != nil {
		return response.Error(NewProblem(CodeMalformed, "certificate is not base64url"))
	}
	leaf, err := x509.ParseCertificate(der)
	if err != nil {
		return response.Error(NewProblem(CodeMalformed, "parse certificate: %s", err.Error()))
	}

	c, err := s.engine.CertBySerial(ctx, fmt.Sprintf("%x", leaf.SerialNumber))
	if err != nil {
		return response.Error(notFound(err, "certificate"))
	}
	if !owned(acct, c) {
		return response.Error(NewProblem(CodeUnauthorized, "certificate belongs to another account"))
	}

	if _, err := s.engine.RevokeCert(ctx, c.ID, reason, ""); err != nil {
		return response.Error(err)
	}
	s.logger.InfoContext(ctx, "certificate revoked",
		logger.AccountID(acct.KeyID),
		logger.CertID(c.ID),
		logger.Key("reason", reason))
	return response.Status(http.StatusOK)
}
