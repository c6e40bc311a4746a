package acme

import (
	"crypto/rand"
	"crypto/x509"
	"net/http"
	"slices"
	"strings"

	"github.com/dmitrymomot/acmefront/core/handler"
	"github.com/dmitrymomot/acmefront/core/jws"
	"github.com/dmitrymomot/acmefront/core/logger"
	"github.com/dmitrymomot/acmefront/core/response"
	"github.com/dmitrymomot/acmefront/internal/fulfillment"
)

type newOrderRequest struct {
	Identifiers []identifier `json:"identifiers"`
}

func (s *Server) newOrder(ctx *Context) handler.Response {
	acct := ctx.Auth().Account

	var req newOrderRequest
	if ok, err := payload(ctx, &req); err != nil {
		return response.Error(err)
	} else if !ok {
		return response.Error(NewProblem(CodeMalformed, "empty payload"))
	}
	if len(req.Identifiers) == 0 {
		return response.Error(NewProblem(CodeMalformed, "at least one identifier is required"))
	}
	names := make([]string, 0, len(req.Identifiers))
	for _, id := range req.Identifiers {
		if id.Type != "dns" {
			return response.Error(NewProblem(CodeUnsupportedIdentifier, "identifier type %q is not supported", id.Type))
		}
		names = append(names, id.Value)
	}

	token, err := newToken()
	if err != nil {
		return response.Error(err)
	}
	cert, err := s.engine.PrepareACME(ctx, acct.OrderID, names, token)
	if err != nil {
		return response.Error(err)
	}
	authzs, err := s.ensureAuthorizations(ctx, cert)
	if err != nil {
		return response.Error(err)
	}
	if cert, err = s.engine.Commit(ctx, acct.OrderID, ""); err != nil {
		return response.Error(err)
	}

	s.logger.InfoContext(ctx, "acme order created",
		logger.AccountID(acct.KeyID),
		logger.OrderID(cert.OrderID),
		logger.CertID(cert.ID),
		logger.Count("identifiers", len(cert.Identifiers)))
	return s.orderResponse(cert, authzs, http.StatusCreated)
}

// ensureAuthorizations creates the missing authorizations of c and returns
// one per identifier.
func (s *Server) ensureAuthorizations(ctx *Context, c *fulfillment.Cert) ([]Authorization, error) {
	existing, err := s.repo.ListAuthorizations(ctx, c.ID)
	if err != nil {
		return nil, err
	}

	var created []Authorization
	for _, id := range c.Identifiers {
		if slices.ContainsFunc(existing, func(a Authorization) bool { return a.Identifier == id }) {
			continue
		}
		token, err := newToken()
		if err != nil {
			return nil, err
		}
		challenge, err := newToken()
		if err != nil {
			return nil, err
		}
		created = append(created, Authorization{
			Token:          token,
			CertID:         c.ID,
			Identifier:     id,
			Wildcard:       strings.HasPrefix(id, "*."),
			ChallengeToken: challenge,
			ChallengeType:  challengeType(c.DCVMethod),
			CreatedAt:      s.now(),
		})
	}
	if len(created) > 0 {
		if err := s.repo.CreateAuthorizations(ctx, created); err != nil {
			return nil, err
		}
	}
	return s.authorizations(ctx, c)
}

// authorizations lists the authorizations covering c's current identifiers.
func (s *Server) authorizations(ctx *Context, c *fulfillment.Cert) ([]Authorization, error) {
	all, err := s.repo.ListAuthorizations(ctx, c.ID)
	if err != nil {
		return nil, err
	}
	return slices.DeleteFunc(all, func(a Authorization) bool {
		return !slices.Contains(c.Identifiers, a.Identifier)
	}), nil
}

func (s *Server) order(ctx *Context) handler.Response {
	c, err := s.ownedCert(ctx, ctx.Param("token"))
	if err != nil {
		return response.Error(err)
	}
	c = s.refresh(ctx, c)

	authzs, err := s.authorizations(ctx, c)
	if err != nil {
		return response.Error(err)
	}
	return s.orderResponse(c, authzs, http.StatusOK)
}

type finalizeRequest struct {
	CSR string `json:"csr"`
}

func (s *Server) finalize(ctx *Context) handler.Response {
	c, err := s.ownedCert(ctx, ctx.Param("token"))
	if err != nil {
		return response.Error(err)
	}

	var req finalizeRequest
	if ok, err := payload(ctx, &req); err != nil {
		return response.Error(err)
	} else if !ok || req.CSR == "" {
		return response.Error(NewProblem(CodeMalformed, "csr is required"))
	}
	der, err := jws.DecodeSegment(req.CSR)
	if err != nil {
		return response.Error(NewProblem(CodeBadCSR, "csr is not base64url"))
	}
	if err := checkCSR(der, c.Identifiers); err != nil {
		return response.Error(err)
	}
	if len(c.CSR) == 0 && orderStatus(c) != StatusReady {
		return response.Error(NewProblem(CodeOrderNotReady, "order is %s", orderStatus(c)))
	}

	if c, err = s.engine.Finalize(ctx, c.OrderID, der, ""); err != nil {
		return response.Error(err)
	}
	authzs, err := s.authorizations(ctx, c)
	if err != nil {
		return response.Error(err)
	}
	s.logger.InfoContext(ctx, "acme order finalized",
		logger.OrderID(c.OrderID),
		logger.CertID(c.ID),
		logger.Key("status", c.Status))
	return s.orderResponse(c, authzs, http.StatusOK)
}

func (s *Server) orderResponse(c *fulfillment.Cert, authzs []Authorization, status int) handler.Response {
	return response.WithHeaders(
		response.JSONWithStatus(s.orderView(c, authzs), status),
		map[string]string{"Location": s.url("/order", c.Token)},
	)
}

// ownedCert loads the cert behind an order token and checks that the
// signing account owns it.
func (s *Server) ownedCert(ctx *Context, token string) (*fulfillment.Cert, error) {
	c, err := s.engine.CertByToken(ctx, token)
	if err != nil {
		return nil, notFound(err, "order")
	}
	if !owned(ctx.Auth().Account, c) {
		return nil, NewProblem(CodeUnauthorized, "order belongs to another account")
	}
	return c, nil
}

// refresh pulls vendor progress for an in-flight cert. Sync is throttled, so
// frequent polling costs at most one vendor call per window. Failures keep
// the stored view.
func (s *Server) refresh(ctx *Context, c *fulfillment.Cert) *fulfillment.Cert {
	if !c.Status.InFlight() || c.VendorID == "" {
		return c
	}
	if _, err := s.engine.Sync(ctx, c.OrderID, false); err != nil {
		s.logger.WarnContext(ctx, "refresh failed", logger.CertID(c.ID), logger.Error(err))
		return c
	}
	fresh, err := s.engine.Cert(ctx, c.ID)
	if err != nil {
		s.logger.WarnContext(ctx, "reload cert", logger.CertID(c.ID), logger.Error(err))
		return c
	}
	return fresh
}

// checkCSR requires a validly signed CSR naming exactly the identifiers.
func checkCSR(der []byte, identifiers []string) error {
	csr, err := x509.ParseCertificateRequest(der)
	if err != nil {
		return NewProblem(CodeBadCSR, "parse csr: %s", err.Error())
	}
	if err := csr.CheckSignature(); err != nil {
		return NewProblem(CodeBadCSR, "csr signature: %s", err.Error())
	}

	names := make([]string, 0, len(csr.DNSNames)+1)
	for _, n := range csr.DNSNames {
		names = append(names, strings.ToLower(n))
	}
	if cn := strings.ToLower(csr.Subject.CommonName); cn != "" {
		names = append(names, cn)
	}
	slices.Sort(names)
	names = slices.Compact(names)

	want := make([]string, 0, len(identifiers))
	for _, id := range identifiers {
		want = append(want, strings.ToLower(id))
	}
	slices.Sort(want)
	want = slices.Compact(want)

	if !slices.Equal(names, want) {
		return NewProblem(CodeBadCSR, "csr names %v do not match order identifiers %v", names, want)
	}
	return nil
}

func newToken() (string, error) {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return jws.EncodeSegment(b), nil
}
