package acme

import (
	"net/http"

	"github.com/dmitrymomot/acmefront/core/handler"
	"github.com/dmitrymomot/acmefront/core/logger"
	"github.com/dmitrymomot/acmefront/core/response"
	"github.com/dmitrymomot/acmefront/internal/fulfillment"
)

// authorization serves both the unauthenticated GET and POST-as-GET. Only
// the signed form checks ownership.
func (s *Server) authorization(ctx *Context) handler.Response {
	a, c, err := s.lookupAuthz(ctx, ctx.Param("token"))
	if err != nil {
		return response.Error(err)
	}
	if authzStatus(c, a.Identifier) == StatusPending {
		c = s.refresh(ctx, c)
	}
	return response.JSON(s.authzView(c, a))
}

// challenge asks the CA to check the published token and answers with the
// refreshed challenge. Repeated calls while pending poll again.
func (s *Server) challenge(ctx *Context) handler.Response {
	a, c, err := s.lookupAuthz(ctx, ctx.Param("token"))
	if err != nil {
		return response.Error(err)
	}

	if authzStatus(c, a.Identifier) == StatusPending {
		if _, err := s.engine.Revalidate(ctx, c.OrderID, ""); err != nil {
			if !fulfillment.IsKind(err, fulfillment.KindState) {
				return response.Error(err)
			}
			s.logger.DebugContext(ctx, "revalidate skipped",
				logger.CertID(c.ID),
				logger.Key("status", c.Status))
		}
		if c, err = s.engine.Cert(ctx, c.ID); err != nil {
			return response.Error(err)
		}
	}

	view := s.authzView(c, a)
	return response.WithHeader(
		response.JSON(view.Challenges[0]),
		"Link", link(s.url("/authz", a.Token), "up"),
	)
}

func (s *Server) lookupAuthz(ctx *Context, token string) (*Authorization, *fulfillment.Cert, error) {
	a, err := s.repo.GetAuthorization(ctx, token)
	if err != nil {
		return nil, nil, notFound(err, "authorization")
	}
	c, err := s.engine.Cert(ctx, a.CertID)
	if err != nil {
		return nil, nil, notFound(err, "authorization")
	}
	if ctx.Request().Method == http.MethodPost && !owned(ctx.Auth().Account, c) {
		return nil, nil, NewProblem(CodeUnauthorized, "authorization belongs to another account")
	}
	return a, c, nil
}
