package acme

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/dmitrymomot/acmefront/core/handler"
	"github.com/dmitrymomot/acmefront/core/jws"
	"github.com/dmitrymomot/acmefront/core/logger"
	"github.com/dmitrymomot/acmefront/core/response"
)

// gate authenticates signed requests. jwkAllowed permits an embedded JWK
// instead of a kid; only account creation sets it.
func (s *Server) gate(jwkAllowed bool) handler.Middleware[*Context] {
	return func(next handler.HandlerFunc[*Context]) handler.HandlerFunc[*Context] {
		return func(ctx *Context) handler.Response {
			r := ctx.Request()
			if r.Method == http.MethodGet || r.Method == http.MethodHead {
				return next(ctx)
			}

			body, err := io.ReadAll(http.MaxBytesReader(ctx.ResponseWriter(), r.Body, s.cfg.MaxBodyBytes))
			if err != nil {
				return response.Error(err)
			}
			msg, err := jws.Parse(body)
			if err != nil {
				return response.Error(NewProblem(CodeMalformed, "%s", err.Error()))
			}

			if !s.nonces.Verify(ctx, msg.Nonce) {
				s.metrics.Nonce("rejected")
				return response.Error(NewProblem(CodeBadNonce, "nonce is unknown, expired or already used"))
			}
			s.metrics.Nonce("accepted")

			if want := s.origin + r.URL.Path; msg.URL != want {
				return response.Error(NewProblem(CodeMalformed, "url %q does not match %q", msg.URL, want))
			}

			hasJWK, hasKID := msg.JWK != nil, msg.KeyID != ""
			switch {
			case hasJWK == hasKID:
				return response.Error(NewProblem(CodeMalformed, "exactly one of jwk and kid is required"))
			case hasJWK && !jwkAllowed:
				return response.Error(NewProblem(CodeMalformed, "this resource requires a kid"))
			}

			auth := &Auth{Message: msg, Key: msg.JWK}
			if hasKID {
				acct, err := s.accountByKID(ctx, msg.KeyID)
				if err != nil {
					return response.Error(err)
				}
				if acct.Status != AccountValid {
					return response.Error(NewProblem(CodeUnauthorized, "account is %s", acct.Status).
						WithStatus(http.StatusUnauthorized))
				}
				auth.Account, auth.Key = acct, acct.Key
			}

			if !jws.Verify(msg, auth.Key) {
				return response.Error(NewProblem(CodeBadSignatureAlgorithm,
					"signature does not verify with %s for this key", msg.Algorithm))
			}

			ctx.SetValue(authKey{}, auth)
			return next(ctx)
		}
	}
}

// accountByKID resolves an account URL to its account.
func (s *Server) accountByKID(ctx *Context, kid string) (*Account, error) {
	keyID, ok := strings.CutPrefix(kid, s.url("/acct/"))
	if !ok || keyID == "" || strings.Contains(keyID, "/") {
		return nil, NewProblem(CodeAccountDoesNotExist, "unknown account %q", kid)
	}
	acct, err := s.repo.GetAccount(ctx, keyID)
	if errors.Is(err, ErrNotFound) {
		return nil, NewProblem(CodeAccountDoesNotExist, "unknown account %q", kid)
	}
	if err != nil {
		s.logger.ErrorContext(ctx, "account lookup failed", logger.AccountID(keyID), logger.Error(err))
		return nil, err
	}
	return acct, nil
}

// payload decodes the verified payload into v. An empty payload is a
// POST-as-GET and leaves v untouched.
func payload(ctx *Context, v any) (bool, error) {
	auth := ctx.Auth()
	if auth == nil || len(auth.Message.Payload) == 0 {
		return false, nil
	}
	if err := json.Unmarshal(auth.Message.Payload, v); err != nil {
		return false, NewProblem(CodeMalformed, "invalid payload: %s", err.Error())
	}
	return true, nil
}
