package acme

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/dmitrymomot/acmefront/core/handler"
	"github.com/dmitrymomot/acmefront/core/jws"
	"github.com/dmitrymomot/acmefront/core/logger"
	"github.com/dmitrymomot/acmefront/core/response"
	"github.com/dmitrymomot/acmefront/internal/fulfillment"
)

type directoryMeta struct {
	TermsOfService          string `json:"termsOfService,omitempty"`
	ExternalAccountRequired bool   `json:"externalAccountRequired"`
}

type directoryView struct {
	NewNonce   string        `json:"newNonce"`
	NewAccount string        `json:"newAccount"`
	NewOrder   string        `json:"newOrder"`
	RevokeCert string        `json:"revokeCert"`
	Meta       directoryMeta `json:"meta"`
}

func (s *Server) directory(ctx *Context) handler.Response {
	return response.JSON(directoryView{
		NewNonce:   s.url("/new-nonce"),
		NewAccount: s.url("/new-acct"),
		NewOrder:   s.url("/new-order"),
		RevokeCert: s.url("/revoke-cert"),
		Meta: directoryMeta{
			TermsOfService:          s.cfg.TOSURL,
			ExternalAccountRequired: true,
		},
	})
}

// newNonce relies on replayNonce for the header itself.
func (s *Server) newNonce(ctx *Context) handler.Response {
	if ctx.Request().Method == http.MethodHead {
		return response.Status(http.StatusOK)
	}
	return response.NoContent()
}

type newAccountRequest struct {
	Contact                []string        `json:"contact"`
	TermsOfServiceAgreed   bool            `json:"termsOfServiceAgreed"`
	OnlyReturnExisting     bool            `json:"onlyReturnExisting"`
	ExternalAccountBinding json.RawMessage `json:"externalAccountBinding"`
}

func (s *Server) newAccount(ctx *Context) handler.Response {
	auth := ctx.Auth()
	if auth.Account != nil {
		return s.accountResponse(auth.Account, http.StatusOK)
	}

	var req newAccountRequest
	if ok, err := payload(ctx, &req); err != nil {
		return response.Error(err)
	} else if !ok {
		return response.Error(NewProblem(CodeMalformed, "empty payload"))
	}

	keyID, err := jws.Thumbprint(auth.Key)
	if err != nil {
		return response.Error(NewProblem(CodeBadSignatureAlgorithm, "%s", err.Error()))
	}

	existing, err := s.repo.GetAccount(ctx, keyID)
	switch {
	case err == nil:
		return s.accountResponse(existing, http.StatusOK)
	case !errors.Is(err, ErrNotFound):
		return response.Error(err)
	case req.OnlyReturnExisting:
		return response.Error(NewProblem(CodeAccountDoesNotExist, "no account for this key"))
	}

	if len(req.ExternalAccountBinding) == 0 {
		return response.Error(NewProblem(CodeExternalAccountRequired, "externalAccountBinding is required"))
	}
	if err := checkContact(req.Contact); err != nil {
		return response.Error(err)
	}

	var bound *fulfillment.Order
	lookup := func(ctx context.Context, kid string) ([]byte, error) {
		o, err := s.engine.OrderByEABKeyID(ctx, kid)
		if err != nil {
			return nil, err
		}
		bound = o
		return o.EABHMAC, nil
	}
	if _, err := jws.VerifyEAB(ctx, req.ExternalAccountBinding, auth.Key, s.url("/new-acct"), lookup); err != nil {
		return response.Error(eabProblem(err))
	}

	now := s.now()
	acct := &Account{
		KeyID:     keyID,
		Key:       auth.Key,
		Status:    AccountValid,
		Contact:   req.Contact,
		OrderID:   bound.ID,
		UserID:    bound.UserID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.CreateAccount(ctx, acct); err != nil {
		if !errors.Is(err, ErrAccountExists) {
			return response.Error(err)
		}
		// Lost a race with an identical request.
		if existing, err = s.repo.GetAccount(ctx, keyID); err != nil {
			return response.Error(err)
		}
		return s.accountResponse(existing, http.StatusOK)
	}
	if err := s.engine.MarkEABUsed(ctx, bound.ID); err != nil {
		s.logger.WarnContext(ctx, "mark eab used", logger.OrderID(bound.ID), logger.Error(err))
	}

	s.logger.InfoContext(ctx, "account created",
		logger.AccountID(keyID),
		logger.OrderID(bound.ID),
		logger.UserID(bound.UserID))
	return s.accountResponse(acct, http.StatusCreated)
}

type accountUpdate struct {
	Contact []string      `json:"contact"`
	Status  AccountStatus `json:"status"`
}

// account serves POST-as-GET, contact updates and deactivation.
func (s *Server) account(ctx *Context) handler.Response {
	acct := ctx.Auth().Account
	if ctx.Param("keyId") != acct.KeyID {
		return response.Error(NewProblem(CodeUnauthorized, "account url does not match the signing key"))
	}

	var req accountUpdate
	ok, err := payload(ctx, &req)
	if err != nil {
		return response.Error(err)
	}
	if !ok {
		return s.accountResponse(acct, http.StatusOK)
	}

	switch req.Status {
	case "":
	case AccountDeactivated:
		acct.Status = AccountDeactivated
	default:
		return response.Error(NewProblem(CodeMalformed, "status %q cannot be requested", req.Status))
	}
	if req.Contact != nil {
		if err := checkContact(req.Contact); err != nil {
			return response.Error(err)
		}
		acct.Contact = req.Contact
	}

	acct.UpdatedAt = s.now()
	if err := s.repo.UpdateAccount(ctx, acct); err != nil {
		return response.Error(err)
	}
	s.logger.InfoContext(ctx, "account updated",
		logger.AccountID(acct.KeyID),
		logger.Key("status", acct.Status))
	return s.accountResponse(acct, http.StatusOK)
}

// accountOrders lists the ACME orders placed against the account's
// business order.
func (s *Server) accountOrders(ctx *Context) handler.Response {
	acct := ctx.Auth().Account
	if ctx.Param("keyId") != acct.KeyID {
		return response.Error(NewProblem(CodeUnauthorized, "account url does not match the signing key"))
	}

	certs, err := s.engine.History(ctx, acct.OrderID)
	if err != nil {
		return response.Error(notFound(err, "order"))
	}
	orders := make([]string, 0, len(certs))
	for _, c := range certs {
		if c.Channel == fulfillment.ChannelACME && c.Token != "" {
			orders = append(orders, s.url("/order", c.Token))
		}
	}
	return response.JSON(map[string][]string{"orders": orders})
}

func (s *Server) accountResponse(a *Account, status int) handler.Response {
	return response.WithHeaders(
		response.JSONWithStatus(s.accountView(a), status),
		map[string]string{"Location": s.url("/acct", a.KeyID)},
	)
}

func checkContact(contact []string) error {
	for _, c := range contact {
		addr, ok := strings.CutPrefix(c, "mailto:")
		if !ok || !strings.Contains(addr, "@") || strings.ContainsAny(addr, ",?") {
			return NewProblem(CodeMalformed, "unsupported contact %q", c)
		}
	}
	return nil
}

func eabProblem(err error) *Problem {
	switch {
	case errors.Is(err, jws.ErrEABUnknownKeyID),
		errors.Is(err, jws.ErrEABSignature),
		errors.Is(err, jws.ErrEABKeyMismatch):
		return NewProblem(CodeUnauthorized, "%s", err.Error())
	}
	return NewProblem(CodeMalformed, "%s", err.Error())
}
