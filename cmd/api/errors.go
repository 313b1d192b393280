package main

import (
	"errors"
	"log/slog"
	"net/http"

	"escrowflow/auth"
	"escrowflow/escrow"
	"escrowflow/ledger"
)

type errorMapping struct {
	target error
	status int
	code   string
}

// Order matters: the first matching sentinel wins, so wrapped causes such as
// a ledger error inside ErrCanNotDeposit map by the escrow sentinel.
var errorMappings = []errorMapping{
	{escrow.ErrAgreementNotFound, http.StatusNotFound, "AgreementNotFound"},
	{escrow.ErrUnknownCaller, http.StatusForbidden, "UnknownCaller"},
	{escrow.ErrCanNotDeposit, http.StatusConflict, "CanNotDeposit"},
	{escrow.ErrAlreadyFinalized, http.StatusConflict, "AlreadyFinalized"},
	{escrow.ErrAgreementExists, http.StatusConflict, "AgreementExists"},
	{escrow.ErrNotDeposited, http.StatusConflict, "NotDeposited"},
	{escrow.ErrCanNotCheck, http.StatusUnprocessableEntity, "CanNotCheck"},
	{escrow.ErrCanNotTransfer, http.StatusUnprocessableEntity, "CanNotTransfer"},
	{escrow.ErrNoConditions, http.StatusUnprocessableEntity, "NoConditions"},
	{escrow.ErrInvalidAmount, http.StatusUnprocessableEntity, "InvalidAmount"},
	{escrow.ErrInvalidCondition, http.StatusUnprocessableEntity, "InvalidCondition"},
	{escrow.ErrDuplicateCondition, http.StatusUnprocessableEntity, "DuplicateCondition"},
	{escrow.ErrSameParty, http.StatusUnprocessableEntity, "SameParty"},
	{escrow.ErrMissingParty, http.StatusUnprocessableEntity, "MissingParty"},
	{escrow.ErrUnknownParty, http.StatusUnprocessableEntity, "UnknownParty"},
	{escrow.ErrHolderParty, http.StatusUnprocessableEntity, "HolderParty"},
	{escrow.ErrIdempotencyKeyReused, http.StatusConflict, "IdempotencyKeyReused"},
	{escrow.ErrInvalidStatus, http.StatusBadRequest, "InvalidStatus"},
	{ledger.ErrNotFound, http.StatusNotFound, "AccountNotFound"},
	{ledger.ErrInvalidAmount, http.StatusUnprocessableEntity, "InvalidAmount"},
	{auth.ErrUserNotFound, http.StatusNotFound, "UserNotFound"},
	{auth.ErrDuplicateEmail, http.StatusConflict, "DuplicateEmail"},
	{auth.ErrInvalidCredentials, http.StatusUnauthorized, "InvalidCredentials"},
	{auth.ErrWeakPassword, http.StatusBadRequest, "WeakPassword"},
	{auth.ErrMissingFields, http.StatusBadRequest, "MissingFields"},
}

func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	for _, m := range errorMappings {
		if errors.Is(err, m.target) {
			writeError(w, m.status, m.code, err.Error())
			return
		}
	}
	s.log().ErrorContext(r.Context(), "request failed",
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.Any("error", err),
	)
	writeError(w, http.StatusInternalServerError, "Internal", "internal server error")
}
