package main

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"escrowflow/auth"
	"escrowflow/ledger"
)

type accountResponse struct {
	ID        string `json:"id"`
	Balance   int64  `json:"balance"`
	CreatedAt string `json:"createdAt"`
	UpdatedAt string `json:"updatedAt"`
}

func toAccountResponse(a ledger.Account) accountResponse {
	return accountResponse{
		ID:        a.ID,
		Balance:   a.Balance,
		CreatedAt: a.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt: a.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

type creditRequest struct {
	Amount    int64  `json:"amount"`
	Reference string `json:"reference"`
}

// handleAccounts lists accounts for operators.
func (s *Server) handleAccounts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	if _, role := callerFrom(r.Context()); role != auth.RoleOperator {
		writeError(w, http.StatusForbidden, "Forbidden", "operator role required")
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "BadRequest", "limit must be a positive integer")
			return
		}
		limit = n
	}

	accounts, err := s.accountService.List(r.Context(), limit)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	items := make([]accountResponse, 0, len(accounts))
	for _, a := range accounts {
		items = append(items, toAccountResponse(a))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "total": len(items)})
}

// handleAccountDetail serves /api/accounts/me and /api/accounts/{id}/credit.
func (s *Server) handleAccountDetail(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/accounts/"), "/")
	if rest == "" {
		writeError(w, http.StatusBadRequest, "BadRequest", "account id required")
		return
	}
	parts := strings.Split(rest, "/")

	switch {
	case len(parts) == 1 && parts[0] == "me":
		if r.Method != http.MethodGet {
			methodNotAllowed(w, http.MethodGet)
			return
		}
		s.handleMyAccount(w, r)
	case len(parts) == 2 && parts[1] == "credit":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, http.MethodPost)
			return
		}
		s.handleCredit(w, r, parts[0])
	default:
		writeError(w, http.StatusNotFound, "NotFound", "route not found")
	}
}

func (s *Server) handleMyAccount(w http.ResponseWriter, r *http.Request) {
	userID, _ := callerFrom(r.Context())
	acct, err := s.accountService.GetByID(r.Context(), userID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAccountResponse(acct))
}

func (s *Server) handleCredit(w http.ResponseWriter, r *http.Request, accountID string) {
	userID, role := callerFrom(r.Context())
	if role != auth.RoleOperator {
		writeError(w, http.StatusForbidden, "Forbidden", "operator role required")
		return
	}
	var req creditRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "BadRequest", err.Error())
		return
	}
	if req.Reference == "" {
		req.Reference = "credit:" + userID
	}
	acct, err := s.accountService.Credit(r.Context(), accountID, req.Amount, req.Reference)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAccountResponse(acct))
}
