package main

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"escrowflow/escrow"
)

type conditionResponse struct {
	Name              string `json:"name"`
	ConfirmedByBuyer  bool   `json:"confirmedByBuyer"`
	ConfirmedBySeller bool   `json:"confirmedBySeller"`
}

type agreementResponse struct {
	ID          uint32              `json:"id"`
	Buyer       string              `json:"buyer"`
	Seller      string              `json:"seller"`
	TotalAmount int64               `json:"totalAmount"`
	Conditions  []conditionResponse `json:"conditions"`
	Status      string              `json:"status"`
	CreatedAt   string              `json:"createdAt"`
	UpdatedAt   string              `json:"updatedAt"`
}

func toAgreementResponse(a escrow.Agreement) agreementResponse {
	conditions := make([]conditionResponse, 0, len(a.Conditions))
	for _, c := range a.Conditions {
		conditions = append(conditions, conditionResponse{
			Name:              c.Name,
			ConfirmedByBuyer:  c.ConfirmedByBuyer,
			ConfirmedBySeller: c.ConfirmedBySeller,
		})
	}
	return agreementResponse{
		ID:          uint32(a.ID),
		Buyer:       string(a.Buyer),
		Seller:      string(a.Seller),
		TotalAmount: a.TotalAmount,
		Conditions:  conditions,
		Status:      string(a.Status),
		CreatedAt:   a.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:   a.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

type createAgreementRequest struct {
	ID          *uint32  `json:"id"`
	Buyer       string   `json:"buyer"`
	Seller      string   `json:"seller"`
	TotalAmount int64    `json:"totalAmount"`
	Conditions  []string `json:"conditions"`
}

type depositRequest struct {
	Amount int64 `json:"amount"`
}

type checkRequest struct {
	Condition string `json:"condition"`
}

// handleAgreements serves GET (list the caller's agreements) and POST (create).
func (s *Server) handleAgreements(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.handleListAgreements(w, r)
	case http.MethodPost:
		s.handleCreateAgreement(w, r)
	default:
		methodNotAllowed(w, http.MethodGet, http.MethodPost)
	}
}

func (s *Server) handleCreateAgreement(w http.ResponseWriter, r *http.Request) {
	userID, _ := callerFrom(r.Context())
	var req createAgreementRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "BadRequest", err.Error())
		return
	}
	if req.ID == nil {
		writeError(w, http.StatusBadRequest, "BadRequest", "id is required")
		return
	}

	rec, err := s.escrowService.Create(r.Context(), escrow.AccountID(userID), escrow.CreateParams{
		ID:          escrow.AgreementID(*req.ID),
		Buyer:       escrow.AccountID(req.Buyer),
		Seller:      escrow.AccountID(req.Seller),
		TotalAmount: req.TotalAmount,
		Conditions:  req.Conditions,
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toAgreementResponse(rec))
}

func (s *Server) handleListAgreements(w http.ResponseWriter, r *http.Request) {
	userID, _ := callerFrom(r.Context())
	q := r.URL.Query()

	filters := escrow.ListFilters{Party: escrow.AccountID(userID)}
	if raw := q.Get("status"); raw != "" {
		status, err := escrow.ParseStatus(raw)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		filters.Status = status
	}
	for name, dst := range map[string]*int{"page": &filters.Page, "pageSize": &filters.PageSize} {
		raw := q.Get(name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "BadRequest", name+" must be a positive integer")
			return
		}
		*dst = n
	}

	items, total, err := s.escrowService.List(r.Context(), filters)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	out := make([]agreementResponse, 0, len(items))
	for _, a := range items {
		out = append(out, toAgreementResponse(a))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": out, "total": total})
}

// handleAgreementDetail serves /api/agreements/{id}, /deposit and /checks.
func (s *Server) handleAgreementDetail(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/agreements/"), "/")
	if rest == "" {
		writeError(w, http.StatusBadRequest, "BadRequest", "agreement id required")
		return
	}
	parts := strings.Split(rest, "/")
	raw, err := strconv.ParseUint(parts[0], 10, 32)
	if err != nil {
		writeError(w, http.StatusBadRequest, "BadRequest", "agreement id must be an unsigned 32-bit integer")
		return
	}
	id := escrow.AgreementID(raw)

	switch {
	case len(parts) == 1:
		if r.Method != http.MethodGet {
			methodNotAllowed(w, http.MethodGet)
			return
		}
		s.handleGetAgreement(w, r, id)
	case len(parts) == 2 && parts[1] == "deposit":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, http.MethodPost)
			return
		}
		s.handleDeposit(w, r, id)
	case len(parts) == 2 && parts[1] == "checks":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, http.MethodPost)
			return
		}
		s.handleCheck(w, r, id)
	default:
		writeError(w, http.StatusNotFound, "NotFound", "route not found")
	}
}

func (s *Server) handleGetAgreement(w http.ResponseWriter, r *http.Request, id escrow.AgreementID) {
	rec, err := s.escrowService.Get(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAgreementResponse(rec))
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request, id escrow.AgreementID) {
	userID, _ := callerFrom(r.Context())
	var req depositRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "BadRequest", err.Error())
		return
	}
	rec, err := s.escrowService.Deposit(r.Context(), escrow.AccountID(userID), escrow.DepositParams{
		AgreementID:    id,
		Attached:       req.Amount,
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAgreementResponse(rec))
}

func (s *Server) handleCheck(w http.ResponseWriter, r *http.Request, id escrow.AgreementID) {
	userID, _ := callerFrom(r.Context())
	var req checkRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "BadRequest", err.Error())
		return
	}
	rec, err := s.escrowService.CheckCondition(r.Context(), escrow.AccountID(userID), escrow.CheckParams{
		AgreementID:    id,
		Condition:      req.Condition,
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAgreementResponse(rec))
}
