package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
)

// AccountLedger is the balance surface the account endpoints need.
type AccountLedger interface {
	Deposit(accountID string, amount decimal.Decimal)
	Available(ctx context.Context, accountID string) (decimal.Decimal, error)
}

// AccountHandler handles HTTP requests for account balance endpoints.
type AccountHandler struct {
	ledger AccountLedger
}

// NewAccountHandler creates a new AccountHandler.
func NewAccountHandler(ledger AccountLedger) *AccountHandler {
	return &AccountHandler{ledger: ledger}
}

// depositRequest is the JSON request body for POST /accounts/{account_id}/deposits.
type depositRequest struct {
	Amount string `json:"amount"`
}

// Deposit handles POST /accounts/{account_id}/deposits.
func (h *AccountHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "account_id")

	var req depositRequest
	if err := ParseJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	amount, err := decimal.NewFromString(req.Amount)
	if err != nil || !amount.IsPositive() {
		WriteError(w, http.StatusBadRequest, "validation_error", "amount must be a positive decimal string")
		return
	}

	h.ledger.Deposit(accountID, amount)

	available, err := h.ledger.Available(r.Context(), accountID)
	if err != nil {
		mapOrderError(w, err)
		return
	}
	WriteJSON(w, http.StatusCreated, map[string]any{
		"account_id": accountID,
		"available":  available,
	})
}

// GetBalance handles GET /accounts/{account_id}/balance.
func (h *AccountHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "account_id")
	if accountID == "" {
		WriteError(w, http.StatusBadRequest, "validation_error", "account_id is required")
		return
	}

	available, err := h.ledger.Available(r.Context(), accountID)
	if err != nil {
		mapOrderError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"account_id": accountID,
		"available":  available,
	})
}
