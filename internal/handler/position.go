package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/quantex/exchange/internal/domain"
	"github.com/quantex/exchange/internal/service"
)

// PositionHandler handles HTTP requests for position endpoints.
type PositionHandler struct {
	positionSvc *service.PositionService
}

// NewPositionHandler creates a new PositionHandler.
func NewPositionHandler(positionSvc *service.PositionService) *PositionHandler {
	return &PositionHandler{positionSvc: positionSvc}
}

// positionResponse is the JSON representation of one open position.
type positionResponse struct {
	AccountID         string          `json:"account_id"`
	Symbol            string          `json:"symbol"`
	Mode              string          `json:"mode"`
	Side              string          `json:"side"`
	Size              decimal.Decimal `json:"size"`
	EntryPrice        decimal.Decimal `json:"entry_price"`
	MarkPrice         decimal.Decimal `json:"mark_price"`
	Leverage          decimal.Decimal `json:"leverage"`
	Margin            decimal.Decimal `json:"margin"`
	MaintenanceMargin decimal.Decimal `json:"maintenance_margin"`
	LiquidationPrice  decimal.Decimal `json:"liquidation_price"`
	RealizedPnL       decimal.Decimal `json:"realized_pnl"`
	UnrealizedPnL     decimal.Decimal `json:"unrealized_pnl"`
}

// GetPosition handles GET /accounts/{account_id}/positions/{symbol}.
func (h *PositionHandler) GetPosition(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "account_id")
	symbol := chi.URLParam(r, "symbol")

	mode := domain.TradeMode(r.URL.Query().Get("mode"))
	if mode == "" {
		mode = domain.ModeFutures
	}

	view, err := h.positionSvc.GetPosition(accountID, symbol, mode)
	if err != nil {
		mapOrderError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, buildPositionResponse(view))
}

// ListPositions handles GET /accounts/{account_id}/positions.
func (h *PositionHandler) ListPositions(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "account_id")

	views := h.positionSvc.ListPositions(accountID)
	items := make([]positionResponse, len(views))
	for i, v := range views {
		items[i] = buildPositionResponse(v)
	}
	WriteJSON(w, http.StatusOK, map[string]any{"positions": items})
}

func buildPositionResponse(v *service.PositionView) positionResponse {
	return positionResponse{
		AccountID:         v.AccountID,
		Symbol:            v.Symbol,
		Mode:              string(v.Mode),
		Side:              string(v.Side),
		Size:              v.Size,
		EntryPrice:        v.EntryPrice,
		MarkPrice:         v.MarkPrice,
		Leverage:          v.Leverage,
		Margin:            v.Margin,
		MaintenanceMargin: v.MaintenanceMargin,
		LiquidationPrice:  v.LiquidationPrice,
		RealizedPnL:       v.RealizedPnL,
		UnrealizedPnL:     v.UnrealizedPnL,
	}
}
