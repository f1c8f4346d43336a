package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/quantex/exchange/internal/domain"
	"github.com/quantex/exchange/internal/service"
)

// OrderHandler handles HTTP requests for order endpoints.
type OrderHandler struct {
	orderSvc *service.OrderService
}

// NewOrderHandler creates a new OrderHandler.
func NewOrderHandler(orderSvc *service.OrderService) *OrderHandler {
	return &OrderHandler{orderSvc: orderSvc}
}

// submitOrderRequest is the JSON request body for POST /orders. Prices
// and quantities are decimal strings so clients never round through
// binary floats.
type submitOrderRequest struct {
	Type            string  `json:"type"`
	AccountID       string  `json:"account_id"`
	Symbol          string  `json:"symbol"`
	Mode            string  `json:"mode"`
	Side            string  `json:"side"`
	TimeInForce     string  `json:"time_in_force"`
	Quantity        string  `json:"quantity"`
	Price           *string `json:"price"`
	TriggerPrice    *string `json:"trigger_price"`
	Leverage        *string `json:"leverage"`
	DisplayQuantity *string `json:"display_quantity"`
	TwapSlices      int     `json:"twap_slices"`
	TwapInterval    *string `json:"twap_interval"`
	ExpiresAt       *string `json:"expires_at"`
}

// orderResponse is the JSON representation of an order. Optional fields
// are pointers and omitted when not set.
type orderResponse struct {
	OrderID           string           `json:"order_id"`
	Type              string           `json:"type"`
	AccountID         string           `json:"account_id"`
	Symbol            string           `json:"symbol"`
	Mode              string           `json:"mode"`
	Side              string           `json:"side"`
	TimeInForce       string           `json:"time_in_force"`
	Quantity          decimal.Decimal  `json:"quantity"`
	FilledQuantity    decimal.Decimal  `json:"filled_quantity"`
	RemainingQuantity decimal.Decimal  `json:"remaining_quantity"`
	CancelledQuantity decimal.Decimal  `json:"cancelled_quantity"`
	Price             *decimal.Decimal `json:"price,omitempty"`
	TriggerPrice      *decimal.Decimal `json:"trigger_price,omitempty"`
	DisplayQuantity   *decimal.Decimal `json:"display_quantity,omitempty"`
	Leverage          decimal.Decimal  `json:"leverage"`
	SelfMatchSkipped  *decimal.Decimal `json:"self_match_skipped,omitempty"`
	AveragePrice      *decimal.Decimal `json:"average_price,omitempty"`
	Status            string           `json:"status"`
	ExpiresAt         *string          `json:"expires_at,omitempty"`
	CreatedAt         string           `json:"created_at"`
	CancelledAt       *string          `json:"cancelled_at,omitempty"`
	ExpiredAt         *string          `json:"expired_at,omitempty"`
	Fills             []fillResponse   `json:"fills"`
}

// fillResponse is a single fill in an order or trade-tape response.
type fillResponse struct {
	FillID     string          `json:"fill_id"`
	TradeID    string          `json:"trade_id"`
	OrderID    string          `json:"order_id"`
	Side       string          `json:"side"`
	Price      decimal.Decimal `json:"price"`
	Quantity   decimal.Decimal `json:"quantity"`
	Fee        decimal.Decimal `json:"fee"`
	Liquidity  string          `json:"liquidity"`
	ExecutedAt string          `json:"executed_at"`
}

// SubmitOrder handles POST /orders.
func (h *OrderHandler) SubmitOrder(w http.ResponseWriter, r *http.Request) {
	var req submitOrderRequest
	if err := ParseJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	svcReq := service.SubmitOrderRequest{
		Type:       domain.OrderType(req.Type),
		AccountID:  req.AccountID,
		Symbol:     req.Symbol,
		Mode:       domain.TradeMode(req.Mode),
		Side:       domain.OrderSide(req.Side),
		TIF:        domain.TimeInForce(req.TimeInForce),
		TwapSlices: req.TwapSlices,
	}

	qty, err := domain.ParseQuantity(req.Quantity)
	if err != nil {
		WriteError(w, http.StatusBadRequest, "validation_error", "quantity must be a positive decimal string")
		return
	}
	svcReq.Quantity = qty

	if req.Price != nil {
		p, err := domain.ParsePrice(*req.Price)
		if err != nil {
			WriteError(w, http.StatusBadRequest, "validation_error", "price must be a positive decimal string")
			return
		}
		svcReq.Price = &p
	}
	if req.TriggerPrice != nil {
		p, err := domain.ParsePrice(*req.TriggerPrice)
		if err != nil {
			WriteError(w, http.StatusBadRequest, "validation_error", "trigger_price must be a positive decimal string")
			return
		}
		svcReq.TriggerPrice = &p
	}
	if req.Leverage != nil {
		lev, err := decimal.NewFromString(*req.Leverage)
		if err != nil || lev.IsNegative() {
			WriteError(w, http.StatusBadRequest, "validation_error", "leverage must be a non-negative decimal string")
			return
		}
		svcReq.Leverage = lev
	}
	if req.DisplayQuantity != nil {
		dq, err := domain.ParseQuantity(*req.DisplayQuantity)
		if err != nil {
			WriteError(w, http.StatusBadRequest, "validation_error", "display_quantity must be a positive decimal string")
			return
		}
		svcReq.DisplayQuantity = &dq
	}
	if req.TwapInterval != nil {
		iv, err := time.ParseDuration(*req.TwapInterval)
		if err != nil {
			WriteError(w, http.StatusBadRequest, "validation_error", "twap_interval must be a valid duration string")
			return
		}
		svcReq.TwapInterval = iv
	}
	if req.ExpiresAt != nil {
		t, err := time.Parse(time.RFC3339, *req.ExpiresAt)
		if err != nil {
			WriteError(w, http.StatusBadRequest, "validation_error", "expires_at must be a valid RFC 3339 timestamp")
			return
		}
		svcReq.ExpiresAt = &t
	}

	order, err := h.orderSvc.SubmitOrder(r.Context(), svcReq)
	if err != nil {
		mapOrderError(w, err)
		return
	}

	WriteJSON(w, http.StatusCreated, buildOrderResponse(order))
}

// GetOrder handles GET /orders/{order_id}.
func (h *OrderHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "order_id")

	order, err := h.orderSvc.GetOrder(orderID)
	if err != nil {
		mapOrderError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, buildOrderResponse(order))
}

// CancelOrder handles DELETE /orders/{order_id}.
func (h *OrderHandler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "order_id")

	order, err := h.orderSvc.CancelOrder(r.Context(), orderID)
	if err != nil {
		mapOrderError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, buildOrderResponse(order))
}

// ListOrders handles GET /accounts/{account_id}/orders.
func (h *OrderHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "account_id")

	var status *domain.OrderStatus
	if s := r.URL.Query().Get("status"); s != "" {
		v := domain.OrderStatus(s)
		status = &v
	}
	page := queryInt(r, "page", 1)
	limit := queryInt(r, "limit", 20)

	orders, total, err := h.orderSvc.ListOrders(accountID, status, page, limit)
	if err != nil {
		mapOrderError(w, err)
		return
	}

	items := make([]any, len(orders))
	for i, o := range orders {
		items[i] = buildOrderResponse(o)
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"orders": items,
		"total":  total,
		"page":   page,
		"limit":  limit,
	})
}

func buildOrderResponse(o *domain.Order) orderResponse {
	resp := orderResponse{
		OrderID:           o.OrderID,
		Type:              string(o.Type),
		AccountID:         o.AccountID,
		Symbol:            o.Symbol,
		Mode:              string(o.Mode),
		Side:              string(o.Side),
		TimeInForce:       string(o.TIF),
		Quantity:          o.Quantity,
		FilledQuantity:    o.FilledQuantity,
		RemainingQuantity: o.RemainingQuantity,
		CancelledQuantity: o.CancelledQuantity,
		Leverage:          o.Leverage,
		Status:            string(o.Status),
		CreatedAt:         formatTime(o.CreatedAt),
		Fills:             buildFillResponses(o.Fills),
	}

	if o.Type.HasLimitPrice() {
		price := o.Price
		resp.Price = &price
	}
	if o.Type.HasTrigger() || !o.TriggerPrice.IsZero() {
		tp := o.TriggerPrice
		resp.TriggerPrice = &tp
	}
	if o.Type == domain.OrderTypeIceberg {
		dq := o.DisplayQuantity
		resp.DisplayQuantity = &dq
	}
	if avg, ok := o.AveragePrice(); ok {
		resp.AveragePrice = &avg
	}
	if o.SelfMatchSkipped.IsPositive() {
		skipped := o.SelfMatchSkipped
		resp.SelfMatchSkipped = &skipped
	}
	if o.ExpiresAt != nil {
		s := formatTime(*o.ExpiresAt)
		resp.ExpiresAt = &s
	}
	if o.CancelledAt != nil {
		s := formatTime(*o.CancelledAt)
		resp.CancelledAt = &s
	}
	if o.ExpiredAt != nil {
		s := formatTime(*o.ExpiredAt)
		resp.ExpiredAt = &s
	}
	return resp
}

func buildFillResponses(fills []*domain.Fill) []fillResponse {
	result := make([]fillResponse, len(fills))
	for i, f := range fills {
		result[i] = fillResponse{
			FillID:     f.FillID,
			TradeID:    f.TradeID,
			OrderID:    f.OrderID,
			Side:       string(f.Side),
			Price:      f.Price,
			Quantity:   f.Quantity,
			Fee:        f.Fee,
			Liquidity:  string(f.Liquidity),
			ExecutedAt: formatTime(f.ExecutedAt),
		}
	}
	return result
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// mapOrderError maps domain errors to HTTP responses for order endpoints.
func mapOrderError(w http.ResponseWriter, err error) {
	var validationErr *domain.ValidationError
	if errors.As(err, &validationErr) {
		WriteError(w, http.StatusBadRequest, "validation_error", validationErr.Message)
		return
	}

	switch {
	case errors.Is(err, domain.ErrInstrumentNotFound):
		WriteError(w, http.StatusNotFound, "instrument_not_found", err.Error())
	case errors.Is(err, domain.ErrOrderNotFound):
		WriteError(w, http.StatusNotFound, "order_not_found", err.Error())
	case errors.Is(err, domain.ErrPositionNotFound):
		WriteError(w, http.StatusNotFound, "position_not_found", err.Error())
	case errors.Is(err, domain.ErrOrderAlreadyFinal):
		WriteError(w, http.StatusConflict, "order_already_final", err.Error())
	case errors.Is(err, domain.ErrInstrumentInactive):
		WriteError(w, http.StatusConflict, "instrument_inactive", err.Error())
	case errors.Is(err, domain.ErrModeNotSupported):
		WriteError(w, http.StatusConflict, "mode_not_supported", err.Error())
	case errors.Is(err, domain.ErrInsufficientMargin):
		WriteError(w, http.StatusConflict, "insufficient_margin", err.Error())
	case errors.Is(err, domain.ErrLeverageExceedsCap):
		WriteError(w, http.StatusConflict, "leverage_exceeds_cap", err.Error())
	case errors.Is(err, domain.ErrBelowMinNotional):
		WriteError(w, http.StatusConflict, "below_min_notional", err.Error())
	case errors.Is(err, domain.ErrOrderUnfillable):
		WriteError(w, http.StatusConflict, "order_unfillable", err.Error())
	case errors.Is(err, domain.ErrPriceUnavailable):
		WriteError(w, http.StatusConflict, "price_unavailable", err.Error())
	case errors.Is(err, domain.ErrInstrumentQuarantined):
		WriteError(w, http.StatusServiceUnavailable, "instrument_quarantined", err.Error())
	default:
		WriteError(w, http.StatusInternalServerError, "internal_error", "An unexpected error occurred")
	}
}
