package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/quantex/exchange/internal/domain"
	"github.com/quantex/exchange/internal/engine"
	"github.com/quantex/exchange/internal/service"
)

// MarketHandler handles HTTP requests for market data endpoints.
type MarketHandler struct {
	marketSvc *service.MarketService
}

// NewMarketHandler creates a new MarketHandler.
func NewMarketHandler(marketSvc *service.MarketService) *MarketHandler {
	return &MarketHandler{marketSvc: marketSvc}
}

// instrumentResponse is the JSON representation of one instrument.
type instrumentResponse struct {
	Symbol       string          `json:"symbol"`
	BaseAsset    string          `json:"base_asset"`
	QuoteAsset   string          `json:"quote_asset"`
	TickSize     decimal.Decimal `json:"tick_size"`
	LotSize      decimal.Decimal `json:"lot_size"`
	MinQuantity  decimal.Decimal `json:"min_quantity"`
	MinNotional  decimal.Decimal `json:"min_notional"`
	MaxLeverage  decimal.Decimal `json:"max_leverage"`
	MakerFeeRate decimal.Decimal `json:"maker_fee_rate"`
	TakerFeeRate decimal.Decimal `json:"taker_fee_rate"`
	Modes        []string        `json:"modes"`
	Active       bool            `json:"active"`
}

// levelResponse is one aggregated price level of a depth snapshot.
type levelResponse struct {
	Price    decimal.Decimal `json:"price"`
	Quantity decimal.Decimal `json:"quantity"`
	Orders   int             `json:"orders"`
}

// ListInstruments handles GET /instruments.
func (h *MarketHandler) ListInstruments(w http.ResponseWriter, r *http.Request) {
	instruments := h.marketSvc.Instruments()
	items := make([]instrumentResponse, len(instruments))
	for i, inst := range instruments {
		items[i] = buildInstrumentResponse(inst)
	}
	WriteJSON(w, http.StatusOK, map[string]any{"instruments": items})
}

// GetBook handles GET /instruments/{symbol}/book.
func (h *MarketHandler) GetBook(w http.ResponseWriter, r *http.Request) {
	symbol := chi.URLParam(r, "symbol")
	levels := queryInt(r, "levels", 10)

	bids, asks, err := h.marketSvc.Depth(symbol, levels)
	if err != nil {
		mapOrderError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]any{
		"symbol": symbol,
		"bids":   buildLevelResponses(bids),
		"asks":   buildLevelResponses(asks),
	})
}

// GetPrice handles GET /instruments/{symbol}/price.
func (h *MarketHandler) GetPrice(w http.ResponseWriter, r *http.Request) {
	symbol := chi.URLParam(r, "symbol")

	price, err := h.marketSvc.Price(symbol)
	if err != nil {
		mapOrderError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]any{
		"symbol":     price.Symbol,
		"last_price": price.LastPrice,
		"mark_price": price.MarkPrice,
	})
}

// GetFills handles GET /instruments/{symbol}/fills.
func (h *MarketHandler) GetFills(w http.ResponseWriter, r *http.Request) {
	symbol := chi.URLParam(r, "symbol")
	limit := queryInt(r, "limit", 100)

	fills, err := h.marketSvc.RecentFills(symbol, limit)
	if err != nil {
		mapOrderError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]any{
		"symbol": symbol,
		"fills":  buildFillResponses(fills),
	})
}

func buildInstrumentResponse(inst *domain.Instrument) instrumentResponse {
	modes := make([]string, len(inst.Modes))
	for i, m := range inst.Modes {
		modes[i] = string(m)
	}
	return instrumentResponse{
		Symbol:       inst.Symbol,
		BaseAsset:    inst.BaseAsset,
		QuoteAsset:   inst.QuoteAsset,
		TickSize:     inst.TickSize,
		LotSize:      inst.LotSize,
		MinQuantity:  inst.MinQuantity,
		MinNotional:  inst.MinNotional,
		MaxLeverage:  inst.MaxLeverage,
		MakerFeeRate: inst.MakerFeeRate,
		TakerFeeRate: inst.TakerFeeRate,
		Modes:        modes,
		Active:       inst.Active,
	}
}

func buildLevelResponses(levels []engine.PriceLevel) []levelResponse {
	result := make([]levelResponse, len(levels))
	for i, l := range levels {
		result[i] = levelResponse{
			Price:    l.Price,
			Quantity: l.TotalQuantity,
			Orders:   l.OrderCount,
		}
	}
	return result
}

// queryInt parses an integer query parameter, falling back to def when
// absent or malformed.
func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
