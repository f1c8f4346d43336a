package handler

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantex/exchange/internal/domain"
	"github.com/quantex/exchange/internal/engine"
	"github.com/quantex/exchange/internal/feed"
	"github.com/quantex/exchange/internal/ledger"
	"github.com/quantex/exchange/internal/risk"
	"github.com/quantex/exchange/internal/service"
	"github.com/quantex/exchange/internal/store"
	"github.com/quantex/exchange/internal/stream"
)

type apiFixture struct {
	server *httptest.Server
	ledger *ledger.MemoryLedger
	feed   *feed.MemoryFeed
}

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	registry := domain.NewInstrumentRegistry()
	registry.Register(&domain.Instrument{
		Symbol:      "BTC-USDT",
		BaseAsset:   "BTC",
		QuoteAsset:  "USDT",
		TickSize:    d("0.1"),
		LotSize:     d("0.001"),
		MinQuantity: d("0.001"),
		MaxLeverage: decimal.NewFromInt(100),
		MaintenanceTiers: []domain.MarginTier{
			{NotionalCap: decimal.Zero, Rate: d("0.005")},
		},
		Modes:  []domain.TradeMode{domain.ModeSpot, domain.ModeMargin, domain.ModeFutures},
		Active: true,
	})

	balances := ledger.NewMemoryLedger()
	prices := feed.NewMemoryFeed()
	calc := risk.NewCalculator(registry)
	positions := risk.NewManager(registry, balances, calc)
	orders := store.NewOrderStore()
	fills := store.NewFillStore()
	books := engine.NewBookManager()
	matcher := engine.NewMatcher(books, registry, orders, fills, positions, balances, prices, logger)
	expiry := engine.NewExpiryManager(time.Second, books, balances, nil)
	hub := stream.NewHub()
	events := stream.NewPublisher(hub)

	orderSvc := service.NewOrderService(matcher, expiry, registry, orders, fills, positions, calc, balances, prices, events, logger)
	expiry.SetDispatcher(orderSvc)
	marketSvc := service.NewMarketService(books, registry, prices, fills)
	positionSvc := service.NewPositionService(positions, prices, events, logger)

	router := NewRouter(orderSvc, marketSvc, positionSvc, balances, hub, logger)
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	t.Cleanup(orderSvc.TWAP().Close)

	return &apiFixture{server: server, ledger: balances, feed: prices}
}

func (f *apiFixture) post(t *testing.T, path, body string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Post(f.server.URL+path, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	return resp, decodeBody(t, resp)
}

func (f *apiFixture) get(t *testing.T, path string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Get(f.server.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	return resp, decodeBody(t, resp)
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	return out
}

func TestAPI_Healthz(t *testing.T) {
	f := newAPIFixture(t)
	resp, body := f.get(t, "/healthz")
	if resp.StatusCode != http.StatusOK || body["status"] != "ok" {
		t.Errorf("status %d body %v", resp.StatusCode, body)
	}
}

func TestAPI_SubmitAndFetchOrder(t *testing.T) {
	f := newAPIFixture(t)
	f.ledger.Deposit("alice", d("1000"))

	resp, body := f.post(t, "/orders", `{
		"type": "limit",
		"account_id": "alice",
		"symbol": "BTC-USDT",
		"mode": "futures",
		"side": "buy",
		"quantity": "5",
		"price": "100"
	}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status %d body %v", resp.StatusCode, body)
	}
	if body["status"] != "open" {
		t.Errorf("order status = %v", body["status"])
	}
	orderID, _ := body["order_id"].(string)
	if orderID == "" {
		t.Fatal("no order_id in response")
	}

	resp, body = f.get(t, "/orders/"+orderID)
	if resp.StatusCode != http.StatusOK || body["order_id"] != orderID {
		t.Errorf("get order: status %d body %v", resp.StatusCode, body)
	}
	if body["remaining_quantity"] != "5" {
		t.Errorf("remaining = %v", body["remaining_quantity"])
	}
}

func TestAPI_SelfMatchSkippedReported(t *testing.T) {
	f := newAPIFixture(t)
	f.ledger.Deposit("alice", d("1000"))

	resp, _ := f.post(t, "/orders", `{
		"type": "limit", "account_id": "alice", "symbol": "BTC-USDT",
		"mode": "futures", "side": "sell", "quantity": "1", "price": "100"
	}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("rest: %d", resp.StatusCode)
	}

	// The buy can only cross alice's own ask: skipped, remainder
	// cancelled, and the skipped quantity reported in the response.
	resp, body := f.post(t, "/orders", `{
		"type": "limit", "account_id": "alice", "symbol": "BTC-USDT",
		"mode": "futures", "side": "buy", "quantity": "1", "price": "100"
	}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("cross: %d body %v", resp.StatusCode, body)
	}
	if body["status"] != "cancelled" {
		t.Errorf("status = %v, want cancelled", body["status"])
	}
	if body["self_match_skipped"] != "1" {
		t.Errorf("self_match_skipped = %v, want 1", body["self_match_skipped"])
	}
}

func TestAPI_CancelOrder(t *testing.T) {
	f := newAPIFixture(t)
	f.ledger.Deposit("alice", d("1000"))

	_, body := f.post(t, "/orders", `{
		"type": "limit",
		"account_id": "alice",
		"symbol": "BTC-USDT",
		"mode": "futures",
		"side": "buy",
		"quantity": "5",
		"price": "100"
	}`)
	orderID := body["order_id"].(string)

	req, _ := http.NewRequest(http.MethodDelete, f.server.URL+"/orders/"+orderID, nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE: %v", err)
	}
	body = decodeBody(t, resp)
	if resp.StatusCode != http.StatusOK || body["status"] != "cancelled" {
		t.Errorf("status %d body %v", resp.StatusCode, body)
	}
	if !f.ledger.Reserved("alice").IsZero() {
		t.Errorf("reserved = %s, want 0", f.ledger.Reserved("alice"))
	}
}

func TestAPI_ErrorMapping(t *testing.T) {
	f := newAPIFixture(t)
	f.ledger.Deposit("alice", d("1"))

	// Malformed JSON → 400.
	resp, _ := f.post(t, "/orders", `{not json`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("malformed json: %d", resp.StatusCode)
	}

	// Missing Content-Type → 400 from middleware.
	req, _ := http.NewRequest(http.MethodPost, f.server.URL+"/orders", strings.NewReader(`{}`))
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("missing content type: %d", resp.StatusCode)
	}

	// Unknown instrument → 404.
	resp, _ = f.post(t, "/orders", `{
		"type": "limit",
		"account_id": "alice",
		"symbol": "DOGE-USDT",
		"side": "buy",
		"quantity": "1",
		"price": "100"
	}`)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown instrument: %d", resp.StatusCode)
	}

	// Insufficient margin → 409.
	resp, errBody := f.post(t, "/orders", `{
		"type": "limit",
		"account_id": "alice",
		"symbol": "BTC-USDT",
		"mode": "futures",
		"side": "buy",
		"quantity": "5",
		"price": "100"
	}`)
	if resp.StatusCode != http.StatusConflict || errBody["error"] != "insufficient_margin" {
		t.Errorf("insufficient margin: %d %v", resp.StatusCode, errBody)
	}

	// Unknown order → 404.
	resp, _ = f.get(t, "/orders/does-not-exist")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown order: %d", resp.StatusCode)
	}
}

func TestAPI_DepositAndBalance(t *testing.T) {
	f := newAPIFixture(t)

	resp, _ := f.post(t, "/accounts/alice/deposits", `{"amount": "2500"}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("deposit: %d", resp.StatusCode)
	}

	resp, body := f.get(t, "/accounts/alice/balance")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("balance: %d", resp.StatusCode)
	}
	if body["available"] != "2500" {
		t.Errorf("available = %v", body["available"])
	}

	// Non-positive amounts are rejected.
	resp, _ = f.post(t, "/accounts/alice/deposits", `{"amount": "-5"}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("negative deposit: %d", resp.StatusCode)
	}
}

func TestAPI_MarketData(t *testing.T) {
	f := newAPIFixture(t)
	f.ledger.Deposit("alice", d("1000"))
	f.ledger.Deposit("bob", d("1000"))

	resp, body := f.get(t, "/instruments")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("instruments: %d", resp.StatusCode)
	}
	items, ok := body["instruments"].([]any)
	if !ok || len(items) != 1 {
		t.Fatalf("instruments body = %v", body)
	}
	inst, _ := items[0].(map[string]any)
	if inst["base_asset"] != "BTC" || inst["quote_asset"] != "USDT" {
		t.Errorf("instrument assets = %v / %v", inst["base_asset"], inst["quote_asset"])
	}

	// Cross two orders so the tape and price have data.
	f.post(t, "/orders", `{
		"type": "limit", "account_id": "alice", "symbol": "BTC-USDT",
		"mode": "futures", "side": "sell", "quantity": "1", "price": "100"
	}`)
	f.post(t, "/orders", `{
		"type": "limit", "account_id": "bob", "symbol": "BTC-USDT",
		"mode": "futures", "side": "buy", "quantity": "1", "price": "100"
	}`)

	resp, body = f.get(t, "/instruments/BTC-USDT/price")
	if resp.StatusCode != http.StatusOK || body["last_price"] != "100" {
		t.Errorf("price: %d %v", resp.StatusCode, body)
	}

	resp, body = f.get(t, "/instruments/BTC-USDT/fills")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("fills: %d", resp.StatusCode)
	}
	if items, ok := body["fills"].([]any); !ok || len(items) != 2 {
		t.Errorf("fills body = %v", body)
	}

	resp, body = f.get(t, "/instruments/BTC-USDT/book")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("book: %d", resp.StatusCode)
	}
	if _, ok := body["bids"]; !ok {
		t.Errorf("book body = %v", body)
	}
}

func TestAPI_Positions(t *testing.T) {
	f := newAPIFixture(t)
	f.ledger.Deposit("alice", d("1000"))
	f.ledger.Deposit("bob", d("1000"))

	f.post(t, "/orders", `{
		"type": "limit", "account_id": "alice", "symbol": "BTC-USDT",
		"mode": "futures", "side": "sell", "quantity": "1", "price": "100", "leverage": "10"
	}`)
	f.post(t, "/orders", `{
		"type": "limit", "account_id": "bob", "symbol": "BTC-USDT",
		"mode": "futures", "side": "buy", "quantity": "1", "price": "100", "leverage": "10"
	}`)

	resp, body := f.get(t, "/accounts/bob/positions/BTC-USDT?mode=futures")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("position: %d %v", resp.StatusCode, body)
	}
	if body["side"] != "long" || body["size"] != "1" {
		t.Errorf("position body = %v", body)
	}

	resp, body = f.get(t, "/accounts/carol/positions/BTC-USDT?mode=futures")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("missing position: %d %v", resp.StatusCode, body)
	}

	resp, body = f.get(t, "/accounts/bob/positions")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("positions: %d", resp.StatusCode)
	}
	if items, ok := body["positions"].([]any); !ok || len(items) != 1 {
		t.Errorf("positions body = %v", body)
	}
}
