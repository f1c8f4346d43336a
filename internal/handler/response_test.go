package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
)

func TestWriteJSON_DecimalsAsStrings(t *testing.T) {
	type level struct {
		Price    decimal.Decimal `json:"price"`
		Quantity decimal.Decimal `json:"quantity"`
	}
	w := httptest.NewRecorder()

	WriteJSON(w, http.StatusOK, level{
		Price:    decimal.RequireFromString("42000.5"),
		Quantity: decimal.RequireFromString("0.0001"),
	})

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if got := w.Header().Get("Content-Type"); got != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", got)
	}

	var raw map[string]any
	if err := json.NewDecoder(w.Body).Decode(&raw); err != nil {
		t.Fatalf("decode: %v", err)
	}
	// Decimals must come out as strings, never JSON numbers.
	if raw["price"] != "42000.5" {
		t.Errorf("price = %v (%T), want string \"42000.5\"", raw["price"], raw["price"])
	}
	if raw["quantity"] != "0.0001" {
		t.Errorf("quantity = %v, want \"0.0001\"", raw["quantity"])
	}
}

func TestWriteError_Envelope(t *testing.T) {
	cases := []struct {
		status  int
		reason  string
		message string
	}{
		{http.StatusConflict, "insufficient_margin", "free balance does not cover the required margin"},
		{http.StatusNotFound, "order_not_found", "order not found"},
		{http.StatusServiceUnavailable, "instrument_quarantined", "matching invariant violated"},
	}
	for _, tc := range cases {
		t.Run(tc.reason, func(t *testing.T) {
			w := httptest.NewRecorder()
			WriteError(w, tc.status, tc.reason, tc.message)

			if w.Code != tc.status {
				t.Errorf("status = %d, want %d", w.Code, tc.status)
			}
			var resp errorResponse
			if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if resp.Error != tc.reason {
				t.Errorf("error = %q, want %q", resp.Error, tc.reason)
			}
			if resp.Message != tc.message {
				t.Errorf("message = %q, want %q", resp.Message, tc.message)
			}
		})
	}
}

func TestParseJSON(t *testing.T) {
	type submitBody struct {
		Symbol   string `json:"symbol"`
		Quantity string `json:"quantity"`
	}

	parse := func(t *testing.T, body, contentType string) (submitBody, error) {
		t.Helper()
		r := httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(body))
		if contentType != "" {
			r.Header.Set("Content-Type", contentType)
		}
		var v submitBody
		err := ParseJSON(r, &v)
		return v, err
	}

	t.Run("decodes a valid body", func(t *testing.T) {
		v, err := parse(t, `{"symbol": "BTC-USDT", "quantity": "0.5"}`, "application/json")
		if err != nil {
			t.Fatalf("parse: %v", err)
		}
		if v.Symbol != "BTC-USDT" || v.Quantity != "0.5" {
			t.Errorf("decoded %+v", v)
		}
	})

	t.Run("accepts a charset parameter", func(t *testing.T) {
		if _, err := parse(t, `{"symbol": "BTC-USDT"}`, "application/json; charset=utf-8"); err != nil {
			t.Fatalf("parse: %v", err)
		}
	})

	t.Run("rejects a missing content type", func(t *testing.T) {
		if _, err := parse(t, `{"symbol": "BTC-USDT"}`, ""); err != errContentType {
			t.Errorf("err = %v, want %v", err, errContentType)
		}
	})

	t.Run("rejects a non-json content type", func(t *testing.T) {
		if _, err := parse(t, `{"symbol": "BTC-USDT"}`, "text/plain"); err != errContentType {
			t.Errorf("err = %v, want %v", err, errContentType)
		}
	})

	t.Run("rejects malformed json", func(t *testing.T) {
		if _, err := parse(t, `{"symbol": `, "application/json"); err != errBadBody {
			t.Errorf("err = %v, want %v", err, errBadBody)
		}
	})

	t.Run("rejects unknown fields", func(t *testing.T) {
		if _, err := parse(t, `{"symbol": "BTC-USDT", "bogus": 1}`, "application/json"); err != errBadBody {
			t.Errorf("err = %v, want %v", err, errBadBody)
		}
	})

	t.Run("rejects trailing data after the object", func(t *testing.T) {
		if _, err := parse(t, `{"symbol": "BTC-USDT"} {"symbol": "ETH-USDT"}`, "application/json"); err != errBadBody {
			t.Errorf("err = %v, want %v", err, errBadBody)
		}
	})

	t.Run("rejects an empty body", func(t *testing.T) {
		if _, err := parse(t, ``, "application/json"); err != errBadBody {
			t.Errorf("err = %v, want %v", err, errBadBody)
		}
	})
}
