package broker

import (
	"testing"
	"time"

	"SignalCast/internal/domain/models"
)

func TestNormalizeOrderFieldVariants(t *testing.T) {
	tests := []struct {
		name string
		raw  map[string]interface{}
		want models.OrderEntry
	}{
		{
			name: "snake_case",
			raw: map[string]interface{}{
				"order_id":        "OID-1",
				"symbol":          "RELIANCE-EQ",
				"side":            "BUY",
				"quantity":        10,
				"price":           2510.5,
				"status":          "COMPLETE",
				"order_timestamp": "2025-03-10T09:30:00Z",
			},
			want: models.OrderEntry{
				OrderID: "OID-1", Symbol: "RELIANCE-EQ", Side: models.SideBuy,
				Quantity: 10, Price: 2510.5, Status: "complete",
				PlacedAt: time.Date(2025, 3, 10, 9, 30, 0, 0, time.UTC),
			},
		},
		{
			name: "vendor shorthand",
			raw: map[string]interface{}{
				"norenordno": "24120500001",
				"tsym":       "TCS-EQ",
				"trantype":   "S",
				"qty":        "5",
				"avgprc":     "4100.25",
				"stat":       "rejected",
				"norentm":    "09:15:01 05-12-2024",
			},
			want: models.OrderEntry{
				OrderID: "24120500001", Symbol: "TCS-EQ", Side: models.SideSell,
				Quantity: 5, Price: 4100.25, Status: "rejected",
				PlacedAt: time.Date(2024, 12, 5, 9, 15, 1, 0, time.UTC),
			},
		},
		{
			name: "unix millis timestamp",
			raw: map[string]interface{}{
				"orderId":   "abc",
				"timestamp": float64(1733390100000),
			},
			want: models.OrderEntry{
				OrderID: "abc", Side: models.SideBuy,
				PlacedAt: time.UnixMilli(1733390100000),
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := NormalizeOrder(tc.raw)
			if err != nil {
				t.Fatalf("NormalizeOrder returned error: %v", err)
			}
			if got.OrderID != tc.want.OrderID || got.Symbol != tc.want.Symbol ||
				got.Side != tc.want.Side || got.Quantity != tc.want.Quantity ||
				got.Price != tc.want.Price || got.Status != tc.want.Status {
				t.Errorf("unexpected entry: got %+v want %+v", got, tc.want)
			}
			if !got.PlacedAt.Equal(tc.want.PlacedAt) {
				t.Errorf("placed at: got %v want %v", got.PlacedAt, tc.want.PlacedAt)
			}
		})
	}
}

func TestNormalizeOrderMissingID(t *testing.T) {
	if _, err := NormalizeOrder(map[string]interface{}{"symbol": "X"}); err == nil {
		t.Fatalf("expected error for payload without order id")
	}
}

func TestNormalizeAckStatusMapping(t *testing.T) {
	tests := []struct {
		raw  string
		want models.OutcomeStatus
	}{
		{"COMPLETE", models.OutcomeExecuted},
		{"filled", models.OutcomeExecuted},
		{"REJECTED", models.OutcomeFailed},
		{"Not_Ok", models.OutcomeFailed},
		{"open", models.OutcomePending},
		{"", models.OutcomePending},
	}
	for _, tc := range tests {
		ack := NormalizeAck(map[string]interface{}{"order_id": "x", "status": tc.raw})
		if ack.Status != tc.want {
			t.Errorf("status %q: got %s want %s", tc.raw, ack.Status, tc.want)
		}
	}
}

func TestNormalizeAckMessageVariants(t *testing.T) {
	ack := NormalizeAck(map[string]interface{}{"id": "1", "emsg": "margin shortfall"})
	if ack.Message != "margin shortfall" {
		t.Errorf("message: got %q", ack.Message)
	}
}

func TestNormalizeTradeFallsBackToOrderID(t *testing.T) {
	tr, err := NormalizeTrade(map[string]interface{}{"order_id": "OID-9", "flqty": 3})
	if err != nil {
		t.Fatalf("NormalizeTrade returned error: %v", err)
	}
	if tr.TradeID != "OID-9" || tr.Quantity != 3 {
		t.Errorf("unexpected trade: %+v", tr)
	}
}
