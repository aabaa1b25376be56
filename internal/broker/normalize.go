// Package broker normalizes loosely-typed brokerage API payloads into the
// strict domain records the engine works with. Brokerages disagree on field
// names and timestamp encodings even within one API, so normalization is kept
// pure and separate from any network call.
package broker

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"SignalCast/internal/domain/models"
)

// Candidate field names observed across brokerage order/trade payloads.
var (
	orderIDKeys   = []string{"order_id", "orderId", "orderid", "norenordno", "nOrdNo", "id"}
	tradeIDKeys   = []string{"trade_id", "tradeId", "fill_id", "fillid", "flid"}
	symbolKeys    = []string{"symbol", "tradingsymbol", "tsym", "trdSym"}
	statusKeys    = []string{"status", "order_status", "orderstatus", "stat"}
	sideKeys      = []string{"side", "transaction_type", "transactiontype", "trantype", "trnsTp"}
	qtyKeys       = []string{"quantity", "qty", "filled_qty", "fillshares", "flqty"}
	priceKeys     = []string{"price", "avg_price", "avgprc", "averageprice", "flprc"}
	placedAtKeys  = []string{"order_timestamp", "ordertime", "norentm", "exch_tm", "created_at", "timestamp"}
	updatedAtKeys = []string{"update_timestamp", "exchupdtime", "updated_at", "exchtime"}
	messageKeys   = []string{"message", "emsg", "rejreason", "remarks"}
)

// timeLayouts are tried in order for string timestamps.
var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"02-01-2006 15:04:05",
	"2006-01-02 15:04:05",
	"15:04:05 02-01-2006",
}

// NormalizeOrder maps a raw order-book row into a strict OrderEntry.
func NormalizeOrder(raw map[string]interface{}) (models.OrderEntry, error) {
	orderID := firstString(raw, orderIDKeys)
	if orderID == "" {
		return models.OrderEntry{}, fmt.Errorf("broker: order payload has no recognizable order id")
	}

	return models.OrderEntry{
		OrderID:   orderID,
		Symbol:    firstString(raw, symbolKeys),
		Side:      normalizeSide(firstString(raw, sideKeys)),
		Quantity:  firstInt(raw, qtyKeys),
		Price:     firstFloat(raw, priceKeys),
		Status:    strings.ToLower(firstString(raw, statusKeys)),
		PlacedAt:  firstTime(raw, placedAtKeys),
		UpdatedAt: firstTime(raw, updatedAtKeys),
	}, nil
}

// NormalizeTrade maps a raw trade-book row into a strict TradeEntry.
func NormalizeTrade(raw map[string]interface{}) (models.TradeEntry, error) {
	tradeID := firstString(raw, tradeIDKeys)
	if tradeID == "" {
		tradeID = firstString(raw, orderIDKeys)
	}
	if tradeID == "" {
		return models.TradeEntry{}, fmt.Errorf("broker: trade payload has no recognizable trade id")
	}

	return models.TradeEntry{
		TradeID:  tradeID,
		OrderID:  firstString(raw, orderIDKeys),
		Symbol:   firstString(raw, symbolKeys),
		Side:     normalizeSide(firstString(raw, sideKeys)),
		Quantity: firstInt(raw, qtyKeys),
		Price:    firstFloat(raw, priceKeys),
		TradedAt: firstTime(raw, placedAtKeys),
	}, nil
}

// NormalizeAck maps a raw placement response into a PlacementAck.
func NormalizeAck(raw map[string]interface{}) models.PlacementAck {
	status := strings.ToLower(firstString(raw, statusKeys))
	return models.PlacementAck{
		OrderID: firstString(raw, orderIDKeys),
		Status:  normalizeOutcome(status),
		Message: firstString(raw, messageKeys),
	}
}

func normalizeOutcome(status string) models.OutcomeStatus {
	switch status {
	case "complete", "completed", "executed", "filled", "traded", "ok", "success":
		return models.OutcomeExecuted
	case "rejected", "cancelled", "canceled", "failed", "error", "not_ok":
		return models.OutcomeFailed
	default:
		return models.OutcomePending
	}
}

func normalizeSide(s string) models.OrderSide {
	switch strings.ToUpper(s) {
	case "SELL", "S":
		return models.SideSell
	default:
		return models.SideBuy
	}
}

func firstString(raw map[string]interface{}, keys []string) string {
	for _, k := range keys {
		if v, ok := raw[k]; ok {
			switch t := v.(type) {
			case string:
				if t != "" {
					return t
				}
			case float64:
				return strconv.FormatFloat(t, 'f', -1, 64)
			case int:
				return strconv.Itoa(t)
			case int64:
				return strconv.FormatInt(t, 10)
			}
		}
	}
	return ""
}

func firstInt(raw map[string]interface{}, keys []string) int {
	for _, k := range keys {
		if v, ok := raw[k]; ok {
			switch t := v.(type) {
			case int:
				return t
			case int64:
				return int(t)
			case float64:
				return int(t)
			case string:
				if n, err := strconv.Atoi(t); err == nil {
					return n
				}
			}
		}
	}
	return 0
}

func firstFloat(raw map[string]interface{}, keys []string) float64 {
	for _, k := range keys {
		if v, ok := raw[k]; ok {
			switch t := v.(type) {
			case float64:
				return t
			case int:
				return float64(t)
			case int64:
				return float64(t)
			case string:
				if f, err := strconv.ParseFloat(t, 64); err == nil {
					return f
				}
			}
		}
	}
	return 0
}

func firstTime(raw map[string]interface{}, keys []string) time.Time {
	for _, k := range keys {
		v, ok := raw[k]
		if !ok {
			continue
		}
		if t, ok := parseTime(v); ok {
			return t
		}
	}
	return time.Time{}
}

// parseTime tries the known string layouts, then unix seconds and millis.
func parseTime(v interface{}) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		if t == "" {
			return time.Time{}, false
		}
		for _, layout := range timeLayouts {
			if parsed, err := time.Parse(layout, t); err == nil {
				return parsed, true
			}
		}
		if ts, err := strconv.ParseInt(t, 10, 64); err == nil && ts > 0 {
			return unixGuess(ts), true
		}
	case float64:
		if t > 0 {
			return unixGuess(int64(t)), true
		}
	case int64:
		if t > 0 {
			return unixGuess(t), true
		}
	}
	return time.Time{}, false
}

// unixGuess treats values past the year-5000 mark in seconds as milliseconds.
func unixGuess(ts int64) time.Time {
	if ts > 1e11 {
		return time.UnixMilli(ts)
	}
	return time.Unix(ts, 0)
}
