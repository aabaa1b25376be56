package models

// Requests for the ops HTTP endpoints. Defined in domain for consistency and reuse.

type BroadcastRequest struct {
	AdminID     string  `json:"admin_id" validate:"required"`
	Symbol      string  `json:"symbol" validate:"required"`
	Quantity    int     `json:"quantity" validate:"required,gte=1"`
	Side        string  `json:"side" validate:"required,oneof=BUY SELL"`
	OrderType   string  `json:"order_type" default:"MARKET" validate:"oneof=MARKET LIMIT"`
	LimitPrice  float64 `json:"limit_price" validate:"required_if=OrderType LIMIT,gte=0"`
	ProductType string  `json:"product_type" default:"DELIVERY"`
	Exchange    string  `json:"exchange" default:"NSE"`
}

type EnqueueRequest struct {
	SignalID string `param:"id" json:"signal_id" validate:"required"`
}

type TokenRefreshRequest struct {
	AccountID string `param:"id" json:"account_id" validate:"required"`
}
