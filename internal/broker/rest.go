package broker

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"SignalCast/internal/domain/models"
	"SignalCast/internal/domain/repository"
	xhttp "SignalCast/pkg/http"
	"SignalCast/pkg/logger"
)

// RESTBroker talks to a brokerage REST gateway. Every call authenticates
// with the per-account bearer token from the credential passed in; the
// adapter itself holds no account state.
type RESTBroker struct {
	baseURL string
	client  *xhttp.Client
	logger  *logger.Logger
}

func NewRESTBroker(baseURL string, timeout time.Duration, lgr *logger.Logger) repository.Broker {
	if lgr == nil {
		lgr = logger.Nop()
	}
	return &RESTBroker{
		baseURL: baseURL,
		client:  xhttp.NewClient(xhttp.WithTimeout(timeout)),
		logger:  lgr,
	}
}

func (b *RESTBroker) headers(cred *models.AccountCredential) map[string]string {
	return map[string]string{
		"Authorization": "Bearer " + cred.AccessToken,
		"X-Api-Key":     cred.APIKey,
	}
}

// Authenticate performs the OTP login flow and stores nothing; the caller
// persists the credential returned by the gateway.
func (b *RESTBroker) Authenticate(ctx context.Context, cred *models.AccountCredential, otp, accountID string) error {
	var resp map[string]interface{}
	err := b.client.SendAndParse(ctx, &xhttp.RequestOptions{
		Method: xhttp.MethodPost,
		URL:    b.baseURL + "/auth/login",
		Body: map[string]interface{}{
			"account_id": accountID,
			"api_key":    cred.APIKey,
			"pin":        cred.PIN,
			"otp":        otp,
		},
	}, &resp)
	if err != nil {
		return fmt.Errorf("authenticate account %s: %w", accountID, err)
	}

	if token := firstString(resp, []string{"access_token", "accessToken", "jwtToken", "susertoken"}); token != "" {
		cred.AccessToken = token
	}
	if refresh := firstString(resp, []string{"refresh_token", "refreshToken"}); refresh != "" {
		cred.RefreshToken = refresh
	}
	if exp := firstTime(resp, []string{"expires_at", "expiry", "token_expiry"}); !exp.IsZero() {
		cred.TokenExpiry = &exp
	}
	return nil
}

func (b *RESTBroker) PlaceOrder(ctx context.Context, cred *models.AccountCredential, req models.OrderRequest) (models.PlacementAck, error) {
	body := map[string]interface{}{
		"tradingsymbol":   req.Symbol,
		"symboltoken":     req.InstrumentToken,
		"transactiontype": string(req.Side),
		"quantity":        strconv.Itoa(req.Quantity),
		"ordertype":       string(req.OrderType),
		"producttype":     req.ProductType,
		"exchange":        req.Exchange,
	}
	if req.OrderType == models.OrderTypeLimit {
		body["price"] = strconv.FormatFloat(req.Price, 'f', 2, 64)
	}

	var resp map[string]interface{}
	err := b.client.SendAndParse(ctx, &xhttp.RequestOptions{
		Method:  xhttp.MethodPost,
		URL:     b.baseURL + "/orders",
		Headers: b.headers(cred),
		Body:    body,
	}, &resp)
	if err != nil {
		return models.PlacementAck{}, fmt.Errorf("place order for %s: %w", cred.AccountID, err)
	}

	ack := NormalizeAck(resp)
	if ack.Status == models.OutcomeFailed {
		return ack, fmt.Errorf("broker rejected order: %s", ack.Message)
	}
	return ack, nil
}

func (b *RESTBroker) GetOrderBook(ctx context.Context, cred *models.AccountCredential) ([]models.OrderEntry, error) {
	var resp struct {
		Data []map[string]interface{} `json:"data"`
	}
	err := b.client.SendAndParse(ctx, &xhttp.RequestOptions{
		Method:  xhttp.MethodGet,
		URL:     b.baseURL + "/orders",
		Headers: b.headers(cred),
	}, &resp)
	if err != nil {
		return nil, fmt.Errorf("order book for %s: %w", cred.AccountID, err)
	}

	entries := make([]models.OrderEntry, 0, len(resp.Data))
	for _, raw := range resp.Data {
		entry, err := NormalizeOrder(raw)
		if err != nil {
			b.logger.Warn("skipping unparseable order row",
				logger.String("account_id", cred.AccountID),
				logger.Error(err))
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (b *RESTBroker) GetTradeBook(ctx context.Context, cred *models.AccountCredential) ([]models.TradeEntry, error) {
	var resp struct {
		Data []map[string]interface{} `json:"data"`
	}
	err := b.client.SendAndParse(ctx, &xhttp.RequestOptions{
		Method:  xhttp.MethodGet,
		URL:     b.baseURL + "/trades",
		Headers: b.headers(cred),
	}, &resp)
	if err != nil {
		return nil, fmt.Errorf("trade book for %s: %w", cred.AccountID, err)
	}

	entries := make([]models.TradeEntry, 0, len(resp.Data))
	for _, raw := range resp.Data {
		entry, err := NormalizeTrade(raw)
		if err != nil {
			b.logger.Warn("skipping unparseable trade row",
				logger.String("account_id", cred.AccountID),
				logger.Error(err))
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// RefreshToken exchanges the refresh token for a new access token. The
// returned credential is a copy; the caller persists it.
func (b *RESTBroker) RefreshToken(ctx context.Context, cred *models.AccountCredential) (*models.AccountCredential, error) {
	var resp map[string]interface{}
	err := b.client.SendAndParse(ctx, &xhttp.RequestOptions{
		Method: xhttp.MethodPost,
		URL:    b.baseURL + "/auth/refresh",
		Headers: map[string]string{
			"X-Api-Key": cred.APIKey,
		},
		Body: map[string]interface{}{
			"account_id":    cred.AccountID,
			"refresh_token": cred.RefreshToken,
		},
	}, &resp)
	if err != nil {
		return nil, fmt.Errorf("refresh token for %s: %w", cred.AccountID, err)
	}

	updated := *cred
	token := firstString(resp, []string{"access_token", "accessToken", "jwtToken"})
	if token == "" {
		return nil, fmt.Errorf("refresh token for %s: response carried no token", cred.AccountID)
	}
	updated.AccessToken = token
	if refresh := firstString(resp, []string{"refresh_token", "refreshToken"}); refresh != "" {
		updated.RefreshToken = refresh
	}
	if exp := firstTime(resp, []string{"expires_at", "expiry", "token_expiry"}); !exp.IsZero() {
		updated.TokenExpiry = &exp
	} else {
		exp := time.Now().Add(24 * time.Hour)
		updated.TokenExpiry = &exp
	}
	return &updated, nil
}
