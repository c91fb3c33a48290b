package binance

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"ratio-trade-bot-go/internal/config"
)

const (
	baseURL        = "https://api.binance.com"
	testnetBaseURL = "https://testnet.binance.vision"

	streamURL        = "wss://stream.binance.com:9443/stream"
	testnetStreamURL = "wss://stream.testnet.binance.vision/stream"

	recvWindow      = "5000" // How long a request is valid in milliseconds
	OrderTypeMarket = "MARKET"
	OrderSideBuy    = "BUY"
	OrderSideSell   = "SELL"

	OrderStatusFilled   = "FILLED"
	OrderStatusCanceled = "CANCELED"
	OrderStatusRejected = "REJECTED"
	OrderStatusExpired  = "EXPIRED"
)

// RestClientInterface defines the interface for the Binance REST API client.
type RestClientInterface interface {
	GetServerTime() (int64, error)
	GetAccount() (*AccountResponse, error)
	GetAllTickerPrices() (map[string]float64, error)
	GetExchangeInfo() (*ExchangeInfoResponse, error)
	GetTradeFees() ([]TradeFee, error)
	CreateOrder(symbol, side string, quantity float64) (*CreateOrderResponse, error)
	GetOrder(symbol string, orderID int64) (*OrderStatusResponse, error)
	GetKlineOpens(symbol, interval string, start, end time.Time, limit int) ([]float64, error)
	CreateListenKey() (string, error)
	KeepAliveListenKey(key string) error
}

// RestClient is a client for the Binance REST API.
// It implements the RestClientInterface.
type RestClient struct {
	client    *resty.Client
	apiKey    string
	secretKey string
	logger    *zap.Logger
	limiter   *rate.Limiter
	breaker   *gobreaker.CircuitBreaker
}

// ensure RestClient implements the interface
var _ RestClientInterface = (*RestClient)(nil)

// NewRestClient creates a new Binance REST API client.
func NewRestClient(cfg *config.Binance, logger *zap.Logger) *RestClient {
	var url string
	if cfg.Testnet {
		url = testnetBaseURL
		logger.Warn("Using Binance Testnet")
	} else {
		url = baseURL
		logger.Info("Using Binance Production API")
	}

	client := resty.New().SetBaseURL(url)

	// Initialize the rate limiter
	// rate.Limit is requests per second.
	limiter := rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateLimitBurst)

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "binance-rest",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 8
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Circuit breaker state change",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})

	return &RestClient{
		client:    client,
		apiKey:    cfg.ApiKey,
		secretKey: cfg.SecretKey,
		logger:    logger,
		limiter:   limiter,
		breaker:   breaker,
	}
}

// sign creates a HMAC-SHA256 signature for the request.
func (c *RestClient) sign(data string) string {
	h := hmac.New(sha256.New, []byte(c.secretKey))
	h.Write([]byte(data))
	return hex.EncodeToString(h.Sum(nil))
}

// signedParams appends timestamp, recvWindow and signature to the params.
func (c *RestClient) signedParams(params url.Values) url.Values {
	params.Set("timestamp", fmt.Sprintf("%d", time.Now().UnixMilli()))
	params.Set("recvWindow", recvWindow)
	params.Set("signature", c.sign(params.Encode()))
	return params
}

// doRequest handles the actual request execution with circuit breaking, rate
// limiting and retry logic.
func (c *RestClient) doRequest(ctx context.Context, method, url string, req *resty.Request) (*resty.Response, error) {
	var resp *resty.Response
	var err error
	const maxRetries = 3

	for i := 0; i < maxRetries; i++ {
		// Wait for the rate limiter
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter wait failed: %w", err)
		}

		c.logger.Debug("Executing request", zap.String("method", method), zap.String("url", c.client.BaseURL+url))
		result, execErr := c.breaker.Execute(func() (interface{}, error) {
			r, e := req.Execute(method, url)
			if e != nil {
				return r, e
			}
			if r.IsError() && r.StatusCode() >= 500 {
				return r, fmt.Errorf("server error: %s", r.Status())
			}
			return r, nil
		})
		if result != nil {
			resp = result.(*resty.Response)
		}
		err = execErr

		if err == nil && !resp.IsError() {
			return resp, nil // Success
		}

		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return nil, fmt.Errorf("circuit breaker open: %w", err)
		}

		// Analyze error and decide whether to retry
		shouldRetry := false
		var retryAfter time.Duration

		if resp != nil && resp.RawResponse != nil {
			statusCode := resp.StatusCode()
			if statusCode == http.StatusTooManyRequests || statusCode == 418 { // HTTP 429 or 418
				shouldRetry = true
				retryAfterHeader := resp.Header().Get("Retry-After")
				if seconds, err := strconv.Atoi(retryAfterHeader); err == nil {
					retryAfter = time.Duration(seconds) * time.Second
				}
			} else if statusCode >= 500 { // Server errors
				shouldRetry = true
			}
		} else { // Network or other client-side errors
			shouldRetry = true
		}

		if !shouldRetry {
			return nil, fmt.Errorf("request failed with status %s: %s", resp.Status(), resp.String())
		}

		// If we should retry, calculate wait time
		if retryAfter == 0 {
			// Exponential backoff: 1s, 2s, 4s
			retryAfter = time.Duration(math.Pow(2, float64(i))) * time.Second
		}

		c.logger.Warn("Request failed, retrying...",
			zap.Int("attempt", i+1),
			zap.Duration("retry_after", retryAfter),
			zap.Error(err),
		)

		select {
		case <-time.After(retryAfter):
			continue
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	return nil, fmt.Errorf("request failed after %d attempts: %w", maxRetries, err)
}

// GetServerTime fetches the current server time from Binance.
// This is a good endpoint to test connectivity.
func (c *RestClient) GetServerTime() (int64, error) {
	type ServerTimeResponse struct {
		ServerTime int64 `json:"serverTime"`
	}

	req := c.client.R().
		SetResult(&ServerTimeResponse{})
	ctx := context.Background()

	resp, err := c.doRequest(ctx, "GET", "/api/v3/time", req)
	if err != nil {
		c.logger.Error("Failed to get server time", zap.Error(err))
		return 0, fmt.Errorf("failed to get server time: %w", err)
	}

	result := resp.Result().(*ServerTimeResponse)
	return result.ServerTime, nil
}

// AccountBalance is one asset balance within the account snapshot.
type AccountBalance struct {
	Asset  string `json:"asset"`
	Free   string `json:"free"`
	Locked string `json:"locked"`
}

// AccountResponse represents the /account response. Used both as the
// boot-time credential probe and to seed the balance cache.
type AccountResponse struct {
	CanTrade bool             `json:"canTrade"`
	Balances []AccountBalance `json:"balances"`
}

// GetAccount fetches the account snapshot. Requires valid credentials; a
// failure here means the API keys are wrong or lack permissions.
func (c *RestClient) GetAccount() (*AccountResponse, error) {
	params := c.signedParams(url.Values{})

	req := c.client.R().
		SetHeader("X-MBX-APIKEY", c.apiKey).
		SetQueryString(params.Encode()).
		SetResult(&AccountResponse{})
	ctx := context.Background()

	resp, err := c.doRequest(ctx, "GET", "/api/v3/account", req)
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}

	return resp.Result().(*AccountResponse), nil
}

// TickerPrice represents the response for a single ticker price.
type TickerPrice struct {
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
}

// GetAllTickerPrices fetches the latest price for all symbols.
func (c *RestClient) GetAllTickerPrices() (map[string]float64, error) {
	var prices []*TickerPrice

	req := c.client.R().
		SetResult(&prices).
		SetHeader("Content-Type", "application/json")
	ctx := context.Background()

	resp, err := c.doRequest(ctx, "GET", "/api/v3/ticker/price", req)
	if err != nil {
		return nil, fmt.Errorf("failed to get all ticker prices: %w", err)
	}

	result := resp.Result().(*[]*TickerPrice)
	priceMap := make(map[string]float64, len(*result))
	for _, p := range *result {
		price, err := strconv.ParseFloat(p.Price, 64)
		if err != nil {
			c.logger.Warn("Failed to parse ticker price",
				zap.String("symbol", p.Symbol), zap.String("price", p.Price))
			continue
		}
		priceMap[p.Symbol] = price
	}

	return priceMap, nil
}

// ExchangeInfoResponse represents the full response from the /exchangeInfo endpoint.
type ExchangeInfoResponse struct {
	Symbols []SymbolInfo `json:"symbols"`
}

// SymbolInfo contains information about a specific trading symbol.
type SymbolInfo struct {
	Symbol  string   `json:"symbol"`
	Status  string   `json:"status"`
	Filters []Filter `json:"filters"`
}

// Filter represents a single filter for a symbol. LOT_SIZE carries the step
// size for quantity formatting, NOTIONAL the minimum order value in quote
// units.
type Filter struct {
	FilterType  string `json:"filterType"`
	MinQty      string `json:"minQty,omitempty"`
	MaxQty      string `json:"maxQty,omitempty"`
	StepSize    string `json:"stepSize,omitempty"`
	MinNotional string `json:"minNotional,omitempty"`
}

// GetExchangeInfo fetches exchange trading rules and symbol information.
func (c *RestClient) GetExchangeInfo() (*ExchangeInfoResponse, error) {
	var exchangeInfo ExchangeInfoResponse

	req := c.client.R().
		SetResult(&exchangeInfo).
		SetHeader("Content-Type", "application/json")
	ctx := context.Background()

	resp, err := c.doRequest(ctx, "GET", "/api/v3/exchangeInfo", req)
	if err != nil {
		return nil, fmt.Errorf("failed to get exchange info: %w", err)
	}

	return resp.Result().(*ExchangeInfoResponse), nil
}

// TradeFee holds the effective maker/taker commission rates for one symbol.
type TradeFee struct {
	Symbol          string `json:"symbol"`
	MakerCommission string `json:"makerCommission"`
	TakerCommission string `json:"takerCommission"`
}

// GetTradeFees fetches the account's per-symbol commission rates.
func (c *RestClient) GetTradeFees() ([]TradeFee, error) {
	var fees []TradeFee
	params := c.signedParams(url.Values{})

	req := c.client.R().
		SetHeader("X-MBX-APIKEY", c.apiKey).
		SetQueryString(params.Encode()).
		SetResult(&fees)
	ctx := context.Background()

	resp, err := c.doRequest(ctx, "GET", "/sapi/v1/asset/tradeFee", req)
	if err != nil {
		return nil, fmt.Errorf("failed to get trade fees: %w", err)
	}

	return *resp.Result().(*[]TradeFee), nil
}

// GetKlineOpens fetches 1-interval candles and returns their open prices in
// chronological order.
func (c *RestClient) GetKlineOpens(symbol, interval string, start, end time.Time, limit int) ([]float64, error) {
	var klines [][]interface{}

	req := c.client.R().
		SetQueryParams(map[string]string{
			"symbol":    symbol,
			"interval":  interval,
			"startTime": strconv.FormatInt(start.UnixMilli(), 10),
			"endTime":   strconv.FormatInt(end.UnixMilli(), 10),
			"limit":     strconv.Itoa(limit),
		}).
		SetResult(&klines)
	ctx := context.Background()

	resp, err := c.doRequest(ctx, "GET", "/api/v3/klines", req)
	if err != nil {
		return nil, fmt.Errorf("failed to get klines for %s: %w", symbol, err)
	}

	result := *resp.Result().(*[][]interface{})
	opens := make([]float64, 0, len(result))
	for _, k := range result {
		if len(k) < 2 {
			continue
		}
		openStr, ok := k[1].(string)
		if !ok {
			continue
		}
		open, err := strconv.ParseFloat(openStr, 64)
		if err != nil {
			continue
		}
		opens = append(opens, open)
	}

	return opens, nil
}

// CreateOrderResponse represents the response from creating a new order.
type CreateOrderResponse struct {
	Symbol              string `json:"symbol"`
	OrderID             int64  `json:"orderId"`
	ClientOrderID       string `json:"clientOrderId"`
	TransactTime        int64  `json:"transactTime"`
	Price               string `json:"price"`
	OrigQuantity        string `json:"origQty"`
	ExecutedQuantity    string `json:"executedQty"`
	CummulativeQuoteQty string `json:"cummulativeQuoteQty"`
	Status              string `json:"status"`
	TimeInForce         string `json:"timeInForce"`
	Type                string `json:"type"`
	Side                string `json:"side"`
}

// CreateOrder places a MARKET order on Binance.
func (c *RestClient) CreateOrder(symbol, side string, quantity float64) (*CreateOrderResponse, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("side", side)
	params.Set("type", OrderTypeMarket)
	params.Set("quantity", strconv.FormatFloat(quantity, 'f', -1, 64))
	params = c.signedParams(params)

	req := c.client.R().
		SetHeader("X-MBX-APIKEY", c.apiKey).
		SetHeader("Content-Type", "application/x-www-form-urlencoded").
		SetBody(params.Encode()).
		SetResult(&CreateOrderResponse{})

	ctx := context.Background()

	resp, err := c.doRequest(ctx, "POST", "/api/v3/order", req)
	if err != nil {
		c.logger.Error("Failed to create order after multiple attempts",
			zap.Error(err),
			zap.String("symbol", symbol),
		)
		return nil, fmt.Errorf("failed to create order: %w", err)
	}

	result := resp.Result().(*CreateOrderResponse)
	c.logger.Info("Successfully created order", zap.Any("order", result))
	return result, nil
}

// OrderStatusResponse represents a queried order's state.
type OrderStatusResponse struct {
	Symbol              string `json:"symbol"`
	OrderID             int64  `json:"orderId"`
	Status              string `json:"status"`
	ExecutedQuantity    string `json:"executedQty"`
	CummulativeQuoteQty string `json:"cummulativeQuoteQty"`
}

// GetOrder queries the status of a previously placed order.
func (c *RestClient) GetOrder(symbol string, orderID int64) (*OrderStatusResponse, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("orderId", strconv.FormatInt(orderID, 10))
	params = c.signedParams(params)

	req := c.client.R().
		SetHeader("X-MBX-APIKEY", c.apiKey).
		SetQueryString(params.Encode()).
		SetResult(&OrderStatusResponse{})
	ctx := context.Background()

	resp, err := c.doRequest(ctx, "GET", "/api/v3/order", req)
	if err != nil {
		return nil, fmt.Errorf("failed to get order %d: %w", orderID, err)
	}

	return resp.Result().(*OrderStatusResponse), nil
}

type listenKeyResponse struct {
	ListenKey string `json:"listenKey"`
}

// CreateListenKey opens a user-data stream and returns its key.
func (c *RestClient) CreateListenKey() (string, error) {
	req := c.client.R().
		SetHeader("X-MBX-APIKEY", c.apiKey).
		SetResult(&listenKeyResponse{})
	ctx := context.Background()

	resp, err := c.doRequest(ctx, "POST", "/api/v3/userDataStream", req)
	if err != nil {
		return "", fmt.Errorf("failed to create listen key: %w", err)
	}

	return resp.Result().(*listenKeyResponse).ListenKey, nil
}

// KeepAliveListenKey extends the user-data stream's validity.
func (c *RestClient) KeepAliveListenKey(key string) error {
	req := c.client.R().
		SetHeader("X-MBX-APIKEY", c.apiKey).
		SetQueryParam("listenKey", key)
	ctx := context.Background()

	if _, err := c.doRequest(ctx, "PUT", "/api/v3/userDataStream", req); err != nil {
		return fmt.Errorf("failed to keep listen key alive: %w", err)
	}
	return nil
}
