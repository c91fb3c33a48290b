package binance

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"ratio-trade-bot-go/internal/config"
	"ratio-trade-bot-go/internal/database"
)

const (
	tickerCacheTTL  = 5 * time.Second
	feeCacheTTL     = time.Hour
	fallbackFeeRate = 0.001

	orderPollInterval = time.Second
	orderPollTimeout  = 2 * time.Minute
)

// BridgeOrder is the outcome of one completed order leg through the bridge.
type BridgeOrder struct {
	Price        float64 // average fill price in quote units
	AltAmount    float64 // executed base quantity
	CryptoAmount float64 // cumulative quote quantity
}

// Exchange is the adapter contract the trading core depends on. Implemented
// by Manager; mocked in tests.
type Exchange interface {
	GetTickerPrice(symbol string) (float64, bool)
	GetSellPrice(symbol string) (float64, bool)
	GetBuyPrice(symbol string) (float64, bool)
	GetCurrencyBalance(asset string, forceRefresh bool) (float64, error)
	GetMinNotional(alt, quote string) float64
	GetFee(coin, bridge string, selling bool) float64
	SellAlt(alt, bridge string) (*BridgeOrder, error)
	BuyAlt(alt, bridge string) (*BridgeOrder, error)
	KlineOpens(symbol string, minutes int, end time.Time) ([]float64, error)
	Now() time.Time
}

// Manager wires the REST client and the stream cache into the adapter
// contract, adding the ticker/fee caches and the order fill wait.
type Manager struct {
	logger *zap.Logger
	cfg    *config.Config
	client RestClientInterface
	stream *StreamCache
	db     *database.Database

	rules map[string]SymbolInfo

	tickerMu     sync.Mutex
	tickerPrices map[string]float64
	tickerAt     time.Time

	feeMu  sync.Mutex
	fees   map[string]TradeFee
	feesAt time.Time
}

var _ Exchange = (*Manager)(nil)

// NewManager creates the manager around a fresh REST client and an idle
// stream cache.
func NewManager(cfg *config.Config, db *database.Database, logger *zap.Logger) *Manager {
	client := NewRestClient(&cfg.Binance, logger)
	wsBase := streamURL
	if cfg.Binance.Testnet {
		wsBase = testnetStreamURL
	}

	return &Manager{
		logger: logger,
		cfg:    cfg,
		client: client,
		stream: NewStreamCache(wsBase, client, logger),
		db:     db,
		rules:  make(map[string]SymbolInfo),
	}
}

// GetAccount probes the credentials. Called once at boot; failure is fatal.
func (m *Manager) GetAccount() (*AccountResponse, error) {
	return m.client.GetAccount()
}

// Start caches exchange rules, seeds the balance cache and opens the market
// and user-data streams.
func (m *Manager) Start() error {
	info, err := m.client.GetExchangeInfo()
	if err != nil {
		return fmt.Errorf("could not get exchange info: %w", err)
	}
	for _, s := range info.Symbols {
		m.rules[s.Symbol] = s
	}
	m.logger.Info("Cached exchange information", zap.Int("symbols", len(m.rules)))

	if _, err := m.refreshBalances(); err != nil {
		return err
	}

	symbols := make([]string, 0, 2*len(m.cfg.Trading.SupportedCoinList))
	for _, coin := range m.cfg.Trading.SupportedCoinList {
		symbols = append(symbols, coin+m.cfg.Trading.Bridge)
		if coin != "BTC" {
			symbols = append(symbols, coin+"BTC")
		}
	}
	return m.stream.Start(symbols)
}

// Close shuts the streaming connection down.
func (m *Manager) Close() {
	m.stream.Close()
}

// Now returns the adapter's notion of current time.
func (m *Manager) Now() time.Time {
	return time.Now()
}

// GetTickerPrice returns the last traded price for a symbol, refreshing the
// all-tickers snapshot when stale. The boolean is false when the symbol does
// not exist or prices are unavailable this cycle.
func (m *Manager) GetTickerPrice(symbol string) (float64, bool) {
	m.tickerMu.Lock()
	defer m.tickerMu.Unlock()

	if m.tickerPrices == nil || time.Since(m.tickerAt) > tickerCacheTTL {
		prices, err := m.client.GetAllTickerPrices()
		if err != nil {
			m.logger.Warn("Could not refresh ticker prices", zap.Error(err))
			if m.tickerPrices == nil {
				return 0, false
			}
		} else {
			m.tickerPrices = prices
			m.tickerAt = time.Now()
		}
	}

	price, ok := m.tickerPrices[symbol]
	return price, ok
}

// GetSellPrice returns the best bid from the streamed book, falling back to
// the ticker price before the stream has seen the symbol.
func (m *Manager) GetSellPrice(symbol string) (float64, bool) {
	if bid, ok := m.stream.BestBid(symbol); ok {
		return bid, true
	}
	return m.GetTickerPrice(symbol)
}

// GetBuyPrice returns the best ask from the streamed book, falling back to
// the ticker price before the stream has seen the symbol.
func (m *Manager) GetBuyPrice(symbol string) (float64, bool) {
	if ask, ok := m.stream.BestAsk(symbol); ok {
		return ask, true
	}
	return m.GetTickerPrice(symbol)
}

func (m *Manager) refreshBalances() (map[string]float64, error) {
	account, err := m.client.GetAccount()
	if err != nil {
		return nil, fmt.Errorf("could not refresh balances: %w", err)
	}
	balances := make(map[string]float64, len(account.Balances))
	for _, b := range account.Balances {
		free, err := strconv.ParseFloat(b.Free, 64)
		if err != nil {
			continue
		}
		balances[b.Asset] = free
	}
	m.stream.SeedBalances(balances)
	return balances, nil
}

// GetCurrencyBalance returns the free balance of an asset. forceRefresh
// bypasses the stream cache with a REST account read.
func (m *Manager) GetCurrencyBalance(asset string, forceRefresh bool) (float64, error) {
	if !forceRefresh {
		if amount, ok := m.stream.Balance(asset); ok {
			return amount, nil
		}
	}
	balances, err := m.refreshBalances()
	if err != nil {
		return 0, err
	}
	return balances[asset], nil
}

// GetMinNotional returns the minimum order value in quote units for the
// alt/quote market, 0 when unknown.
func (m *Manager) GetMinNotional(alt, quote string) float64 {
	rule, ok := m.rules[alt+quote]
	if !ok {
		return 0
	}
	for _, filter := range rule.Filters {
		if filter.FilterType == "NOTIONAL" || filter.FilterType == "MIN_NOTIONAL" {
			minNotional, err := strconv.ParseFloat(filter.MinNotional, 64)
			if err == nil {
				return minNotional
			}
		}
	}
	return 0
}

// GetFee returns the effective commission rate for one leg. Maker rate when
// selling, taker when buying; rates refresh hourly from the account fee
// endpoint.
func (m *Manager) GetFee(coin, bridge string, selling bool) float64 {
	m.feeMu.Lock()
	defer m.feeMu.Unlock()

	if m.fees == nil || time.Since(m.feesAt) > feeCacheTTL {
		fees, err := m.client.GetTradeFees()
		if err != nil {
			m.logger.Warn("Could not refresh trade fees", zap.Error(err))
		} else {
			m.fees = make(map[string]TradeFee, len(fees))
			for _, fee := range fees {
				m.fees[fee.Symbol] = fee
			}
			m.feesAt = time.Now()
		}
	}

	fee, ok := m.fees[coin+bridge]
	if !ok {
		return fallbackFeeRate
	}

	var rateStr string
	if selling {
		rateStr = fee.MakerCommission
	} else {
		rateStr = fee.TakerCommission
	}
	rate, err := strconv.ParseFloat(rateStr, 64)
	if err != nil {
		return fallbackFeeRate
	}
	return rate
}

// floorQuantity floors a quantity to the symbol's LOT_SIZE step.
func (m *Manager) floorQuantity(symbol string, quantity float64) float64 {
	rule, ok := m.rules[symbol]
	if !ok {
		return quantity
	}

	var stepSize string
	for _, filter := range rule.Filters {
		if filter.FilterType == "LOT_SIZE" {
			stepSize = filter.StepSize
			break
		}
	}
	if stepSize == "" {
		return quantity
	}

	precision := 0
	if dot := strings.Index(stepSize, "."); dot != -1 {
		trimmed := strings.TrimRight(stepSize[dot+1:], "0")
		precision = len(trimmed)
	}

	multiplier := math.Pow(10, float64(precision))
	return math.Floor(quantity*multiplier) / multiplier
}

// waitForFill polls the order until it is filled. Returns an error on
// terminal rejection or timeout; the state machine never advances past the
// last confirmed step.
func (m *Manager) waitForFill(symbol string, orderID int64) (*OrderStatusResponse, error) {
	deadline := time.Now().Add(orderPollTimeout)
	for {
		order, err := m.client.GetOrder(symbol, orderID)
		if err != nil {
			m.logger.Warn("Order status query failed", zap.Int64("order_id", orderID), zap.Error(err))
		} else {
			switch order.Status {
			case OrderStatusFilled:
				return order, nil
			case OrderStatusCanceled, OrderStatusRejected, OrderStatusExpired:
				return nil, fmt.Errorf("order %d for %s ended in state %s", orderID, symbol, order.Status)
			}
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("timed out waiting for order %d on %s", orderID, symbol)
		}
		time.Sleep(orderPollInterval)
	}
}

// SellAlt market-sells the entire alt balance into the bridge, blocking
// until the order is confirmed filled. Returns nil with an error on any
// failure.
func (m *Manager) SellAlt(alt, bridge string) (*BridgeOrder, error) {
	symbol := alt + bridge

	balance, err := m.GetCurrencyBalance(alt, false)
	if err != nil {
		return nil, err
	}
	quantity := m.floorQuantity(symbol, balance)
	if quantity <= 0 {
		return nil, fmt.Errorf("no sellable %s balance", alt)
	}

	m.logger.Info("Selling alt for bridge",
		zap.String("symbol", symbol), zap.Float64("quantity", quantity))

	tradeLog, err := m.db.StartTradeLog(alt, bridge, true, m.Now())
	if err != nil {
		return nil, err
	}

	order, err := m.client.CreateOrder(symbol, OrderSideSell, quantity)
	if err != nil {
		return nil, err
	}
	if err := tradeLog.SetOrdered(quantity, 0); err != nil {
		m.logger.Warn("Could not record ordered trade", zap.Error(err))
	}

	filled, err := m.waitForFill(symbol, order.OrderID)
	if err != nil {
		return nil, err
	}

	executedQty, _ := strconv.ParseFloat(filled.ExecutedQuantity, 64)
	quoteQty, _ := strconv.ParseFloat(filled.CummulativeQuoteQty, 64)
	if executedQty <= 0 {
		return nil, fmt.Errorf("sell order %d filled with zero quantity", order.OrderID)
	}

	if err := tradeLog.SetComplete(executedQty, quoteQty); err != nil {
		m.logger.Warn("Could not record completed trade", zap.Error(err))
	}
	if _, err := m.refreshBalances(); err != nil {
		m.logger.Warn("Balance refresh after sell failed", zap.Error(err))
	}

	return &BridgeOrder{
		Price:        quoteQty / executedQty,
		AltAmount:    executedQty,
		CryptoAmount: quoteQty,
	}, nil
}

// BuyAlt market-buys the alt with the available bridge balance, blocking
// until the order is confirmed filled.
func (m *Manager) BuyAlt(alt, bridge string) (*BridgeOrder, error) {
	symbol := alt + bridge

	bridgeBalance, err := m.GetCurrencyBalance(bridge, false)
	if err != nil {
		return nil, err
	}
	ask, ok := m.GetBuyPrice(symbol)
	if !ok || ask <= 0 {
		return nil, fmt.Errorf("no ask price for %s", symbol)
	}

	quantity := m.floorQuantity(symbol, bridgeBalance/ask)
	if quantity <= 0 {
		return nil, fmt.Errorf("bridge balance %f buys no %s", bridgeBalance, alt)
	}

	m.logger.Info("Buying alt with bridge",
		zap.String("symbol", symbol), zap.Float64("quantity", quantity))

	tradeLog, err := m.db.StartTradeLog(alt, bridge, false, m.Now())
	if err != nil {
		return nil, err
	}

	order, err := m.client.CreateOrder(symbol, OrderSideBuy, quantity)
	if err != nil {
		return nil, err
	}
	if err := tradeLog.SetOrdered(quantity, bridgeBalance); err != nil {
		m.logger.Warn("Could not record ordered trade", zap.Error(err))
	}

	filled, err := m.waitForFill(symbol, order.OrderID)
	if err != nil {
		return nil, err
	}

	executedQty, _ := strconv.ParseFloat(filled.ExecutedQuantity, 64)
	quoteQty, _ := strconv.ParseFloat(filled.CummulativeQuoteQty, 64)
	if executedQty <= 0 {
		return nil, fmt.Errorf("buy order %d filled with zero quantity", order.OrderID)
	}

	if err := tradeLog.SetComplete(executedQty, quoteQty); err != nil {
		m.logger.Warn("Could not record completed trade", zap.Error(err))
	}
	if _, err := m.refreshBalances(); err != nil {
		m.logger.Warn("Balance refresh after buy failed", zap.Error(err))
	}

	return &BridgeOrder{
		Price:        quoteQty / executedQty,
		AltAmount:    executedQty,
		CryptoAmount: quoteQty,
	}, nil
}

// KlineOpens fetches the last `minutes` 1-minute open prices ending at the
// minute before `end`.
func (m *Manager) KlineOpens(symbol string, minutes int, end time.Time) ([]float64, error) {
	base := end.Truncate(time.Minute)
	start := base.Add(-time.Duration(minutes) * time.Minute)
	return m.client.GetKlineOpens(symbol, "1m", start, base.Add(-time.Minute), minutes)
}
