package binance

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"
)

type mockRestClient struct {
	mock.Mock
}

func (m *mockRestClient) GetServerTime() (int64, error) {
	args := m.Called()
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockRestClient) GetAccount() (*AccountResponse, error) {
	args := m.Called()
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*AccountResponse), args.Error(1)
}

func (m *mockRestClient) GetAllTickerPrices() (map[string]float64, error) {
	args := m.Called()
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]float64), args.Error(1)
}

func (m *mockRestClient) GetExchangeInfo() (*ExchangeInfoResponse, error) {
	args := m.Called()
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ExchangeInfoResponse), args.Error(1)
}

func (m *mockRestClient) GetTradeFees() ([]TradeFee, error) {
	args := m.Called()
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]TradeFee), args.Error(1)
}

func (m *mockRestClient) CreateOrder(symbol, side string, quantity float64) (*CreateOrderResponse, error) {
	args := m.Called(symbol, side, quantity)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*CreateOrderResponse), args.Error(1)
}

func (m *mockRestClient) GetOrder(symbol string, orderID int64) (*OrderStatusResponse, error) {
	args := m.Called(symbol, orderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*OrderStatusResponse), args.Error(1)
}

func (m *mockRestClient) GetKlineOpens(symbol, interval string, start, end time.Time, limit int) ([]float64, error) {
	args := m.Called(symbol, interval, start, end, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]float64), args.Error(1)
}

func (m *mockRestClient) CreateListenKey() (string, error) {
	args := m.Called()
	return args.String(0), args.Error(1)
}

func (m *mockRestClient) KeepAliveListenKey(key string) error {
	return m.Called(key).Error(0)
}

var _ RestClientInterface = (*mockRestClient)(nil)

func newTestManager(client RestClientInterface) *Manager {
	return &Manager{
		logger: zap.NewNop(),
		client: client,
		stream: NewStreamCache("", client, zap.NewNop()),
		rules:  make(map[string]SymbolInfo),
	}
}

func TestFloorQuantity(t *testing.T) {
	m := newTestManager(nil)
	m.rules["ADAUSDT"] = SymbolInfo{
		Symbol: "ADAUSDT",
		Filters: []Filter{
			{FilterType: "LOT_SIZE", StepSize: "0.10000000"},
		},
	}
	m.rules["BTCUSDT"] = SymbolInfo{
		Symbol: "BTCUSDT",
		Filters: []Filter{
			{FilterType: "LOT_SIZE", StepSize: "0.00001000"},
		},
	}
	m.rules["WHOLE"] = SymbolInfo{
		Symbol: "WHOLE",
		Filters: []Filter{
			{FilterType: "LOT_SIZE", StepSize: "1.00000000"},
		},
	}

	assert.Equal(t, 123.4, m.floorQuantity("ADAUSDT", 123.456))
	assert.Equal(t, 0.00123, m.floorQuantity("BTCUSDT", 0.0012399))
	assert.Equal(t, 7.0, m.floorQuantity("WHOLE", 7.99))
	// Unknown symbols and symbols without a LOT_SIZE filter pass through.
	assert.Equal(t, 1.2345, m.floorQuantity("NOPEUSDT", 1.2345))
}

func TestGetMinNotional(t *testing.T) {
	m := newTestManager(nil)
	m.rules["ADAUSDT"] = SymbolInfo{
		Symbol: "ADAUSDT",
		Filters: []Filter{
			{FilterType: "LOT_SIZE", StepSize: "0.1"},
			{FilterType: "NOTIONAL", MinNotional: "10.00000000"},
		},
	}
	m.rules["LTCUSDT"] = SymbolInfo{
		Symbol: "LTCUSDT",
		Filters: []Filter{
			{FilterType: "MIN_NOTIONAL", MinNotional: "5.00000000"},
		},
	}

	assert.Equal(t, 10.0, m.GetMinNotional("ADA", "USDT"))
	assert.Equal(t, 5.0, m.GetMinNotional("LTC", "USDT"))
	assert.Equal(t, 0.0, m.GetMinNotional("NOPE", "USDT"))
}

func TestGetFee_MakerSellerTakerBuyer(t *testing.T) {
	client := &mockRestClient{}
	client.On("GetTradeFees").Return([]TradeFee{
		{Symbol: "ADAUSDT", MakerCommission: "0.001", TakerCommission: "0.002"},
	}, nil).Once()

	m := newTestManager(client)

	assert.Equal(t, 0.001, m.GetFee("ADA", "USDT", true))
	assert.Equal(t, 0.002, m.GetFee("ADA", "USDT", false))
	// Unknown symbols fall back to the default rate without refetching.
	assert.Equal(t, fallbackFeeRate, m.GetFee("NOPE", "USDT", true))
	client.AssertExpectations(t)
}

func TestGetFee_FallbackWhenFeesUnavailable(t *testing.T) {
	client := &mockRestClient{}
	client.On("GetTradeFees").Return(nil, assert.AnError)

	m := newTestManager(client)

	assert.Equal(t, fallbackFeeRate, m.GetFee("ADA", "USDT", true))
}

func TestGetTickerPrice_CachesSnapshot(t *testing.T) {
	client := &mockRestClient{}
	client.On("GetAllTickerPrices").Return(map[string]float64{"ADAUSDT": 0.45}, nil).Once()

	m := newTestManager(client)

	price, ok := m.GetTickerPrice("ADAUSDT")
	assert.True(t, ok)
	assert.Equal(t, 0.45, price)

	// Within the TTL the snapshot serves misses as well.
	_, ok = m.GetTickerPrice("NOPEUSDT")
	assert.False(t, ok)
	client.AssertExpectations(t)
}

func TestGetCurrencyBalance_ForceRefreshBypassesCache(t *testing.T) {
	client := &mockRestClient{}
	client.On("GetAccount").Return(&AccountResponse{
		Balances: []AccountBalance{
			{Asset: "ADA", Free: "25.5", Locked: "0"},
			{Asset: "USDT", Free: "bogus", Locked: "0"},
		},
	}, nil)

	m := newTestManager(client)
	m.stream.SeedBalances(map[string]float64{"ADA": 10})

	balance, err := m.GetCurrencyBalance("ADA", false)
	assert.NoError(t, err)
	assert.Equal(t, 10.0, balance)

	balance, err = m.GetCurrencyBalance("ADA", true)
	assert.NoError(t, err)
	assert.Equal(t, 25.5, balance)

	// The refresh reseeds the stream cache; unparseable rows are dropped.
	balance, err = m.GetCurrencyBalance("USDT", false)
	assert.NoError(t, err)
	assert.Equal(t, 0.0, balance)
}

func TestSellBuyPrices_FallBackToTicker(t *testing.T) {
	client := &mockRestClient{}
	client.On("GetAllTickerPrices").Return(map[string]float64{"ADAUSDT": 0.45}, nil)

	m := newTestManager(client)

	price, ok := m.GetSellPrice("ADAUSDT")
	assert.True(t, ok)
	assert.Equal(t, 0.45, price)

	// Streamed book quotes win once present.
	m.stream.mu.Lock()
	m.stream.bids["ADAUSDT"] = 0.44
	m.stream.asks["ADAUSDT"] = 0.46
	m.stream.mu.Unlock()

	price, ok = m.GetSellPrice("ADAUSDT")
	assert.True(t, ok)
	assert.Equal(t, 0.44, price)
	price, ok = m.GetBuyPrice("ADAUSDT")
	assert.True(t, ok)
	assert.Equal(t, 0.46, price)
}

func TestKlineOpens_WindowEndsBeforeCurrentMinute(t *testing.T) {
	client := &mockRestClient{}
	end := time.Date(2026, 8, 1, 12, 0, 30, 0, time.UTC)
	start := time.Date(2026, 8, 1, 11, 57, 0, 0, time.UTC)
	last := time.Date(2026, 8, 1, 11, 59, 0, 0, time.UTC)
	client.On("GetKlineOpens", "ADAUSDT", "1m", start, last, 3).
		Return([]float64{1, 2, 3}, nil)

	m := newTestManager(client)

	opens, err := m.KlineOpens("ADAUSDT", 3, end)
	assert.NoError(t, err)
	assert.Equal(t, []float64{1, 2, 3}, opens)
	client.AssertExpectations(t)
}
