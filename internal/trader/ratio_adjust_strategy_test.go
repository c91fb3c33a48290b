package trader

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"ratio-trade-bot-go/internal/binance"
)

func setupRatioAdjustTest(t *testing.T) (*RatioAdjustStrategy, *MockExchange) {
	trader, _, mockExchange, cfg := setupTest(t)
	cfg.Trading.RatioAdjustWeight = 2
	return &RatioAdjustStrategy{AutoTrader: trader}, mockExchange
}

func TestWarmInit_EWMAFromHistory(t *testing.T) {
	strategy, mockExchange := setupRatioAdjustTest(t)
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	mockExchange.On("Now").Return(base)

	// W=2, window=4. sma over the first two samples, then two EWMA folds.
	mockExchange.On("KlineOpens", "AUSDT", 4, base).Return([]float64{2, 2, 4, 6}, nil)
	mockExchange.On("KlineOpens", "BUSDT", 4, base).Return([]float64{1, 1, 1, 1}, nil)
	mockExchange.On("KlineOpens", "CUSDT", 4, base).Return([]float64{2, 2, 2, 2}, nil)

	assert.NoError(t, strategy.initializeTradeThresholdsFromHistory())

	// sma = 2; r = (2*2+4)/3 = 8/3; r = (2*8/3+6)/3 = 34/9
	ratio := ratioOf(t, strategy.db, "A", "B")
	assert.NotNil(t, ratio)
	assert.InDelta(t, 34.0/9.0, *ratio, 1e-9)

	// sma = 1; r = (2*1+2)/3 = 4/3; r = (2*4/3+3)/3 = 17/9
	ratio = ratioOf(t, strategy.db, "A", "C")
	assert.NotNil(t, ratio)
	assert.InDelta(t, 17.0/9.0, *ratio, 1e-9)
}

func TestWarmInit_ConstantHistory(t *testing.T) {
	strategy, mockExchange := setupRatioAdjustTest(t)
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	mockExchange.On("Now").Return(base)

	mockExchange.On("KlineOpens", "AUSDT", 4, base).Return([]float64{10, 10, 10, 10}, nil)
	mockExchange.On("KlineOpens", "BUSDT", 4, base).Return([]float64{20, 20, 20, 20}, nil)
	mockExchange.On("KlineOpens", "CUSDT", 4, base).Return([]float64{5, 5, 5, 5}, nil)

	assert.NoError(t, strategy.initializeTradeThresholdsFromHistory())

	ratio := ratioOf(t, strategy.db, "A", "B")
	assert.NotNil(t, ratio)
	assert.InDelta(t, 0.5, *ratio, 1e-9)
	ratio = ratioOf(t, strategy.db, "B", "C")
	assert.NotNil(t, ratio)
	assert.InDelta(t, 4.0, *ratio, 1e-9)
}

func TestWarmInit_SkipsIncompleteHistory(t *testing.T) {
	strategy, mockExchange := setupRatioAdjustTest(t)
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	mockExchange.On("Now").Return(base)

	mockExchange.On("KlineOpens", "AUSDT", 4, base).Return([]float64{10, 10, 10, 10}, nil)
	mockExchange.On("KlineOpens", "BUSDT", 4, base).Return([]float64{20, 20, 20, 20}, nil)
	// C is a fresh listing with only two candles.
	mockExchange.On("KlineOpens", "CUSDT", 4, base).Return([]float64{5, 5}, nil)

	assert.NoError(t, strategy.initializeTradeThresholdsFromHistory())

	assert.NotNil(t, ratioOf(t, strategy.db, "A", "B"))
	assert.Nil(t, ratioOf(t, strategy.db, "A", "C"))
	assert.Nil(t, ratioOf(t, strategy.db, "C", "B"))
}

func TestWarmInit_RejectsZeroWeight(t *testing.T) {
	strategy, _ := setupRatioAdjustTest(t)
	strategy.cfg.Trading.RatioAdjustWeight = 0

	assert.Error(t, strategy.initializeTradeThresholdsFromHistory())
}

func TestReanchor_EWMAUpdate(t *testing.T) {
	strategy, mockExchange := setupRatioAdjustTest(t)

	setRatio(t, strategy.db, "A", "B", 0.5)
	mockExchange.On("GetSellPrice", mock.Anything).Return(12.0, true)
	mockExchange.On("GetBuyPrice", mock.Anything).Return(20.0, true)

	assert.NoError(t, strategy.reinitializeTradeThresholds())

	// (2*0.5 + 0.6) / 3
	ratio := ratioOf(t, strategy.db, "A", "B")
	assert.NotNil(t, ratio)
	assert.InDelta(t, 1.6/3.0, *ratio, 1e-9)
	// Unratioed pairs are left alone.
	assert.Nil(t, ratioOf(t, strategy.db, "A", "C"))
}

func TestReanchor_SkipsMissingPrice(t *testing.T) {
	strategy, mockExchange := setupRatioAdjustTest(t)

	setRatio(t, strategy.db, "A", "B", 0.5)
	setRatio(t, strategy.db, "A", "C", 2.0)
	mockExchange.On("GetSellPrice", "AUSDT").Return(12.0, true)
	mockExchange.On("GetBuyPrice", "BUSDT").Return(20.0, true)
	mockExchange.On("GetBuyPrice", "CUSDT").Return(0.0, false)

	assert.NoError(t, strategy.reinitializeTradeThresholds())

	assert.InDelta(t, 1.6/3.0, *ratioOf(t, strategy.db, "A", "B"), 1e-9)
	// The pair with the missing price keeps its ratio.
	assert.InDelta(t, 2.0, *ratioOf(t, strategy.db, "A", "C"), 1e-9)
}

// EWMA boundedness: with a live ratio stream inside [a,b] and a seed inside
// [a,b], the remembered ratio never leaves the interval.
func TestReanchor_Boundedness(t *testing.T) {
	strategy, mockExchange := setupRatioAdjustTest(t)

	setRatio(t, strategy.db, "A", "B", 0.5)
	sellPrices := []float64{12, 8, 11, 9, 10}
	buyPrices := []float64{20, 20, 20, 20, 20}

	for i := range sellPrices {
		mockExchange.ExpectedCalls = nil
		mockExchange.On("GetSellPrice", mock.Anything).Return(sellPrices[i], true)
		mockExchange.On("GetBuyPrice", mock.Anything).Return(buyPrices[i], true)
		assert.NoError(t, strategy.reinitializeTradeThresholds())

		ratio := ratioOf(t, strategy.db, "A", "B")
		assert.NotNil(t, ratio)
		assert.GreaterOrEqual(t, *ratio, 0.4)
		assert.LessOrEqual(t, *ratio, 0.6)
	}
}

func TestScout_BridgeScoutShortCircuitsWithBalance(t *testing.T) {
	strategy, mockExchange := setupRatioAdjustTest(t)
	strategy.failedBuyOrder = true
	now := time.Date(2026, 8, 1, 12, 0, 30, 0, time.UTC)

	assert.NoError(t, strategy.db.SetCurrentCoin("A", now.Add(-time.Hour)))
	strategy.reinitThreshold = now.Add(time.Minute)

	// Plenty of the current coin held: bridge scout must not buy anything.
	mockExchange.On("Now").Return(now)
	mockExchange.On("GetCurrencyBalance", "A", false).Return(5.0, nil)
	mockExchange.On("GetMinNotional", "A", "USDT").Return(1.0)
	mockExchange.On("GetSellPrice", "AUSDT").Return(12.0, true)
	mockExchange.On("GetTickerPrice", mock.Anything).Return(0.0, false)
	mockExchange.On("GetFee", mock.Anything, "USDT", mock.Anything).Return(0.0)

	assert.NoError(t, strategy.Scout())
	mockExchange.AssertNotCalled(t, "BuyAlt", mock.Anything, mock.Anything)
}

func TestScout_UsesSellPriceAndJumps(t *testing.T) {
	strategy, mockExchange := setupRatioAdjustTest(t)
	now := time.Date(2026, 8, 1, 12, 0, 30, 0, time.UTC)

	assert.NoError(t, strategy.db.SetCurrentCoin("A", now.Add(-time.Hour)))
	strategy.reinitThreshold = now.Add(time.Minute) // no re-anchor this cycle

	setRatio(t, strategy.db, "A", "C", 2.0)
	mockExchange.On("Now").Return(now)
	mockExchange.On("GetSellPrice", "AUSDT").Return(12.0, true)
	stubPrices(mockExchange, map[string]float64{"AUSDT": 12, "BUSDT": 20, "CUSDT": 5})
	mockExchange.On("GetFee", mock.Anything, "USDT", mock.Anything).Return(0.0)
	mockExchange.On("GetCurrencyBalance", "A", false).Return(1.0, nil)
	mockExchange.On("GetMinNotional", "A", "USDT").Return(10.0)
	mockExchange.On("SellAlt", "A", "USDT").
		Return(&binance.BridgeOrder{Price: 12, AltAmount: 1, CryptoAmount: 12}, nil)
	mockExchange.On("BuyAlt", "C", "USDT").
		Return(&binance.BridgeOrder{Price: 5, AltAmount: 2.4, CryptoAmount: 12}, nil)

	assert.NoError(t, strategy.Scout())

	current, err := strategy.db.GetCurrentCoin()
	assert.NoError(t, err)
	assert.Equal(t, "C", current.CoinSymbol)
}
