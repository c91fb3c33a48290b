package trader

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"ratio-trade-bot-go/internal/models"
)

func seedCompletedBuy(t *testing.T, trader *AutoTrader, coin string, amount, usd float64, at time.Time) {
	t.Helper()
	trade := models.Trade{
		AltCoinSymbol:    coin,
		CryptoCoinSymbol: "USDT",
		Selling:          false,
		AltAmount:        amount,
		CryptoAmount:     usd,
		State:            models.TradeComplete,
		Datetime:         at,
	}
	assert.NoError(t, trader.db.DB.Create(&trade).Error)
}

func TestProgressRows_ChangeAgainstPreviousBuy(t *testing.T) {
	trader, _, _, _ := setupTest(t)
	base := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)

	seedCompletedBuy(t, trader, "A", 100, 50, base)
	seedCompletedBuy(t, trader, "B", 30, 55, base.Add(time.Hour))
	seedCompletedBuy(t, trader, "A", 110, 60, base.Add(2*time.Hour))

	rows, err := trader.progressRows()
	assert.NoError(t, err)
	assert.Len(t, rows, 3)

	// Newest first.
	assert.Equal(t, "A", rows[0].Coin)
	assert.NotNil(t, rows[0].Change)
	assert.Equal(t, 10.0, *rows[0].Change)

	// First buy of a coin has no previous amount to compare to.
	assert.Equal(t, "B", rows[1].Coin)
	assert.Nil(t, rows[1].Change)
	assert.Equal(t, "A", rows[2].Coin)
	assert.Nil(t, rows[2].Change)
}

func TestProgressRows_IgnoresSellsAndIncompleteTrades(t *testing.T) {
	trader, _, _, _ := setupTest(t)
	base := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)

	seedCompletedBuy(t, trader, "A", 100, 50, base)
	assert.NoError(t, trader.db.DB.Create(&models.Trade{
		AltCoinSymbol: "A", CryptoCoinSymbol: "USDT", Selling: true,
		AltAmount: 100, CryptoAmount: 50, State: models.TradeComplete,
		Datetime: base.Add(time.Minute),
	}).Error)
	assert.NoError(t, trader.db.DB.Create(&models.Trade{
		AltCoinSymbol: "B", CryptoCoinSymbol: "USDT", Selling: false,
		AltAmount: 10, CryptoAmount: 50, State: models.TradeOrdered,
		Datetime: base.Add(2 * time.Minute),
	}).Error)

	rows, err := trader.progressRows()
	assert.NoError(t, err)
	assert.Len(t, rows, 1)
	assert.Equal(t, "A", rows[0].Coin)
}

func TestProgressRows_CapsAtTen(t *testing.T) {
	trader, _, _, _ := setupTest(t)
	base := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)

	for i := 0; i < 12; i++ {
		seedCompletedBuy(t, trader, "A", float64(100+i), 50, base.Add(time.Duration(i)*time.Hour))
	}

	rows, err := trader.progressRows()
	assert.NoError(t, err)
	assert.Len(t, rows, 10)
	assert.Equal(t, 111.0, rows[0].Amount)
}

func TestRenderProgressTable(t *testing.T) {
	change := 10.0
	rows := []progressRow{
		{Coin: "ADA", Amount: 110, PriceUSD: 60, Change: &change, Datetime: "2026-08-01 12:00"},
		{Coin: "ETH", Amount: 0.5, PriceUSD: 55, Datetime: "2026-08-01 11:00"},
	}

	table := renderProgressTable(rows)
	lines := strings.Split(table, "\n")
	assert.Len(t, lines, 4)
	assert.Contains(t, lines[0], "Coin")
	assert.Contains(t, lines[2], "10.00")
	assert.Contains(t, lines[3], "-- NEW! --")
}

func TestRenderProgressTable_Empty(t *testing.T) {
	assert.Equal(t, "No trades.", renderProgressTable(nil))
}
