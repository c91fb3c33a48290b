package database

import (
	"time"

	"ratio-trade-bot-go/internal/models"
)

// TradeLog advances a single trade row through its lifecycle. States only
// move forward: STARTING on creation, ORDERED on exchange acknowledgement,
// COMPLETE on fill confirmation.
type TradeLog struct {
	db    *Database
	Trade models.Trade
}

// StartTradeLog creates a trade row in the STARTING state before the order
// is placed.
func (d *Database) StartTradeLog(altSymbol, cryptoSymbol string, selling bool, at time.Time) (*TradeLog, error) {
	trade := models.Trade{
		AltCoinSymbol:    altSymbol,
		CryptoCoinSymbol: cryptoSymbol,
		Selling:          selling,
		State:            models.TradeStarting,
		Datetime:         at,
	}
	if err := d.DB.Create(&trade).Error; err != nil {
		return nil, err
	}
	return &TradeLog{db: d, Trade: trade}, nil
}

// SetOrdered marks the trade acknowledged by the exchange.
func (t *TradeLog) SetOrdered(altAmount, cryptoAmount float64) error {
	t.Trade.AltAmount = altAmount
	t.Trade.CryptoAmount = cryptoAmount
	t.Trade.State = models.TradeOrdered
	return t.db.DB.Save(&t.Trade).Error
}

// SetComplete marks the trade filled with the final executed amounts.
func (t *TradeLog) SetComplete(altAmount, cryptoAmount float64) error {
	t.Trade.AltAmount = altAmount
	t.Trade.CryptoAmount = cryptoAmount
	t.Trade.State = models.TradeComplete
	return t.db.DB.Save(&t.Trade).Error
}
