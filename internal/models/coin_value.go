package models

import "time"

// CoinValue is a periodic snapshot of a held balance valued in USDT and BTC.
// Either price may be nil when the corresponding market does not exist.
type CoinValue struct {
	ID         uint   `gorm:"primaryKey"`
	CoinSymbol string `gorm:"not null;index"`
	Balance    float64
	UsdPrice   *float64
	BtcPrice   *float64
	Datetime   time.Time `gorm:"index"`
}
