package models

import "time"

// TradeState tracks one order leg through its lifecycle. Transitions are
// monotonic: STARTING -> ORDERED -> COMPLETE.
type TradeState string

const (
	TradeStarting TradeState = "STARTING"
	TradeOrdered  TradeState = "ORDERED"
	TradeComplete TradeState = "COMPLETE"
)

// Trade is an immutable record of one order leg against the bridge.
type Trade struct {
	ID               uint   `gorm:"primaryKey"`
	AltCoinSymbol    string `gorm:"not null;index"`
	CryptoCoinSymbol string `gorm:"not null"`
	Selling          bool
	AltAmount        float64
	CryptoAmount     float64
	State            TradeState `gorm:"not null"`
	Datetime         time.Time  `gorm:"index"`
}
