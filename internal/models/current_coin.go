package models

import "time"

// CurrentCoinHistory records every change of the held coin. The most recent
// row is the current coin; its Datetime is used for stuck-loss reasoning.
type CurrentCoinHistory struct {
	ID         uint   `gorm:"primaryKey"`
	CoinSymbol string `gorm:"not null;index"`
	Datetime   time.Time
}
