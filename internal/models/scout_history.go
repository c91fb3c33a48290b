package models

import "time"

// ScoutHistory is a diagnostic log of one ratio evaluation. It is written on
// every scout pass and pruned on schedule; the engine never reads it back.
type ScoutHistory struct {
	ID               uint   `gorm:"primaryKey"`
	FromCoinSymbol   string `gorm:"not null"`
	ToCoinSymbol     string `gorm:"not null"`
	PairRatio        float64
	CurrentCoinPrice float64
	OtherCoinPrice   float64
	Datetime         time.Time `gorm:"index"`
}
