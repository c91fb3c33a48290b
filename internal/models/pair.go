package models

import "gorm.io/gorm"

// Pair is a directed edge between two distinct coins. Ratio is the remembered
// exchange ratio FromCoin/ToCoin; nil until initialized, strictly positive
// afterwards.
type Pair struct {
	gorm.Model
	FromCoinSymbol string `gorm:"uniqueIndex:idx_pair_from_to;not null"`
	ToCoinSymbol   string `gorm:"uniqueIndex:idx_pair_from_to;not null"`
	Ratio          *float64
}

// RatioValue returns the remembered ratio, or 0 when uninitialized.
func (p *Pair) RatioValue() float64 {
	if p.Ratio == nil {
		return 0
	}
	return *p.Ratio
}
