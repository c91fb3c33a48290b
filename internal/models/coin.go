package models

// Coin is a tradable asset symbol. Disabled coins keep their rows but are
// excluded from pair traversal.
type Coin struct {
	Symbol  string `gorm:"primaryKey"`
	Enabled bool   `gorm:"not null;default:true"`
}
