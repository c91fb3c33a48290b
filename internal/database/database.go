package database

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"ratio-trade-bot-go/internal/config"
	"ratio-trade-bot-go/internal/models"
)

// Database wraps the embedded store. All durable rows (coins, pairs, the
// current-coin pointer, trades, scout and value history) live here; trading
// components hold no ratio cache of their own.
type Database struct {
	DB     *gorm.DB
	logger *zap.Logger
}

// NewDatabase opens the sqlite store and creates the schema.
func NewDatabase(cfg *config.Config, logger *zap.Logger) (*Database, error) {
	db, err := gorm.Open(sqlite.Open(cfg.Database.DSN), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	d := &Database{DB: db, logger: logger}
	if err := d.CreateSchema(); err != nil {
		return nil, err
	}
	return d, nil
}

// CreateSchema migrates all tables. Idempotent.
func (d *Database) CreateSchema() error {
	err := d.DB.AutoMigrate(
		&models.Coin{},
		&models.Pair{},
		&models.CurrentCoinHistory{},
		&models.Trade{},
		&models.ScoutHistory{},
		&models.CoinValue{},
	)
	if err != nil {
		return fmt.Errorf("failed to migrate database schema: %w", err)
	}
	return nil
}

// SetCoins upserts the supported coin list and generates the complete
// directed pair graph. Coins not in the list are disabled but keep their
// rows; existing pair ratios are never touched.
func (d *Database) SetCoins(symbols []string) error {
	return d.DB.Transaction(func(tx *gorm.DB) error {
		listed := make(map[string]struct{}, len(symbols))
		for _, symbol := range symbols {
			listed[symbol] = struct{}{}
			coin := models.Coin{Symbol: symbol}
			if err := tx.Where(models.Coin{Symbol: symbol}).FirstOrCreate(&coin).Error; err != nil {
				return fmt.Errorf("failed to upsert coin %s: %w", symbol, err)
			}
			if !coin.Enabled {
				if err := tx.Model(&coin).Update("enabled", true).Error; err != nil {
					return err
				}
			}
		}

		var known []models.Coin
		if err := tx.Find(&known).Error; err != nil {
			return err
		}
		for _, coin := range known {
			if _, ok := listed[coin.Symbol]; !ok && coin.Enabled {
				if err := tx.Model(&coin).Update("enabled", false).Error; err != nil {
					return err
				}
			}
		}

		for _, from := range symbols {
			for _, to := range symbols {
				if from == to {
					continue
				}
				pair := models.Pair{FromCoinSymbol: from, ToCoinSymbol: to}
				err := tx.Where(models.Pair{FromCoinSymbol: from, ToCoinSymbol: to}).
					FirstOrCreate(&pair).Error
				if err != nil {
					return fmt.Errorf("failed to create pair %s->%s: %w", from, to, err)
				}
			}
		}
		return nil
	})
}

// GetCoins returns all enabled coins ordered by symbol.
func (d *Database) GetCoins() ([]models.Coin, error) {
	var coins []models.Coin
	err := d.DB.Where("enabled = ?", true).Order("symbol asc").Find(&coins).Error
	return coins, err
}

// GetCoin looks a coin up by symbol regardless of enablement.
func (d *Database) GetCoin(symbol string) (*models.Coin, error) {
	var coin models.Coin
	if err := d.DB.First(&coin, "symbol = ?", symbol).Error; err != nil {
		return nil, err
	}
	return &coin, nil
}

func enabledPairScope(tx *gorm.DB) *gorm.DB {
	return tx.
		Joins("JOIN coins from_coin ON from_coin.symbol = pairs.from_coin_symbol AND from_coin.enabled = ?", true).
		Joins("JOIN coins to_coin ON to_coin.symbol = pairs.to_coin_symbol AND to_coin.enabled = ?", true)
}

// GetPairsFrom returns all outgoing pairs of a coin whose endpoints are both
// enabled, ordered by to-coin symbol for deterministic traversal.
func (d *Database) GetPairsFrom(fromSymbol string) ([]models.Pair, error) {
	var pairs []models.Pair
	err := enabledPairScope(d.DB.Model(&models.Pair{})).
		Where("pairs.from_coin_symbol = ?", fromSymbol).
		Order("pairs.to_coin_symbol asc").
		Find(&pairs).Error
	return pairs, err
}

// GetEnabledPairs returns every pair whose endpoints are both enabled.
func (d *Database) GetEnabledPairs() ([]models.Pair, error) {
	var pairs []models.Pair
	err := enabledPairScope(d.DB.Model(&models.Pair{})).
		Order("pairs.from_coin_symbol asc, pairs.to_coin_symbol asc").
		Find(&pairs).Error
	return pairs, err
}

// GetUninitializedPairs returns enabled pairs whose ratio is still null.
func (d *Database) GetUninitializedPairs() ([]models.Pair, error) {
	var pairs []models.Pair
	err := enabledPairScope(d.DB.Model(&models.Pair{})).
		Where("pairs.ratio IS NULL").
		Order("pairs.from_coin_symbol asc, pairs.to_coin_symbol asc").
		Find(&pairs).Error
	return pairs, err
}

// GetPairsTo returns every pair pointing at a coin, regardless of
// enablement; the post-jump reset touches all of them.
func (d *Database) GetPairsTo(toSymbol string) ([]models.Pair, error) {
	var pairs []models.Pair
	err := d.DB.Where("to_coin_symbol = ?", toSymbol).
		Order("from_coin_symbol asc").
		Find(&pairs).Error
	return pairs, err
}

// GetPair looks up one directed pair.
func (d *Database) GetPair(fromSymbol, toSymbol string) (*models.Pair, error) {
	var pair models.Pair
	err := d.DB.First(&pair, "from_coin_symbol = ? AND to_coin_symbol = ?", fromSymbol, toSymbol).Error
	if err != nil {
		return nil, err
	}
	return &pair, nil
}

// SavePair persists a ratio update.
func (d *Database) SavePair(pair *models.Pair) error {
	return d.DB.Save(pair).Error
}

// SetCurrentCoin appends a current-coin history row; the newest row is the
// held coin and its timestamp starts the stuck-loss clock.
func (d *Database) SetCurrentCoin(symbol string, at time.Time) error {
	row := models.CurrentCoinHistory{CoinSymbol: symbol, Datetime: at}
	return d.DB.Create(&row).Error
}

// GetCurrentCoin returns the held coin, or nil before bootstrap.
func (d *Database) GetCurrentCoin() (*models.CurrentCoinHistory, error) {
	var row models.CurrentCoinHistory
	err := d.DB.Order("id desc").First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// LogScout records one ratio evaluation for offline analysis.
func (d *Database) LogScout(pair *models.Pair, pairRatio, coinPrice, otherPrice float64, at time.Time) error {
	row := models.ScoutHistory{
		FromCoinSymbol:   pair.FromCoinSymbol,
		ToCoinSymbol:     pair.ToCoinSymbol,
		PairRatio:        pairRatio,
		CurrentCoinPrice: coinPrice,
		OtherCoinPrice:   otherPrice,
		Datetime:         at,
	}
	return d.DB.Create(&row).Error
}

// SaveCoinValue records one balance valuation snapshot.
func (d *Database) SaveCoinValue(value *models.CoinValue) error {
	return d.DB.Create(value).Error
}

// PruneScoutHistory deletes scout rows older than the retention window.
func (d *Database) PruneScoutHistory(retention time.Duration, now time.Time) error {
	cutoff := now.Add(-retention)
	return d.DB.Where("datetime < ?", cutoff).Delete(&models.ScoutHistory{}).Error
}

// PruneValueHistory deletes value rows older than the retention window.
func (d *Database) PruneValueHistory(retention time.Duration, now time.Time) error {
	cutoff := now.Add(-retention)
	return d.DB.Where("datetime < ?", cutoff).Delete(&models.CoinValue{}).Error
}

// Transaction runs fn inside one store transaction so observers never see a
// partial re-anchor.
func (d *Database) Transaction(fn func(tx *gorm.DB) error) error {
	return d.DB.Transaction(fn)
}
