package trader

import (
	"fmt"
	"math/rand"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"ratio-trade-bot-go/internal/binance"
	"ratio-trade-bot-go/internal/config"
	"ratio-trade-bot-go/internal/database"
	"ratio-trade-bot-go/internal/models"
)

// minBridgeDust is the bridge balance, in quote units, above which a failed
// sell precheck assumes a prior sell already cleared and proceeds straight
// to the buy leg. Policy threshold sized for USDT-like quotes, not an
// invariant.
const minBridgeDust = 10.0

// AutoTrader holds the ratio book operations and the transaction-through-
// bridge protocol shared by all strategies. It keeps no in-memory ratio
// state; every decision reads and writes pairs through the store.
type AutoTrader struct {
	manager        binance.Exchange
	db             *database.Database
	logger         *zap.Logger
	cfg            *config.Config
	notifier       Notifier
	failedBuyOrder bool
}

// NewAutoTrader wires the shared trading core.
func NewAutoTrader(deps Dependencies) *AutoTrader {
	return &AutoTrader{
		manager:  deps.Manager,
		db:       deps.DB,
		logger:   deps.Logger,
		cfg:      deps.Cfg,
		notifier: deps.Notifier,
	}
}

// scoredPair is one outgoing pair with its fee-adjusted score against the
// remembered ratio.
type scoredPair struct {
	Pair  models.Pair
	Score float64
}

// InitializeTradeThresholds seeds every uninitialized enabled pair with the
// instantaneous price ratio of its endpoints.
func (a *AutoTrader) InitializeTradeThresholds() error {
	pairs, err := a.db.GetUninitializedPairs()
	if err != nil {
		return fmt.Errorf("could not list uninitialized pairs: %w", err)
	}
	if len(pairs) == 0 {
		return nil
	}

	bridge := a.cfg.Trading.Bridge
	return a.db.Transaction(func(tx *gorm.DB) error {
		for i := range pairs {
			pair := &pairs[i]
			fromPrice, ok := a.manager.GetTickerPrice(pair.FromCoinSymbol + bridge)
			if !ok {
				a.logger.Info("Skipping initializing, symbol not found",
					zap.String("symbol", pair.FromCoinSymbol+bridge))
				continue
			}
			toPrice, ok := a.manager.GetTickerPrice(pair.ToCoinSymbol + bridge)
			if !ok {
				a.logger.Info("Skipping initializing, symbol not found",
					zap.String("symbol", pair.ToCoinSymbol+bridge))
				continue
			}
			ratio := fromPrice / toPrice
			pair.Ratio = &ratio
			if err := tx.Save(pair).Error; err != nil {
				return err
			}
			a.logger.Debug("Initialized ratio",
				zap.String("from", pair.FromCoinSymbol),
				zap.String("to", pair.ToCoinSymbol),
				zap.Float64("ratio", ratio))
		}
		return nil
	})
}

// getRatios scores every outgoing pair of the given coin against its
// remembered ratio. Unratioed pairs and pairs without an obtainable price
// are skipped; every evaluated pair is logged to scout history.
func (a *AutoTrader) getRatios(coinSymbol string, coinPrice float64) ([]scoredPair, error) {
	pairs, err := a.db.GetPairsFrom(coinSymbol)
	if err != nil {
		return nil, fmt.Errorf("could not get pairs from %s: %w", coinSymbol, err)
	}

	bridge := a.cfg.Trading.Bridge
	multiplier := a.cfg.Trading.ScoutMultiplier

	scored := make([]scoredPair, 0, len(pairs))
	for _, pair := range pairs {
		if pair.Ratio == nil {
			continue
		}
		optionalPrice, ok := a.manager.GetTickerPrice(pair.ToCoinSymbol + bridge)
		if !ok {
			a.logger.Info("Skipping scouting, optional coin not found",
				zap.String("symbol", pair.ToCoinSymbol+bridge))
			continue
		}

		if err := a.db.LogScout(&pair, *pair.Ratio, coinPrice, optionalPrice, a.manager.Now()); err != nil {
			a.logger.Warn("Could not log scout entry", zap.Error(err))
		}

		liveRatio := coinPrice / optionalPrice
		feeTotal := a.manager.GetFee(pair.FromCoinSymbol, bridge, true) +
			a.manager.GetFee(pair.ToCoinSymbol, bridge, false)

		score := liveRatio - feeTotal*multiplier*liveRatio - *pair.Ratio
		scored = append(scored, scoredPair{Pair: pair, Score: score})
	}
	return scored, nil
}

// bestPair returns the entry with the maximum score. Entries arrive ordered
// by to-coin symbol, so ties resolve to the lowest symbol.
func bestPair(entries []scoredPair) *scoredPair {
	var best *scoredPair
	for i := range entries {
		if best == nil || entries[i].Score > best.Score {
			best = &entries[i]
		}
	}
	return best
}

// JumpToBestCoin evaluates all outgoing pairs of the held coin and executes
// the most profitable jump, falling back to a bounded-loss jump when the
// position has been stuck too long.
func (a *AutoTrader) JumpToBestCoin(coinSymbol string, coinPrice float64) error {
	scoutCyclesTotal.Inc()

	ratios, err := a.getRatios(coinSymbol, coinPrice)
	if err != nil {
		return err
	}
	if len(ratios) == 0 {
		return nil
	}

	profitable := make([]scoredPair, 0, len(ratios))
	for _, entry := range ratios {
		if entry.Score > 0 {
			profitable = append(profitable, entry)
		}
	}

	if len(profitable) > 0 {
		best := bestPair(profitable)
		a.logger.Info("Will be jumping",
			zap.String("from", coinSymbol),
			zap.String("to", best.Pair.ToCoinSymbol),
			zap.Float64("score", best.Score))
		a.TransactionThroughBridge(&best.Pair)
		return nil
	}

	if a.cfg.Trading.LossAfterHours <= 0 {
		return nil
	}
	current, err := a.db.GetCurrentCoin()
	if err != nil || current == nil {
		return err
	}
	heldFor := a.manager.Now().Sub(current.Datetime)
	if heldFor < time.Duration(a.cfg.Trading.LossAfterHours*float64(time.Hour)) {
		return nil
	}

	a.logger.Debug("Stuck in position, checking if we can settle for a loss")
	maxRatioDifference := (100 - a.cfg.Trading.MaxLossPercent) / 100

	fallback := make([]scoredPair, 0, len(ratios))
	for _, entry := range ratios {
		remembered := *entry.Pair.Ratio
		if (entry.Score+remembered)/remembered >= maxRatioDifference {
			fallback = append(fallback, entry)
		}
	}

	if len(fallback) > 0 {
		best := bestPair(fallback)
		lossEstimate := (1 - (best.Score+*best.Pair.Ratio) / *best.Pair.Ratio) * 100
		a.logger.Warn("Trading at a loss to escape a stuck position",
			zap.String("from", coinSymbol),
			zap.String("to", best.Pair.ToCoinSymbol),
			zap.Float64("estimated_loss_percent", lossEstimate))
		a.TransactionThroughBridge(&best.Pair)
		return nil
	}

	best := bestPair(ratios)
	lossEstimate := (1 - (best.Score+*best.Pair.Ratio) / *best.Pair.Ratio) * 100
	a.logger.Debug("Loss is currently too great",
		zap.String("to", best.Pair.ToCoinSymbol),
		zap.Float64("estimated_loss_percent", lossEstimate))
	return nil
}

// TransactionThroughBridge performs the two-leg jump: sell the from-coin for
// bridge, buy the to-coin with bridge, then re-anchor the ratio book on the
// buy fill price. Returns nil when any leg fails; a failed buy arms the
// bridge scout for the next cycle.
func (a *AutoTrader) TransactionThroughBridge(pair *models.Pair) *binance.BridgeOrder {
	bridge := a.cfg.Trading.Bridge

	canSell := false
	balance, err := a.manager.GetCurrencyBalance(pair.FromCoinSymbol, false)
	if err != nil {
		a.logger.Warn("Could not read balance, skipping jump", zap.Error(err))
		return nil
	}
	fromPrice, ok := a.manager.GetTickerPrice(pair.FromCoinSymbol + bridge)
	if !ok {
		a.logger.Info("Skipping jump, current coin price not found",
			zap.String("symbol", pair.FromCoinSymbol+bridge))
		return nil
	}
	minNotional := a.manager.GetMinNotional(pair.FromCoinSymbol, bridge)

	if balance*fromPrice > minNotional {
		canSell = true
	} else {
		a.logger.Debug("Cached balance resulted in an invalid opportunity, refreshing balance to confirm")
		balance, err = a.manager.GetCurrencyBalance(pair.FromCoinSymbol, true)
		if err == nil && balance*fromPrice > minNotional {
			canSell = true
		} else {
			a.logger.Info("Skipping sell, maybe the order already went ahead?",
				zap.Float64("balance", balance),
				zap.Float64("from_coin_price", fromPrice),
				zap.Float64("min_notional", minNotional))

			bridgeBalance, err := a.manager.GetCurrencyBalance(bridge, false)
			if err != nil || bridgeBalance < minBridgeDust {
				return nil
			}
			a.logger.Info("Looks like there is bridge currency, will continue with buy",
				zap.Float64("bridge_balance", bridgeBalance))
		}
	}

	if canSell {
		if _, err := a.manager.SellAlt(pair.FromCoinSymbol, bridge); err != nil {
			orderFailuresTotal.Inc()
			a.logger.Info("Couldn't sell, going back to scouting mode...", zap.Error(err))
			return nil
		}
	}

	result, err := a.manager.BuyAlt(pair.ToCoinSymbol, bridge)
	if err != nil {
		orderFailuresTotal.Inc()
		a.failedBuyOrder = true
		a.logger.Info("Couldn't buy, going back to scouting mode...", zap.Error(err))
		return nil
	}

	a.failedBuyOrder = false
	if err := a.db.SetCurrentCoin(pair.ToCoinSymbol, a.manager.Now()); err != nil {
		a.logger.Error("Could not persist current coin", zap.Error(err))
	}
	a.UpdateTradeThreshold(pair, result.Price)
	jumpsTotal.Inc()
	return result
}

// UpdateTradeThreshold re-anchors the ratio book on the landing coin using
// the buy-leg fill price. The inverse pair is keyed on the live price of the
// source coin; all writes commit in one transaction.
func (a *AutoTrader) UpdateTradeThreshold(newPair *models.Pair, fillPrice float64) {
	if fillPrice <= 0 {
		a.logger.Info("Skipping threshold update, no fill price",
			zap.String("coin", newPair.ToCoinSymbol))
		return
	}
	bridge := a.cfg.Trading.Bridge
	landed := newPair.ToCoinSymbol

	err := a.db.Transaction(func(tx *gorm.DB) error {
		var inverse models.Pair
		err := tx.First(&inverse, "from_coin_symbol = ? AND to_coin_symbol = ?",
			newPair.ToCoinSymbol, newPair.FromCoinSymbol).Error
		if err != nil {
			return err
		}
		if sourcePrice, ok := a.manager.GetTickerPrice(inverse.ToCoinSymbol + bridge); ok {
			ratio := fillPrice / sourcePrice
			inverse.Ratio = &ratio
			if err := tx.Save(&inverse).Error; err != nil {
				return err
			}
		} else {
			a.logger.Info("Skipping inverse update, symbol not found",
				zap.String("symbol", inverse.ToCoinSymbol+bridge))
		}

		var incoming []models.Pair
		if err := tx.Where("to_coin_symbol = ?", landed).Find(&incoming).Error; err != nil {
			return err
		}
		for i := range incoming {
			pair := &incoming[i]
			fromPrice, ok := a.manager.GetTickerPrice(pair.FromCoinSymbol + bridge)
			if !ok {
				a.logger.Info("Skipping update, symbol not found",
					zap.String("symbol", pair.FromCoinSymbol+bridge))
				continue
			}
			ratio := fromPrice / fillPrice
			pair.Ratio = &ratio
			if err := tx.Save(pair).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		a.logger.Error("Threshold update failed", zap.Error(err))
	}
}

// BridgeScout looks for the coin at a local ratio minimum (every outgoing
// score non-positive) and buys it with leftover bridge balance. At most one
// purchase per invocation; returns the bought coin.
func (a *AutoTrader) BridgeScout() (*models.Coin, error) {
	bridge := a.cfg.Trading.Bridge
	bridgeBalance, err := a.manager.GetCurrencyBalance(bridge, false)
	if err != nil {
		return nil, err
	}

	coins, err := a.db.GetCoins()
	if err != nil {
		return nil, err
	}
	for i := range coins {
		coin := &coins[i]
		coinPrice, ok := a.manager.GetTickerPrice(coin.Symbol + bridge)
		if !ok {
			continue
		}

		ratios, err := a.getRatios(coin.Symbol, coinPrice)
		if err != nil {
			return nil, err
		}
		anyPositive := false
		for _, entry := range ratios {
			if entry.Score > 0 {
				anyPositive = true
				break
			}
		}
		if anyPositive {
			continue
		}

		// There will only be one coin where all the ratios are negative.
		if bridgeBalance > a.manager.GetMinNotional(coin.Symbol, bridge) {
			a.logger.Info("Will be purchasing using bridge coin",
				zap.String("coin", coin.Symbol))
			if _, err := a.manager.BuyAlt(coin.Symbol, bridge); err != nil {
				orderFailuresTotal.Inc()
				return nil, err
			}
			a.failedBuyOrder = false
			return coin, nil
		}
	}
	return nil, nil
}

// InitializeCurrentCoin establishes the held coin at startup. An empty
// configured symbol picks a random supported coin and buys it immediately; a
// configured symbol outside the supported list is a boot failure.
func (a *AutoTrader) InitializeCurrentCoin() error {
	current, err := a.db.GetCurrentCoin()
	if err != nil {
		return err
	}
	if current != nil {
		return nil
	}

	symbol := a.cfg.Trading.CurrentCoinSymbol
	if symbol == "" {
		supported := a.cfg.Trading.SupportedCoinList
		if len(supported) == 0 {
			return fmt.Errorf("supported coin list is empty")
		}
		symbol = supported[rand.Intn(len(supported))]
	}
	a.logger.Info("Setting initial coin", zap.String("coin", symbol))

	if !a.isSupported(symbol) {
		return fmt.Errorf("initial coin %s is not in the supported coin list", symbol)
	}
	if err := a.db.SetCurrentCoin(symbol, a.manager.Now()); err != nil {
		return err
	}

	if a.cfg.Trading.CurrentCoinSymbol == "" {
		a.logger.Info("Purchasing initial coin to begin trading", zap.String("coin", symbol))
		if _, err := a.manager.BuyAlt(symbol, a.cfg.Trading.Bridge); err != nil {
			return fmt.Errorf("could not purchase initial coin %s: %w", symbol, err)
		}
		a.logger.Info("Ready to start trading")
	}
	return nil
}

func (a *AutoTrader) isSupported(symbol string) bool {
	for _, s := range a.cfg.Trading.SupportedCoinList {
		if s == symbol {
			return true
		}
	}
	return false
}

// UpdateValues snapshots every non-zero balance valued in USDT and BTC.
func (a *AutoTrader) UpdateValues() error {
	now := a.manager.Now()
	coins, err := a.db.GetCoins()
	if err != nil {
		return err
	}

	for _, coin := range coins {
		balance, err := a.manager.GetCurrencyBalance(coin.Symbol, false)
		if err != nil {
			a.logger.Warn("Could not read balance for value snapshot",
				zap.String("coin", coin.Symbol), zap.Error(err))
			continue
		}
		if balance == 0 {
			continue
		}

		value := models.CoinValue{CoinSymbol: coin.Symbol, Balance: balance, Datetime: now}
		if usd, ok := a.manager.GetTickerPrice(coin.Symbol + "USDT"); ok {
			value.UsdPrice = &usd
		}
		if btc, ok := a.manager.GetTickerPrice(coin.Symbol + "BTC"); ok {
			value.BtcPrice = &btc
		}
		if err := a.db.SaveCoinValue(&value); err != nil {
			return err
		}
	}
	return nil
}
