package trader

import (
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"ratio-trade-bot-go/internal/models"
)

func init() {
	Register("ratio_adjust", func(deps Dependencies) Strategy {
		return &RatioAdjustStrategy{AutoTrader: NewAutoTrader(deps)}
	})
}

// RatioAdjustStrategy seeds each ratio from an EWMA over historical klines
// and keeps re-anchoring it once per minute, so the remembered ratio tracks
// a smoothed recent ratio instead of the last jump.
type RatioAdjustStrategy struct {
	*AutoTrader
	reinitThreshold time.Time
}

func (s *RatioAdjustStrategy) Name() string {
	return "ratio_adjust"
}

func (s *RatioAdjustStrategy) Initialize() error {
	if err := s.initializeTradeThresholdsFromHistory(); err != nil {
		return err
	}
	if err := s.InitializeCurrentCoin(); err != nil {
		return err
	}
	s.reinitThreshold = s.manager.Now().Truncate(time.Minute)
	s.logger.Warn("CAUTION: the ratio_adjust strategy is work in progress and can lead to losses")
	s.logger.Info("Ratio adjust weight", zap.Int("weight", s.cfg.Trading.RatioAdjustWeight))
	return nil
}

func (s *RatioAdjustStrategy) Scout() error {
	// A failed buy leg means we are sitting on bridge currency; recover
	// before scoring anything.
	if s.failedBuyOrder {
		if err := s.bridgeScout(); err != nil {
			return err
		}
	}

	now := s.manager.Now()
	if !now.Before(s.reinitThreshold) {
		if err := s.reinitializeTradeThresholds(); err != nil {
			return err
		}
		s.reinitThreshold = now.Truncate(time.Minute).Add(time.Minute)
	}

	current, err := s.db.GetCurrentCoin()
	if err != nil {
		return err
	}
	if current == nil {
		s.logger.Warn("No current coin set, skipping scout")
		return nil
	}

	symbol := current.CoinSymbol + s.cfg.Trading.Bridge
	price, ok := s.manager.GetSellPrice(symbol)
	if !ok {
		s.logger.Info("Skipping scouting, current coin not found", zap.String("symbol", symbol))
		return nil
	}

	return s.JumpToBestCoin(current.CoinSymbol, price)
}

// bridgeScout only runs when the current coin balance is too small to trade,
// and moves the current-coin pointer to whatever it buys.
func (s *RatioAdjustStrategy) bridgeScout() error {
	current, err := s.db.GetCurrentCoin()
	if err != nil {
		return err
	}
	if current != nil {
		balance, err := s.manager.GetCurrencyBalance(current.CoinSymbol, false)
		if err != nil {
			return err
		}
		minNotional := s.manager.GetMinNotional(current.CoinSymbol, s.cfg.Trading.Bridge)
		if balance > minNotional {
			// Enough of the current coin; nothing to recover.
			return nil
		}
	}

	coin, err := s.BridgeScout()
	if err != nil {
		return err
	}
	if coin != nil {
		return s.db.SetCurrentCoin(coin.Symbol, s.manager.Now())
	}
	return nil
}

// initializeTradeThresholdsFromHistory seeds every uninitialized pair with
// an EWMA over the last 2W 1-minute opens: an SMA over the first W samples,
// then W exponential updates over the second W. History fetches are batched
// by coin.
func (s *RatioAdjustStrategy) initializeTradeThresholdsFromHistory() error {
	pairs, err := s.db.GetUninitializedPairs()
	if err != nil {
		return fmt.Errorf("could not list uninitialized pairs: %w", err)
	}
	if len(pairs) == 0 {
		return nil
	}

	weight := s.cfg.Trading.RatioAdjustWeight
	if weight < 1 {
		return fmt.Errorf("ratio_adjust_weight must be at least 1, got %d", weight)
	}
	window := weight * 2
	bridge := s.cfg.Trading.Bridge
	base := s.manager.Now().Truncate(time.Minute)

	s.logger.Info("Starting ratio init from history",
		zap.Int("pairs", len(pairs)), zap.Int("window_minutes", window))

	grouped := make(map[string][]*models.Pair)
	for i := range pairs {
		grouped[pairs[i].FromCoinSymbol] = append(grouped[pairs[i].FromCoinSymbol], &pairs[i])
	}

	history := make(map[string][]float64)
	fetch := func(symbol string) []float64 {
		if opens, ok := history[symbol]; ok {
			return opens
		}
		opens, err := s.manager.KlineOpens(symbol+bridge, window, base)
		if err != nil {
			s.logger.Warn("Could not fetch price history",
				zap.String("symbol", symbol+bridge), zap.Error(err))
			opens = nil
		}
		history[symbol] = opens
		return opens
	}

	return s.db.Transaction(func(tx *gorm.DB) error {
		for fromSymbol, group := range grouped {
			fromHistory := fetch(fromSymbol)

			for _, pair := range group {
				toHistory := fetch(pair.ToCoinSymbol)

				if len(fromHistory) != window {
					s.logger.Info("Skip initialization, incomplete price history",
						zap.String("coin", fromSymbol), zap.Int("have", len(fromHistory)))
					continue
				}
				if len(toHistory) != window {
					s.logger.Info("Skip initialization, incomplete price history",
						zap.String("coin", pair.ToCoinSymbol), zap.Int("have", len(toHistory)))
					continue
				}

				smaRatio := 0.0
				for i := 0; i < weight; i++ {
					smaRatio += fromHistory[i] / toHistory[i]
				}
				smaRatio /= float64(weight)

				cumulative := smaRatio
				for i := weight; i < window; i++ {
					cumulative = (cumulative*float64(weight) + fromHistory[i]/toHistory[i]) / float64(weight+1)
				}

				pair.Ratio = &cumulative
				if err := tx.Save(pair).Error; err != nil {
					return err
				}
			}
		}
		s.logger.Info("Finished ratio init")
		return nil
	})
}

// reinitializeTradeThresholds folds the current sell/buy ratio into every
// enabled pair's EWMA. Pairs with an unavailable price keep their ratio.
func (s *RatioAdjustStrategy) reinitializeTradeThresholds() error {
	pairs, err := s.db.GetEnabledPairs()
	if err != nil {
		return err
	}

	weight := float64(s.cfg.Trading.RatioAdjustWeight)
	bridge := s.cfg.Trading.Bridge

	return s.db.Transaction(func(tx *gorm.DB) error {
		for i := range pairs {
			pair := &pairs[i]
			if pair.Ratio == nil {
				continue
			}

			fromPrice, ok := s.manager.GetSellPrice(pair.FromCoinSymbol + bridge)
			if !ok {
				continue
			}
			toPrice, ok := s.manager.GetBuyPrice(pair.ToCoinSymbol + bridge)
			if !ok || toPrice == 0 {
				continue
			}

			ratio := (*pair.Ratio*weight + fromPrice/toPrice) / (weight + 1)
			pair.Ratio = &ratio
			if err := tx.Save(pair).Error; err != nil {
				return err
			}
		}
		return nil
	})
}
