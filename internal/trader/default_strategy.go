package trader

import (
	"go.uber.org/zap"
)

func init() {
	Register("default", func(deps Dependencies) Strategy {
		return &DefaultStrategy{AutoTrader: NewAutoTrader(deps)}
	})
}

// DefaultStrategy anchors ratios once at startup and jumps whenever the live
// ratio beats the remembered one by more than the fee margin.
type DefaultStrategy struct {
	*AutoTrader
}

func (s *DefaultStrategy) Name() string {
	return "default"
}

func (s *DefaultStrategy) Initialize() error {
	if err := s.InitializeCurrentCoin(); err != nil {
		return err
	}
	return s.InitializeTradeThresholds()
}

func (s *DefaultStrategy) Scout() error {
	if s.failedBuyOrder {
		coin, err := s.BridgeScout()
		if err != nil {
			return err
		}
		if coin != nil {
			if err := s.db.SetCurrentCoin(coin.Symbol, s.manager.Now()); err != nil {
				return err
			}
		}
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
	price, ok := s.manager.GetTickerPrice(symbol)
	if !ok {
		s.logger.Info("Skipping scouting, current coin not found", zap.String("symbol", symbol))
		return nil
	}

	return s.JumpToBestCoin(current.CoinSymbol, price)
}
