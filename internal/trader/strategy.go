package trader

import (
	"fmt"
	"sort"

	"go.uber.org/zap"

	"ratio-trade-bot-go/internal/binance"
	"ratio-trade-bot-go/internal/config"
	"ratio-trade-bot-go/internal/database"
)

// Notifier is the sink for operator-facing messages.
type Notifier interface {
	Send(message string)
}

// Dependencies provides a strategy with access to the core components.
type Dependencies struct {
	Manager  binance.Exchange
	DB       *database.Database
	Logger   *zap.Logger
	Cfg      *config.Config
	Notifier Notifier
}

// Strategy is one trading strategy variant. All variants share the
// AutoTrader core and differ in initialization and scouting behavior.
type Strategy interface {
	// Name returns the unique name of the strategy.
	Name() string

	// Initialize gives the strategy a chance to perform setup tasks.
	Initialize() error

	// Scout is the main logic of the strategy, called periodically.
	Scout() error

	// UpdateValues snapshots balance valuations.
	UpdateValues() error

	// LogProgress renders the recent-trades report.
	LogProgress() error
}

// Constructor builds a strategy from its dependencies.
type Constructor func(deps Dependencies) Strategy

var registry = map[string]Constructor{}

// Register adds a strategy constructor under its name. Called from package
// init functions.
func Register(name string, ctor Constructor) {
	registry[name] = ctor
}

// NewStrategy resolves a strategy by name. Unknown names are a boot failure.
func NewStrategy(name string, deps Dependencies) (Strategy, error) {
	ctor, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("unknown strategy %q (registered: %v)", name, Names())
	}
	return ctor(deps), nil
}

// Names lists the registered strategy names.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
