package config

import (
	"strings"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	Binance       Binance       `mapstructure:"binance"`
	Trading       Trading       `mapstructure:"trading"`
	Logger        Logger        `mapstructure:"logger"`
	Server        Server        `mapstructure:"server"`
	Database      Database      `mapstructure:"database"`
	Notifications Notifications `mapstructure:"notifications"`
}

// Binance holds the configuration for the Binance API.
type Binance struct {
	ApiKey         string  `mapstructure:"api_key"`
	SecretKey      string  `mapstructure:"secret_key"`
	Testnet        bool    `mapstructure:"testnet"`
	RateLimit      float64 `mapstructure:"rate_limit"`
	RateLimitBurst int     `mapstructure:"rate_limit_burst"`
}

// Server holds the configuration for the HTTP inspection surface.
type Server struct {
	EnableAPI bool `mapstructure:"enable_api"`
	Port      int  `mapstructure:"port"`
}

// Database holds the configuration for the embedded store.
type Database struct {
	DSN string `mapstructure:"dsn"`
}

// Notifications holds the Telegram sink configuration. An empty token
// disables notifications entirely.
type Notifications struct {
	TelegramToken  string `mapstructure:"telegram_token"`
	TelegramChatID int64  `mapstructure:"telegram_chat_id"`
}

// Trading holds the configuration for the trading logic.
type Trading struct {
	Bridge                     string   `mapstructure:"bridge"`
	SupportedCoinList          []string `mapstructure:"supported_coin_list"`
	CurrentCoinSymbol          string   `mapstructure:"current_coin_symbol"`
	ScoutSleepTime             int      `mapstructure:"scout_sleep_time"`
	ScoutMultiplier            float64  `mapstructure:"scout_multiplier"`
	RatioAdjustWeight          int      `mapstructure:"ratio_adjust_weight"`
	LossAfterHours             float64  `mapstructure:"loss_after_hours"`
	MaxLossPercent             float64  `mapstructure:"max_loss_percent"`
	LogProgressAfterHours      float64  `mapstructure:"log_progress_after_hours"`
	Strategy                   string   `mapstructure:"strategy"`
	ScoutHistoryRetentionHours int      `mapstructure:"scout_history_retention_hours"`
	ValueHistoryRetentionDays  int      `mapstructure:"value_history_retention_days"`
}

// Logger holds the configuration for the logger.
type Logger struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// LoadConfig reads configuration from file or environment variables.
func LoadConfig(path string) (config Config, err error) {
	viper.AddConfigPath(path)
	viper.SetConfigName("config") // name of config file (without extension)
	viper.SetConfigType("yml")    // or yaml, json

	// Allow environment variables to override config file
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set default values
	viper.SetDefault("binance.rate_limit", 20)      // requests per second
	viper.SetDefault("binance.rate_limit_burst", 5) // burst size
	viper.SetDefault("trading.bridge", "USDT")
	viper.SetDefault("trading.scout_sleep_time", 5)
	viper.SetDefault("trading.scout_multiplier", 5)
	viper.SetDefault("trading.ratio_adjust_weight", 100)
	viper.SetDefault("trading.loss_after_hours", 0)
	viper.SetDefault("trading.max_loss_percent", 10)
	viper.SetDefault("trading.log_progress_after_hours", 1)
	viper.SetDefault("trading.strategy", "default")
	viper.SetDefault("trading.scout_history_retention_hours", 1)
	viper.SetDefault("trading.value_history_retention_days", 365)
	viper.SetDefault("database.dsn", "data/crypto_trading.db")
	viper.SetDefault("logger.level", "info")
	viper.SetDefault("logger.format", "console")
	viper.SetDefault("server.port", 5123)

	err = viper.ReadInConfig()
	if err != nil {
		return
	}

	err = viper.Unmarshal(&config)
	return
}
