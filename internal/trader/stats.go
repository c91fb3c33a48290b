package trader

import (
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"ratio-trade-bot-go/internal/models"
)

// progressRow is one completed buy with the amount change against the
// previous buy of the same coin.
type progressRow struct {
	Coin     string
	Amount   float64
	PriceUSD float64
	Change   *float64
	Datetime string
}

func (a *AutoTrader) progressRows() ([]progressRow, error) {
	var trades []models.Trade
	err := a.db.DB.
		Where("selling = ? AND state = ?", false, models.TradeComplete).
		Order("datetime desc").
		Limit(10).
		Find(&trades).Error
	if err != nil {
		return nil, err
	}

	rows := make([]progressRow, 0, len(trades))
	for _, trade := range trades {
		row := progressRow{
			Coin:     trade.AltCoinSymbol,
			Amount:   trade.AltAmount,
			PriceUSD: trade.CryptoAmount,
			Datetime: trade.Datetime.Format("2006-01-02 15:04"),
		}

		var previous models.Trade
		err := a.db.DB.
			Where("alt_coin_symbol = ? AND selling = ? AND state = ? AND datetime < ?",
				trade.AltCoinSymbol, false, models.TradeComplete, trade.Datetime).
			Order("datetime desc").
			First(&previous).Error
		if err == nil {
			change := trade.AltAmount - previous.AltAmount
			row.Change = &change
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}

		rows = append(rows, row)
	}
	return rows, nil
}

func renderProgressTable(rows []progressRow) string {
	if len(rows) == 0 {
		return "No trades."
	}

	header := fmt.Sprintf("%-6s | %10s | %10s | %10s | %-16s",
		"Coin", "Amount", "USD", "Change", "Date/Time")

	lines := make([]string, 0, len(rows)+2)
	lines = append(lines, header, strings.Repeat("-", len(header)))
	for _, row := range rows {
		change := fmt.Sprintf("%10s", "-- NEW! --")
		if row.Change != nil {
			change = fmt.Sprintf("%10.2f", *row.Change)
		}
		lines = append(lines, fmt.Sprintf("%-6s | %10.2f | %10.2f | %s | %-16s",
			row.Coin, row.Amount, row.PriceUSD, change, row.Datetime))
	}
	return strings.Join(lines, "\n")
}

// LogProgress renders the last-10-trades table and fans it out through the
// notification sink.
func (a *AutoTrader) LogProgress() error {
	rows, err := a.progressRows()
	if err != nil {
		return err
	}
	table := renderProgressTable(rows)
	a.logger.Info("Progress report for up to the last 10 trades:\n" + table)
	if a.notifier != nil {
		a.notifier.Send("Progress report:\n" + table)
	}
	return nil
}
