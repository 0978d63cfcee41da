package persistence

import (
	"context"
	"fmt"

	"github.com/tathienbao/quant-bot/internal/backtest"
)

// SaveBacktestRun persists a completed backtest's equity curve and
// realized trades, reusing the existing equity_snapshots and trades
// tables. Only the ledger's closed round trips (result.Trades) are
// stored, not every fill of the run.
func (r *SQLiteRepository) SaveBacktestRun(ctx context.Context, result *backtest.Result) error {
	for _, point := range result.EquityCurve {
		snapshot := EquitySnapshot{
			Timestamp: point.Timestamp,
			Equity:    point.Equity,
			Drawdown:  point.Drawdown,
		}
		if err := r.SaveEquitySnapshot(ctx, snapshot); err != nil {
			return fmt.Errorf("save backtest equity point: %w", err)
		}
	}

	for _, trade := range result.Trades {
		if err := r.SaveTrade(ctx, trade); err != nil {
			return fmt.Errorf("save backtest trade: %w", err)
		}
	}

	return nil
}
