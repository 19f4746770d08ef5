package commands

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/wonny/hedgefund/internal/backtest"
	"github.com/wonny/hedgefund/internal/contracts"
)

var (
	btRebalanceDays int
	btLookbackDays  int
)

// backtestCmd replays the hedge fund over a historical window
var backtestCmd = &cobra.Command{
	Use:   "backtest",
	Short: "Replay the hedge fund over a date window",
	Long: `Run the hedge fund on every --rebalance-days trading day between
--start-date and --end-date, executing decisions at that day's close.

Example:
  go run ./cmd/hedgefund backtest --ticker 600519 --start-date 2024-01-02 --end-date 2024-03-29`,
	RunE: runBacktest,
}

func init() {
	rootCmd.AddCommand(backtestCmd)

	f := backtestCmd.Flags()
	f.StringVar(&runOpts.tickers, "ticker", "", "comma separated tickers (required)")
	f.StringVar(&runOpts.startDate, "start-date", "", "YYYY-MM-DD (required)")
	f.StringVar(&runOpts.endDate, "end-date", "", "YYYY-MM-DD, default today")
	f.Float64Var(&runOpts.initialCash, "initial-cash", 100000, "starting cash")
	f.Float64Var(&runOpts.marginRequirement, "margin-requirement", 0, "margin ratio for short positions (0 ~ 1)")
	f.StringVar(&runOpts.selectedAnalysts, "selected-analysts", "", "comma separated analyst ids, default all")
	f.IntVar(&btRebalanceDays, "rebalance-days", 1, "trading days between runs")
	f.IntVar(&btLookbackDays, "lookback-days", 90, "calendar days of history each run sees")
}

func backtestConfig(o runOptions, now time.Time) (backtest.Config, error) {
	end := now
	if o.endDate != "" {
		t, err := time.Parse(contracts.DateLayout, o.endDate)
		if err != nil {
			return backtest.Config{}, fmt.Errorf("%w: bad end date %q", contracts.ErrPrecondition, o.endDate)
		}
		end = t
	}
	start, err := time.Parse(contracts.DateLayout, o.startDate)
	if err != nil {
		return backtest.Config{}, fmt.Errorf("%w: bad start date %q", contracts.ErrPrecondition, o.startDate)
	}
	return backtest.Config{
		Tickers:           splitCSV(o.tickers),
		StartDate:         start,
		EndDate:           end,
		InitialCash:       o.initialCash,
		MarginRequirement: o.marginRequirement,
		SelectedAnalysts:  splitCSV(o.selectedAnalysts),
		RebalanceDays:     btRebalanceDays,
		LookbackDays:      btLookbackDays,
	}, nil
}

func runBacktest(cmd *cobra.Command, _ []string) error {
	cfg, err := backtestConfig(runOpts, time.Now())
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, _, log, err := loadServices(ctx)
	if err != nil {
		return err
	}
	defer svc.Close()

	res, err := backtest.NewEngine(svc, svc.Router, log).Run(ctx, cfg)
	if err != nil {
		return fmt.Errorf("backtest: %w", err)
	}
	printBacktest(cmd.OutOrStdout(), res)
	return nil
}

func printBacktest(w io.Writer, res *backtest.Result) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, titleStyle.Render("Backtest"))

	t := &table{headers: []string{"METRIC", "VALUE"}}
	t.add("trading days", fmt.Sprintf("%d", res.TradingDays))
	t.add("runs", fmt.Sprintf("%d (%d failed)", res.RebalanceCount, res.FailedRuns))
	t.add("final capital", fmt.Sprintf("%.2f", res.FinalCapital))
	t.add("total return", pct(res.TotalReturn))
	t.add("annualized return", pct(res.AnnualizedReturn))
	t.add("volatility", pct(res.Volatility))
	t.add("sharpe", fmt.Sprintf("%.2f", res.SharpeRatio))
	t.add("sortino", fmt.Sprintf("%.2f", res.SortinoRatio))
	t.add("max drawdown", pct(res.MaxDrawdown)+" "+mutedStyle.Render(res.MaxDrawdownDate))
	t.add("trades", fmt.Sprintf("%d (win rate %s)", res.TotalTrades, pct(res.WinRate)))
	t.add("realized P&L", fmt.Sprintf("%.2f", res.RealizedPnL))
	t.render(w)
}

func pct(v float64) string {
	s := fmt.Sprintf("%.2f%%", v*100)
	if v < 0 {
		return errorStyle.Render(s)
	}
	return s
}
