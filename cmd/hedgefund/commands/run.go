package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/wonny/hedgefund/internal/contracts"
	"github.com/wonny/hedgefund/internal/graph"
	"github.com/wonny/hedgefund/internal/hedgefund"
)

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the analysts and print trading decisions",
	Long: `Run every selected analyst over the date window, gate the signals
through risk management and print one decision per ticker.

Exit codes:
  0  decisions produced
  1  invalid arguments
  2  run failed (risk gate, portfolio manager or cancellation)

Example:
  go run ./cmd/hedgefund run --ticker 600519,000001 --initial-cash 1000000
  go run ./cmd/hedgefund run --ticker AAPL --selected-analysts technical_analyst --show-reasoning`,
	RunE: runHedgeFund,
}

type runOptions struct {
	tickers           string
	startDate         string
	endDate           string
	initialCash       float64
	marginRequirement float64
	showReasoning     bool
	selectedAnalysts  string
	model             string
	apply             bool
	progress          bool
}

var runOpts runOptions

func init() {
	rootCmd.AddCommand(runCmd)

	f := runCmd.Flags()
	f.StringVar(&runOpts.tickers, "ticker", "", "comma separated tickers (required)")
	f.StringVar(&runOpts.startDate, "start-date", "", "YYYY-MM-DD, default three months before end date")
	f.StringVar(&runOpts.endDate, "end-date", "", "YYYY-MM-DD, default today")
	f.Float64Var(&runOpts.initialCash, "initial-cash", 100000, "starting cash")
	f.Float64Var(&runOpts.marginRequirement, "margin-requirement", 0, "margin ratio for short positions (0 ~ 1)")
	f.BoolVar(&runOpts.showReasoning, "show-reasoning", false, "print each analyst's signal")
	f.StringVar(&runOpts.selectedAnalysts, "selected-analysts", "", "comma separated analyst ids, default all")
	f.StringVar(&runOpts.model, "model", "", "chat model name override")
	f.BoolVar(&runOpts.apply, "apply", false, "execute the decisions against the portfolio at the latest prices")
	f.BoolVar(&runOpts.progress, "progress", true, "print node progress to stderr")
}

func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func (o runOptions) request(now time.Time) hedgefund.Request {
	tickers := splitCSV(o.tickers)
	start, end := o.startDate, o.endDate
	if end == "" {
		_, end = hedgefund.DefaultDates(now)
	}
	if start == "" {
		if t, err := time.Parse(contracts.DateLayout, end); err == nil {
			start, _ = hedgefund.DefaultDates(t)
		}
	}
	return hedgefund.Request{
		Tickers:          tickers,
		StartDate:        start,
		EndDate:          end,
		Portfolio:        contracts.NewPortfolio(o.initialCash, o.marginRequirement, tickers),
		SelectedAnalysts: splitCSV(o.selectedAnalysts),
		ModelName:        o.model,
		ShowReasoning:    o.showReasoning,
		Apply:            o.apply,
	}
}

func runHedgeFund(cmd *cobra.Command, _ []string) error {
	req := runOpts.request(time.Now())
	req.Normalize()
	if err := req.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, _, _, err := loadServices(ctx)
	if err != nil {
		return err
	}
	defer svc.Close()

	var sink graph.ProgressSink
	if runOpts.progress {
		sink = progressPrinter()
	}

	fmt.Fprintln(cmd.ErrOrStderr(), titleStyle.Render("hedgefund")+" "+
		mutedStyle.Render(fmt.Sprintf("%s  %s ~ %s", strings.Join(req.Tickers, ","), req.StartDate, req.EndDate)))

	res, err := svc.Run(ctx, req, sink)
	if err != nil {
		return fmt.Errorf("run: %w", err)
	}
	printResult(cmd.OutOrStdout(), res, req.ShowReasoning)
	return nil
}

func progressPrinter() graph.ProgressSink {
	return graph.SinkFunc(func(ev graph.Event) {
		switch ev.Kind {
		case graph.NodeFinished:
			if ev.Node == graph.StartNode || ev.Node == graph.EndNode {
				return
			}
			fmt.Fprintf(os.Stderr, "  %s %s %s\n", okStyle.Render("✓"), ev.Node, mutedStyle.Render(ev.Elapsed.Round(time.Millisecond).String()))
		case graph.NodeFailed:
			fmt.Fprintf(os.Stderr, "  %s %s %s\n", errorStyle.Render("✗"), ev.Node, ev.Error)
		}
	})
}

// withTimeout is used by commands that probe remote providers
func withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, 30*time.Second)
}
