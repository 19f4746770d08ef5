package commands

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/wonny/hedgefund/internal/contracts"
	"github.com/wonny/hedgefund/internal/scheduler"
)

var (
	scheduleRunSpec    string
	scheduleHealthSpec string
	scheduleNow        bool
)

// scheduleCmd runs the hedge fund on a cron schedule until interrupted
var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Run the hedge fund on a schedule",
	Long: `Schedule recurring runs for the tickers given with --ticker, plus a
periodic provider health refresh. Cron expressions include seconds.

Example:
  go run ./cmd/hedgefund schedule --ticker 600519 --cron "0 30 15 * * 1-5"`,
	RunE: runSchedule,
}

func init() {
	rootCmd.AddCommand(scheduleCmd)

	f := scheduleCmd.Flags()
	f.StringVar(&runOpts.tickers, "ticker", "", "comma separated tickers (required)")
	f.Float64Var(&runOpts.initialCash, "initial-cash", 100000, "starting cash")
	f.Float64Var(&runOpts.marginRequirement, "margin-requirement", 0, "margin ratio for short positions (0 ~ 1)")
	f.StringVar(&runOpts.selectedAnalysts, "selected-analysts", "", "comma separated analyst ids, default all")
	f.StringVar(&scheduleRunSpec, "cron", "", "run schedule, default weekdays 15:30")
	f.StringVar(&scheduleHealthSpec, "health-cron", "", "provider health schedule, default every 5 minutes")
	f.BoolVar(&scheduleNow, "now", false, "also run once at startup")
}

func runSchedule(cmd *cobra.Command, _ []string) error {
	template := runOpts.request(time.Now())
	template.StartDate, template.EndDate = "", ""
	template.Normalize()
	if len(template.Tickers) == 0 {
		return fmt.Errorf("%w: --ticker is required", contracts.ErrPrecondition)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, _, log, err := loadServices(ctx)
	if err != nil {
		return err
	}
	defer svc.Close()

	s := scheduler.New(log)
	runJob := scheduler.NewRunJob(scheduleRunSpec, svc, template, log)
	if err := s.AddJob(runJob); err != nil {
		return fmt.Errorf("%w: %v", contracts.ErrPrecondition, err)
	}
	if err := s.AddJob(scheduler.NewHealthRefreshJob(scheduleHealthSpec, svc.Router, log)); err != nil {
		return fmt.Errorf("%w: %v", contracts.ErrPrecondition, err)
	}

	s.Start()
	fmt.Fprintln(cmd.OutOrStdout(), okStyle.Render("✓ Scheduler started")+" "+mutedStyle.Render(runJob.Schedule()))

	if scheduleNow {
		if res, _ := s.RunNow(runJob.Name()); !res.Success {
			fmt.Fprintln(cmd.ErrOrStderr(), errorStyle.Render("✗ "+res.Error))
		} else if last := runJob.LastResult(); last != nil {
			printResult(cmd.OutOrStdout(), last, false)
		}
	}

	<-ctx.Done()
	s.Stop()
	return nil
}
