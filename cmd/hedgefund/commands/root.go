package commands

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/wonny/hedgefund/internal/contracts"
	"github.com/wonny/hedgefund/internal/hedgefund"
	"github.com/wonny/hedgefund/pkg/config"
	"github.com/wonny/hedgefund/pkg/logger"
)

var (
	// Global flags
	env     string
	verbose bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "hedgefund",
	Short: "Multi-analyst equity hedge fund",
	Long: `hedgefund runs a panel of analysts over market data, gates their
signals through risk management and lets a portfolio manager decide.

Examples:
  go run ./cmd/hedgefund run --ticker 600519,000001
  go run ./cmd/hedgefund providers --refresh
  go run ./cmd/hedgefund serve --port 8080`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the CLI
func Execute() error {
	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render("✗ "+err.Error()))
	}
	return err
}

// ExitCode maps a command error to the process exit status:
// 0 success, 1 bad arguments, 2 failed run.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, contracts.ErrPrecondition), errors.Is(err, contracts.ErrValidation):
		return 1
	default:
		return 2
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&env, "env", "", "environment override (development|staging|production)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	rootCmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return fmt.Errorf("%w: %v", contracts.ErrPrecondition, err)
	})
}

// loadConfig reads the environment and applies global flags
func loadConfig() (*config.Config, *logger.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	if env != "" {
		cfg.Env = env
	}
	if verbose {
		cfg.LogLevel = "debug"
	}
	return cfg, logger.New(cfg), nil
}

// loadServices builds the run services from the environment
func loadServices(ctx context.Context) (*hedgefund.Services, *config.Config, *logger.Logger, error) {
	cfg, log, err := loadConfig()
	if err != nil {
		return nil, nil, nil, err
	}
	svc, err := hedgefund.NewServices(ctx, cfg, log)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("build services: %w", err)
	}
	return svc, cfg, log, nil
}
