package commands

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/wonny/hedgefund/internal/api"
	"github.com/wonny/hedgefund/internal/hedgefund"
)

var servePort string

// serveCmd starts the HTTP API
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	Long: `Start the HTTP API server.

Endpoints:
  GET  /health
  GET  /metrics                (when METRICS_ENABLED=true)
  POST /api/v1/runs
  GET  /api/v1/providers?refresh=true
  GET  /api/v1/snapshots?ticker=
  GET  /api/v1/analysts
  GET  /ws/runs                (run progress stream)

Example:
  go run ./cmd/hedgefund serve --port 8080`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&servePort, "port", "", "listen port, default from PORT")
}

func apiDeps(svc *hedgefund.Services, hub *api.Hub) api.Deps {
	deps := api.Deps{
		Runner:    svc,
		Providers: svc.Router,
		Analysts:  svc.Registry.IDs(),
		Hub:       hub,
	}
	if svc.Snapshots != nil {
		deps.Snapshots = svc.Snapshots
	}
	if reg := svc.Metrics.Registry(); reg != nil {
		deps.Gatherer = prometheus.Gatherers{reg, prometheus.DefaultGatherer}
	}
	return deps
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, cfg, log, err := loadServices(ctx)
	if err != nil {
		return err
	}
	defer svc.Close()

	if servePort != "" {
		cfg.Port = servePort
	}

	hub := api.NewHub(log)
	server := api.NewServer(api.NewRouter(apiDeps(svc, hub), log), hub, log)

	fmt.Fprintln(cmd.OutOrStdout(), okStyle.Render("✓ Server running on http://localhost:"+cfg.Port))
	return server.ListenAndServe(ctx, ":"+cfg.Port)
}
