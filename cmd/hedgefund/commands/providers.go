package commands

import (
	"github.com/spf13/cobra"
)

var providersRefresh bool

// providersCmd prints the health of every configured data provider
var providersCmd = &cobra.Command{
	Use:   "providers",
	Short: "Show data provider health",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, cancel := withTimeout(cmd.Context())
		defer cancel()

		svc, _, _, err := loadServices(ctx)
		if err != nil {
			return err
		}
		defer svc.Close()

		printProviders(cmd.OutOrStdout(), svc.Router.ProviderStatus(ctx, providersRefresh))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(providersCmd)
	providersCmd.Flags().BoolVar(&providersRefresh, "refresh", false, "probe providers instead of using cached health")
}
