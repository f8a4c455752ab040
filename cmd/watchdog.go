package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/andrewhowdencom/drip/internal/campaign"
	"github.com/andrewhowdencom/drip/internal/http"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
)

// watchdogCmd represents the watchdog command
var watchdogCmd = &cobra.Command{
	Use:   "watchdog",
	Short: "Run the dispatcher continuously",
	Long: `Run sweeps on the engine.schedule cadence, keep the template catalog
fresh, and serve the campaign API on api.port.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runWatchdog(cmd.Context())
	},
}

func runWatchdog(ctx context.Context) error {
	slog.Debug("running watchdog")

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := datastoreNewStore()
	if err != nil {
		return fmt.Errorf("failed to create store: %w", err)
	}
	defer store.Close()

	w, err := buildWorker(store)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return w.Run(ctx)
	})
	g.Go(func() error {
		return http.Start(ctx, viper.GetInt("api.port"), http.NewAPI(campaign.New(store)))
	})
	return g.Wait()
}

func init() {
	dispatcherCmd.AddCommand(watchdogCmd)
}
