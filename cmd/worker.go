package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/simonyos/Z-NOTE/internal/config"
	"github.com/simonyos/Z-NOTE/internal/embed"
	"github.com/simonyos/Z-NOTE/internal/theme"
)

var (
	workerNATSURLFlag string
	workerTokenFlag   string
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Serve the embedding worker over NATS",
	Long: `Serve the embedding worker over NATS.

The worker loads the configured embedding backend, then answers requests from
'znote embed --nats' clients. Several workers share the load through a queue
group. Requires a NATS server (default nats://127.0.0.1:4222, or NATS_URL).`,
	Args: cobra.NoArgs,
	RunE: runWorker,
}

func runWorker(cmd *cobra.Command, args []string) error {
	logger := newLogger()
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	w, err := newEmbedWorker(logger)
	if err != nil {
		return err
	}

	cfg := embed.DefaultNATSConfig(firstNonEmpty(workerNATSURLFlag, config.GetNATSURL()))
	cfg.Token = workerTokenFlag

	fmt.Fprintln(cmd.OutOrStdout(), theme.Current.Title.Render("Embedding worker")+" "+
		theme.Current.Muted.Render(fmt.Sprintf("serving %s on %s (Ctrl+C to stop)", embed.SubjectRequest, cfg.URL)))
	logger.Info("worker starting", zap.String("url", cfg.URL))

	return embed.ServeNATS(ctx, cfg, w, logger)
}

func init() {
	workerCmd.Flags().StringVar(&workerNATSURLFlag, "nats-url", "", "NATS server URL (overrides config and NATS_URL)")
	workerCmd.Flags().StringVar(&workerTokenFlag, "token", "", "NATS auth token")
	rootCmd.AddCommand(workerCmd)
}
