package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/simonyos/Z-NOTE/internal/config"
	"github.com/simonyos/Z-NOTE/internal/embed"
	"github.com/simonyos/Z-NOTE/internal/theme"
)

var (
	embedNATSFlag bool
	embedJSONFlag bool
)

var embedCmd = &cobra.Command{
	Use:   "embed <text>",
	Short: "Compute a vector embedding for text",
	Long: `Compute a vector embedding for text.

By default the embedding model runs in a worker inside this process. With
--nats the request goes to a remote worker started with 'znote worker'.

Examples:
  znote embed "quarterly planning notes"
  znote embed --nats "quarterly planning notes"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runEmbed,
}

func runEmbed(cmd *cobra.Command, args []string) error {
	logger := newLogger()
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	transport, err := newEmbedTransport(logger)
	if err != nil {
		return err
	}
	c, err := embed.NewCorrelator(transport, logger)
	if err != nil {
		transport.Close()
		return err
	}
	defer c.Close()

	s := theme.Current
	errOut := cmd.ErrOrStderr()
	c.OnReadiness(func(r embed.Readiness) {
		switch {
		case r.Err != "":
			fmt.Fprintln(errOut, s.Error.Render("embedding model failed to load: "+r.Err))
		case r.Ready:
			fmt.Fprintln(errOut, s.Muted.Render("embedding model ready"))
		default:
			fmt.Fprintf(errOut, "%s\r", s.Muted.Render(fmt.Sprintf("loading embedding model %.0f%%", r.Progress)))
		}
	})

	vector, err := c.Embed(ctx, strings.Join(args, " "))
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if embedJSONFlag {
		parts := make([]string, len(vector))
		for i, v := range vector {
			parts[i] = strconv.FormatFloat(float64(v), 'g', -1, 32)
		}
		fmt.Fprintf(out, "[%s]\n", strings.Join(parts, ","))
		return nil
	}
	fmt.Fprintf(out, "%s %d dimensions\n", s.Title.Render("Embedding:"), len(vector))
	for i, v := range vector {
		if i == 8 {
			fmt.Fprintln(out, s.Muted.Render(fmt.Sprintf("  ... %d more (use --json for all)", len(vector)-8)))
			break
		}
		fmt.Fprintf(out, "  %s %.6f\n", s.Key.Render(fmt.Sprintf("[%d]", i)), v)
	}
	return nil
}

func newEmbedTransport(logger *zap.Logger) (embed.Transport, error) {
	if embedNATSFlag {
		t, err := embed.DialNATS(embed.DefaultNATSConfig(config.GetNATSURL()), logger)
		if err != nil {
			return nil, err
		}
		return t, nil
	}
	w, err := newEmbedWorker(logger)
	if err != nil {
		return nil, err
	}
	return embed.NewLocalTransport(w, logger), nil
}

func newEmbedWorker(logger *zap.Logger) (*embed.Worker, error) {
	e := config.GetEmbedding()
	embedder, err := embed.NewEmbedder(e.Backend, e.Model, e.BaseURL, e.APIKey)
	if err != nil {
		return nil, err
	}
	logger.Debug("embedding backend",
		zap.String("backend", e.Backend),
		zap.String("model", e.Model))
	return embed.NewWorker(embedder, logger), nil
}

func init() {
	embedCmd.Flags().BoolVar(&embedNATSFlag, "nats", false, "Send the request to a remote worker over NATS")
	embedCmd.Flags().BoolVar(&embedJSONFlag, "json", false, "Print the full vector as JSON")
	rootCmd.AddCommand(embedCmd)
}
