package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/simonyos/Z-NOTE/internal/config"
	"github.com/simonyos/Z-NOTE/internal/imagegen"
	"github.com/simonyos/Z-NOTE/internal/llm"
	"github.com/simonyos/Z-NOTE/internal/netcheck"
	"github.com/simonyos/Z-NOTE/internal/theme"
)

var (
	imageOutFlag  string
	imageSizeFlag string
)

var imageCmd = &cobra.Command{
	Use:   "image <prompt>",
	Short: "Generate an image from a prompt",
	Long: `Generate an image from a prompt.

Transient failures are retried up to three times, waiting 2s, 4s and 8s.
Rate limits, timeouts, 503 responses and a missing network connection are
reported immediately.

Examples:
  znote image "a watercolor fox in the snow"
  znote image "a watercolor fox in the snow" --out fox.png`,
	Args: cobra.MinimumNArgs(1),
	RunE: runImage,
}

func runImage(cmd *cobra.Command, args []string) error {
	logger := newLogger()
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	ic := config.GetImage()
	client := &imagegen.Client{
		BaseURL: ic.BaseURL,
		Model:   firstNonEmpty(modelFlag, ic.Model),
		Size:    imageSizeFlag,
		APIKey:  ic.APIKey,
	}

	policy := imagegen.DefaultPolicy(logger)
	if probe, err := netcheck.ForURL(ic.BaseURL); err == nil {
		policy.Connectivity = probe.Probe
	} else {
		logger.Warn("connectivity probe disabled", zap.Error(err))
	}

	s := theme.Current
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, s.Muted.Render("Generating image..."))

	img, err := policy.Generate(ctx, client, strings.Join(args, " "))
	if err != nil {
		var hinted *imagegen.HintedError
		switch {
		case errors.As(err, &hinted):
			fmt.Fprintln(cmd.ErrOrStderr(), s.Warning.Render(hinted.Hint))
		case errors.Is(err, imagegen.ErrTimeout), errors.Is(err, imagegen.ErrEmptyPrompt):
			fmt.Fprintln(cmd.ErrOrStderr(), s.Error.Render(err.Error()))
		default:
			fmt.Fprintln(cmd.ErrOrStderr(), s.Error.Render(llm.UserMessage(err)))
		}
		return err
	}

	if img.RevisedPrompt != "" {
		fmt.Fprintf(out, "%s %s\n", s.Muted.Render("Revised prompt:"), img.RevisedPrompt)
	}
	if imageOutFlag == "" {
		if img.URL == "" {
			return errors.New("image returned inline; use --out to save it")
		}
		fmt.Fprintln(out, img.URL)
		return nil
	}

	if err := img.Save(ctx, imageOutFlag); err != nil {
		return err
	}
	fmt.Fprintln(out, s.Success.Render("Saved "+imageOutFlag))
	return nil
}

func init() {
	imageCmd.Flags().StringVarP(&imageOutFlag, "out", "o", "", "Write the image to this file")
	imageCmd.Flags().StringVar(&imageSizeFlag, "size", imagegen.DefaultSize, "Image size")
	rootCmd.AddCommand(imageCmd)
}
