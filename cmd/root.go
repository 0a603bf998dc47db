package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

func NewRootCmd() *cobra.Command {
	var logLevel string

	cmd := &cobra.Command{
		Use:   "birdid",
		Short: "Identify bird species in photographs",
		Long: `birdid identifies the bird species in an uploaded photograph with an image
classification model (nateraw/vit-base-birds by default).

The model runs locally through ONNX Runtime or remotely through the hosted
inference API or a vision LLM. HF_ENDPOINT selects a mirror of the model hub.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// .env is optional
			_ = godotenv.Load()

			level, err := parseLevel(logLevel)
			if err != nil {
				return err
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level: debug, info, warn or error")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newFetchModelCmd())
	cmd.AddCommand(newClassifyCmd())
	cmd.AddCommand(newEvalCmd())

	return cmd
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(s))); err != nil {
		return level, fmt.Errorf("invalid --log-level %q: %w", s, err)
	}
	return level, nil
}
