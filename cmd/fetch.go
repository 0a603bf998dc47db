package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/lehigh-university-libraries/birdid/internal/backends"
	"github.com/lehigh-university-libraries/birdid/internal/config"
	"github.com/spf13/cobra"
)

func newFetchModelCmd() *cobra.Command {
	var (
		model    string
		dir      string
		staging  string
		revision string
		allow    []string
	)

	cmd := &cobra.Command{
		Use:   "fetch-model",
		Short: "Download the model bundle used by the onnx backend",
		Long: `Downloads the configured model repository from the hub (or the mirror named
by HF_ENDPOINT) into a staging directory, copies its files into the model
directory and removes the staging directory.

Nothing is downloaded when the weight file is already present. The repository
must hold the weight file (BIRDID_WEIGHTS_FILE, default model.onnx) and
config.json at its top level, so --model or BIRDID_MODEL is required; the
default nateraw/vit-base-birds id of the remote backend is not used here.`,
		Example: `  # Fetch into ./bird_model
  birdid fetch-model --model org/vit-birds-onnx

  # Fetch another export through a mirror
  HF_ENDPOINT=https://hf-mirror.com BIRDID_MODEL=org/vit-birds-onnx birdid fetch-model --dir ./models/birds`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			if model == "" {
				model = os.Getenv("BIRDID_MODEL")
			}
			cfg.Backend = "onnx"
			cfg.Model = model
			if err := cfg.Validate(); err != nil {
				return err
			}
			if dir == "" {
				dir = cfg.ModelDir
			}
			if staging != "" {
				cfg.DownloadDir = staging
			}
			if revision != "" {
				cfg.Revision = revision
			}

			m := backends.NewMaterializer(cfg)
			if len(allow) > 0 {
				m.Allow = allow
			}

			b, err := m.Ensure(cmd.Context(), dir)
			if err != nil {
				return fmt.Errorf("unable to fetch %s: %w", cfg.Model, err)
			}

			if b.Downloaded {
				slog.Info("Model downloaded", "model", cfg.Model, "dir", b.Dir, "digest", b.Digest)
			} else {
				slog.Info("Model already present", "model", cfg.Model, "dir", b.Dir)
			}
			fmt.Fprintln(cmd.OutOrStdout(), b.WeightsPath())
			return nil
		},
	}

	cmd.Flags().StringVar(&model, "model", "", "Repository with a top-level ONNX export (default BIRDID_MODEL)")
	cmd.Flags().StringVar(&dir, "dir", "", "Model directory (default BIRDID_MODEL_DIR or ./bird_model)")
	cmd.Flags().StringVar(&staging, "staging", "", "Transient download directory (default BIRDID_DOWNLOAD_DIR or ./temp_download)")
	cmd.Flags().StringVar(&revision, "revision", "", "Branch, tag or commit to fetch")
	cmd.Flags().StringSliceVar(&allow, "allow", nil, "Glob patterns of files to fetch (default *.json,*.onnx,*.txt)")

	return cmd
}
