package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/lehigh-university-libraries/birdid/internal/backends"
	"github.com/lehigh-university-libraries/birdid/internal/classifier"
	"github.com/lehigh-university-libraries/birdid/internal/config"
	"github.com/lehigh-university-libraries/birdid/internal/handlers"
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	var port string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the bird identification web interface",
		Long: `Starts the web interface on the specified port.

Upload a JPEG or PNG photograph and press Start to see the most likely species,
its confidence and the next three candidates. The same classification is
available as JSON on /api/classify.

With BIRDID_BACKEND=onnx the model bundle is fetched into BIRDID_MODEL_DIR
before the server starts (unless BIRDID_AUTO_DOWNLOAD=false); a failed download
stops the process. The onnx backend has no default model: BIRDID_MODEL must
name a repository with a top-level ONNX export (BIRDID_WEIGHTS_FILE, default
model.onnx) next to its config.json.`,
		Example: `  # Start server on default port 8501
  birdid serve

  # Use a hub mirror and the local ONNX model
  HF_ENDPOINT=https://hf-mirror.com BIRDID_BACKEND=onnx BIRDID_MODEL=org/vit-birds-onnx birdid serve --port 3000`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg := config.Load()
			if err := cfg.Validate(); err != nil {
				return err
			}
			if !cmd.Flags().Changed("port") {
				port = listenPort()
			}

			if cfg.LocalModel() && cfg.AutoDownload {
				if _, err := backends.NewMaterializer(cfg).Ensure(ctx, cfg.ModelDir); err != nil {
					return fmt.Errorf("unable to materialize model %s: %w", cfg.Model, err)
				}
			}

			loader := classifier.NewLoader(func(ctx context.Context) (classifier.Classifier, error) {
				return backends.New(ctx, cfg)
			})
			defer func() {
				if err := loader.Close(); err != nil {
					slog.Error("Unable to release model", "err", err)
				}
			}()
			// a load failure is reported by the UI, not fatal
			_, _ = loader.Get(ctx)

			addr := ":" + port
			server := &http.Server{
				Addr:              addr,
				Handler:           handlers.New(cfg, loader).Routes(),
				ReadHeaderTimeout: 10 * time.Second,
			}

			serverErr := make(chan error, 1)
			go func() {
				slog.Info("Bird identification interface available",
					"addr", addr,
					"url", "http://localhost"+addr,
					"backend", cfg.Backend,
					"model", cfg.Model)
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					serverErr <- err
				}
			}()

			select {
			case <-ctx.Done():
				slog.Info("Shutting down server...")
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := server.Shutdown(shutdownCtx); err != nil {
					slog.Error("Server shutdown failed", "err", err)
					return err
				}
				slog.Info("Server stopped")
				return nil
			case err := <-serverErr:
				return err
			}
		},
	}

	cmd.Flags().StringVarP(&port, "port", "p", defaultPort, "Port to listen on (default PORT or 8501)")

	return cmd
}

const defaultPort = "8501"

// listenPort resolves PORT after .env has been loaded
func listenPort() string {
	if p := os.Getenv("PORT"); p != "" {
		return p
	}
	return defaultPort
}
