// Command perplex-server runs the HTTP perplexity scoring service.
//
// The language model loads lazily on the first scoring request unless
// --preload is set; concurrent first requests share a single load.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/lexera/go-perplex/infrastructure/httpapi"
	"github.com/lexera/go-perplex/infrastructure/middleware"
	"github.com/lexera/go-perplex/infrastructure/model"
	"github.com/lexera/go-perplex/infrastructure/scoring"
	"github.com/lexera/go-perplex/internal/application"
	"github.com/lexera/go-perplex/internal/logging"
	"github.com/lexera/go-perplex/internal/ports"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var (
		configPath string
		port       int
		modelPath  string
		preload    bool
	)

	cmd := &cobra.Command{
		Use:   "perplex-server",
		Short: "HTTP service that scores text perplexity with a causal language model",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := application.LoadConfig(configPath)
			if err != nil {
				return err
			}
			if port > 0 {
				cfg.Server.Port = port
			}
			if modelPath != "" {
				cfg.Model.Path = modelPath
			}
			logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

			return run(cmd.Context(), cfg, preload)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to YAML config file")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "listen port (overrides config)")
	cmd.Flags().StringVarP(&modelPath, "model", "m", "", "ONNX model path (overrides config)")
	cmd.Flags().BoolVar(&preload, "preload", false, "load the model at startup instead of on first request")

	return cmd
}

func run(ctx context.Context, cfg application.Config, preload bool) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry, err := model.NewRegistry(func(context.Context) (ports.LanguageModel, error) {
		return model.Load(model.Config{
			ModelPath:         cfg.Model.Path,
			TokenizerPath:     cfg.Model.TokenizerPath,
			SharedLibraryPath: cfg.Model.SharedLibraryPath,
			BOSToken:          cfg.Model.BOSToken,
			EOSToken:          cfg.Model.EOSToken,
			Device:            cfg.Model.Device,
			IntraOpThreads:    cfg.Model.IntraOpThreads,
			InterOpThreads:    cfg.Model.InterOpThreads,
		})
	})
	if err != nil {
		return err
	}
	defer registry.Close()

	if preload {
		if _, err := registry.Get(ctx); err != nil {
			return err
		}
	}

	metrics := middleware.NewPrometheusMetrics(nil)

	scorerSource := func(ctx context.Context) (ports.Scorer, error) {
		m, err := registry.Get(ctx)
		if err != nil {
			metrics.RecordGauge("model_ready", 0, nil)
			return nil, err
		}
		metrics.RecordGauge("model_ready", 1, nil)
		return scoring.NewPerplexityScorer(m)
	}

	api, err := httpapi.NewAPI(
		scorerSource,
		func() bool { return registry.State() == model.StateReady },
		metrics,
	)
	if err != nil {
		return err
	}

	server := httpapi.NewServer(httpapi.ServerConfig{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}, api)

	errCh := make(chan error, 1)
	go func() { errCh <- server.ListenAndServe() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		log.Info().Msg("termination signal received")
	}

	if err := server.Shutdown(context.Background()); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return <-errCh
}
