// Command perplex-ensemble builds an optimized submission from every
// submission CSV under a directory: each candidate text is scored for
// perplexity and, per row, the lowest-scoring candidate wins.
//
// Scoring runs either against an in-process model or, with a remote
// URL configured, against a running perplex-server instance.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/lexera/go-perplex/infrastructure/middleware"
	"github.com/lexera/go-perplex/infrastructure/model"
	"github.com/lexera/go-perplex/infrastructure/scoring"
	"github.com/lexera/go-perplex/infrastructure/submissions"
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
		inputDir   string
		outputPath string
		remoteURL  string
		workers    int
	)

	cmd := &cobra.Command{
		Use:   "perplex-ensemble",
		Short: "Merge submission files by picking the lowest-perplexity text per row",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := application.LoadConfig(configPath)
			if err != nil {
				return err
			}
			if inputDir != "" {
				cfg.Ensemble.InputDir = inputDir
			}
			if outputPath != "" {
				cfg.Ensemble.OutputPath = outputPath
			}
			if remoteURL != "" {
				cfg.Ensemble.RemoteURL = remoteURL
			}
			if workers > 0 {
				cfg.Ensemble.Workers = workers
			}
			logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

			return run(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to YAML config file")
	cmd.Flags().StringVarP(&inputDir, "input-dir", "i", "", "directory searched recursively for submission CSVs")
	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "path for the merged submission CSV")
	cmd.Flags().StringVarP(&remoteURL, "remote-url", "r", "", "score against a running server instead of loading the model")
	cmd.Flags().IntVarP(&workers, "workers", "w", 0, "concurrent scoring requests")

	return cmd
}

func run(ctx context.Context, cfg application.Config) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics := middleware.NewPrometheusMetrics(nil)

	scorer, cleanup, err := buildScorer(cfg, metrics)
	if err != nil {
		return err
	}
	defer cleanup()

	sets, err := submissions.Discover(cfg.Ensemble.InputDir)
	if err != nil {
		return err
	}

	selector, err := application.NewSelector(scorer, application.SelectorOptions{
		Workers: cfg.Ensemble.Workers,
		Metrics: metrics,
	})
	if err != nil {
		return err
	}

	summary, err := selector.Optimize(ctx, sets)
	if err != nil {
		return err
	}

	if err := submissions.WriteMerged(cfg.Ensemble.OutputPath, sets[0], summary.Selections); err != nil {
		return err
	}
	log.Info().Str("path", cfg.Ensemble.OutputPath).Msg("ensemble submission written")

	if cfg.Ensemble.AnalysisPath != "" {
		if err := submissions.WriteAnalysis(cfg.Ensemble.AnalysisPath, summary); err != nil {
			return err
		}
		log.Info().Str("path", cfg.Ensemble.AnalysisPath).Msg("selection analysis written")
	}
	if cfg.Ensemble.MatrixPath != "" {
		if err := submissions.WriteScoreMatrix(cfg.Ensemble.MatrixPath, summary); err != nil {
			return err
		}
		log.Info().Str("path", cfg.Ensemble.MatrixPath).Msg("score matrix written")
	}

	return submissions.WriteReport(os.Stdout, summary)
}

// buildScorer picks the scoring backend: remote when a URL is
// configured, otherwise an in-process model.
func buildScorer(cfg application.Config, metrics ports.MetricsCollector) (ports.Scorer, func(), error) {
	if cfg.Ensemble.RemoteURL != "" {
		scorer, err := scoring.NewRemoteScorer(scoring.RemoteConfig{
			BaseURL:           cfg.Ensemble.RemoteURL,
			Timeout:           cfg.Ensemble.RequestTimeout,
			MaxRetries:        cfg.Ensemble.MaxRetries,
			RequestsPerSecond: cfg.Ensemble.RequestsPerSecond,
			Metrics:           metrics,
		})
		if err != nil {
			return nil, nil, err
		}
		return scorer, func() {}, nil
	}

	m, err := model.Load(model.Config{
		ModelPath:         cfg.Model.Path,
		TokenizerPath:     cfg.Model.TokenizerPath,
		SharedLibraryPath: cfg.Model.SharedLibraryPath,
		BOSToken:          cfg.Model.BOSToken,
		EOSToken:          cfg.Model.EOSToken,
		Device:            cfg.Model.Device,
		IntraOpThreads:    cfg.Model.IntraOpThreads,
		InterOpThreads:    cfg.Model.InterOpThreads,
	})
	if err != nil {
		return nil, nil, err
	}
	scorer, err := scoring.NewPerplexityScorer(m)
	if err != nil {
		m.Close()
		return nil, nil, err
	}
	cleanup := func() {
		if err := m.Close(); err != nil {
			log.Warn().Err(err).Msg("closing model")
		}
	}
	return scorer, cleanup, nil
}
