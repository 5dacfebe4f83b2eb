// Command pipeline is the operator-facing CLI for the videoloom pipeline
// runtime: run a job end to end, and inspect/pin the per-stage cache that
// backs the "replay any single stage" workflow 
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/antigravity-dev/videoloom/internal/cache"
	"github.com/antigravity-dev/videoloom/internal/clock"
	"github.com/antigravity-dev/videoloom/internal/config"
	"github.com/antigravity-dev/videoloom/internal/glossary"
	"github.com/antigravity-dev/videoloom/internal/pipeline"
	"github.com/antigravity-dev/videoloom/internal/progress"
	"github.com/antigravity-dev/videoloom/internal/prompts"
	"github.com/antigravity-dev/videoloom/internal/provider"
)

func configureLogger(level, format string) *slog.Logger {
	l := slog.LevelInfo
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	}
	opts := &slog.HandlerOptions{Level: l}
	if strings.ToLower(strings.TrimSpace(format)) == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func buildDeps(cfg *config.Config, logger *slog.Logger) (pipeline.Deps, error) {
	models := make(map[string]provider.ModelConfig, len(cfg.Models))
	for name, spec := range cfg.Models {
		profile := provider.ProfileMedium
		switch spec.Profile {
		case "small":
			profile = provider.ProfileSmall
		case "large":
			profile = provider.ProfileLarge
		}
		models[name] = provider.ModelConfig{
			Profile: profile,
			Price:   provider.Price{InputPerMtok: spec.InputPerMtok, OutputPerMtok: spec.OutputPerMtok},
		}
	}

	router, err := provider.NewRouter(provider.RouterConfig{
		LocalBaseURL:  cfg.Providers.LocalBaseURL,
		CloudBaseURL:  cfg.Providers.CloudBaseURL,
		CloudAPIKey:   cfg.Providers.CloudAPIKey,
		CloudProxyURL: cfg.Providers.CloudProxyURL,
		Timeout:       cfg.Providers.Timeout.Duration,
		Models:        models,
		Retry: provider.RetryPolicy{
			MaxRetries:    cfg.Providers.Retry.MaxRetries,
			InitialDelay:  cfg.Providers.Retry.InitialDelay.Duration,
			BackoffFactor: cfg.Providers.Retry.BackoffFactor,
			MaxDelay:      cfg.Providers.Retry.MaxDelay.Duration,
		},
		Logger: logger,
	})
	if err != nil {
		return pipeline.Deps{}, fmt.Errorf("build provider router: %w", err)
	}

	gloss, err := glossary.LoadFile(cfg.Paths.GlossaryFile)
	if err != nil {
		return pipeline.Deps{}, fmt.Errorf("load glossary: %w", err)
	}

	return pipeline.Deps{
		Registry: pipeline.NewDefaultRegistry(pipeline.StageDeps{
			Probe:             func(path string) (float64, error) { return pipeline.RealMediaProbe(context.Background(), path) },
			ArchiveRoot:       cfg.Paths.Archive,
			Transcriber:       pipeline.HTTPTranscriber{BaseURL: cfg.Providers.LocalBaseURL},
			Glossary:          gloss,
			Router:            router,
			Prompts:           prompts.NewResolver(cfg.Paths.PromptsRoot),
			Models: pipeline.ModelNames{
				Clean:     cfg.Pipeline.StageModels["clean"],
				Slides:    cfg.Pipeline.StageModels["slides"],
				Longread:  cfg.Pipeline.StageModels["longread"],
				Summarize: cfg.Pipeline.StageModels["summarize"],
				Story:     cfg.Pipeline.StageModels["story"],
			},
			SlideRenderer:     pipeline.PopplerPDFRenderer{},
			SlidesBatchSize:   cfg.Pipeline.SlidesBatchSize,
			AudioExtractor:    pipeline.FFmpegAudioExtractor{},
			IncludeTimestamps: cfg.Pipeline.IncludeTimestamps,
		}),
		Router:  router,
		Prompts: prompts.NewResolver(cfg.Paths.PromptsRoot),
		Clock:   clock.Real{},
		Logger:  logger,
	}, nil
}

func newRunCmd() *cobra.Command {
	var configPath, sourcePath, archiveDir string
	var stages []string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a source file through the pipeline",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			logger := configureLogger(cfg.Logging.Level, cfg.Logging.Format)
			deps, err := buildDeps(cfg, logger)
			if err != nil {
				return err
			}

			if archiveDir == "" {
				archiveDir = cfg.Paths.Archive
			}

			_, err = pipeline.Run(cmd.Context(), deps, pipeline.Request{
				SourcePath: sourcePath,
				ArchiveDir: archiveDir,
				Stages:     stages,
				Cfg:        cfg,
				OnProgress: func(ev progress.Event) {
					fmt.Fprintf(cmd.OutOrStdout(), "[%s] %s %.0f%%\n", ev.Stage, ev.Status, ev.Progress)
				},
			})
			return err
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "pipeline.toml", "path to the runtime TOML config")
	cmd.Flags().StringVar(&sourcePath, "source", "", "source media file to run")
	cmd.Flags().StringVar(&archiveDir, "archive-dir", "", "archive directory (defaults to config paths.archive)")
	cmd.Flags().StringSliceVar(&stages, "stages", nil, "requested stage names (defaults to the full save closure)")
	cmd.MarkFlagRequired("source")
	return cmd
}

func newCacheListCmd() *cobra.Command {
	var archiveDir string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List every cached stage version for an archive directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := cache.New(archiveDir)
			manifest, err := c.List()
			if err != nil {
				return err
			}
			for stage, sm := range manifest.Stages {
				fmt.Fprintf(cmd.OutOrStdout(), "%s: current=v%d\n", stage, sm.CurrentVersion)
				for _, v := range sm.Versions {
					fmt.Fprintf(cmd.OutOrStdout(), "  v%d model=%s createdAt=%s\n", v.Version, v.ModelName, v.CreatedAt.Format(time.RFC3339))
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&archiveDir, "archive-dir", "", "archive directory")
	cmd.MarkFlagRequired("archive-dir")
	return cmd
}

func newCacheShowCmd() *cobra.Command {
	var archiveDir, stage string
	var version int
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print one cached stage version's raw JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := cache.New(archiveDir)
			var dest map[string]any
			found, err := c.Load(stage, version, &dest)
			if err != nil {
				return err
			}
			if !found {
				return fmt.Errorf("no cached %s version %d", stage, version)
			}
			out, err := json.MarshalIndent(dest, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	}
	cmd.Flags().StringVar(&archiveDir, "archive-dir", "", "archive directory")
	cmd.Flags().StringVar(&stage, "stage", "", "stage name")
	cmd.Flags().IntVar(&version, "version", 0, "version number (0 = current)")
	cmd.MarkFlagRequired("archive-dir")
	cmd.MarkFlagRequired("stage")
	return cmd
}

func newCacheSetCurrentCmd() *cobra.Command {
	var archiveDir, stage string
	var version int
	cmd := &cobra.Command{
		Use:   "set-current",
		Short: "Pin a stage to a specific cached version",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := cache.New(archiveDir)
			return c.SetCurrent(stage, version)
		},
	}
	cmd.Flags().StringVar(&archiveDir, "archive-dir", "", "archive directory")
	cmd.Flags().StringVar(&stage, "stage", "", "stage name")
	cmd.Flags().IntVar(&version, "version", 0, "version number to pin")
	cmd.MarkFlagRequired("archive-dir")
	cmd.MarkFlagRequired("stage")
	cmd.MarkFlagRequired("version")
	return cmd
}

func main() {
	root := &cobra.Command{Use: "pipeline", Short: "videoloom pipeline runtime"}
	root.AddCommand(newRunCmd())

	cacheCmd := &cobra.Command{Use: "cache", Short: "Inspect and pin the stage cache"}
	cacheCmd.AddCommand(newCacheListCmd(), newCacheShowCmd(), newCacheSetCurrentCmd())
	root.AddCommand(cacheCmd)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
