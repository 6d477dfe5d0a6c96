package cmd

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/humblenginr/sentence_slicer/config"
	"github.com/humblenginr/sentence_slicer/pipeline"
	"github.com/humblenginr/sentence_slicer/scraper"
	"github.com/humblenginr/sentence_slicer/slicer"
)

// slicingFlags are the overrides shared by run and slice.
type slicingFlags struct {
	output      string
	minDuration float64
	maxDuration float64
	workers     int
	onError     string
}

func (f *slicingFlags) register(cmd *cobra.Command) {
	defaults := config.Default()
	cmd.Flags().StringVarP(&f.output, "output", "o", "", "output root directory (default from config)")
	cmd.Flags().Float64Var(&f.minDuration, "min-duration", defaults.Slicing.MinDuration, "sentences must be longer than this many seconds")
	cmd.Flags().Float64Var(&f.maxDuration, "max-duration", defaults.Slicing.MaxDuration, "sentences must be shorter than this many seconds")
	cmd.Flags().IntVarP(&f.workers, "workers", "j", defaults.Slicing.Workers, "concurrent sentence extractions")
	cmd.Flags().StringVar(&f.onError, "on-error", defaults.Slicing.OnError, "what a failed sentence does to the run: abort or skip")
}

// apply copies the flags the user set over cfg and revalidates it.
func (f *slicingFlags) apply(cmd *cobra.Command, cfg *config.Config) error {
	flags := cmd.Flags()
	if flags.Changed("output") {
		cfg.Paths.OutputDir = f.output
	}
	if flags.Changed("min-duration") {
		cfg.Slicing.MinDuration = f.minDuration
	}
	if flags.Changed("max-duration") {
		cfg.Slicing.MaxDuration = f.maxDuration
	}
	if flags.Changed("workers") {
		cfg.Slicing.Workers = f.workers
	}
	if flags.Changed("on-error") {
		cfg.Slicing.OnError = f.onError
	}
	if err := cfg.Normalize(); err != nil {
		return err
	}
	return cfg.Validate()
}

func pipelineConfig(cfg *config.Config) pipeline.Config {
	pc := pipeline.Config{
		ModelRef:   cfg.Whisper.Model,
		OutputRoot: cfg.Paths.OutputDir,
		Policy: slicer.Policy{
			MinDuration: cfg.Slicing.MinDuration,
			MaxDuration: cfg.Slicing.MaxDuration,
		},
		Workers:           cfg.Slicing.Workers,
		OnError:           slicer.OnError(cfg.Slicing.OnError),
		RangeTolerance:    cfg.Slicing.RangeTolerance,
		IsolateVocals:     cfg.Slicing.IsolateVocals,
		MaxRetries:        uint64(cfg.Retry.MaxRetries),
		FetchTimeout:      cfg.FetchTimeout(),
		TranscribeTimeout: cfg.TranscribeTimeout(),
	}
	if cfg.Catalog.Enabled {
		pc.CatalogPath = cfg.Catalog.Path
	}
	return pc
}

func newRunCommand(ctx *commandContext) *cobra.Command {
	var (
		slicing       slicingFlags
		start, end    string
		model         string
		isolateVocals bool
	)

	cmd := &cobra.Command{
		Use:   "run <url>",
		Short: "Download, transcribe and slice a video",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("model") {
				cfg.Whisper.Model = model
			}
			if cmd.Flags().Changed("isolate-vocals") {
				cfg.Slicing.IsolateVocals = isolateVocals
			}
			if err := slicing.apply(cmd, cfg); err != nil {
				return err
			}

			pc := pipelineConfig(cfg)
			pc.Locator = args[0]
			if (start == "") != (end == "") {
				return errors.New("--start and --end must be given together")
			}
			if start != "" {
				s, err := scraper.ParseClock(start)
				if err != nil {
					return fmt.Errorf("--start: %w", err)
				}
				e, err := scraper.ParseClock(end)
				if err != nil {
					return fmt.Errorf("--end: %w", err)
				}
				pc.Range = &scraper.TimeRange{Start: s, End: e}
			}

			reqs := []scraper.Requirement{
				{Name: "yt-dlp", Command: cfg.Tools.YTDLP},
				{Name: "ffmpeg", Command: cfg.Tools.FFmpeg},
				{Name: "whisper", Command: cfg.Tools.Whisper},
			}
			if cfg.Slicing.IsolateVocals {
				reqs = append(reqs, scraper.Requirement{Name: "demucs", Command: cfg.Tools.Demucs})
			}
			if err := preflight(reqs...); err != nil {
				return err
			}

			res, err := pipeline.Run(cmd.Context(), pc, collaborators(cfg, ctx.logger))
			if err != nil {
				return err
			}
			return printSummary(cmd.OutOrStdout(), res)
		},
	}

	slicing.register(cmd)
	cmd.Flags().StringVar(&start, "start", "", "start of the section to process (MM:SS or HH:MM:SS)")
	cmd.Flags().StringVar(&end, "end", "", "end of the section to process (MM:SS or HH:MM:SS)")
	cmd.Flags().StringVarP(&model, "model", "m", "", "whisper model file (default from config)")
	cmd.Flags().BoolVar(&isolateVocals, "isolate-vocals", false, "separate the vocal stem before transcribing")
	return cmd
}

func collaborators(cfg *config.Config, logger *slog.Logger) pipeline.Deps {
	return pipeline.Deps{
		Fetcher: scraper.YTDLP{Binary: cfg.Tools.YTDLP, Logger: logger},
		Transcriber: scraper.WhisperCPP{
			Binary:   cfg.Tools.Whisper,
			Language: cfg.Whisper.Language,
			Threads:  cfg.Whisper.Threads,
		},
		Extractor: scraper.FFmpeg{Binary: cfg.Tools.FFmpeg},
		Vocals:    scraper.Demucs{Binary: cfg.Tools.Demucs, FFmpegBinary: cfg.Tools.FFmpeg, Logger: logger},
		Logger:    logger,
	}
}
