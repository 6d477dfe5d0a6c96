package cmd

import (
	"github.com/spf13/cobra"

	"github.com/humblenginr/sentence_slicer/pipeline"
	"github.com/humblenginr/sentence_slicer/scraper"
)

func newSliceCommand(ctx *commandContext) *cobra.Command {
	var slicing slicingFlags

	cmd := &cobra.Command{
		Use:   "slice <audio> <subtitle.srt>",
		Short: "Slice a local recording using an existing sentence-level SRT",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if err := slicing.apply(cmd, cfg); err != nil {
				return err
			}
			if err := preflight(scraper.Requirement{Name: "ffmpeg", Command: cfg.Tools.FFmpeg}); err != nil {
				return err
			}

			res, err := pipeline.SliceLocal(cmd.Context(), pipelineConfig(cfg), collaborators(cfg, ctx.logger), args[0], args[1])
			if err != nil {
				return err
			}
			return printSummary(cmd.OutOrStdout(), res)
		},
	}
	slicing.register(cmd)
	return cmd
}
