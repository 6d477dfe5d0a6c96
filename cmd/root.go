// Package cmd implements the sentence-slicer command line.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/humblenginr/sentence_slicer/failure"
)

// Version is set at build time with -ldflags "-X .../cmd.Version=...".
var Version = "dev"

func newRootCommand() *cobra.Command {
	var configFlag string
	var verbose, quiet bool

	ctx := newCommandContext(&configFlag, &verbose, &quiet)

	rootCmd := &cobra.Command{
		Use:   "sentence-slicer",
		Short: "Cut videos into per-sentence WAV clips with word-level subtitles",
		Long: `sentence-slicer downloads a video's audio, transcribes it into sentences,
keeps the sentences whose duration falls inside a configurable window and
writes one WAV clip, one cue-per-word SRT and a labels.txt line for each.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if shouldSkipConfig(cmd) {
				return nil
			}
			_, err := ctx.ensureConfig()
			return err
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Configuration file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose logging")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "suppress non-error output")

	rootCmd.AddCommand(newRunCommand(ctx))
	rootCmd.AddCommand(newSliceCommand(ctx))
	rootCmd.AddCommand(newConfigCommand())
	rootCmd.AddCommand(newVersionCommand())

	return rootCmd
}

// Execute runs the command line and returns the process exit status.
func Execute(ctx context.Context) int {
	err := newRootCommand().ExecuteContext(ctx)
	if err == nil {
		return 0
	}
	if !errors.Is(err, context.Canceled) {
		fmt.Fprintln(os.Stderr, "error:", err)
	}
	return failure.ExitCode(err)
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:         "version",
		Short:       "Print the version",
		Annotations: map[string]string{"skipConfigLoad": "true"},
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "sentence-slicer", Version)
		},
	}
}
