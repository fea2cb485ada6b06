package file

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tphakala/pitchnet-go/internal/analysis"
	"github.com/tphakala/pitchnet-go/internal/conf"
)

// Command creates a new file command for replaying a single audio file.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "file [input.wav|input.flac]",
		Short: "Track pitch in an audio file",
		Long:  `Replay a WAV or FLAC file through the stream as if it were live input.`,
		Args:  cobra.ExactArgs(1), // the command expects exactly one argument
		RunE: func(cmd *cobra.Command, args []string) error {
			settings.InputFile = args[0]
			return analysis.FileAnalysis(settings)
		},
	}

	// Set up flags specific to the 'file' command
	setupFlags(cmd, settings)

	return cmd
}

// setupFlags configures flags specific to the file command.
func setupFlags(cmd *cobra.Command, settings *conf.Settings) {
	cmd.Flags().StringVarP(&settings.Pacing, "pacing", "p", "lockstep", "Replay pacing: lockstep (as fast as inference allows) or realtime")
	cmd.Flags().IntVar(&settings.Stream.BlockSize, "blocksize", viper.GetInt("stream.blocksize"), "Samples handed to the stream per block")
}
