package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tphakala/pitchnet-go/cmd/devices"
	"github.com/tphakala/pitchnet-go/cmd/file"
	"github.com/tphakala/pitchnet-go/cmd/models"
	"github.com/tphakala/pitchnet-go/cmd/realtime"
	"github.com/tphakala/pitchnet-go/internal/buildinfo"
	"github.com/tphakala/pitchnet-go/internal/conf"
	"github.com/tphakala/pitchnet-go/internal/logger"
	"github.com/tphakala/pitchnet-go/internal/telemetry"
)

// RootCommand creates and returns the root command
func RootCommand(settings *conf.Settings, build *buildinfo.Context) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "pitchnet",
		Short:        "PitchNet-Go CLI",
		Long:         "Real-time pitch tracking: audio in, neural pitch estimates out.",
		Version:      build.String(),
		SilenceUsage: true,
	}

	// Set up the global flags for the root command.
	if err := setupFlags(rootCmd, settings); err != nil {
		fmt.Printf("error setting up flags: %v\n", err)
	}

	devicesCmd := devices.Command()
	subcommands := []*cobra.Command{
		realtime.Command(settings),
		file.Command(settings),
		models.Command(settings),
		devicesCmd,
	}
	rootCmd.AddCommand(subcommands...)

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		// Listing devices needs no logging or telemetry setup
		if cmd.Name() == devicesCmd.Name() {
			return nil
		}
		return initialize(settings, build)
	}

	return rootCmd
}

// initialize sets up logging and error telemetry before a subcommand runs.
func initialize(settings *conf.Settings, build *buildinfo.Context) error {
	if settings.Debug {
		settings.Logging.DefaultLevel = string(logger.LogLevelDebug)
	}
	cl, err := logger.NewCentralLogger(&settings.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	logger.SetGlobal(cl)

	if err := telemetry.InitSentry(settings, build.Version()); err != nil {
		// telemetry is optional, keep running without it
		logger.Global().Module("main").Warn("error telemetry disabled", logger.Error(err))
	}
	return nil
}

// setupFlags defines flags that are global to the command line interface
func setupFlags(rootCmd *cobra.Command, settings *conf.Settings) error {
	rootCmd.PersistentFlags().BoolVarP(&settings.Debug, "debug", "d", viper.GetBool("debug"), "Enable debug output")
	rootCmd.PersistentFlags().StringVar(&settings.Model.Path, "model", viper.GetString("model.path"), "Path to a model file, empty selects from the model directory")
	rootCmd.PersistentFlags().StringVar(&settings.Model.Dir, "modeldir", viper.GetString("model.dir"), "Directory scanned for model files")
	rootCmd.PersistentFlags().IntVar(&settings.Model.Threads, "threads", viper.GetInt("model.threads"), "Inference threads, 0 for automatic")
	rootCmd.PersistentFlags().IntVar(&settings.Stream.SampleRate, "samplerate", viper.GetInt("stream.samplerate"), "Stream sample rate in Hz")
	rootCmd.PersistentFlags().IntVar(&settings.Stream.ChunkSize, "chunksize", viper.GetInt("stream.chunksize"), "Samples per inference, 0 picks the best available model")
	rootCmd.PersistentFlags().Float64Var(&settings.Thresholds.Confidence, "confidence", viper.GetFloat64("thresholds.confidence"), "Confidence threshold between 0.0 and 1.0, 0 disables")
	rootCmd.PersistentFlags().Float64Var(&settings.Thresholds.Amplitude, "amplitude", viper.GetFloat64("thresholds.amplitude"), "Amplitude threshold between 0.0 and 1.0, 0 disables")

	if err := viper.BindPFlags(rootCmd.PersistentFlags()); err != nil {
		return fmt.Errorf("error binding flags: %w", err)
	}

	return nil
}
