package realtime

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tphakala/pitchnet-go/internal/analysis"
	"github.com/tphakala/pitchnet-go/internal/conf"
)

// Command creates a new command for real-time pitch tracking.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "realtime",
		Short: "Track pitch from a capture device in realtime",
		Long:  "Capture audio from a sound card and emit pitch estimates until interrupted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return analysis.RealtimeAnalysis(settings)
		},
	}

	// Set up flags specific to the 'realtime' command
	if err := setupFlags(cmd, settings); err != nil {
		fmt.Printf("error setting up flags: %v\n", err)
		os.Exit(1)
	}

	return cmd
}

// setupFlags configures flags specific to the realtime command.
func setupFlags(cmd *cobra.Command, settings *conf.Settings) error {
	cmd.Flags().StringVar(&settings.Audio.Source, "source", viper.GetString("audio.source"), "Audio capture source (\"default\", device name or id)")
	cmd.Flags().IntVar(&settings.Audio.Channels, "channels", viper.GetInt("audio.channels"), "Capture channels, downmixed to mono")
	cmd.Flags().Float64Var(&settings.Audio.Gain, "gain", viper.GetFloat64("audio.gain"), "Linear input gain between 0.0 and 4.0")
	cmd.Flags().BoolVar(&settings.Stream.LockMemory, "lockmemory", viper.GetBool("stream.lockmemory"), "Lock process memory to avoid paging on the audio path (Linux)")
	cmd.Flags().BoolVar(&settings.API.Enabled, "api", viper.GetBool("api.enabled"), "Enable the HTTP status and control API")
	cmd.Flags().StringVar(&settings.API.Listen, "listen", viper.GetString("api.listen"), "Listen address and port of the HTTP API")
	cmd.Flags().BoolVar(&settings.Output.MQTT.Enabled, "mqtt", viper.GetBool("output.mqtt.enabled"), "Publish results to MQTT")
	cmd.Flags().StringVar(&settings.Output.MQTT.Broker, "broker", viper.GetString("output.mqtt.broker"), "MQTT broker URL")

	// Bind flags to the viper settings
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return fmt.Errorf("error binding flags: %w", err)
	}

	return nil
}
