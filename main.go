package main

import (
	"fmt"
	"os"
	"time"

	"github.com/tphakala/pitchnet-go/cmd"
	"github.com/tphakala/pitchnet-go/internal/buildinfo"
	"github.com/tphakala/pitchnet-go/internal/conf"
	"github.com/tphakala/pitchnet-go/internal/logger"
	"github.com/tphakala/pitchnet-go/internal/telemetry"

	// model backends register themselves by file extension
	_ "github.com/tphakala/pitchnet-go/internal/model/autocorr"
	_ "github.com/tphakala/pitchnet-go/internal/model/tflite"
)

// buildDate, version and systemID are set at build time with
// -ldflags "-X main.version=... -X main.buildDate=..."
var (
	buildDate string
	version   string
	systemID  string
)

func main() {
	os.Exit(mainWithExitCode())
}

func mainWithExitCode() int {
	build := buildinfo.NewContext(version, buildDate, systemID)
	fmt.Printf("🎵 PitchNet-Go %s\n", build)

	settings, err := conf.Load(os.Getenv("PITCHNET_CONFIG"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "error loading configuration: %v\n", err)
		return 1
	}

	rootCmd := cmd.RootCommand(settings, build)
	execErr := rootCmd.Execute()

	telemetry.Shutdown(2 * time.Second)
	_ = logger.Global().Close()

	if execErr != nil {
		return 1
	}
	return 0
}
