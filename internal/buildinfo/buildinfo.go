// Package buildinfo holds build-time metadata injected through ldflags,
// kept apart from user configuration.
package buildinfo

import (
	"fmt"
	"runtime"
	"runtime/debug"

	"github.com/google/uuid"
)

// UnknownValue is reported for metadata that was not injected at build time.
const UnknownValue = "unknown"

// Context is the build metadata of the running binary.
type Context struct {
	version   string
	buildDate string
	systemID  string
}

// NewContext creates a context. An empty systemID is replaced with a random
// per-process identifier.
func NewContext(version, buildDate, systemID string) *Context {
	if systemID == "" {
		systemID = uuid.NewString()
	}
	return &Context{version: version, buildDate: buildDate, systemID: systemID}
}

// Version returns the release version, falling back to the module version
// recorded by the Go toolchain.
func (c *Context) Version() string {
	if c == nil {
		return UnknownValue
	}
	if c.version != "" {
		return c.version
	}
	if bi, ok := debug.ReadBuildInfo(); ok && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
		return bi.Main.Version
	}
	return UnknownValue
}

func (c *Context) BuildDate() string {
	if c == nil || c.buildDate == "" {
		return UnknownValue
	}
	return c.buildDate
}

// SystemID identifies this process in telemetry.
func (c *Context) SystemID() string {
	if c == nil || c.systemID == "" {
		return UnknownValue
	}
	return c.systemID
}

// String formats the metadata for --version output.
func (c *Context) String() string {
	return fmt.Sprintf("%s (built %s, %s %s/%s)", c.Version(), c.BuildDate(), runtime.Version(), runtime.GOOS, runtime.GOARCH)
}
