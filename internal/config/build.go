package config

import "fmt"

// Set with -ldflags "-X weatherdesk/internal/config.version=...", likewise
// commit and buildTime.
var (
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

func NewBuildInfo() BuildInfo {
	return BuildInfo{Version: version, Commit: commit, BuildTime: buildTime}
}

// String formats the build for --version output.
func (b BuildInfo) String() string {
	return fmt.Sprintf("%s (commit %s, built %s)", b.Version, b.Commit, b.BuildTime)
}
