// embedlink - client for a remote image-embedding service.
package main

import (
	"os"

	"github.com/embedlink/embedlink/internal/cli"
	"github.com/embedlink/embedlink/internal/version"
)

// Version information, set by ldflags during build.
var (
	Version   = "v0.3.0"
	BuildTime = "unknown"
)

func main() {
	version.Version = Version
	version.BuildTime = BuildTime

	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
