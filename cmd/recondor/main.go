// Command recondor is the entry point for the recondor OSINT reconnaissance
// platform CLI and daemon.
package main

import (
	"github.com/anstrom/recondor/cmd/cli"
)

// Build information - set by ldflags during build.
var (
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

func main() {
	cli.SetVersion(version, commit, buildTime)
	cli.Execute()
}
