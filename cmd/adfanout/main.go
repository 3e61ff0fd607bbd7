// Command adfanout creates ads in bulk from one template and many media
// items.
package main

import "github.com/3leaps/adfanout/internal/cmd"

// Set via -ldflags "-X main.version=... -X main.commit=... -X main.buildDate=...".
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	cmd.SetVersionInfo(version, commit, buildDate)
	cmd.Execute()
}
