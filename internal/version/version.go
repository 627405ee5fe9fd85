package version

import "fmt"

var (
	// Version is set via -ldflags at build time.
	Version = "0.1.0-dev"
	Commit  = ""
)

func String() string {
	if Commit == "" {
		return Version
	}
	return fmt.Sprintf("%s (%s)", Version, Commit)
}
