// Package version reports build metadata injected through -ldflags.
package version

import "runtime"

// Name is the binary name printed in version output.
const Name = "hark"

var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// String renders the version line.
func String() string {
	return Name + " " + Version + " (commit=" + Commit + ", date=" + Date + ", go=" + runtime.Version() + ")"
}
