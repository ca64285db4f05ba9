package version

import (
	"fmt"
	"runtime"
)

// Version is the current version of jbodplan.
// Release builds override it with -ldflags "-X github.com/sigreer/jbodplan/internal/version.Version=..."
var Version = "0.3.0"

// String describes the build, e.g. "jbodplan 0.3.0 (go1.25.5 linux/amd64)"
func String() string {
	return fmt.Sprintf("jbodplan %s (%s %s/%s)", Version, runtime.Version(), runtime.GOOS, runtime.GOARCH)
}
