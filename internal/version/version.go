package version

import (
	"fmt"
	"os"
	"runtime"
)

// Version is overridden at build time with -ldflags "-X ...version.Version=..."
var Version = "0.4.0"

func HasVersionArg() bool {
	if len(os.Args) > 1 {
		arg := os.Args[1]
		return arg == "--version" || arg == "-version" || arg == "-v" || arg == "--v"
	}
	return false
}

// String returns the version line shown by the CLI
func String() string {
	return fmt.Sprintf("cimaresolver v%s (%s %s/%s)", Version, runtime.Version(), runtime.GOOS, runtime.GOARCH)
}

func ShowVersion() {
	fmt.Println(String())
}
