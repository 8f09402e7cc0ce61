// filetree manages a remote file tree from the command line and can run an
// in-memory development backend.
package main

import (
	"fmt"
	"os"

	"github.com/fruitsalade/filetree/internal/cli"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := cli.NewRootCmd(version).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
