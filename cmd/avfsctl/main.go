// Command avfsctl builds the filesystem stack (registry, resolver,
// dispatcher) described by SPEC_FULL.md and serves it over WebDAV, the
// zero-kernel-dependency way to exercise the stack end to end without a
// real FUSE mount. Grounded on the teacher's cmd/altmount entry point:
// cobra root command, viper-backed config, graceful signal shutdown.
package main

import (
	"os"

	"github.com/layerfs/avfs/cmd/avfsctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
