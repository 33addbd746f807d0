package main

import (
	"os"

	"github.com/kmemtool/kmem/cmd/kmem/cmds"
	"github.com/kmemtool/kmem/pkg/version"
)

// Build is the git sha of this binaries build.
var Build string

func main() {
	if Build != "" {
		version.KmemVersion.Build = Build
	}
	if err := cmds.New(false).Execute(); err != nil {
		os.Exit(1)
	}
}
