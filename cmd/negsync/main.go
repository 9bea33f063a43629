// negsync syncs a local Nostr event store with relays using negentropy
// set reconciliation.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/afero"

	"github.com/nostrc/negsync/cmd"
)

var (
	version string
	commit  string
	branch  string
)

func main() {
	cmd.Version = version
	cmd.Commit = commit
	cmd.Branch = branch
	if err := cmd.NewRootCmd(afero.NewOsFs()).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
