// Command mediadup is the command-line interface: one-shot duplicate scans
// without the web UI or the database.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

// Version info - injected at build time via ldflags
var version = "dev"

func main() {
	root := &cobra.Command{
		Use:           "mediadup",
		Short:         "Find duplicate media files",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newScanCmd())

	if err := root.Execute(); err != nil {
		root.PrintErrln("Error:", err)
		os.Exit(1)
	}
}
