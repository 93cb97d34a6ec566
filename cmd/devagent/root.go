package main

import (
	"github.com/spf13/cobra"
)

// Version info - increment based on change magnitude:
// Major (x.0.0): Breaking changes, major rewrites
// Minor (0.y.0): New features, significant enhancements
// Patch (0.0.z): Bug fixes, minor improvements
var Version = "1.0.0"

var configPath string

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "devagent",
		Short: "MCU-side Application Device Manager client and FOTA updater",
	}

	root.PersistentFlags().StringVar(&configPath, "config", "devagent.yaml", "Path to config file")

	root.AddCommand(newRunCmd())
	root.AddCommand(newVersionCmd())
	root.AddCommand(newSimulateFotaCmd())

	return root
}
