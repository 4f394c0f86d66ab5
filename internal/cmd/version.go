package cmd

import (
	"fmt"
	"os"
	"runtime"

	"github.com/fulmenhq/gofulmen/crucible"
	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		extended, _ := cmd.Flags().GetBool("extended")
		_, _ = fmt.Fprintf(os.Stdout, "gosbatch %s\n", versionInfo.Version)
		if !extended {
			return nil
		}
		v := crucible.GetVersion()
		_, _ = fmt.Fprintf(os.Stdout, "  commit:     %s\n", versionInfo.Commit)
		_, _ = fmt.Fprintf(os.Stdout, "  built:      %s\n", versionInfo.BuildDate)
		_, _ = fmt.Fprintf(os.Stdout, "  go:         %s %s/%s\n", runtime.Version(), runtime.GOOS, runtime.GOARCH)
		_, _ = fmt.Fprintf(os.Stdout, "  gofulmen:   %s\n", v.Gofulmen)
		_, _ = fmt.Fprintf(os.Stdout, "  crucible:   %s\n", v.Crucible)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
	versionCmd.Flags().Bool("extended", false, "Include commit, build date and library versions")
}
