package version

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/flarebyte/ergo/internal/buildinfo"
)

var (
	flagShort bool
	flagJSON  bool
)

var VersionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the CLI version",
	RunE: func(cmd *cobra.Command, args []string) error {
		if flagShort || !flagJSON {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "ergo %s\n", buildinfo.Summary())
			return err
		}
		// JSON goes to stdout, a human friendly line to stderr.
		_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "ergo version: %s\n", buildinfo.Summary())
		return writeInfo(cmd.OutOrStdout(), currentInfo(time.Now()))
	},
}

func init() {
	VersionCmd.Flags().BoolVar(&flagShort, "short", false, "Print only the version string")
	VersionCmd.Flags().BoolVar(&flagJSON, "json", false, "Print detailed JSON version info")
}
