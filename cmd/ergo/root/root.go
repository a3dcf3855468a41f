package root

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/flarebyte/ergo/cmd/ergo/run"
	sandboxcmd "github.com/flarebyte/ergo/cmd/ergo/sandbox"
	"github.com/flarebyte/ergo/cmd/ergo/version"
)

type flags struct {
	nope          bool
	yes           bool
	verbose       bool
	inProcess     bool
	listCache     bool
	clearCache    bool
	cacheStats    bool
	showConfig    bool
	removeCommand string
	setAPIKey     string
}

// management reports whether a cache or configuration flag was given.
func (f *flags) management() bool {
	return f.listCache || f.clearCache || f.cacheStats || f.showConfig || f.removeCommand != "" || f.setAPIKey != ""
}

func bindFlags(fs *pflag.FlagSet, f *flags) {
	// Flags stop at the first positional so `ergo ls -la` passes -la through.
	fs.SetInterspersed(false)
	fs.BoolVar(&f.nope, "nope", false, "Regenerate the last command; remaining words are feedback")
	fs.BoolVarP(&f.yes, "yes", "y", false, "Approve permissions without prompting")
	fs.BoolVarP(&f.verbose, "verbose", "v", false, "Write debug details to the log")
	fs.BoolVar(&f.listCache, "list-cache", false, "List cached commands")
	fs.StringVar(&f.removeCommand, "remove-command", "", "Remove a cached command")
	fs.BoolVar(&f.clearCache, "clear-cache", false, "Remove every cached command")
	fs.BoolVar(&f.cacheStats, "cache-stats", false, "Show cache statistics")
	fs.BoolVar(&f.showConfig, "config", false, "Show the effective configuration")
	fs.StringVar(&f.setAPIKey, "set-api-key", "", "Store the API key in the configuration file")
	fs.BoolVar(&f.inProcess, "in-process", false, "Run artifacts inside the ergo process")
	_ = fs.MarkHidden("in-process")
}

// NewRootCmd creates the root command for ergo.
func NewRootCmd() *cobra.Command {
	f := &flags{}
	cmd := &cobra.Command{
		Use:   "ergo [command-or-intent] [args...]",
		Short: "Run a command, generating a sandboxed one when it does not exist",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRoot(cmd, f, args)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.CompletionOptions.DisableDefaultCmd = true
	bindFlags(cmd.Flags(), f)

	// Subcommands
	cmd.AddCommand(version.VersionCmd)
	cmd.AddCommand(sandboxcmd.Cmd)

	return cmd
}

func runRoot(cmd *cobra.Command, f *flags, args []string) error {
	if !f.management() && !f.nope && len(args) == 0 {
		return cmd.Help()
	}
	s, err := run.Open(run.Options{
		Yes:       f.yes,
		Verbose:   f.verbose,
		InProcess: f.inProcess,
		Stdin:     cmd.InOrStdin(),
		Stdout:    cmd.OutOrStdout(),
		Stderr:    cmd.ErrOrStderr(),
	})
	if err != nil {
		return err
	}
	defer s.Close()

	out := cmd.OutOrStdout()
	switch {
	case f.setAPIKey != "":
		return s.SetAPIKey(out, f.setAPIKey)
	case f.showConfig:
		return s.ShowConfig(out)
	case f.listCache:
		return s.ListCache(out)
	case f.removeCommand != "":
		return s.RemoveCommand(out, f.removeCommand)
	case f.clearCache:
		return s.ClearCache(out)
	case f.cacheStats:
		return s.CacheStats(out)
	}

	p, err := s.Pipeline()
	if err != nil {
		return err
	}
	if f.nope {
		return p.Nope(cmd.Context(), args)
	}
	return p.Run(cmd.Context(), args)
}

// Execute runs the root command with provided args. SIGINT and SIGTERM
// cancel the in-flight pipeline.
func Execute(args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	cmd := NewRootCmd()
	cmd.SetArgs(args)
	return cmd.ExecuteContext(ctx)
}
