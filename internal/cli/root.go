// Package cli implements the stockroom command-line interface.
package cli

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/stockroom/pkg/types"
)

// Exit codes.
const (
	exitSuccess   = 0
	exitUserError = 1
	exitSysError  = 2
)

// rootFlags holds global flag values accessible to all subcommands.
type rootFlags struct {
	configDir string
	dataDir   string
	jsonMode  bool
	demo      bool
	logLevel  string
}

// systemError marks failures of the environment rather than of the input:
// storage, network, configuration files.
type systemError struct{ err error }

func (e systemError) Error() string { return e.err.Error() }
func (e systemError) Unwrap() error { return e.err }

func system(err error) error {
	if err == nil {
		return nil
	}
	return systemError{err}
}

// NewRootCmd creates the top-level "stockroom" command with global flags
// and all subcommands registered.
func NewRootCmd() *cobra.Command {
	f := &rootFlags{}
	root := &cobra.Command{
		Use:   "stockroom",
		Short: "Local-first inventory with spreadsheet sync",
		Long: "Stockroom keeps company, warehouse, partner, category and product records\n" +
			"on this machine and mirrors them to a spreadsheet in your Google Drive.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&f.configDir, "config-dir", "", "configuration directory (default: platform config dir)")
	root.PersistentFlags().StringVar(&f.dataDir, "data-dir", "", "data directory (default: platform data dir)")
	root.PersistentFlags().BoolVar(&f.jsonMode, "json", false, "output in JSON format")
	root.PersistentFlags().BoolVar(&f.demo, "demo", false, "run as the anonymous demo identity; nothing leaves this machine")
	root.PersistentFlags().StringVar(&f.logLevel, "log-level", "", "log level (overrides log.level)")

	root.AddCommand(
		newVersionCmd(),
		newInitCmd(f),
		newCreateCmd(f),
		newUpdateCmd(f),
		newGetCmd(f),
		newListCmd(f),
		newDeleteCmd(f),
		newResetCmd(f),
		newSyncCmd(f),
		newStatusCmd(f),
		newRestoreCmd(f),
		newRemoteCmd(f),
		newSetupCmd(f),
		newServeCmd(f),
	)
	return root
}

// Execute runs the root command and returns the process exit code.
func Execute() int {
	return run(NewRootCmd(), os.Args[1:], os.Stderr)
}

func run(root *cobra.Command, args []string, stderr io.Writer) int {
	root.SetArgs(args)
	err := root.Execute()
	if err == nil {
		return exitSuccess
	}
	fmt.Fprintln(stderr, "error:", err)
	return exitCode(err)
}

func exitCode(err error) int {
	var sys systemError
	switch {
	case err == nil:
		return exitSuccess
	case errors.As(err, &sys),
		errors.Is(err, types.ErrRemoteUnavailable),
		errors.Is(err, types.ErrRemoteRejected),
		errors.Is(err, types.ErrStoreClosed):
		return exitSysError
	default:
		return exitUserError
	}
}
