package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/stockroom/pkg/types"
)

func newRemoteCmd(f *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "remote",
		Short: "Manage the remote spreadsheet binding",
	}
	cmd.AddCommand(newRemoteConnectCmd(f), newRemoteNewCmd(f), newRemoteDisconnectCmd(f), newRemoteClearCmd(f))
	return cmd
}

func newRemoteConnectCmd(f *rootFlags) *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "connect",
		Short: "Bind to an existing stockroom spreadsheet, or create one",
		Long: `Connect keeps an existing binding. Otherwise it searches Drive for a
document that looks like a stockroom spreadsheet and binds the best match,
creating a new document only when the search finds nothing.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), f)
			if err != nil {
				return err
			}
			defer a.Close()
			if err := a.requireRemote(); err != nil {
				return err
			}
			if name == "" {
				name = a.settings.Store.Remote.DocumentName
			}
			b, err := a.adapter.EnsureDocument(cmd.Context(), name)
			if err != nil {
				return err
			}
			return printBinding(cmd, f, b, "Connected to")
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "name for a newly created document (default: remote.document_name)")
	return cmd
}

func newRemoteNewCmd(f *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "new [name]",
		Short: "Create a fresh spreadsheet and bind to it",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), f)
			if err != nil {
				return err
			}
			defer a.Close()
			if err := a.requireRemote(); err != nil {
				return err
			}
			name := a.settings.Store.Remote.DocumentName
			if len(args) == 1 {
				name = args[0]
			}
			b, err := a.adapter.CreateDocument(cmd.Context(), name)
			if err != nil {
				return err
			}
			return printBinding(cmd, f, b, "Created")
		},
	}
}

func newRemoteDisconnectCmd(f *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "disconnect",
		Short: "Forget the bound document; the spreadsheet itself is left alone",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), f)
			if err != nil {
				return err
			}
			defer a.Close()
			if err := a.adapter.Disconnect(); err != nil {
				return system(err)
			}
			if f.jsonMode {
				return printJSON(cmd.OutOrStdout(), map[string]bool{"bound": false})
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Disconnected")
			return nil
		},
	}
}

func newRemoteClearCmd(f *rootFlags) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Empty every sheet of the bound document",
		Long: `Clear erases the rows of every collection sheet in the bound document.
The document and the binding remain; local data is untouched.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return fmt.Errorf("clear erases the remote sheets; pass --yes to confirm")
			}
			a, err := openApp(cmd.Context(), f)
			if err != nil {
				return err
			}
			defer a.Close()
			if err := a.requireRemote(); err != nil {
				return err
			}
			if err := a.coord.ResetRemote(cmd.Context()); err != nil {
				return err
			}
			if f.jsonMode {
				return printJSON(cmd.OutOrStdout(), map[string]bool{"cleared": true})
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Remote sheets cleared")
			return nil
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm clearing the remote document")
	return cmd
}

func printBinding(cmd *cobra.Command, f *rootFlags, b types.Binding, verb string) error {
	if f.jsonMode {
		return printJSON(cmd.OutOrStdout(), b)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s %s (%s)\n", verb, b.DocumentDisplayName, b.DocumentID)
	return nil
}
