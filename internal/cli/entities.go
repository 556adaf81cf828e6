package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newCreateCmd(f *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "create <collection> [field=value...]",
		Short: "Create an entity",
		Long: `Create validates the fields against the collection schema, assigns the
next identifier and marks the collection for sync.

Example:
  stockroom create products name=Widget sku=W-1 salePrice=9.50`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			collection, err := collectionArg(args[0])
			if err != nil {
				return err
			}
			fields, err := parseAssignments(args[1:])
			if err != nil {
				return err
			}
			a, err := openApp(cmd.Context(), f)
			if err != nil {
				return err
			}
			defer a.Close()

			e, err := a.store.Create(collection, fields)
			if err != nil {
				return err
			}
			if f.jsonMode {
				return printJSON(cmd.OutOrStdout(), e)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created %s\n", e.ID)
			return nil
		},
	}
}

func newUpdateCmd(f *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "update <collection> <id> field=value...",
		Short: "Update fields of an entity",
		Long: `Update merges the given fields into the entity. An empty value
(field=) clears an optional field.`,
		Args: cobra.MinimumNArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			collection, err := collectionArg(args[0])
			if err != nil {
				return err
			}
			fields, err := parseAssignments(args[2:])
			if err != nil {
				return err
			}
			a, err := openApp(cmd.Context(), f)
			if err != nil {
				return err
			}
			defer a.Close()

			e, err := a.store.Update(collection, args[1], fields)
			if err != nil {
				return err
			}
			if f.jsonMode {
				return printJSON(cmd.OutOrStdout(), e)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Updated %s\n", e.ID)
			return nil
		},
	}
}

func newGetCmd(f *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "get <collection> <id>",
		Short: "Show one entity",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			collection, err := collectionArg(args[0])
			if err != nil {
				return err
			}
			a, err := openApp(cmd.Context(), f)
			if err != nil {
				return err
			}
			defer a.Close()

			e, err := a.store.Get(collection, args[1])
			if err != nil {
				return err
			}
			if f.jsonMode {
				return printJSON(cmd.OutOrStdout(), e)
			}
			out, err := renderEntity(e)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), out)
			return nil
		},
	}
}

func newListCmd(f *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "list <collection>",
		Short: "List the entities of a collection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			collection, err := collectionArg(args[0])
			if err != nil {
				return err
			}
			a, err := openApp(cmd.Context(), f)
			if err != nil {
				return err
			}
			defer a.Close()

			entities, err := a.store.List(collection)
			if err != nil {
				return err
			}
			if f.jsonMode {
				return printJSON(cmd.OutOrStdout(), entities)
			}
			if len(entities) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "No %s.\n", collection)
				return nil
			}
			out, err := renderEntities(collection, entities)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), out)
			return nil
		},
	}
}

func newDeleteCmd(f *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <collection> <id>",
		Short: "Delete an entity",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			collection, err := collectionArg(args[0])
			if err != nil {
				return err
			}
			a, err := openApp(cmd.Context(), f)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.store.Delete(collection, args[1]); err != nil {
				return err
			}
			if f.jsonMode {
				return printJSON(cmd.OutOrStdout(), map[string]string{"deleted": args[1], "collection": collection})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", args[1])
			return nil
		},
	}
}

func newResetCmd(f *rootFlags) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "reset [collection]",
		Short: "Clear local data",
		Long: `Reset empties one collection, or every collection when none is given.
Identifier counters restart. The remote document binding and credentials are
kept, and the next sync overwrites the remote sheets with the empty state.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return fmt.Errorf("reset discards local data; pass --yes to confirm")
			}
			var collection string
			if len(args) == 1 {
				c, err := collectionArg(args[0])
				if err != nil {
					return err
				}
				collection = c
			}
			a, err := openApp(cmd.Context(), f)
			if err != nil {
				return err
			}
			defer a.Close()

			if collection == "" {
				err = a.store.ResetAll()
			} else {
				err = a.store.ResetCollection(collection)
			}
			if err != nil {
				return err
			}
			if f.jsonMode {
				return printJSON(cmd.OutOrStdout(), map[string]any{"reset": true, "collection": collection})
			}
			if collection == "" {
				fmt.Fprintln(cmd.OutOrStdout(), "Local data reset")
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "Reset %s\n", collection)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm the reset")
	return cmd
}
