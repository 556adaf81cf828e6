package cli

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/stockroom/internal/setup"
	"github.com/mesh-intelligence/stockroom/pkg/types"
)

func newSetupCmd(f *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "setup",
		Short: "Enter initial data by workbook import or an interactive wizard",
	}
	cmd.AddCommand(newSetupTemplateCmd(), newSetupImportCmd(f), newSetupWizardCmd(f))
	return cmd
}

func newSetupTemplateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "template <file.xlsx>",
		Short: "Write an empty import workbook with one sheet per collection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := os.Create(args[0])
			if err != nil {
				return system(err)
			}
			if err := setup.WriteTemplate(out); err != nil {
				out.Close()
				return system(err)
			}
			if err := out.Close(); err != nil {
				return system(err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", args[0])
			return nil
		},
	}
}

func newSetupImportCmd(f *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "import <file.xlsx>",
		Short: "Import a workbook into local data",
		Long: `Import reads the Company, Warehouses, Suppliers, Customers, Categories and
Products sheets. A collection is imported only if every one of its rows is
valid; the errors of rejected collections are listed by sheet and row.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in, err := os.Open(args[0])
			if err != nil {
				return system(err)
			}
			defer in.Close()

			a, err := openApp(cmd.Context(), f)
			if err != nil {
				return err
			}
			defer a.Close()

			report, err := setup.ImportIntoStore(a.store, in, a.log)
			if err != nil {
				return err
			}
			if f.jsonMode {
				errs := make([]string, len(report.Errors))
				for i, e := range report.Errors {
					errs[i] = e.Error()
				}
				if err := printJSON(cmd.OutOrStdout(), map[string]any{
					"imported": report.Imported,
					"failed":   report.Failed,
					"errors":   errs,
				}); err != nil {
					return err
				}
				return report.Err()
			}
			printImportReport(cmd, report)
			return report.Err()
		},
	}
}

func printImportReport(cmd *cobra.Command, report setup.ImportReport) {
	out := cmd.OutOrStdout()
	names := make([]string, 0, len(report.Imported))
	for c := range report.Imported {
		names = append(names, c)
	}
	for _, c := range types.SortCollections(names) {
		fmt.Fprintf(out, "%s %d %s\n", okStyle.Render("imported"), report.Imported[c], c)
	}
	for _, c := range report.Failed {
		fmt.Fprintf(out, "%s %s\n", errStyle.Render("rejected"), c)
	}
	for _, e := range report.Errors {
		fmt.Fprintf(out, "  %s\n", e.Error())
	}
}

func newSetupWizardCmd(f *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "wizard",
		Short: "Walk through company, warehouses, partners, categories and products",
		Long: `The wizard stages entries step by step. Nothing is saved until the final
confirmation, and at least one product is required.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), f)
			if err != nil {
				return err
			}
			defer a.Close()

			w := setup.NewWizard(a.store, a.log)
			created, err := runWizard(w)
			if errors.Is(err, huh.ErrUserAborted) {
				w.Cancel()
				fmt.Fprintln(cmd.OutOrStdout(), "Setup cancelled; nothing was saved")
				return nil
			}
			if err != nil {
				return err
			}
			for _, c := range types.SourceCollections {
				if ids := created[c]; len(ids) > 0 {
					fmt.Fprintf(cmd.OutOrStdout(), "Created %d %s\n", len(ids), c)
				}
			}
			return nil
		},
	}
}

// Wizard menu choices.
const (
	choiceAdd    = "add"
	choiceNext   = "next"
	choiceBack   = "back"
	choiceFinish = "finish"
	choiceCancel = "cancel"
)

func runWizard(w *setup.Wizard) (map[string][]string, error) {
	for {
		step := w.Step()
		collection := step.Collection()
		draft := w.Draft(collection)

		options := []huh.Option[string]{huh.NewOption("Add "+singular(collection), choiceAdd)}
		if step < setup.StepProduct {
			options = append(options, huh.NewOption("Next step", choiceNext))
		}
		if step > setup.StepCompany {
			options = append(options, huh.NewOption("Back", choiceBack))
		}
		options = append(options,
			huh.NewOption("Finish and save", choiceFinish),
			huh.NewOption("Cancel", choiceCancel))

		var choice string
		err := huh.NewForm(huh.NewGroup(
			huh.NewSelect[string]().
				Title(fmt.Sprintf("Step %d of %d: %s", int(step)+1, int(setup.StepProduct)+1, collection)).
				Description(draftSummary(draft)).
				Options(options...).
				Value(&choice),
		)).Run()
		if err != nil {
			return nil, err
		}

		switch choice {
		case choiceAdd:
			if err := addEntry(w, collection); err != nil {
				return nil, err
			}
		case choiceNext:
			if err := w.Next(); err != nil {
				return nil, err
			}
		case choiceBack:
			if err := w.Back(); err != nil {
				return nil, err
			}
		case choiceFinish:
			created, err := w.Complete()
			var incomplete *types.IncompleteSetupError
			if errors.As(err, &incomplete) {
				fmt.Fprintln(os.Stderr, warnStyle.Render("Add at least one product before finishing."))
				for w.Step() < setup.StepProduct {
					if err := w.Next(); err != nil {
						return nil, err
					}
				}
				continue
			}
			if errors.Is(err, types.ErrValidation) {
				fmt.Fprintln(os.Stderr, warnStyle.Render(err.Error()))
				fmt.Fprintln(os.Stderr, warnStyle.Render("Nothing was saved. Fix the entry and finish again."))
				continue
			}
			return created, err
		case choiceCancel:
			return nil, huh.ErrUserAborted
		}
	}
}

// addEntry asks for one entity, repeating the form until the draft accepts it.
func addEntry(w *setup.Wizard, collection string) error {
	schema, err := types.SchemaFor(collection)
	if err != nil {
		return err
	}
	columns := schema.InputColumns()
	values := make([]string, len(columns))
	for {
		inputs := make([]huh.Field, len(columns))
		for i, col := range columns {
			title := col
			if field, ok := schema.Field(col); ok && field.Required {
				title += " *"
			}
			inputs[i] = huh.NewInput().Title(title).Value(&values[i])
		}
		if err := huh.NewForm(huh.NewGroup(inputs...)).Run(); err != nil {
			return err
		}

		fields := make(types.Fields, len(columns))
		for i, col := range columns {
			if v := strings.TrimSpace(values[i]); v != "" {
				fields[col] = v
			}
		}
		_, err := w.Add(fields)
		if err == nil {
			return nil
		}
		if !errors.Is(err, types.ErrValidation) {
			return err
		}
		fmt.Fprintln(os.Stderr, errStyle.Render(err.Error()))
	}
}

func draftSummary(draft []types.Entity) string {
	if len(draft) == 0 {
		return "No entries yet."
	}
	names := make([]string, len(draft))
	for i, e := range draft {
		names[i] = e.Name()
	}
	return fmt.Sprintf("%d staged: %s", len(draft), strings.Join(names, ", "))
}

func singular(collection string) string {
	switch collection {
	case types.CollectionCompany:
		return "company details"
	case types.CollectionCategories:
		return "category"
	default:
		return strings.TrimSuffix(collection, "s")
	}
}
