package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/mesh-intelligence/stockroom/pkg/types"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
	errStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	labelStyle  = lipgloss.NewStyle().Faint(true).Width(22)
)

func printJSON(w io.Writer, v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return system(fmt.Errorf("marshal JSON: %w", err))
	}
	_, err = fmt.Fprintln(w, string(out))
	return err
}

// renderEntities draws entities as a table with the collection's columns.
func renderEntities(collection string, entities []types.Entity) (string, error) {
	schema, err := types.SchemaFor(collection)
	if err != nil {
		return "", err
	}
	columns := schema.Columns()
	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers(columns...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
	for _, e := range entities {
		t.Row(e.Row(columns)...)
	}
	return t.String(), nil
}

func renderEntity(e types.Entity) (string, error) {
	schema, err := types.SchemaFor(e.Collection)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	for _, col := range schema.Columns() {
		fmt.Fprintf(&b, "%s %s\n", labelStyle.Render(col), e.Text(col))
	}
	return b.String(), nil
}

// parseAssignments turns name=value arguments into fields. An empty value
// clears the field on update.
func parseAssignments(args []string) (types.Fields, error) {
	fields := make(types.Fields, len(args))
	for _, arg := range args {
		name, value, ok := strings.Cut(arg, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid assignment %q (expected field=value)", arg)
		}
		if value == "" {
			fields[name] = nil
			continue
		}
		fields[name] = value
	}
	return fields, nil
}

func collectionArg(name string) (string, error) {
	if !types.IsCollection(name) {
		return "", fmt.Errorf("%w: %q (valid: %s)", types.ErrCollectionNotFound, name, strings.Join(types.Collections, ", "))
	}
	return name, nil
}
