package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/stockroom/internal/syncer"
	"github.com/mesh-intelligence/stockroom/pkg/types"
)

func newSyncCmd(f *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Push changed collections to the remote document now",
		Long: `Sync writes every collection changed since its last confirmed write to
the bound spreadsheet, creating or discovering the document on first use.
A failed write leaves that collection and the ones after it marked for the
next attempt.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), f)
			if err != nil {
				return err
			}
			defer a.Close()

			res := a.coord.SyncNow(cmd.Context())
			if f.jsonMode {
				if err := printJSON(cmd.OutOrStdout(), resultJSON(res)); err != nil {
					return err
				}
				return res.Err
			}
			out := cmd.OutOrStdout()
			switch {
			case res.Err != nil:
				if len(res.Written) > 0 {
					fmt.Fprintf(out, "Wrote %s before failing\n", strings.Join(res.Written, ", "))
				}
				return res.Err
			case res.Anonymous:
				fmt.Fprintln(out, "Demo mode: nothing leaves this machine")
			case res.Coalesced:
				fmt.Fprintln(out, "A sync is already running")
			case len(res.Written) == 0:
				fmt.Fprintln(out, "Nothing to sync")
			default:
				fmt.Fprintf(out, "Synced %s\n", strings.Join(res.Written, ", "))
			}
			return nil
		},
	}
}

type syncResultJSON struct {
	AttemptID string   `json:"attemptId,omitempty"`
	Trigger   string   `json:"trigger"`
	Coalesced bool     `json:"coalesced"`
	Anonymous bool     `json:"anonymous"`
	Written   []string `json:"written"`
	Error     string   `json:"error,omitempty"`
}

func resultJSON(res syncer.Result) syncResultJSON {
	out := syncResultJSON{
		AttemptID: res.AttemptID,
		Trigger:   string(res.Trigger),
		Coalesced: res.Coalesced,
		Anonymous: res.Anonymous,
		Written:   res.Written,
	}
	if res.Err != nil {
		out.Error = res.Err.Error()
	}
	return out
}

func newStatusCmd(f *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show sync state, the bound document and pending changes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), f)
			if err != nil {
				return err
			}
			defer a.Close()

			st := a.coord.Status()
			binding, bound, err := a.adapter.Binding()
			if err != nil {
				return system(err)
			}
			if f.jsonMode {
				return printJSON(cmd.OutOrStdout(), map[string]any{
					"status":    st,
					"binding":   binding,
					"bound":     bound,
					"anonymous": a.anonymous,
				})
			}
			fmt.Fprint(cmd.OutOrStdout(), renderStatus(st, binding, bound, a.anonymous))
			return nil
		},
	}
}

func renderStatus(st syncer.Status, binding types.Binding, bound, anonymous bool) string {
	var b strings.Builder
	line := func(label, value string) {
		fmt.Fprintf(&b, "%s %s\n", labelStyle.Render(label), value)
	}

	rec := st.Record
	switch rec.LastSyncStatus {
	case types.SyncSuccess:
		line("last sync", okStyle.Render("success"))
	case types.SyncFailed:
		line("last sync", errStyle.Render("failed"))
	default:
		line("last sync", warnStyle.Render("never"))
	}
	if rec.LastSyncTimestamp != nil {
		line("at", rec.LastSyncTimestamp.Local().Format("2006-01-02 15:04:05"))
	}
	if rec.LastError != "" {
		line("error", rec.LastError)
	}
	if rec.ConsecutiveFailures > 0 {
		line("consecutive failures", fmt.Sprint(rec.ConsecutiveFailures))
	}
	if st.Degraded {
		line("cadence", warnStyle.Render("degraded, every "+st.Interval.String()))
	}
	if st.Paused {
		line("automatic sync", errStyle.Render("paused until a manual sync succeeds"))
	}

	switch {
	case anonymous:
		line("document", warnStyle.Render("demo mode, local only"))
	case bound:
		line("document", fmt.Sprintf("%s (%s)", binding.DocumentDisplayName, binding.DocumentID))
	default:
		line("document", "not connected")
	}

	if len(st.Dirty) == 0 {
		line("pending", okStyle.Render("none"))
	} else {
		line("pending", strings.Join(st.Dirty, ", "))
	}
	return b.String()
}

func newRestoreCmd(f *rootFlags) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "restore",
		Short: "Replace local data with the contents of the bound document",
		Long: `Restore reads every sheet of the bound document and replaces the local
collections. Collections with unsynced local changes are kept unless --force
is given.`,
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

			res, err := a.coord.Restore(cmd.Context(), force)
			if err != nil {
				return err
			}
			if f.jsonMode {
				return printJSON(cmd.OutOrStdout(), map[string][]string{"restored": res.Restored, "skipped": res.Skipped})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Restored %s\n", orNone(res.Restored))
			if len(res.Skipped) > 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "Kept local changes in %s (use --force to overwrite)\n", strings.Join(res.Skipped, ", "))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite collections with unsynced local changes")
	return cmd
}

func orNone(names []string) string {
	if len(names) == 0 {
		return "nothing"
	}
	return strings.Join(names, ", ")
}
