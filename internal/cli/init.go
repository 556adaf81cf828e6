package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/stockroom/internal/kv"
	"github.com/mesh-intelligence/stockroom/internal/paths"
)

func newInitCmd(f *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize stockroom configuration and local storage",
		Long:  "Create the configuration and data directories, write a default config.yaml\nif none exists, then initialize the storage backend.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			configDir, err := paths.ResolveConfigDir(f.configDir)
			if err != nil {
				return system(fmt.Errorf("resolve config dir: %w", err))
			}
			if err := os.MkdirAll(configDir, 0o755); err != nil {
				return system(fmt.Errorf("create config directory: %w", err))
			}
			configPath := filepath.Join(configDir, paths.ConfigFileName)
			wrote, err := writeConfigIfMissing(configPath, f.dataDir)
			if err != nil {
				return system(fmt.Errorf("write config: %w", err))
			}

			s, err := loadSettings(f)
			if err != nil {
				return err
			}
			store, err := kv.Open(s.Store)
			if err != nil {
				return system(fmt.Errorf("initialize storage: %w", err))
			}
			if err := store.Close(); err != nil {
				return system(fmt.Errorf("finalize storage: %w", err))
			}

			if f.jsonMode {
				return printJSON(cmd.OutOrStdout(), map[string]any{
					"config":         configPath,
					"config_written": wrote,
					"data_dir":       s.Store.DataDir,
					"backend":        s.Store.Backend,
				})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Stockroom initialized\nconfig: %s\ndata:   %s (%s)\n", configPath, s.Store.DataDir, s.Store.Backend)
			return nil
		},
	}
}
