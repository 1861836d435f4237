package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

const defaultConfigTemplate = `# rs_guard configuration
watched_directories = ["./data"]

data_shards = 4
parity_shards = 2

# bytes; must be >= data_shards
stripe_size = 1048576

# seconds between integrity sweeps
check_interval_secs = 3600

metadata_dir = "./rsguard-metadata"
shard_dir = "./rsguard-shards"

log_level = "info"
checker_workers = 4
encoder_workers = 4

# Optional per-root include/exclude filtering. A root not listed here is
# watched unfiltered.
# [[watch_filter]]
# root = "./data"
# excludes = ["tmp"]
`

func newInitCommand() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config file at the --config path (rs_guard.toml by default)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return initMain(configPath, force)
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config file")
	return cmd
}

func initMain(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}
	}
	if err := os.WriteFile(path, []byte(defaultConfigTemplate), 0o644); err != nil {
		return err
	}
	fmt.Printf("wrote %s\n", path)
	return nil
}
