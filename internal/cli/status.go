package cli

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"github.com/rsguard/rs_guard/internal/bootstrap"
)

func newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print the façade's status() snapshot as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			return statusMain(configPath)
		},
	}
}

func statusMain(cfgPath string) error {
	sys, err := bootstrap.Load(cfgPath)
	if err != nil {
		return err
	}
	defer sys.Close()

	st, err := sys.Facade.Status()
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(st); err != nil {
		return err
	}

	// An Unrecoverable count in the snapshot is a normal report, not a
	// fatal condition; see the matching note in check.go.
	return nil
}
