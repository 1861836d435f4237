package cli

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rsguard/rs_guard/internal/bootstrap"
)

func newRunCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Watch the configured directories and keep them protected",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMain(configPath)
		},
	}
}

// runMain wires the whole system and blocks until SIGINT/SIGTERM,
// draining in-flight protect/repair work before returning. Grounded on
// the teacher's cmd/nocturne/main.go shutdown idiom.
func runMain(cfgPath string) error {
	sys, err := bootstrap.Load(cfgPath)
	if err != nil {
		return err
	}
	defer sys.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("[rs_guard] shutting down...")
		cancel()
	}()

	if st, err := sys.Facade.Status(); err == nil {
		fmt.Printf("rs_guard starting: %s\n", bootstrap.SystemSummary(st).String())
	}

	sys.Run(ctx)
	return nil
}
