// readingctl is the operator CLI for the reading service.
//
// Usage:
//
//	readingctl migrate
//	readingctl testconn
//	readingctl usage --user <id> [--tier free]
//	readingctl verify-record <record.json> | --request-id <id>
//	readingctl events [--status delivered] [--limit 50]
//	readingctl token --user <id> [--tier free] [--name "..."]
//	readingctl smoke [--url http://localhost:8080]
package main

import (
	"fmt"
	"os"

	"github.com/arcana/api/internal/config"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// Exit codes
const (
	exitSuccess = 0
	exitFailure = 1
	exitError   = 2
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	root := newRootCmd(config.Load(), newLogger())
	root.SetArgs(args)
	if err := root.Execute(); err != nil {
		if _, ok := err.(*verifyFailure); ok {
			return exitFailure
		}
		return exitError
	}
	return exitSuccess
}

func newLogger() *zap.Logger {
	cfg := zap.NewProductionConfig()
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	logger, err := cfg.Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		return zap.NewNop()
	}
	return logger
}

func newRootCmd(cfg *config.Config, logger *zap.Logger) *cobra.Command {
	root := &cobra.Command{
		Use:           "readingctl",
		Short:         "Operate the reading service",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.AddCommand(
		newMigrateCmd(cfg, logger),
		newTestConnCmd(cfg, logger),
		newUsageCmd(cfg, logger),
		newVerifyRecordCmd(cfg, logger),
		newEventsCmd(cfg, logger),
		newTokenCmd(cfg),
		newSmokeCmd(cfg),
	)
	return root
}
