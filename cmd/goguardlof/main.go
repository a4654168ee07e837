// Command goguardlof labels rows of a tabular batch as anomalous or normal
// using density-based outlier detection.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/lib/pq"
)

func main() {
	os.Exit(runMain(os.Args[1:]))
}

// runMain runs the root command with args and returns the process exit
// code. Deferred cleanup runs before the caller exits.
func runMain(args []string) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := newRootCmd()
	cmd.SetArgs(args)
	if err := cmd.ExecuteContext(ctx); err != nil {
		return 1
	}
	return 0
}
