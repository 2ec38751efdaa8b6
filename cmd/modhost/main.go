// Command modhost installs signed packages from a package index and runs
// scripts against them.
//
// Usage:
//
//	modhost load add               # install add and its dependencies
//	modhost run add 'pkg.add(1,2)' # require add and evaluate an expression
//	modhost check --force          # compare installed versions with the index
//	modhost list                   # show installed packages
//	modhost keygen signing.pem     # create a signing key
//	modhost pack ./add signing.pem add.crx
//	modhost verify add.crx
//
// Settings come from MODHOST_* environment variables; flags override them.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}
