// Command receptionistctl runs operator tasks against the receptionist's
// configuration and database: issuing dashboard tokens, importing tenants and
// applying migrations. It reads the same environment as the API.
//
//	receptionistctl token --user u1 --tenant t1 --role owner
//	receptionistctl tenants import --file tenants.json
//	receptionistctl migrate
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "receptionistctl",
		Short:         "Operator tools for the AI receptionist",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(buildTokenCmd(), buildTenantsCmd(), buildMigrateCmd())
	return root
}
