// Command ledgerd runs the ledger's projection-propagation engine: it tails
// the event log's change stream and keeps the key-value and relational read
// models current. The command pipeline is exposed to the ingress layer
// through application.AccountService; ledgerd hosts it but ships no HTTP
// framing of its own.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/fx"

	"github.com/harborfin/ledger/pkg/application"
	"github.com/harborfin/ledger/pkg/infrastructure"
)

func main() {
	root := &cobra.Command{
		Use:   "ledgerd",
		Short: "Event-sourced account ledger write path and projection engine",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run()
		},
	}

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the ledgerd version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("ledgerd", version)
		},
	})

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var version = "dev"

func run() error {
	app := fx.New(
		infrastructure.Module,
		// The command and query services are resolved here so wiring errors
		// surface at startup even though ingress binding lives outside this
		// process.
		fx.Invoke(func(*application.AccountService, *application.QueryService) {}),
		fx.NopLogger,
	)

	app.Run()
	return nil
}
