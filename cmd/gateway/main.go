package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"seat-gateway/internal/config"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := config.New()

	root := &cobra.Command{
		Use:           "gateway",
		Short:         "Seat allocation gateway",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := root.PersistentFlags()
	flags.String("listen", ":8080", "HTTP listen address (LISTEN_ADDR)")
	flags.String("pool", "default", "pool name used as journal partition (POOL_NAME)")
	flags.Int("capacity", 100, "number of seats (POOL_CAPACITY)")
	flags.String("journal-dsn", "", "Postgres DSN; empty keeps the journal in memory (JOURNAL_DSN)")
	flags.String("log-level", "info", "debug, info, warn or error (LOG_LEVEL)")
	flags.String("log-format", "json", "json or console (LOG_FORMAT)")
	bindFlags(v, root, map[string]string{
		"LISTEN_ADDR":   "listen",
		"POOL_NAME":     "pool",
		"POOL_CAPACITY": "capacity",
		"JOURNAL_DSN":   "journal-dsn",
		"LOG_LEVEL":     "log-level",
		"LOG_FORMAT":    "log-format",
	})

	serve := newServeCmd(v)
	root.AddCommand(serve, newSnapshotCmd(v))
	// "gateway" sozinho sobe o servidor.
	root.RunE = serve.RunE
	return root
}

// bindFlags liga flags ao viper: a flag só vence o ambiente quando informada.
func bindFlags(v *viper.Viper, cmd *cobra.Command, keys map[string]string) {
	for key, name := range keys {
		if err := v.BindPFlag(key, cmd.PersistentFlags().Lookup(name)); err != nil {
			panic(err)
		}
	}
}
