package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/trezcool/masomo-live/core"
	"github.com/trezcool/masomo-live/core/live"
	"github.com/trezcool/masomo-live/storage/docstore"
)

var openStoreFunc = docstore.Open // mockable

type commandLine struct {
	conf   *core.Config
	logger core.Logger
}

func newRootCommand(cli *commandLine) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "admin",
		Short:         "Masomo Live administration",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&cli.conf.Live.Backend, "backend", cli.conf.Live.Backend, "live backend (memory|mongo|postgres)")

	cmd.AddCommand(cli.newMigrateCommand())
	cmd.AddCommand(cli.newSeedCommand())
	cmd.AddCommand(cli.newWatchCommand())
	cmd.AddCommand(cli.newTokenCommand())
	return cmd
}

func (cli *commandLine) openStore(ctx context.Context) (live.Store, func() error, error) {
	return openStoreFunc(ctx, cli.conf, cli.logger)
}
