package main

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/trezcool/masomo-live/storage/database"
)

var (
	gooseRunFunc = database.Run // mockable
	openDBFunc   = openDB       // mockable
)

func (cli *commandLine) newMigrateCommand() *cobra.Command {
	var create bool

	cmd := &cobra.Command{
		Use:   "migrate <command> [args...]",
		Short: "Run a goose command (up, down, status, ...) on the postgres database",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if create {
				if err := database.CreateIfNotExist(ctx, cli.conf); err != nil {
					return errors.Wrap(err, "creating database")
				}
			}
			db, closeDB, err := openDBFunc(ctx, cli)
			if err != nil {
				return err
			}
			defer closeDB()
			return gooseRunFunc(ctx, db, args[0], args[1:]...)
		},
	}
	cmd.Flags().BoolVar(&create, "create", false, "create the app user and database first")
	return cmd
}

func openDB(ctx context.Context, cli *commandLine) (*sql.DB, func(), error) {
	db, err := database.Open(ctx, cli.conf)
	if err != nil {
		return nil, nil, errors.Wrap(err, "opening database")
	}
	return db.DB, func() { _ = db.Close() }, nil
}
