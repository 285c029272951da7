package main

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/trezcool/masomo-live/core/catalog"
)

func (cli *commandLine) newSeedCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Write the demo catalog to the live backend",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, closeStore, err := cli.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer closeStore()

			if err := catalog.Seed(cmd.Context(), store, time.Now().UTC()); err != nil {
				return errors.Wrap(err, "seeding catalog")
			}
			fmt.Fprintf(cmd.OutOrStdout(), "seeded %d courses and %d study rooms\n",
				len(catalog.DemoCourses(time.Now())), len(catalog.DemoStudyRooms()))
			return nil
		},
	}
}
