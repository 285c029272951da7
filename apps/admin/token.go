package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	echoapi "github.com/trezcool/masomo-live/apps/api/echo"
	"github.com/trezcool/masomo-live/core"
)

func (cli *commandLine) newTokenCommand() *cobra.Command {
	var (
		person core.Person
		roles  []string
		ttl    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Print a signed API token (development)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			parsed := make([]core.Role, 0, len(roles))
			for _, r := range roles {
				role, err := core.ParseRole(r)
				if err != nil {
					return err
				}
				parsed = append(parsed, role)
			}

			token, err := echoapi.GenerateToken(cli.conf, echoapi.NewClaims(cli.conf, person, parsed, ttl))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&person.ID, "sub", "", "user id (required)")
	cmd.Flags().StringVar(&person.Username, "username", "", "username")
	cmd.Flags().StringVar(&person.Email, "email", "", "email")
	cmd.Flags().StringSliceVar(&roles, "role", []string{string(core.RoleStudent)}, "granted roles")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "validity")
	_ = cmd.MarkFlagRequired("sub")
	return cmd
}
