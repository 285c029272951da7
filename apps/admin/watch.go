package main

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/trezcool/masomo-live/core"
	"github.com/trezcool/masomo-live/core/live"
)

type watchOptions struct {
	collection string
	doc        string
	where      []string
	ordering   string
	limit      int
	once       bool
}

func (cli *commandLine) newWatchCommand() *cobra.Command {
	opts := &watchOptions{}

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print the live snapshots of a query or document until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			store, closeStore, err := cli.openStore(ctx)
			if err != nil {
				return err
			}
			defer closeStore()

			if opts.doc != "" {
				return cli.watchDocument(ctx, cmd.OutOrStdout(), store, live.NewRef(opts.collection, opts.doc), opts.once)
			}
			q, err := opts.query()
			if err != nil {
				return err
			}
			return cli.watchQuery(ctx, cmd.OutOrStdout(), store, q, opts.once)
		},
	}
	cmd.Flags().StringVarP(&opts.collection, "collection", "c", "", "collection to watch (required)")
	cmd.Flags().StringVar(&opts.doc, "doc", "", "watch this document id instead of a query")
	cmd.Flags().StringArrayVarP(&opts.where, "where", "w", nil, "filter field:op:value (repeatable)")
	cmd.Flags().StringVar(&opts.ordering, "ordering", "", "orderings, eg. -createdAt,title")
	cmd.Flags().IntVar(&opts.limit, "limit", 0, "maximum number of records")
	cmd.Flags().BoolVar(&opts.once, "once", false, "print the first settled snapshot and exit")
	_ = cmd.MarkFlagRequired("collection")
	return cmd
}

func (opts *watchOptions) query() (live.Query, error) {
	q := live.NewQuery(opts.collection)
	for _, where := range opts.where {
		parts := strings.SplitN(where, ":", 3)
		if len(parts) != 3 {
			return live.Query{}, errors.Errorf("invalid filter %q: want field:op:value", where)
		}
		var value interface{}
		if err := json.Unmarshal([]byte(parts[2]), &value); err != nil {
			value = parts[2]
		}
		q = q.Where(parts[0], live.Op(parts[1]), value)
	}
	for _, o := range core.ParseOrdering(opts.ordering) {
		q = q.OrderBy(o.Field, o.Ascending)
	}
	return q.WithLimit(opts.limit), nil
}

func (cli *commandLine) watchQuery(ctx context.Context, w io.Writer, store live.Store, q live.Query, once bool) error {
	obs := live.NewQueryObserver(store, cli.logger)
	defer obs.Close()
	obs.Set(&q)

	return printStates(ctx, w, obs.Updates(), once, func() (interface{}, bool, error) {
		s := obs.State()
		return s.Data, s.Loading, s.Err
	})
}

func (cli *commandLine) watchDocument(ctx context.Context, w io.Writer, store live.Store, ref live.Ref, once bool) error {
	obs := live.NewDocObserver(store, cli.logger)
	defer obs.Close()
	obs.Set(&ref)

	return printStates(ctx, w, obs.Updates(), once, func() (interface{}, bool, error) {
		s := obs.State()
		return s.Data, s.Loading, s.Err
	})
}

// printStates writes one JSON line per settled state.
func printStates(ctx context.Context, w io.Writer, updates <-chan struct{}, once bool, current func() (interface{}, bool, error)) error {
	enc := json.NewEncoder(w)
	for {
		data, loading, err := current()
		if !loading {
			line := map[string]interface{}{"data": data}
			if err != nil {
				line["error"] = err.Error()
			}
			if encErr := enc.Encode(line); encErr != nil {
				return errors.Wrap(encErr, "writing snapshot")
			}
			if once {
				return nil
			}
		}

		select {
		case <-ctx.Done():
			return nil
		case _, ok := <-updates:
			if !ok {
				return nil
			}
		}
	}
}
