// Package docstore opens the live.Store of the configured backend.
package docstore

import (
	"context"

	"github.com/pkg/errors"

	"github.com/trezcool/masomo-live/core"
	"github.com/trezcool/masomo-live/core/live"
	"github.com/trezcool/masomo-live/storage/database"
	"github.com/trezcool/masomo-live/storage/docstore/memdocs"
	"github.com/trezcool/masomo-live/storage/docstore/mongodocs"
	"github.com/trezcool/masomo-live/storage/docstore/pgdocs"
)

// Open returns the store of conf.Live.Backend and the function closing it with its connections.
// The postgres backend creates and migrates its database when needed.
func Open(ctx context.Context, conf *core.Config, logger core.Logger) (live.Store, func() error, error) {
	switch conf.Live.Backend {
	case core.BackendMemory:
		store := memdocs.Open()
		return store, store.Close, nil

	case core.BackendMongo:
		store, err := mongodocs.Open(ctx, conf.Mongo.URI, conf.Mongo.Database, logger)
		if err != nil {
			return nil, nil, errors.Wrap(err, "opening mongo store")
		}
		return store, store.Close, nil

	case core.BackendPostgres:
		if err := database.CreateIfNotExist(ctx, conf); err != nil {
			return nil, nil, errors.Wrap(err, "creating database")
		}
		db, err := database.Open(ctx, conf)
		if err != nil {
			return nil, nil, err
		}
		if err := database.Migrate(ctx, db.DB); err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		store, err := pgdocs.Open(db, conf.Database.DSN(conf.Database.Name, false), logger)
		if err != nil {
			_ = db.Close()
			return nil, nil, errors.Wrap(err, "opening postgres store")
		}
		return store, func() error {
			err := store.Close()
			if dbErr := db.Close(); err == nil {
				err = dbErr
			}
			return err
		}, nil
	}
	return nil, nil, errors.Errorf("unknown live backend %q", conf.Live.Backend)
}
