package echoapi

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/masomo-live/core"
	"github.com/trezcool/masomo-live/core/prefs"
)

var errRoleNotGranted = "role is not granted to this account"

type preferencesApi struct {
	registry *prefs.Registry
}

func registerPreferencesAPI(g *echo.Group, deps ServerDeps) {
	api := preferencesApi{registry: deps.Prefs}

	pg := g.Group("/preferences")
	pg.GET("", api.retrieve)
	pg.PUT("", api.update)
	pg.GET("/events", api.events)
}

func (api *preferencesApi) store(ctx echo.Context) (*prefs.Store, Claims, error) {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return nil, Claims{}, errors.Wrap(err, "getting context claims")
	}
	store, err := api.registry.For(ctx.Request().Context(), claims.Subject)
	if err != nil {
		return nil, Claims{}, errors.Wrap(err, "loading preferences")
	}
	return store, claims, nil
}

// Handlers

func (api *preferencesApi) retrieve(ctx echo.Context) error {
	store, _, err := api.store(ctx)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, store.Get())
}

func (api *preferencesApi) update(ctx echo.Context) error {
	store, claims, err := api.store(ctx)
	if err != nil {
		return err
	}

	// the body is merged over the current value
	p, err := store.Modify(ctx.Request().Context(), func(data *prefs.Preferences) error {
		if err := ctx.Bind(data); err != nil {
			return errors.Wrap(err, "binding to Preferences")
		}
		if data.Role != "" && data.Role.IsValid() && !claims.HasRole(data.Role) {
			return core.NewValidationError(nil, core.FieldError{Field: "role", Error: errRoleNotGranted})
		}
		return nil
	})
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, p)
}

// events streams the preferences of the user, then every update, as Server-Sent Events.
func (api *preferencesApi) events(ctx echo.Context) error {
	store, _, err := api.store(ctx)
	if err != nil {
		return err
	}

	changed := make(chan struct{}, 1)
	cancel := store.Subscribe(func(prefs.Preferences) {
		select {
		case changed <- struct{}{}:
		default:
		}
	})
	defer cancel()

	res := ctx.Response()
	startStream(res)

	if err := writeEvent(res, "preferences", store.Get()); err != nil {
		return nil
	}
	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()
	for {
		select {
		case <-ctx.Request().Context().Done():
			return nil
		case <-heartbeat.C:
			if err := writeComment(res, "ping"); err != nil {
				return nil
			}
		case <-changed:
			if err := writeEvent(res, "preferences", store.Get()); err != nil {
				return nil
			}
		}
	}
}
