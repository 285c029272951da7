package echoapi

import (
	"context"
	"net/http"
	"time"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/masomo-live/core"
	"github.com/trezcool/masomo-live/core/catalog"
	"github.com/trezcool/masomo-live/core/live"
	"github.com/trezcool/masomo-live/core/prefs"
)

type (
	catalogApi struct {
		store           live.Store
		prefs           *prefs.Registry
		logger          core.Logger
		validate        *validator.Validate
		translator      ut.Translator
		snapshotTimeout time.Duration
	}

	dashboardResponse struct {
		Role     core.Role            `json:"role"`
		Sections map[string]liveState `json:"sections"`
	}
)

func registerCatalogAPI(g *echo.Group, deps ServerDeps) {
	api := catalogApi{
		store:           deps.Store,
		prefs:           deps.Prefs,
		logger:          deps.Logger,
		validate:        deps.Validate,
		translator:      deps.Translator,
		snapshotTimeout: deps.Conf.Live.SnapshotTimeout,
	}

	g.GET("/catalog", api.catalog)
	g.GET("/dashboard", api.dashboard)
	g.GET("/applications", api.applications, roleMiddleware(core.RoleAdmin))
}

// Handlers

func (api *catalogApi) catalog(ctx echo.Context) error {
	var filter catalog.Filter
	if err := ctx.Bind(&filter); err != nil {
		return errors.Wrap(err, "binding to catalog.Filter")
	}
	if err := api.validate.Struct(filter); err != nil {
		return core.TranslateValidationErrors(err, api.translator)
	}

	state, err := api.snapshot(ctx, catalog.CatalogQuery(filter))
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, state)
}

// dashboard shows the lists of the `role` param, else of the role chosen in the user's preferences
// when the token grants it, else of the token's main role.
func (api *catalogApi) dashboard(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}

	role := claims.MainRole()
	if param := ctx.QueryParam("role"); param != "" {
		if role, err = core.ParseRole(param); err != nil {
			return core.NewValidationError(nil, core.FieldError{Field: "role", Error: "role must be a valid role"})
		}
	} else if api.prefs != nil {
		store, err := api.prefs.For(ctx.Request().Context(), claims.Subject)
		if err != nil {
			return errors.Wrap(err, "loading preferences")
		}
		if p := store.Get(); claims.HasRole(p.Role) {
			role = p.Role
		}
	}
	if !claims.HasRole(role) {
		return errHttpForbidden
	}

	dash, err := catalog.DashboardFor(role, claims.Subject)
	if err != nil {
		return errors.Wrap(err, "building dashboard")
	}

	res := dashboardResponse{Role: dash.Role, Sections: make(map[string]liveState, len(dash.Sections))}
	for _, section := range dash.Sections {
		state, err := api.snapshot(ctx, section.Query)
		if err != nil {
			return errors.Wrapf(err, "section %s", section.Name)
		}
		res.Sections[section.Name] = state
	}
	return ctx.JSON(http.StatusOK, res)
}

func (api *catalogApi) applications(ctx echo.Context) error {
	status := ctx.QueryParam("status")
	if status == "" {
		status = catalog.StatusPending
	}
	state, err := api.snapshot(ctx, catalog.ApplicationsQuery(status))
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, state)
}

// snapshot observes q until its first settled state.
func (api *catalogApi) snapshot(ctx echo.Context, q live.Query) (liveState, error) {
	obs := live.NewQueryObserver(api.store, api.logger)
	defer obs.Close()
	obs.Set(&q)

	state, err := waitSettled(ctx, api.snapshotTimeout, func(c context.Context) (live.QueryState, error) {
		return obs.Wait(c)
	})
	if err != nil {
		return liveState{}, err
	}
	return newLiveState(recordsOrEmpty(state.Data), false, state.Err), nil
}
