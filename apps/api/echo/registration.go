package echoapi

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/masomo-live/core"
	"github.com/trezcool/masomo-live/core/registration"
)

type registrationApi struct {
	svc *registration.Service
}

func registerRegistrationAPI(g *echo.Group, deps ServerDeps) {
	api := registrationApi{svc: deps.Registrations}

	rg := g.Group("/registrations")
	rg.POST("", api.start)

	dg := rg.Group("/:id")
	dg.GET("", api.retrieve)
	dg.PUT("/steps/:step", api.saveStep)
	dg.POST("/advance", api.advance)
	dg.POST("/retreat", api.retreat)
	dg.DELETE("", api.discard)
}

// Handlers

func (api *registrationApi) start(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}
	return ctx.JSON(http.StatusCreated, api.svc.Start(claims.Person()))
}

func (api *registrationApi) retrieve(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}
	view, err := api.svc.Get(claims.Subject, ctx.Param("id"))
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, view)
}

func (api *registrationApi) saveStep(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}
	step, err := strconv.Atoi(ctx.Param("step"))
	if err != nil {
		return core.NewValidationError(nil, core.FieldError{Field: "step", Error: "step must be a number"})
	}
	view, err := api.svc.SaveStep(claims.Subject, ctx.Param("id"), step, decodeBody(ctx))
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, view)
}

// advance validates the current step and moves on, or submits from the last one.
// A failed submission answers 200: the view carries the error and the applicant may retry.
func (api *registrationApi) advance(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}
	view, err := api.svc.Advance(ctx.Request().Context(), claims.Subject, ctx.Param("id"))
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, view)
}

func (api *registrationApi) retreat(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}
	view, err := api.svc.Retreat(claims.Subject, ctx.Param("id"))
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, view)
}

func (api *registrationApi) discard(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}
	if err := api.svc.Discard(claims.Subject, ctx.Param("id")); err != nil {
		return err
	}
	return ctx.NoContent(http.StatusNoContent)
}
