package echoapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/masomo-live/core"
	"github.com/trezcool/masomo-live/core/catalog"
	"github.com/trezcool/masomo-live/core/live"
)

const heartbeatInterval = 15 * time.Second

// liveState is the JSON form of an observer state.
type liveState struct {
	Data    interface{} `json:"data"`
	Loading bool        `json:"loading"`
	Error   string      `json:"error,omitempty"`
}

func newLiveState(data interface{}, loading bool, err error) liveState {
	s := liveState{Data: data, Loading: loading}
	if err != nil {
		s.Error = err.Error()
	}
	return s
}

type liveApi struct {
	store           live.Store
	logger          core.Logger
	validate        *validator.Validate
	translator      ut.Translator
	snapshotTimeout time.Duration
}

func registerLiveAPI(g *echo.Group, deps ServerDeps) {
	api := liveApi{
		store:           deps.Store,
		logger:          deps.Logger,
		validate:        deps.Validate,
		translator:      deps.Translator,
		snapshotTimeout: deps.Conf.Live.SnapshotTimeout,
	}

	lg := g.Group("/live")
	lg.GET("/collections/:collection", api.watchQuery)
	lg.GET("/documents/:collection/:id", api.watchDocument)
}

// Handlers

func (api *liveApi) watchQuery(ctx echo.Context) error {
	collection := ctx.Param("collection")
	if collection == catalog.Applications {
		if claims, err := getContextClaims(ctx); err != nil || !claims.HasRole(core.RoleAdmin) {
			return errHttpForbidden
		}
	}
	q, err := bindQuery(ctx, collection, api.validate, api.translator)
	if err != nil {
		return err
	}

	obs := live.NewQueryObserver(api.store, api.logger)
	defer obs.Close()
	obs.Set(&q)

	if isOnce(ctx) {
		state, err := waitSettled(ctx, api.snapshotTimeout, obs.Wait)
		if err != nil {
			return err
		}
		return ctx.JSON(http.StatusOK, newLiveState(recordsOrEmpty(state.Data), false, state.Err))
	}
	return streamStates(ctx, obs.Updates(), func() liveState {
		state := obs.State()
		return newLiveState(recordsOrEmpty(state.Data), state.Loading, state.Err)
	})
}

func (api *liveApi) watchDocument(ctx echo.Context) error {
	ref, err := bindRef(ctx, api.validate, api.translator)
	if err != nil {
		return err
	}
	if ref.Collection == catalog.Applications {
		if claims, err := getContextClaims(ctx); err != nil || !claims.HasRole(core.RoleAdmin) {
			return errHttpForbidden
		}
	}

	obs := live.NewDocObserver(api.store, api.logger)
	defer obs.Close()
	obs.Set(&ref)

	if isOnce(ctx) {
		state, err := waitSettled(ctx, api.snapshotTimeout, obs.Wait)
		if err != nil {
			return err
		}
		return ctx.JSON(http.StatusOK, newLiveState(state.Data, false, state.Err))
	}
	return streamStates(ctx, obs.Updates(), func() liveState {
		state := obs.State()
		return newLiveState(state.Data, state.Loading, state.Err)
	})
}

// waitSettled returns the first settled state, giving up after timeout.
func waitSettled[S any](ctx echo.Context, timeout time.Duration, wait func(context.Context) (S, error)) (S, error) {
	c, cancel := context.WithTimeout(ctx.Request().Context(), timeout)
	defer cancel()
	state, err := wait(c)
	if err != nil {
		var zero S
		if errors.Cause(err) == context.DeadlineExceeded {
			return zero, errNoSnapshot
		}
		return zero, errors.Wrap(err, "waiting for snapshot")
	}
	return state, nil
}

func isOnce(ctx echo.Context) bool {
	switch ctx.QueryParam("once") {
	case "1", "true":
		return true
	}
	return false
}

func recordsOrEmpty(records []live.Record) []live.Record {
	if records == nil {
		return []live.Record{}
	}
	return records
}

// streamStates writes a Server-Sent Event with the current state on every update, until the client leaves.
func streamStates(ctx echo.Context, updates <-chan struct{}, current func() liveState) error {
	res := ctx.Response()
	startStream(res)

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()
	done := ctx.Request().Context().Done()

	if err := writeEvent(res, "state", current()); err != nil {
		return nil // client gone
	}
	for {
		select {
		case <-done:
			return nil
		case <-heartbeat.C:
			if err := writeComment(res, "ping"); err != nil {
				return nil
			}
		case _, ok := <-updates:
			if !ok {
				return nil
			}
			if err := writeEvent(res, "state", current()); err != nil {
				return nil
			}
		}
	}
}

func startStream(res *echo.Response) {
	res.Header().Set(echo.HeaderContentType, "text/event-stream")
	res.Header().Set("Cache-Control", "no-cache")
	res.Header().Set("Connection", "keep-alive")
	res.Header().Set("X-Accel-Buffering", "no")
	res.WriteHeader(http.StatusOK)
	res.Flush()
}

func writeComment(res *echo.Response, text string) error {
	if _, err := fmt.Fprintf(res, ": %s\n\n", text); err != nil {
		return err
	}
	res.Flush()
	return nil
}

func writeEvent(res *echo.Response, event string, data interface{}) error {
	b, err := json.Marshal(data)
	if err != nil {
		return errors.Wrap(err, "json.Marshal()")
	}
	if _, err := fmt.Fprintf(res, "event: %s\ndata: %s\n\n", event, b); err != nil {
		return err
	}
	res.Flush()
	return nil
}
