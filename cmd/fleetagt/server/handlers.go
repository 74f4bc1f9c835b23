// Package server exposes the operator-visible status API of the agent.
package server

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/fleetward/fleetward/pkg/domain"
	"github.com/fleetward/fleetward/pkg/health"
	"github.com/fleetward/fleetward/pkg/status"
	"github.com/fleetward/fleetward/pkg/store"
	"github.com/fleetward/fleetward/pkg/utils"
)

// GetStatusHandler serves GET /api/status.
//
// agentId is read through a closure since registration finishes after
// the server starts listening.
func GetStatusHandler(
	identity domain.AgentIdentity,
	agentId func() string,
	gate *health.Gate,
	recorder *status.Recorder,
) echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.JSON(http.StatusOK, AgentStatus{
			Organization: identity.Organization,
			Deployment:   identity.Deployment,
			AgentId:      agentId(),
			Ready:        gate.Opened(),
			Loops:        recorder.Heartbeats(),
			Incidents:    utils.Map(recorder.Incidents(), ComposeIncident),
		})
	}
}

// GetResourcesHandler serves GET /api/resources.
//
// The "state" query parameter (repeatable) narrows the listing.
func GetResourcesHandler(resources store.ResourceInterface) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()

		states := []domain.ResourceState{}
		for _, param := range c.QueryParams()["state"] {
			state, err := domain.AsResourceState(param)
			if err != nil {
				return echo.NewHTTPError(
					http.StatusBadRequest, "state should be one of the lifecycle states",
				)
			}
			states = append(states, state)
		}

		requestIds, err := resources.Find(ctx, store.ResourceFindQuery{States: states})
		if err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError)
		}
		if len(requestIds) == 0 {
			return c.JSON(http.StatusOK, []ResourceDetail{})
		}

		found, err := resources.Get(ctx, requestIds)
		if err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError)
		}

		details := make([]ResourceDetail, 0, len(found))
		for _, requestId := range requestIds {
			if r, ok := found[requestId]; ok {
				details = append(details, ComposeResourceDetail(r))
			}
		}
		return c.JSON(http.StatusOK, details)
	}
}

// GetResourceHandler serves GET /api/resources/:requestId.
func GetResourceHandler(resources store.ResourceInterface, requestIdParam string) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		requestId := c.Param(requestIdParam)

		found, err := resources.Get(ctx, []string{requestId})
		if err != nil {
			if errors.Is(err, store.ErrMissing) {
				return echo.NewHTTPError(http.StatusNotFound)
			}
			return echo.NewHTTPError(http.StatusInternalServerError)
		}
		r, ok := found[requestId]
		if !ok {
			return echo.NewHTTPError(http.StatusNotFound)
		}
		return c.JSON(http.StatusOK, ComposeResourceDetail(r))
	}
}
