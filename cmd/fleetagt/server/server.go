package server

import (
	"net/http"

	"github.com/heptiolabs/healthcheck"
	"github.com/labstack/echo/v4"

	"github.com/fleetward/fleetward/pkg/domain"
	"github.com/fleetward/fleetward/pkg/health"
	"github.com/fleetward/fleetward/pkg/status"
	"github.com/fleetward/fleetward/pkg/store"
)

// New builds the status server.
//
// Routes:
//
//	GET /api/status               agent identity, loop liveness, recent incidents
//	GET /api/resources            fleet resources (?state=... narrows)
//	GET /api/resources/:requestId one fleet resource
//	GET /healthz                  liveness probe
//	GET /readyz                   readiness probe
func New(
	identity domain.AgentIdentity,
	agentId func() string,
	resources store.ResourceInterface,
	gate *health.Gate,
	recorder *status.Recorder,
	probes healthcheck.Handler,
) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.GET("/api/status", GetStatusHandler(identity, agentId, gate, recorder))
	e.GET("/api/resources", GetResourcesHandler(resources))
	e.GET("/api/resources/:requestId", GetResourceHandler(resources, "requestId"))

	e.GET("/healthz", echo.WrapHandler(http.HandlerFunc(probes.LiveEndpoint)))
	e.GET("/readyz", echo.WrapHandler(http.HandlerFunc(probes.ReadyEndpoint)))

	return e
}
