package server

import (
	"log"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/datRooster/ircapp/irc/config"
)

// AdminAPI exposes the operational endpoint: health, stats and Prometheus
// metrics. It binds to the loopback admin address and carries no auth.
type AdminAPI struct {
	server *Server
	config *config.Config
	echo   *echo.Echo
}

// NewAdminAPI creates the admin endpoint
func NewAdminAPI(server *Server, cfg *config.Config) *AdminAPI {
	api := &AdminAPI{
		server: server,
		config: cfg,
		echo:   echo.New(),
	}
	api.echo.HideBanner = true
	api.echo.HidePort = true

	api.echo.GET("/healthz", api.handleHealth)
	api.echo.GET("/stats", api.handleStats)
	api.echo.GET("/metrics", echo.WrapHandler(
		promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})))

	return api
}

// Start starts the admin endpoint
func (a *AdminAPI) Start() error {
	return a.echo.Start(a.config.GetAdminListenAddress())
}

// Stop stops the admin endpoint
func (a *AdminAPI) Stop() error {
	log.Println("[ADMIN] stopping admin endpoint")
	return a.echo.Close()
}

func (a *AdminAPI) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{"ok": true})
}

func (a *AdminAPI) handleStats(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"clients":  a.server.ClientCount(),
		"users":    a.server.users.Count(),
		"channels": len(a.server.channels.Active()),
		"uptime":   a.server.GetUptime().String(),
	})
}
