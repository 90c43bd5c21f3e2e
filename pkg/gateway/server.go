package gateway

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RouteRegistrar mounts routes on the gateway HTTP server.
type RouteRegistrar interface {
	Register(e *echo.Echo)
}

// newEcho builds the HTTP surface: status endpoints, the metrics endpoint
// and whatever transport routes are passed in.
func newEcho(log *slog.Logger, gatherer prometheus.Gatherer, status *Service, routes ...RouteRegistrar) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus: true,
		LogURI:    true,
		LogMethod: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			log.Debug("request",
				slog.String("method", v.Method),
				slog.String("uri", v.URI),
				slog.Int("status", v.Status),
				slog.Duration("latency", v.Latency),
				slog.String("remote_ip", c.RealIP()),
			)
			return nil
		},
	}))

	e.GET("/healthz", status.handleHealth)
	e.GET("/readyz", status.handleReady)
	if gatherer != nil {
		e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	for _, route := range routes {
		if route != nil {
			route.Register(e)
		}
	}

	return e
}

func (s *Service) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, s.currentStatus("ok"))
}

func (s *Service) handleReady(c echo.Context) error {
	if !s.isReady() {
		return c.JSON(http.StatusServiceUnavailable, s.currentStatus("not_ready"))
	}
	return c.JSON(http.StatusOK, s.currentStatus("ready"))
}
