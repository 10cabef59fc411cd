package httpapi

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"gym_subscription_notifier/internal/app"
	"gym_subscription_notifier/internal/domain/customer"
	"gym_subscription_notifier/internal/domain/notification"

	"github.com/labstack/echo/v4"
	echoMid "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// CustomerManager is the staff-facing customer workflow served over HTTP.
type CustomerManager interface {
	AddCustomer(ctx context.Context, in app.CustomerInput) (*customer.Customer, error)
	GetCustomer(ctx context.Context, id string) (*customer.Customer, error)
	UpdateCustomer(ctx context.Context, id string, in app.CustomerInput) (*customer.Customer, error)
	DeleteCustomer(ctx context.Context, id string) error
	RecordPayment(ctx context.Context, id string) (*customer.Customer, error)
	ListCustomers(ctx context.Context, query string) ([]*customer.Customer, error)
	ListExpired(ctx context.Context) ([]*customer.Customer, error)
}

type Deps struct {
	Customers CustomerManager
	Notifier  app.Notifier
	Runs      notification.Repository
	Gatherer  prometheus.Gatherer
	APIKey    string // Staff key for /v1; empty disables the group
	Logger    *logrus.Entry
}

type Server struct {
	e      *echo.Echo
	logger *logrus.Entry
}

func NewServer(d Deps) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(echoMid.Recover(), requestLogger(d.Logger))

	gatherer := d.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })

	if strings.TrimSpace(d.APIKey) == "" {
		d.Logger.Warn("STAFF_API_KEY is not set; /v1 staff API is disabled")
		return &Server{e: e, logger: d.Logger}
	}

	h := &handlers{customers: d.Customers, notifier: d.Notifier, runs: d.Runs, logger: d.Logger}
	v1 := e.Group("/v1", apiKeyMiddleware(d.APIKey))
	v1.GET("/customers", h.listCustomers)
	v1.POST("/customers", h.createCustomer)
	v1.GET("/customers/:id", h.getCustomer)
	v1.PUT("/customers/:id", h.updateCustomer)
	v1.DELETE("/customers/:id", h.deleteCustomer)
	v1.POST("/customers/:id/payments", h.recordPayment)
	v1.POST("/notifier/run", h.runNotifier)
	v1.GET("/notifier/runs", h.listRuns)

	return &Server{e: e, logger: d.Logger}
}

func (s *Server) Start(addr string) error {
	s.logger.WithField("addr", addr).Info("HTTP API listening")
	return s.e.Start(addr)
}

func (s *Server) Shutdown(ctx context.Context) error { return s.e.Shutdown(ctx) }

// ServeHTTP lets tests drive the router directly.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.e.ServeHTTP(w, r) }

// apiKeyMiddleware authenticates staff requests using the X-API-Key header.
func apiKeyMiddleware(expected string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key := strings.TrimSpace(c.Request().Header.Get("X-API-Key"))
			if key == "" {
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": "missing api key"})
			}
			if subtle.ConstantTimeCompare([]byte(key), []byte(expected)) != 1 {
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": "invalid api key"})
			}
			return next(c)
		}
	}
}

func requestLogger(logger *logrus.Entry) echo.MiddlewareFunc {
	return echoMid.RequestLoggerWithConfig(echoMid.RequestLoggerConfig{
		LogMethod:  true,
		LogURIPath: true,
		LogStatus:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(c echo.Context, v echoMid.RequestLoggerValues) error {
			entry := logger.WithFields(logrus.Fields{
				"method":     v.Method,
				"path":       v.URIPath,
				"status":     v.Status,
				"latency_ms": v.Latency.Round(time.Millisecond).Milliseconds(),
			})
			if v.Error != nil {
				entry.WithError(v.Error).Warn("HTTP request failed")
				return nil
			}
			entry.Debug("HTTP request")
			return nil
		},
	})
}
