// Package web exposes the connection and device state over HTTP.
package web

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/denwilliams/go-mqtt-homelink/pkg/config"
	"github.com/denwilliams/go-mqtt-homelink/pkg/journal"
	"github.com/denwilliams/go-mqtt-homelink/pkg/mqtt"
	"github.com/denwilliams/go-mqtt-homelink/pkg/topics"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// Connection is the part of *mqtt.Client the API drives.
type Connection interface {
	State() mqtt.ConnectionState
	Endpoint() (mqtt.Endpoint, bool)
	Candidates() []mqtt.Endpoint
	Publish(topic string, payload []byte) error
	Reconnect(ctx context.Context) error
}

// DeviceSource is satisfied by *topics.Router.
type DeviceSource interface {
	Device() topics.Device
	Snapshot() topics.DeviceState
}

// Journal is satisfied by *journal.Manager.
type Journal interface {
	RecentAttempts(limit int) ([]journal.AttemptRecord, error)
	RecentEvents(limit int) ([]journal.EventRecord, error)
}

type Server struct {
	config    *config.Config
	conn      Connection
	device    DeviceSource
	commander *topics.Commander
	journal   Journal
	hub       *Hub
	limiter   *RateLimiter
	logger    *logrus.Logger
	version   string
	started   time.Time
	server    *http.Server
}

// NewServer wires the API. journal and hub may be nil, in which case the
// corresponding endpoints answer 503 and 404.
func NewServer(cfg *config.Config, conn Connection, device DeviceSource, journal Journal,
	hub *Hub, logger *logrus.Logger) *Server {

	if logger == nil {
		logger = logrus.StandardLogger()
	}

	return &Server{
		config:    cfg,
		conn:      conn,
		device:    device,
		commander: topics.NewCommander(device.Device(), conn),
		journal:   journal,
		hub:       hub,
		limiter:   NewRateLimiter(cfg.Web.RatePerMinute, 0),
		logger:    logger,
		version:   "dev",
		started:   time.Now(),
	}
}

func (s *Server) SetVersion(version string) {
	s.version = version
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(requestLogger(s.logger))

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(api chi.Router) {
		api.Get("/status", s.handleAPIStatus)
		api.Get("/device", s.handleAPIDevice)
		api.Get("/attempts", s.handleAPIAttempts)
		api.Get("/history", s.handleAPIHistory)
		if s.hub != nil {
			api.Get("/events", s.hub.ServeWS)
		}

		api.Group(func(limited chi.Router) {
			limited.Use(s.limiter.Middleware)
			limited.Post("/publish", s.handleAPIPublish)
			limited.Post("/command", s.handleAPICommand)
			limited.Post("/reconnect", s.handleAPIReconnect)
		})
	})

	return r
}

func (s *Server) Start() error {
	address := s.config.GetAddress()
	s.logger.WithField("address", address).Info("Starting web server")

	s.server = &http.Server{
		Addr:              address,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.hub != nil {
		s.hub.Close()
	}
	if s.server != nil {
		s.logger.Info("Shutting down web server...")
		return s.server.Shutdown(ctx)
	}
	return nil
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func requestLogger(logger *logrus.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// The websocket upgrade needs the raw writer to hijack it.
			if r.URL.Path == "/api/events" {
				next.ServeHTTP(w, r)
				return
			}
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			logger.WithFields(logrus.Fields{
				"method":   r.Method,
				"path":     r.URL.Path,
				"status":   rec.status,
				"duration": time.Since(start),
			}).Debug("HTTP request")
		})
	}
}
