package main

import (
	"context"
	"errors"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/denwilliams/go-mqtt-homelink/pkg/config"
	"github.com/denwilliams/go-mqtt-homelink/pkg/journal"
	"github.com/denwilliams/go-mqtt-homelink/pkg/logging"
	"github.com/denwilliams/go-mqtt-homelink/pkg/mqtt"
	"github.com/denwilliams/go-mqtt-homelink/pkg/topics"
	"github.com/denwilliams/go-mqtt-homelink/pkg/web"
	"github.com/sirupsen/logrus"
)

const (
	appName          = "MQTT Homelink"
	shutdownTimeout  = 30 * time.Second
	journalRetention = 30
)

type Application struct {
	config    *config.Config
	logger    *logrus.Logger
	logCloser io.Closer
	journal   *journal.Manager
	client    *mqtt.Client
	router    *topics.Router
	hub       *web.Hub
	poller    *topics.Poller
	webServer *web.Server
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

func NewApplication(configPath string) (*Application, error) {
	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	logger, closer, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, err
	}
	logger.WithField("version", version).Infof("Starting %s", appName)
	logger.WithField("path", configPath).Info("Loaded configuration")

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())

	app := &Application{
		config:    cfg,
		logger:    logger,
		logCloser: closer,
		ctx:       ctx,
		cancel:    cancel,
	}

	if err := app.initializeComponents(); err != nil {
		cancel()
		app.Cleanup()
		return nil, err
	}

	return app, nil
}

func (a *Application) initializeComponents() error {
	var err error

	a.logger.Info("Initializing connection journal...")
	a.journal, err = journal.NewManager(a.config.Database, a.logger)
	if err != nil {
		return err
	}

	device, err := a.config.Device()
	if err != nil {
		return err
	}
	a.router = topics.NewRouter(device, topics.HandlerFuncs{
		State: func(on bool) {
			a.logger.WithField("device", device.Name).Infof("Power is %s", onOff(on))
		},
	}, a.logger)
	a.hub = web.NewHub(a.logger)

	a.logger.Info("Initializing MQTT client...")
	opts, err := a.config.ClientOptions(a.journal, a.logger)
	if err != nil {
		return err
	}
	a.client, err = mqtt.NewClient(opts)
	if err != nil {
		return err
	}

	if _, hasCommand := device.Channel("command"); hasCommand && a.config.StatusPollEnabled() {
		a.poller, err = topics.NewPoller(a.config.MQTT.StatusPoll, topics.NewCommander(device, a.client), a.logger)
		if err != nil {
			return err
		}
	}

	a.logger.Info("Initializing web server...")
	a.webServer = web.NewServer(a.config, a.client, a.router, a.journal, a.hub, a.logger)
	a.webServer.SetVersion(version)

	a.logger.Info("All components initialized successfully")
	return nil
}

func (a *Application) Start() error {
	a.logger.Info("Starting application components...")

	if removed, err := a.journal.Prune(journalRetention); err != nil {
		a.logger.WithError(err).Warn("Failed to prune connection journal")
	} else if removed > 0 {
		a.logger.WithField("rows", removed).Debug("Journal pruned at startup")
	}

	// The broker may be unreachable at boot; keep trying in the background.
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.connectLoop()
	}()

	if a.poller != nil {
		a.poller.Start()
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := a.webServer.Start(); err != nil {
			a.logger.WithError(err).Error("Web server error")
			a.cancel()
		}
	}()

	a.logger.Info("Application started successfully")
	return nil
}

func (a *Application) observer() mqtt.Observer {
	return mqtt.MultiObserver(a.router, a.hub, a.journal)
}

// connectLoop runs the initial trial until one candidate accepts. Once a
// handle exists it owns reconnection.
func (a *Application) connectLoop() {
	delay := a.config.MQTT.Reconnect.InitialDelay
	for {
		h, err := a.client.Connect(a.ctx, a.observer())
		if err == nil {
			ep, _ := h.Endpoint()
			a.logger.WithField("endpoint", ep.Name).Info("MQTT connected")
			return
		}
		if errors.Is(err, mqtt.ErrAlreadyConnected) || errors.Is(err, mqtt.ErrAborted) || a.ctx.Err() != nil {
			return
		}

		a.logger.WithError(err).WithField("retry_in", delay).Warn("Failed to connect to any MQTT broker")
		if !sleepContext(a.ctx, delay) {
			return
		}
		delay = nextDelay(delay, a.config.MQTT.Reconnect.MaxDelay)
	}
}

func (a *Application) setupSignalHandling() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-sigChan:
			a.logger.WithField("signal", sig.String()).Info("Initiating graceful shutdown...")
			a.cancel()
		case <-a.ctx.Done():
		}
	}()
}

func (a *Application) Wait() {
	<-a.ctx.Done()
	a.logger.Info("Shutting down...")

	// Create shutdown timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if a.poller != nil {
		select {
		case <-a.poller.Stop().Done():
		case <-shutdownCtx.Done():
		}
	}

	// Shutdown web server
	if a.webServer != nil {
		if err := a.webServer.Shutdown(shutdownCtx); err != nil {
			a.logger.WithError(err).Error("Error shutting down web server")
		}
	}

	// Disconnect MQTT client
	if a.client != nil {
		a.client.Disconnect()
	}

	// Wait for goroutines to finish with timeout
	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		a.logger.Info("All goroutines stopped")
	case <-shutdownCtx.Done():
		a.logger.Warn("Shutdown timeout reached")
	}
}

func (a *Application) Cleanup() {
	if a.journal != nil {
		if err := a.journal.Close(); err != nil {
			a.logger.WithError(err).Error("Error closing connection journal")
		}
	}
	if a.logCloser != nil {
		_ = a.logCloser.Close()
	}
}

func nextDelay(delay, max time.Duration) time.Duration {
	delay *= 2
	if delay > max {
		return max
	}
	return delay
}

// sleepContext reports false when ctx ended first.
func sleepContext(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func onOff(on bool) string {
	if on {
		return "ON"
	}
	return "OFF"
}
