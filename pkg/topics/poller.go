package topics

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/denwilliams/go-mqtt-homelink/pkg/mqtt"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Poller periodically sends a STATUS command on a cron schedule.
type Poller struct {
	cron      *cron.Cron
	commander *Commander
	logger    *logrus.Logger

	mu        sync.Mutex
	isRunning bool
	polls     int
}

// NewPoller accepts standard five-field specs and descriptors such as
// "@every 30s".
func NewPoller(spec string, commander *Commander, logger *logrus.Logger) (*Poller, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	p := &Poller{
		cron:      cron.New(),
		commander: commander,
		logger:    logger,
	}
	if _, err := p.cron.AddFunc(spec, p.Poll); err != nil {
		return nil, fmt.Errorf("invalid status poll schedule %q: %w", spec, err)
	}
	return p, nil
}

func (p *Poller) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.isRunning {
		return
	}
	p.cron.Start()
	p.isRunning = true
}

// Stop halts the schedule. The returned context is done once a running poll
// has finished.
func (p *Poller) Stop() context.Context {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.isRunning = false
	return p.cron.Stop()
}

// Poll sends one STATUS request. Not being connected is expected between
// reconnects and is only logged at debug level.
func (p *Poller) Poll() {
	err := p.commander.RequestStatus()

	p.mu.Lock()
	p.polls++
	p.mu.Unlock()

	switch {
	case err == nil:
		p.logger.Debug("Requested device status")
	case errors.Is(err, mqtt.ErrNotConnected):
		p.logger.Debug("Skipping status poll while disconnected")
	default:
		p.logger.WithError(err).Warn("Status poll failed")
	}
}

func (p *Poller) Polls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.polls
}
