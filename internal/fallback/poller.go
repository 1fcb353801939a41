package fallback

import (
	"context"
	"time"

	"github.com/schoolhub/schoolhub/internal/logging"
	"github.com/schoolhub/schoolhub/internal/scheduler"
)

// PollTaskID is the scheduler task that polls while the push channel is down.
const PollTaskID = "fallback.poll"

// DefaultPollInterval applies when PollerConfig.Interval is unset.
const DefaultPollInterval = 30 * time.Second

// Connectivity reports whether the push channel is up.
type Connectivity interface {
	IsConnected() bool
}

// PollerConfig configures a Poller.
type PollerConfig struct {
	Scheduler    *scheduler.Scheduler
	Cache        *QueryCache
	Connectivity Connectivity
	Interval     time.Duration
	Logger       *logging.Logger
}

// Poller refreshes the notification query on an interval, but only while
// the transport is disconnected.
type Poller struct {
	sched    *scheduler.Scheduler
	owns     bool
	cache    *QueryCache
	conn     Connectivity
	interval time.Duration
	logger   *logging.Logger
}

// NewPoller creates a poller. It creates its own scheduler when none is given.
func NewPoller(cfg PollerConfig) *Poller {
	p := &Poller{
		sched:    cfg.Scheduler,
		cache:    cfg.Cache,
		conn:     cfg.Connectivity,
		interval: cfg.Interval,
		logger:   logging.OrDefault(cfg.Logger).WithField("component", "poller"),
	}
	if p.interval <= 0 {
		p.interval = DefaultPollInterval
	}
	if p.sched == nil {
		p.sched = scheduler.New(scheduler.Config{Logger: cfg.Logger})
		p.owns = true
	}
	return p
}

// Start registers the polling task.
func (p *Poller) Start() error {
	task := scheduler.IntervalTask(PollTaskID, "Poll notifications while offline", p.interval, p.Poll)
	if err := p.sched.Register(task); err != nil {
		return err
	}
	if p.owns {
		return p.sched.Start()
	}
	return nil
}

// Stop removes the polling task.
func (p *Poller) Stop() {
	p.sched.Unregister(PollTaskID)
	if p.owns {
		p.sched.Stop()
	}
}

// Poll refreshes notifications unless the transport is connected.
func (p *Poller) Poll(ctx context.Context) error {
	if p.conn != nil && p.conn.IsConnected() {
		return nil
	}
	if err := p.cache.Invalidate(ctx, KeyNotifications); err != nil {
		p.logger.Debug("Poll failed: %v", err)
		return err
	}
	return nil
}
