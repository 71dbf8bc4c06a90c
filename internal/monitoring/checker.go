package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/intellimesh/internal/config"
)

const defaultCheckInterval = 5 * time.Minute

// Checker evaluates run health on a fixed interval and posts alerts.
type Checker struct {
	collector *Collector
	alerter   *Alerter
	every     time.Duration
	lookback  int
}

// NewChecker creates a Checker. A non-positive interval falls back to five
// minutes.
func NewChecker(collector *Collector, alerter *Alerter, cfg config.MonitoringConfig) *Checker {
	every := time.Duration(cfg.CheckIntervalSecs) * time.Second
	if every <= 0 {
		every = defaultCheckInterval
	}
	return &Checker{
		collector: collector,
		alerter:   alerter,
		every:     every,
		lookback:  cfg.LookbackWindowHours,
	}
}

// Run checks once per interval until ctx is done.
func (c *Checker) Run(ctx context.Context) {
	log := zap.L().With(zap.String("component", "monitoring"))
	log.Info("monitoring: checker started",
		zap.Duration("every", c.every),
		zap.Int("lookback_hours", c.lookback),
	)

	tick := time.NewTicker(c.every)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("monitoring: checker stopped")
			return
		case <-tick.C:
			sent, err := c.Check(ctx)
			if err != nil {
				log.Error("monitoring: check failed", zap.Error(err))
				continue
			}
			if sent > 0 {
				log.Info("monitoring: alerts sent", zap.Int("count", sent))
			}
		}
	}
}

// Check takes one snapshot and delivers the alerts it triggers, returning
// how many were delivered.
func (c *Checker) Check(ctx context.Context) (int, error) {
	snap, err := c.collector.Collect(ctx, c.lookback)
	if err != nil {
		return 0, eris.Wrap(err, "monitoring: collect")
	}
	alerts := c.alerter.Evaluate(snap)
	if len(alerts) == 0 {
		return 0, nil
	}
	return c.alerter.SendAlerts(ctx, alerts), nil
}
