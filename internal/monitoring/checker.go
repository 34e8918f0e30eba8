package monitoring

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/costar-cli/internal/config"
)

// Checker collects, evaluates and notifies on a schedule. An alert type is
// sent when it starts firing and again only after it has cleared.
type Checker struct {
	collector *Collector
	alerter   *Alerter
	cfg       config.MonitoringConfig

	firing map[AlertType]bool
}

// NewChecker wires a collector and alerter together.
func NewChecker(collector *Collector, alerter *Alerter, cfg config.MonitoringConfig) *Checker {
	return &Checker{
		collector: collector,
		alerter:   alerter,
		cfg:       cfg,
		firing:    map[AlertType]bool{},
	}
}

func (c *Checker) interval() time.Duration {
	if c.cfg.CheckIntervalSecs <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(c.cfg.CheckIntervalSecs) * time.Second
}

// Run checks once immediately, then every interval until ctx is done.
func (c *Checker) Run(ctx context.Context) {
	log := zap.L().With(zap.String("component", "monitoring.checker"))
	log.Info("watching run health",
		zap.Duration("interval", c.interval()),
		zap.Int("lookback_hours", c.cfg.LookbackWindowHours),
	)

	ticker := time.NewTicker(c.interval())
	defer ticker.Stop()

	for ctx.Err() == nil {
		if _, _, err := c.Check(ctx); err != nil && ctx.Err() == nil {
			log.Error("health check failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
		case <-ticker.C:
		}
	}
	log.Info("stopped watching run health")
}

// Check collects one snapshot and returns every alert it raises. Only newly
// firing alerts are sent to the webhook. A webhook failure is logged, not
// returned.
func (c *Checker) Check(ctx context.Context) (*MetricsSnapshot, []Alert, error) {
	snap, err := c.collector.Collect(ctx, c.cfg.LookbackWindowHours)
	if err != nil {
		return nil, nil, err
	}

	alerts := c.alerter.Evaluate(snap)
	fresh := c.track(alerts)
	if len(fresh) > 0 {
		if err := c.alerter.Notify(ctx, snap, fresh); err != nil {
			zap.L().Error("monitoring: webhook delivery failed", zap.Int("alerts", len(fresh)), zap.Error(err))
			for _, a := range fresh {
				delete(c.firing, a.Type)
			}
		}
	}

	zap.L().Debug("monitoring: health check",
		zap.Int("runs", snap.RunsTotal),
		zap.Int("alerts", len(alerts)),
		zap.Int("new_alerts", len(fresh)),
	)
	return snap, alerts, nil
}

// track records which types are firing and returns the ones that were not
// firing on the previous check.
func (c *Checker) track(alerts []Alert) []Alert {
	now := make(map[AlertType]bool, len(alerts))
	var fresh []Alert
	for _, a := range alerts {
		now[a.Type] = true
		if !c.firing[a.Type] {
			fresh = append(fresh, a)
		}
	}
	c.firing = now
	return fresh
}
