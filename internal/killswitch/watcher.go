package killswitch

import (
	"context"
	"math"
	"time"

	"github.com/keithlinneman/windowguard/internal/log"
)

const (
	// DefaultPollInterval is how often the watcher reads the parameter.
	DefaultPollInterval = 30 * time.Second

	// maxBackoff caps exponential backoff on consecutive fetch errors.
	maxBackoff = 5 * time.Minute
)

// Fetcher returns the desired disabled state.
type Fetcher interface {
	Fetch(ctx context.Context) (bool, error)
}

// WatcherMetrics is implemented by the metrics package.
type WatcherMetrics interface {
	IncKillswitchPolls()
	IncKillswitchError()
	IncKillswitchFlips()
}

type WatcherOptions struct {
	Logger       log.Logger
	Source       Fetcher
	Switch       *Switch
	PollInterval time.Duration
	Metrics      WatcherMetrics
}

// Watcher keeps a Switch in sync with a Fetcher. On fetch errors the switch
// keeps its last known state.
type Watcher struct {
	source   Fetcher
	sw       *Switch
	logger   log.Logger
	interval time.Duration
	metrics  WatcherMetrics

	consecutiveErrs int
	pollCount       int64
	flipCount       int64
}

func NewWatcher(opts WatcherOptions) *Watcher {
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	interval := opts.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Watcher{
		source:   opts.Source,
		sw:       opts.Switch,
		logger:   opts.Logger,
		interval: interval,
		metrics:  opts.Metrics,
	}
}

// Run polls once immediately, then on every tick until ctx is cancelled.
// Intended to be launched as: go watcher.Run(ctx)
func (w *Watcher) Run(ctx context.Context) error {
	w.logger.Info(ctx, "killswitch watcher starting",
		"poll_interval", w.interval.String(),
		"disabled", w.sw.Disabled(),
	)
	first := w.interval
	if next, reset := w.step(ctx); reset {
		first = next
	}

	ticker := time.NewTicker(first)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info(ctx, "killswitch watcher stopping",
				"reason", ctx.Err(),
				"polls", w.pollCount,
				"flips", w.flipCount,
			)
			return ctx.Err()
		case <-ticker.C:
			if next, reset := w.step(ctx); reset {
				ticker.Reset(next)
			}
		}
	}
}

// step polls and returns the next interval when the cadence must change.
func (w *Watcher) step(ctx context.Context) (time.Duration, bool) {
	if err := w.checkOnce(ctx); err != nil {
		w.consecutiveErrs++
		backoff := w.backoffDuration()
		w.logger.Warn(ctx, "killswitch watcher: backing off",
			"consecutive_errors", w.consecutiveErrs,
			"next_poll_in", backoff.String(),
		)
		return backoff, true
	}
	if w.consecutiveErrs > 0 {
		w.logger.Info(ctx, "killswitch watcher: recovered, resuming normal interval",
			"had_consecutive_errors", w.consecutiveErrs,
		)
		w.consecutiveErrs = 0
		return w.interval, true
	}
	return 0, false
}

func (w *Watcher) checkOnce(ctx context.Context) error {
	w.pollCount++
	if w.metrics != nil {
		w.metrics.IncKillswitchPolls()
	}

	disabled, err := w.source.Fetch(ctx)
	if err != nil {
		w.logger.Error(ctx, err, "killswitch watcher: poll failed, keeping current state",
			"disabled", w.sw.Disabled(),
		)
		if w.metrics != nil {
			w.metrics.IncKillswitchError()
		}
		return err
	}

	if w.sw.Set(disabled, "ssm") {
		w.flipCount++
		if w.metrics != nil {
			w.metrics.IncKillswitchFlips()
		}
		w.logger.Warn(ctx, "killswitch flipped", "rate_limits_disabled", disabled)
	}
	return nil
}

// backoffDuration: consecutiveErrs=1 gives 2x interval, 2 gives 4x, capped at
// maxBackoff. The multiplier is compared before converting so long outages
// cannot overflow time.Duration.
func (w *Watcher) backoffDuration() time.Duration {
	mult := math.Pow(2, float64(w.consecutiveErrs))
	if mult >= float64(maxBackoff)/float64(w.interval) {
		return max(maxBackoff, w.interval)
	}
	return time.Duration(float64(w.interval) * mult)
}
