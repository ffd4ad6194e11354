package controller

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
)

// Runner drives one Tick function on a fixed interval until the context is
// cancelled. Each control loop gets its own runner so a slow loop never
// delays the others.
type Runner struct {
	name     string
	interval time.Duration
	tick     func()
	logger   zerolog.Logger
}

// NewRunner validates arguments and returns a runner.
func NewRunner(name string, interval time.Duration, tick func(), logger zerolog.Logger) (*Runner, error) {
	if name == "" {
		return nil, errors.New("controller: runner name is required")
	}
	if interval <= 0 {
		return nil, errors.New("controller: runner interval must be positive")
	}
	if tick == nil {
		return nil, errors.New("controller: runner tick is required")
	}
	return &Runner{name: name, interval: interval, tick: tick, logger: logger}, nil
}

// Run blocks, ticking until ctx is cancelled.
func (r *Runner) Run(ctx context.Context) {
	if r == nil {
		return
	}
	r.logger.Info().Str("loop", r.name).Dur("interval", r.interval).Msg("control loop started")
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			r.logger.Info().Str("loop", r.name).Msg("control loop stopped")
			return
		case <-ticker.C:
			r.tick()
		}
	}
}
