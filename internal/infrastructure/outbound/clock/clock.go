package clock

import (
	"context"
	"errors"
	"time"

	"github.com/sophialabs/traceharness/internal/infrastructure/ports"
)

// ErrNotReady is returned by Poll when every attempt failed.
var ErrNotReady = errors.New("condition not met")

var _ ports.Clock = (*RealClock)(nil)

// RealClock implements ports.Clock using the system clock.
type RealClock struct{}

// New creates a new RealClock.
func New() *RealClock {
	return &RealClock{}
}

func (c *RealClock) Now() time.Time { return time.Now() }

func (c *RealClock) SleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Elapsed returns the time since start according to clk.
func Elapsed(clk ports.Clock, start time.Time) time.Duration {
	return clk.Now().Sub(start)
}

// Poll calls ready up to attempts times, sleeping every between calls, and
// returns nil as soon as it reports true.
func Poll(ctx context.Context, clk ports.Clock, every time.Duration, attempts int, ready func(context.Context) bool) error {
	for i := 0; i < attempts; i++ {
		if ready(ctx) {
			return nil
		}
		if i == attempts-1 {
			break
		}
		if err := clk.SleepContext(ctx, every); err != nil {
			return err
		}
	}
	return ErrNotReady
}
