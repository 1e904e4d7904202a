package crawler

import (
	"context"
	"crypto/rand"
	"math/big"
	"time"
)

// Delay is a uniform random politeness window.
type Delay struct {
	Min time.Duration `mapstructure:"min"`
	Max time.Duration `mapstructure:"max"`
}

// Fixed returns a window that always yields d.
func Fixed(d time.Duration) Delay {
	return Delay{Min: d, Max: d}
}

// Next draws a duration uniformly from [Min, Max].
func (d Delay) Next() time.Duration {
	if d.Max <= d.Min {
		return max(d.Min, 0)
	}
	span := big.NewInt(int64(d.Max-d.Min) + 1)
	n, err := rand.Int(rand.Reader, span)
	if err != nil {
		return d.Min + (d.Max-d.Min)/2
	}
	return d.Min + time.Duration(n.Int64())
}

// Politeness groups the delays applied between requests to the target site.
type Politeness struct {
	SearchPage Delay `mapstructure:"search_page"`
	Detail     Delay `mapstructure:"detail"`
	ReviewPage Delay `mapstructure:"review_page"`
}

// DefaultPoliteness returns the delays the site tolerates.
func DefaultPoliteness() Politeness {
	return Politeness{
		SearchPage: Fixed(60 * time.Second),
		Detail:     Delay{Min: 45 * time.Second, Max: 60 * time.Second},
		ReviewPage: Delay{Min: 60 * time.Second, Max: 65 * time.Second},
	}
}

// TimerPauser sleeps on a timer and wakes early when the context ends.
type TimerPauser struct{}

// Pause implements Pauser.
func (TimerPauser) Pause(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
