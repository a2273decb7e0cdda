package depletion

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// FormatHMS renders d as hh:mm:ss. Hours are not wrapped at 24 and negative
// durations render as 00:00:00.
func FormatHMS(d time.Duration) string {
	total := int64(d / time.Second)
	if total < 0 {
		total = 0
	}
	h := total / 3600
	m := (total % 3600) / 60
	s := total % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

// FormatDaysHours renders d as "<d> days <h> hours".
func FormatDaysHours(d time.Duration) string {
	hours := int64(d / time.Hour)
	if hours < 0 {
		hours = 0
	}
	return fmt.Sprintf("%d days %d hours", hours/24, hours%24)
}

// Text is the countdown line for est at now, or "" when nothing should show.
func Text(est Estimate, now time.Time) string {
	at, ok := est.DepleteAt()
	if !ok {
		return ""
	}
	left := at.Sub(now)
	if left <= 0 {
		return ""
	}
	switch est.Tier {
	case TierSecond:
		return FormatHMS(left) + " before depletion."
	case TierHour:
		return "Depletes in " + FormatDaysHours(left) + "."
	default:
		return ""
	}
}

// CountdownOptions configures StartCountdown. OnTick is required.
type CountdownOptions struct {
	OnTick         func(text string)
	Now            func() time.Time
	SecondInterval time.Duration
	HourInterval   time.Duration
}

func (o CountdownOptions) withDefaults() CountdownOptions {
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.SecondInterval <= 0 {
		o.SecondInterval = time.Second
	}
	if o.HourInterval <= 0 {
		o.HourInterval = time.Hour
	}
	return o
}

// Countdown owns the ticker driving one live countdown. The tier is fixed
// for its lifetime; callers re-project on every fetch and start a new one.
type Countdown struct {
	stop chan struct{}
	done chan struct{}
	once sync.Once
}

// StartCountdown emits the current text synchronously, then once per
// interval of est's tier until Stop is called or ctx is done. An estimate
// with TierNone emits "" once and starts nothing.
func StartCountdown(ctx context.Context, est Estimate, opts CountdownOptions) *Countdown {
	opts = opts.withDefaults()
	c := &Countdown{stop: make(chan struct{}), done: make(chan struct{})}

	tick := func() {
		opts.OnTick(Text(est, opts.Now()))
	}
	tick()

	var interval time.Duration
	switch est.Tier {
	case TierSecond:
		interval = opts.SecondInterval
	case TierHour:
		interval = opts.HourInterval
	default:
		close(c.done)
		return c
	}
	if _, ok := est.DepleteAt(); !ok {
		close(c.done)
		return c
	}

	go func() {
		defer close(c.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				tick()
			case <-c.stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
	return c
}

// Done is closed once the countdown goroutine has exited.
func (c *Countdown) Done() <-chan struct{} {
	return c.done
}

// Stop halts the countdown and waits for its ticker to be released. It is
// safe to call more than once.
func (c *Countdown) Stop() {
	c.once.Do(func() { close(c.stop) })
	<-c.done
}
