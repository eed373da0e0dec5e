package scheduler

import "time"

// Timer is a pending callback that can be cancelled.
type Timer interface {
	Stop() bool
}

// Clock schedules callbacks. Tests replace it with a manual clock.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Delays controls the two debounce tiers.
type Delays struct {
	// Settle is the change-detection wait when the text looks complete.
	Settle time.Duration `mapstructure:"settle" yaml:"settle"`
	// SettleIncomplete is the change-detection wait when it does not.
	SettleIncomplete time.Duration `mapstructure:"settle_incomplete" yaml:"settle_incomplete"`
	// Backoff is added per consecutive change beyond BackoffAfter while the
	// text looks incomplete, up to MaxSettle.
	Backoff      time.Duration `mapstructure:"backoff" yaml:"backoff"`
	BackoffAfter int           `mapstructure:"backoff_after" yaml:"backoff_after"`
	MaxSettle    time.Duration `mapstructure:"max_settle" yaml:"max_settle"`
	// Commit is the render-commit wait when the text looks complete.
	Commit time.Duration `mapstructure:"commit" yaml:"commit"`
	// CommitIncomplete is the render-commit wait when it does not.
	CommitIncomplete time.Duration `mapstructure:"commit_incomplete" yaml:"commit_incomplete"`
	// IdleReset clears the consecutive change count when no change arrived
	// for this long. Zero keeps the count until the next successful render.
	IdleReset time.Duration `mapstructure:"idle_reset" yaml:"idle_reset"`
}

// DefaultDelays returns the delays used when none are configured.
func DefaultDelays() Delays {
	return Delays{
		Settle:           150 * time.Millisecond,
		SettleIncomplete: 400 * time.Millisecond,
		Backoff:          100 * time.Millisecond,
		BackoffAfter:     3,
		MaxSettle:        1500 * time.Millisecond,
		Commit:           50 * time.Millisecond,
		CommitIncomplete: 300 * time.Millisecond,
		IdleReset:        2 * time.Second,
	}
}

// settle returns the change-detection delay.
func (d Delays) settle(complete bool, changes int) time.Duration {
	if complete {
		return d.Settle
	}
	wait := d.SettleIncomplete
	if extra := changes - d.BackoffAfter; extra > 0 {
		wait += time.Duration(extra) * d.Backoff
	}
	if d.MaxSettle > 0 && wait > d.MaxSettle {
		wait = d.MaxSettle
	}
	return wait
}

// commit returns the render-commit delay.
func (d Delays) commit(complete bool) time.Duration {
	if complete {
		return d.Commit
	}
	return d.CommitIncomplete
}
