// Package guardstore keeps abuse-guard state in process memory. Entries are
// evicted by Sweep, which the scheduler drives; stale entries that are read
// before a sweep behave as absent.
package guardstore

import "time"

// Option configures a store.
type Option func(*options)

type options struct {
	now       func() time.Time
	retention time.Duration
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithRetention sets how long fingerprint signals survive a sweep.
func WithRetention(d time.Duration) Option {
	return func(o *options) { o.retention = d }
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now, retention: time.Hour}
	for _, fn := range opts {
		fn(&o)
	}
	return o
}
