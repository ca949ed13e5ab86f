package walcore

import "time"

// Config holds the tunables enumerated in spec §4.1.
type Config struct {
	// GCExpireDuration: records older than this are eligible for GC.
	// Zero disables age-based GC.
	GCExpireDuration time.Duration

	// MaxLogSize is a hard upper bound; GC runs unconditionally until
	// the container fits. Zero/negative disables the hard cap.
	MaxLogSize int

	// GCLogSize is a soft lower bound; GC never shrinks below it.
	GCLogSize int

	// AcceptLogWhenHashMatched tolerates an action-callback error when
	// the hash chain still matches, so a primary's stream can be
	// replayed even when local side effects fail.
	AcceptLogWhenHashMatched bool
}

// Option mutates a Config. Functional options keep the core library
// free of CLI/env coupling (see SPEC_FULL.md's Configuration section);
// an Option is applied by calling it on a *Config before passing that
// Config to NewWALObject.
type Option func(*Config)

// WithGCExpireDuration sets Config.GCExpireDuration.
func WithGCExpireDuration(d time.Duration) Option {
	return func(c *Config) { c.GCExpireDuration = d }
}

// WithMaxLogSize sets Config.MaxLogSize.
func WithMaxLogSize(n int) Option {
	return func(c *Config) { c.MaxLogSize = n }
}

// WithGCLogSize sets Config.GCLogSize.
func WithGCLogSize(n int) Option {
	return func(c *Config) { c.GCLogSize = n }
}

// WithAcceptLogWhenHashMatched sets Config.AcceptLogWhenHashMatched.
func WithAcceptLogWhenHashMatched(accept bool) Option {
	return func(c *Config) { c.AcceptLogWhenHashMatched = accept }
}
