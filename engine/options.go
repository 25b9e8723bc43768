package engine

import "time"

// Options configures an Executor. Zero-valued fields fall back to the
// defaults documented below; NewExecutor applies those defaults and the
// functional Options, and no further validation is done, mirroring the
// teacher's Options/Option dual pattern in graph/options.go.
type Options struct {
	// NodeCap records a node-count bound. Default 50. Plan does not read
	// it: Plan takes its own cap argument.
	NodeCap int

	// MaxConcurrent bounds how many steps within one group run at once.
	// Default: unbounded (len(group)) — groups are already the unit of
	// concurrency; set this to throttle very wide graphs.
	MaxConcurrent int

	// DefaultNodeTimeout bounds a single step attempt when the node
	// itself specifies no timeout. Default 30s.
	DefaultNodeTimeout time.Duration

	// Jitter enables bounded jitter on retry backoff. Default false,
	// per spec.md's pinned default for test determinism.
	Jitter bool

	// Rand seeds jitter, if enabled. Nil is fine when Jitter is false.
	Rand *rand64Source
}

// rand64Source is a narrow indirection so Options doesn't force callers
// to import math/rand directly; Executor wraps it internally.
type rand64Source struct {
	Seed int64
}

// Option mutates an Options under construction.
type Option func(*Options)

// WithNodeCap overrides Options.NodeCap (not read by Plan).
func WithNodeCap(n int) Option {
	return func(o *Options) { o.NodeCap = n }
}

// WithMaxConcurrent bounds concurrent steps within a single group.
func WithMaxConcurrent(n int) Option {
	return func(o *Options) { o.MaxConcurrent = n }
}

// WithDefaultNodeTimeout overrides the fallback per-step timeout.
func WithDefaultNodeTimeout(d time.Duration) Option {
	return func(o *Options) { o.DefaultNodeTimeout = d }
}

// WithJitter enables retry-backoff jitter, seeded for determinism.
func WithJitter(seed int64) Option {
	return func(o *Options) {
		o.Jitter = true
		o.Rand = &rand64Source{Seed: seed}
	}
}

func defaultOptions() Options {
	return Options{
		NodeCap:            NodeCap,
		MaxConcurrent:       0,
		DefaultNodeTimeout:  30 * time.Second,
		Jitter:              false,
	}
}

// resolveOptions applies opts over an explicit base (if non-nil) or the
// package defaults, then runs any functional Option values on top —
// matching the teacher's "struct options + overriding functional
// options" composition in graph/options.go.
func resolveOptions(base *Options, opts ...Option) Options {
	var resolved Options
	if base != nil {
		resolved = *base
	} else {
		resolved = defaultOptions()
	}
	if resolved.NodeCap == 0 {
		resolved.NodeCap = NodeCap
	}
	if resolved.DefaultNodeTimeout == 0 {
		resolved.DefaultNodeTimeout = 30 * time.Second
	}
	for _, opt := range opts {
		opt(&resolved)
	}
	return resolved
}
