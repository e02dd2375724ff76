package workflow

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/trungdo2789/mpl-candy/internal/model"
	"github.com/trungdo2789/mpl-candy/internal/retry"
)

// DefaultLockTTL is how long a run lease stays valid without a refresh.
// The Supervisor refreshes it at the start of every pass and every TTL/3
// while a pass runs.
const DefaultLockTTL = 10 * time.Minute

// Config holds the tunables shared by Orchestrator, Reconciler and Supervisor.
type Config struct {
	// Channel is the distribution channel (guard group) tag passed to every mint.
	Channel string

	// Concurrency is the number of targets processed in parallel. Steps
	// within one target always run in order. Zero or one means sequential.
	Concurrency int

	// Retry bounds the Supervisor's pass loop.
	Retry retry.Policy

	// LockTTL is the run lease lifetime.
	LockTTL time.Duration
}

// DefaultConfig returns sequential processing with unbounded retries.
func DefaultConfig() Config {
	return Config{
		Channel:     model.DefaultChannel,
		Concurrency: 1,
		Retry:       retry.DefaultPolicy(),
		LockTTL:     DefaultLockTTL,
	}
}

func (c Config) withDefaults() Config {
	if c.Channel == "" {
		c.Channel = model.DefaultChannel
	}
	if c.Concurrency < 1 {
		c.Concurrency = 1
	}
	if c.LockTTL <= 0 {
		c.LockTTL = DefaultLockTTL
	}
	return c
}

// Option configures the workflow components.
type Option func(*options)

type options struct {
	log     zerolog.Logger
	metrics *Metrics
	sleeper retry.Sleeper
	runIDs  RunIDGenerator
	now     func() time.Time
}

func defaultOptions() options {
	return options{
		log:     zerolog.Nop(),
		sleeper: retry.SleepContext,
		runIDs:  UUIDv7Generator{},
		now:     time.Now,
	}
}

func buildOptions(opts []Option) options {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithLogger sets the structured logger.
func WithLogger(log zerolog.Logger) Option {
	return func(o *options) { o.log = log }
}

// WithMetrics sets the Prometheus collectors. Nil disables metrics.
func WithMetrics(m *Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithSleeper replaces the backoff sleep. Tests pass a no-op.
func WithSleeper(s retry.Sleeper) Option {
	return func(o *options) { o.sleeper = s }
}

// WithRunIDGenerator replaces the run id source.
func WithRunIDGenerator(g RunIDGenerator) Option {
	return func(o *options) { o.runIDs = g }
}

// WithClock replaces the wall clock used for report timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}
