package engine

import "log/slog"

// Option is a functional option applied at engine construction.
type Option func(*config)

type config struct {
	logger      *slog.Logger
	hooks       Hooks
	maxParallel int
}

// WithLogger sets the structured logger the engine emits dispatch and
// settlement events on. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(cfg *config) {
		cfg.logger = logger
	}
}

// WithHooks installs observability callbacks for node lifecycle and group
// iteration progress.
func WithHooks(hooks Hooks) Option {
	return func(cfg *config) {
		cfg.hooks = hooks
	}
}

// WithMaxParallel limits how many node executors may be in flight at once
// across a run. Zero (the default) means unlimited: every ready node in a
// wave dispatches immediately.
func WithMaxParallel(n int) Option {
	return func(cfg *config) {
		cfg.maxParallel = n
	}
}
