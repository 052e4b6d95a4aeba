package runner

import "time"

const (
	// tracerName names the tracer used for run spans.
	tracerName = "op-testkit/runner"

	// maxDefaultConcurrency caps the automatically chosen concurrency.
	maxDefaultConcurrency = 16
	// highConcurrencyWarning is the concurrency above which a warning is
	// logged.
	highConcurrencyWarning = 64

	// DefaultProgressInterval is how often the console progress reporter
	// logs while tests run.
	DefaultProgressInterval = 30 * time.Second
)
