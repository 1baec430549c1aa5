package manifest

import "expvar"

// Metrics holds the manifest's counters. They are plain expvar integers so
// embedders can publish them under whatever names their process uses.
type Metrics struct {
	// StaleRetries counts resolutions retried against a freshly fetched root.
	StaleRetries expvar.Int
	// HardStaleErrors counts staleness that repeated against an unchanged
	// root and was escalated to corruption.
	HardStaleErrors expvar.Int
	// ReadExcludedKey counts resolutions whose published range stopped short
	// of the search key because of downstream backpressure.
	ReadExcludedKey expvar.Int
	// CompactionsSelected counts candidate sets handed to the executor.
	CompactionsSelected expvar.Int
}
