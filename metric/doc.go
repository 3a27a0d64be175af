// Package metric provides the two observability surfaces of the module.
//
// Tracker is the always-on, dependency-free rolling counter set (operation
// counts, cache hit rate, average latency, error rate). Every component
// records into a shared Tracker handle; nothing requires it for
// correctness.
//
// Registry wraps a private Prometheus registry with duplicate-registration
// detection, for deployments that scrape. Caches and the batch writer accept
// a Registry through their functional options; without one they still
// collect Tracker/Statistics counters.
package metric
