// Package history provides the durable, append-only store of poll runs.
//
// Each run records one completed fetch (who was polled, when, over what
// window) together with the metric rows it returned. Runs are immutable:
// the store exposes insert and read operations only. Time-bucketed run
// counts for charting are computed here as well, since they are a plain
// GROUP BY over the run timestamps.
package history
