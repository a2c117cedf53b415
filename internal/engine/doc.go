// Package engine runs a single claimed run to its next durable boundary:
// it resolves the run's handler from the registry, keeps its claim alive
// with a lease manager for the duration of the call, and applies the
// handler's outcome (complete, retry, terminal failure, or suspension)
// back through the datastore adapter.
package engine
