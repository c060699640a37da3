// Package metrics exposes Prometheus metrics about arbitration decisions.
package metrics
