// Package observability provides structured logging and Prometheus metrics
// for the experiment engine and its collaborators.
package observability
