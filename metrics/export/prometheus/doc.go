// Package prometheus renders authcore metrics in Prometheus text
// exposition format.
//
// Counters are named authcore_*_total; the single histogram is
// authcore_access_token_verify_latency_seconds. Callers mount
// [Exporter.Handler] themselves; nothing is registered globally.
package prometheus
