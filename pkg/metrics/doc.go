// Package metrics exposes peek's own Prometheus metrics.
//
// Each Metrics value owns a private registry so several inspectors (and
// tests) can live in one process without duplicate-registration panics.
// All methods are safe on a nil *Metrics, which turns them into no-ops.
//
// # Metrics
//
//   - peek_captured_total{method,status}: records finalised into the buffer
//   - peek_capture_duration_seconds{method}: durationMs of finalised records
//   - peek_capture_errors_total: capture steps that set Record.Error
//   - peek_buffer_evictions_total: records evicted from the ring buffer
//   - peek_pending_records: in-flight records
//   - peek_subscribers: live event-stream subscribers
//   - peek_ws_messages_total{direction,kind}: WebSocket messages observed
//   - peek_cache_ops_total{op,result}: cache operations observed
//   - peek_replays_total{outcome}: replay attempts
//   - peek_persist_failures_total: background persistence failures
package metrics
