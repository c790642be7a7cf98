package internal

import (
	"context"
	"strconv"
	"sync"
)

// Telemetry hook layer. Callers register an emitter (the prometheus emitter in
// metrics.go, or a test stub); the default emitter drops everything.

type telemetryEmitter func(ctx context.Context, name string, labels map[string]string, value any)

// Metric names passed to the emitter.
const (
	MetricCacheRead      = "cache_read_total"
	MetricMirrorFailure  = "mirror_failure_total"
	MetricCircuitEnabled = "circuit_cache_enabled"
	MetricThrottleDelay  = "throttle_delay_ms"
	MetricRestoreRecords = "restore_records_total"
	MetricBackupRecords  = "backup_records"
	MetricSearchLatency  = "search_latency_ms"
)

// Cache read outcomes.
const (
	ReadHit      = "hit"
	ReadMiss     = "miss"
	ReadError    = "error"
	ReadDisabled = "disabled"
	ReadRefresh  = "refresh"
)

var (
	teleMu   sync.Mutex
	teleImpl telemetryEmitter = func(ctx context.Context, name string, labels map[string]string, value any) {}
)

// RegisterTelemetryEmitter installs fn as the process-wide emitter. A nil fn
// restores the no-op emitter.
func RegisterTelemetryEmitter(fn telemetryEmitter) {
	teleMu.Lock()
	defer teleMu.Unlock()
	if fn == nil {
		teleImpl = func(ctx context.Context, name string, labels map[string]string, value any) {}
		return
	}
	teleImpl = fn
}

func emit(ctx context.Context, name string, labels map[string]string, value any) {
	teleMu.Lock()
	fn := teleImpl
	teleMu.Unlock()
	fn(ctx, name, labels, value)
}

// EmitCacheRead records how a read was served.
func EmitCacheRead(ctx context.Context, entity, outcome string) {
	emit(ctx, MetricCacheRead, map[string]string{"entity": entity, "outcome": outcome}, int64(1))
}

// EmitMirrorFailure records a swallowed Cache mirror failure.
func EmitMirrorFailure(ctx context.Context, entity, op string) {
	emit(ctx, MetricMirrorFailure, map[string]string{"entity": entity, "op": op}, int64(1))
}

// EmitCircuitState records the breaker state (1 enabled, 0 disabled).
func EmitCircuitState(enabled bool) {
	v := int64(0)
	if enabled {
		v = 1
	}
	emit(context.Background(), MetricCircuitEnabled, nil, v)
}

// EmitThrottleDelay records the shared pacing delay in milliseconds.
func EmitThrottleDelay(ms int64) {
	emit(context.Background(), MetricThrottleDelay, nil, ms)
}

// EmitRestoreRecord records one restore write outcome ("restored" or "failed").
func EmitRestoreRecord(ctx context.Context, entity, outcome string) {
	emit(ctx, MetricRestoreRecords, map[string]string{"entity": entity, "outcome": outcome}, int64(1))
}

// EmitBackupRecords records how many records one entity contributed to a backup.
func EmitBackupRecords(ctx context.Context, entity string, n int) {
	emit(ctx, MetricBackupRecords, map[string]string{"entity": entity}, int64(n))
}

// EmitSearchLatency records a prefix search latency.
func EmitSearchLatency(ctx context.Context, entity string, ms int64, hits int) {
	emit(ctx, MetricSearchLatency, map[string]string{"entity": entity, "found": strconv.FormatBool(hits > 0)}, ms)
}
