package datastore

import (
	"fmt"
	"io"
	"time"

	"github.com/VictoriaMetrics/metrics"

	"github.com/roach88/sdkstore/internal/store"
)

// Operation names used as metric and log labels.
const (
	opOpen      = "open"
	opClose     = "close"
	opNuke      = "nuke"
	opSetDevice = "set_device_record"
	opGetDevice = "get_device_record"
	opPutCache  = "put_cache_entries"
	opFindCache = "find_cache_entries"
	opInfo      = "info"
)

var metricSet = metrics.NewSet()

// observe records one operation outcome.
func observe(op string, start time.Time, err error) {
	code := "ok"
	if err != nil {
		code = store.CodeOf(err).String()
	}
	metricSet.GetOrCreateCounter(fmt.Sprintf(`sdkstore_operations_total{op=%q,code=%q}`, op, code)).Inc()
	metricSet.GetOrCreateHistogram(fmt.Sprintf(`sdkstore_operation_duration_seconds{op=%q}`, op)).UpdateDuration(start)
}

// OperationCount returns how many times op finished with the given code
// label ("ok" or a Code name) in this process.
func OperationCount(op, code string) uint64 {
	return metricSet.GetOrCreateCounter(fmt.Sprintf(`sdkstore_operations_total{op=%q,code=%q}`, op, code)).Get()
}

// WriteMetrics writes all datastore metrics in Prometheus text format.
func WriteMetrics(w io.Writer) {
	metricSet.WritePrometheus(w)
}
