package icechunk

import (
	"context"
	"errors"
	"time"

	"github.com/quantarax/icechunk/internal/obsmetrics"
	"github.com/quantarax/icechunk/transport"
)

// recordFetch updates m's fetch counters and latency histogram for kind. A
// nil m is a no-op, so call sites never need to guard on Metrics being set.
func recordFetch(m *obsmetrics.Metrics, kind string, d time.Duration, err error) {
	if m == nil {
		return
	}
	status := obsmetrics.StatusOK
	switch {
	case errors.Is(err, context.Canceled) || isCancelledError(err):
		status = obsmetrics.StatusCancelled
	case err != nil:
		status = obsmetrics.StatusError
	}
	m.FetchesTotal.WithLabelValues(kind, status).Inc()
	m.FetchDuration.WithLabelValues(kind).Observe(d.Seconds())
}

func isCancelledError(err error) bool {
	var ce *transport.CancelledError
	return errors.As(err, &ce)
}

// recordBytesFetched adds n to m's per-kind bytes-fetched counter. A nil m
// is a no-op.
func recordBytesFetched(m *obsmetrics.Metrics, kind string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.BytesFetchedTotal.WithLabelValues(kind).Add(float64(n))
}

// recordDecodeError increments m's decode-error counter for kind when err
// is non-nil. A nil m is a no-op.
func recordDecodeError(m *obsmetrics.Metrics, kind string, err error) {
	if m == nil || err == nil {
		return
	}
	m.DecodeErrorsTotal.WithLabelValues(kind).Inc()
}
