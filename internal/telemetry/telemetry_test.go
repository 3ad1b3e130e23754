package telemetry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestStatusClass_BucketsByHundreds(t *testing.T) {
	require.Equal(t, "2xx", StatusClass(200))
	require.Equal(t, "2xx", StatusClass(201))
	require.Equal(t, "3xx", StatusClass(304))
	require.Equal(t, "4xx", StatusClass(404))
	require.Equal(t, "5xx", StatusClass(503))
}

func TestObserveTaskTerminal_IncrementsCountersAndHistogram(t *testing.T) {
	before := testutil.ToFloat64(TasksCompletedTotal.WithLabelValues("background-remove", "success"))
	ObserveTaskTerminal("background-remove", "success", 250*time.Millisecond)
	after := testutil.ToFloat64(TasksCompletedTotal.WithLabelValues("background-remove", "success"))
	require.Equal(t, before+1, after)
}
