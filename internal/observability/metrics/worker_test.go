package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/josephwmusso/IntraNest/internal/core/domain"
)

func TestWorkerMetricsRecordsLifecycle(t *testing.T) {
	m := NewWorkerMetrics("worker")

	m.StartDocument()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.processInFlight))

	m.ObserveChunkInsert(true)
	m.ObserveChunkInsert(true)
	m.ObserveChunkInsert(false)
	m.FinishDocument(domain.StatusCompleted, 2*time.Second)

	assert.Equal(t, 0.0, testutil.ToFloat64(m.processInFlight))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.processTotal.WithLabelValues("worker", "completed")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.chunkInsertTotal.WithLabelValues("worker", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.chunkInsertTotal.WithLabelValues("worker", "error")))
}

func TestSharedRegistryExposesQueueDepth(t *testing.T) {
	httpMetrics := NewHTTPServerMetrics("api")
	m := NewWorkerMetricsWithRegistry("api", httpMetrics.Registry(), httpMetrics.Registry())
	m.RegisterQueueDepth(func() int { return 3 })

	families, err := httpMetrics.Registry().Gather()
	require.NoError(t, err)

	var found bool
	for _, family := range families {
		if family.GetName() == "intranest_worker_queue_depth" {
			found = true
			assert.Equal(t, 3.0, family.GetMetric()[0].GetGauge().GetValue())
		}
	}
	assert.True(t, found, "queue depth gauge not registered")
}
