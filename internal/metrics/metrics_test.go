package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCollector(t *testing.T) (*Collector, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	return NewCollector(reg), reg
}

func TestCollector_RecordOutcomeIncrementsCounter(t *testing.T) {
	c, _ := newTestCollector(t)
	c.RecordOutcome("allowed")
	c.RecordOutcome("allowed")
	c.RecordOutcome("rejected")

	assert.Equal(t, float64(2), testutil.ToFloat64(c.requestsTotal.WithLabelValues("allowed")))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.requestsTotal.WithLabelValues("rejected")))
}

func TestCollector_RecordErrorIncrementsCounter(t *testing.T) {
	c, _ := newTestCollector(t)
	c.RecordError("quota", "storage_query_failed")

	assert.Equal(t, float64(1), testutil.ToFloat64(c.errorsTotal.WithLabelValues("quota", "storage_query_failed")))
}

func TestCollector_SetQuotaUsageReportsGauge(t *testing.T) {
	c, _ := newTestCollector(t)
	c.SetQuotaUsage("bandwidth", 0.75)

	assert.Equal(t, 0.75, testutil.ToFloat64(c.quotaUsage.WithLabelValues("bandwidth")))
}

func TestCollector_SetConcurrencyInUseReportsGauge(t *testing.T) {
	c, _ := newTestCollector(t)
	c.SetConcurrencyInUse("rule-1", 3)

	assert.Equal(t, float64(3), testutil.ToFloat64(c.concurrencyInUse.WithLabelValues("rule-1")))
}

func TestCollector_CheckTimerObservesDuration(t *testing.T) {
	c, _ := newTestCollector(t)
	timer := c.NewCheckTimer("allowed")
	time.Sleep(time.Millisecond)
	timer.Stop()

	assert.Equal(t, uint64(1), testutil.CollectAndCount(c.checkDuration))
}

func TestCollector_TwoCollectorsOnSeparateRegistriesDoNotCollide(t *testing.T) {
	_, reg1 := newTestCollector(t)
	_, reg2 := newTestCollector(t)
	require.NotSame(t, reg1, reg2)
}
