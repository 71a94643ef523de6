package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollector_Counters(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := NewCollector("test", reg)
	require.NoError(t, err)

	c.ObserveSample("T", "udp", 50*time.Microsecond)
	c.ObserveSample("T", "udp", 70*time.Microsecond)
	c.ObserveDuplicate("T")
	c.ObserveReordered("T")
	c.AddDrops("T", 3)
	c.AddDrops("T", 0)
	c.ObserveDecodeFailure("udp")
	c.SetPublishers("T", 2)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.samples.WithLabelValues("T", "udp")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.duplicates.WithLabelValues("T")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.reordered.WithLabelValues("T")))
	assert.Equal(t, 3.0, testutil.ToFloat64(c.drops.WithLabelValues("T")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.decodeFailures.WithLabelValues("udp")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.connections.WithLabelValues("T")))
}

func TestCollector_ReRegisterReusesExisting(t *testing.T) {
	reg := prometheus.NewRegistry()
	a, err := NewCollector("test", reg)
	require.NoError(t, err)
	b, err := NewCollector("test", reg)
	require.NoError(t, err)

	a.ObserveDuplicate("T")
	b.ObserveDuplicate("T")
	assert.Equal(t, 2.0, testutil.ToFloat64(a.duplicates.WithLabelValues("T")))
}

func TestCollector_NilSafe(t *testing.T) {
	var c *Collector
	assert.NotPanics(t, func() {
		c.ObserveSample("T", "udp", time.Millisecond)
		c.ObserveDuplicate("T")
		c.ObserveReordered("T")
		c.AddDrops("T", 1)
		c.ObserveDecodeFailure("x")
		c.SetPublishers("T", 1)
	})
}
