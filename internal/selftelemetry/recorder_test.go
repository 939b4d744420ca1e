package selftelemetry

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

func TestRecorder_ObserveSendIncrementsBytesAndDuration(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := NewRecorder(reg)
	r.ObserveSend("bosun", "counter", 128, 0.01, nil)

	families, err := reg.Gather()
	require.NoError(t, err)
	require.NotEmpty(t, families)

	var bytesFamily *dto.MetricFamily
	for _, f := range families {
		if f.GetName() == "metricpipe_bytes_shipped_total" {
			bytesFamily = f
		}
	}
	require.NotNil(t, bytesFamily)
	require.Len(t, bytesFamily.GetMetric(), 1)
	require.Equal(t, float64(128), bytesFamily.GetMetric()[0].GetCounter().GetValue())
}

func TestRecorder_ObserveSendWithErrorIncrementsFlushErrors(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := NewRecorder(reg)
	r.ObserveSend("datadog", "gauge", 0, 0.01, assertErr{})

	families, err := reg.Gather()
	require.NoError(t, err)
	var found bool
	for _, f := range families {
		if f.GetName() == "metricpipe_flush_errors_total" {
			found = true
			require.Equal(t, float64(1), f.GetMetric()[0].GetCounter().GetValue())
		}
	}
	require.True(t, found)
}

func TestRecorder_NilRecorderIsANoOp(t *testing.T) {
	var r *Recorder
	r.ObserveSend("x", "y", 1, 1, nil)
	r.ObserveQueueFull("x", "y")
	r.SetBufferedItems("x", 1)
}

type assertErr struct{}

func (assertErr) Error() string { return "boom" }
