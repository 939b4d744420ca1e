package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// The multiset of emitted readings in one flush equals the multiset
// of record calls since the previous flush, with each reading
// carrying its own event time.
func TestEventGauge_EmitsOneReadingPerEventWithOwnTimestamp(t *testing.T) {
	tags := mustTagSet(t, map[string]string{"h": "1"})
	g := NewEventGauge("deploys", "count", "d", tags)

	t1 := time.Date(2024, 1, 1, 0, 0, 1, 0, time.UTC)
	t2 := time.Date(2024, 1, 1, 0, 0, 2, 0, time.UTC)
	g.RecordAt(1, t1)
	g.RecordAt(2, t2)

	var batch recordingBatch
	g.WriteReadings(&batch, time.Now())
	require.Len(t, batch.readings, 2)

	byValue := map[float64]time.Time{}
	for _, r := range batch.readings {
		byValue[r.Value()] = r.Timestamp()
		assert.Equal(t, MetricTypeGauge, r.Type())
	}
	assert.Equal(t, t1, byValue[1])
	assert.Equal(t, t2, byValue[2])

	batch.readings = nil
	g.WriteReadings(&batch, time.Now())
	assert.Empty(t, batch.readings, "bag is swapped, not accumulated")
}

func TestEventGauge_SwappedBagRetainsCapacity(t *testing.T) {
	tags := mustTagSet(t, map[string]string{"h": "1"})
	g := NewEventGauge("x", "u", "d", tags)
	for i := 0; i < 4; i++ {
		g.Record(float64(i))
	}
	var batch recordingBatch
	g.WriteReadings(&batch, time.Now())
	require.Len(t, batch.readings, 4)

	g.mu.Lock()
	reused := cap(g.samples) > 0
	g.mu.Unlock()
	assert.True(t, reused)
}
