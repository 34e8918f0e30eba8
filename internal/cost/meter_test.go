package cost

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMeter_Counts(t *testing.T) {
	t.Parallel()

	m := NewMeter()
	m.Inc(OpDetail)
	m.Inc(OpDetail)
	m.Add(OpSearchPage, 3)

	assert.Equal(t, int64(2), m.Count(OpDetail))
	assert.Equal(t, int64(3), m.Count(OpSearchPage))
	assert.Equal(t, int64(0), m.Count(OpParcelPins))
	assert.Equal(t, int64(5), m.Total())
	assert.Equal(t, []string{OpDetail, OpSearchPage}, m.Operations())
}

func TestMeter_Since(t *testing.T) {
	t.Parallel()

	m := NewMeter()
	m.Inc(OpDetail)
	before := m.Snapshot()
	m.Inc(OpDetail)
	m.Inc(OpParcelDetail)

	assert.Equal(t, map[string]int64{OpDetail: 1, OpParcelDetail: 1}, m.Since(before))
}

func TestMeter_NilSafe(t *testing.T) {
	t.Parallel()

	var m *Meter
	m.Inc(OpDetail)
	assert.Equal(t, int64(0), m.Count(OpDetail))
	assert.Empty(t, m.Snapshot())
}

func TestMeter_Concurrent(t *testing.T) {
	t.Parallel()

	m := NewMeter()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.Inc(OpGraphQL)
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(50), m.Count(OpGraphQL))
}
