package monitoring

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/costar-cli/internal/cost"
	"github.com/sells-group/costar-cli/internal/model"
)

// mockStore serves runs from memory, honoring the Since filter.
type mockStore struct {
	runs    []model.Run
	listErr error
	filters []model.RunFilter
}

func (m *mockStore) ListRuns(_ context.Context, filter model.RunFilter) ([]model.Run, error) {
	m.filters = append(m.filters, filter)
	if m.listErr != nil {
		return nil, m.listErr
	}
	var filtered []model.Run
	for _, r := range m.runs {
		if !filter.Since.IsZero() && r.CreatedAt.Before(filter.Since) {
			continue
		}
		filtered = append(filtered, r)
	}
	return filtered, nil
}

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestCollector(st RunLister) *Collector {
	c := NewCollector(st)
	c.nowFunc = func() time.Time { return testNow }
	return c
}

func TestCollector_Collect(t *testing.T) {
	st := &mockStore{runs: []model.Run{
		{
			Status:    model.RunStatusComplete,
			CreatedAt: testNow.Add(-time.Hour),
			Result: &model.RunResult{
				PropertiesProcessed: 100, Failures: 5, Contacts: 40,
				Calls: map[string]int64{cost.OpSearchPage: 1, cost.OpDetail: 100},
			},
		},
		{
			Status:    model.RunStatusFailed,
			CreatedAt: testNow.Add(-2 * time.Hour),
			Result: &model.RunResult{
				PropertiesProcessed: 100, Failures: 15, Contacts: 10,
				Calls: map[string]int64{cost.OpDetail: 100},
			},
		},
		{Status: model.RunStatusRunning, CreatedAt: testNow.Add(-time.Minute)},
		// Outside the window.
		{Status: model.RunStatusFailed, CreatedAt: testNow.Add(-48 * time.Hour)},
	}}

	snap, err := newTestCollector(st).Collect(context.Background(), 24)

	require.NoError(t, err)
	assert.Equal(t, 3, snap.RunsTotal)
	assert.Equal(t, 1, snap.RunsComplete)
	assert.Equal(t, 1, snap.RunsFailed)
	assert.Equal(t, 1, snap.RunsRunning)
	assert.InDelta(t, 0.5, snap.RunFailRate, 1e-9)
	assert.Equal(t, 200, snap.PropertiesProcessed)
	assert.Equal(t, 20, snap.PropertyFailures)
	assert.InDelta(t, 0.1, snap.PropertyFailRate, 1e-9)
	assert.InDelta(t, 0.25, snap.ContactsPerProperty, 1e-9)
	assert.Equal(t, int64(201), snap.APICalls)
	assert.Equal(t, int64(200), snap.CallsByOperation[cost.OpDetail])
	assert.Equal(t, testNow, snap.CollectedAt)

	require.Len(t, st.filters, 1)
	assert.Equal(t, testNow.Add(-24*time.Hour), st.filters[0].Since)
}

func TestCollector_Empty(t *testing.T) {
	snap, err := newTestCollector(&mockStore{}).Collect(context.Background(), 24)

	require.NoError(t, err)
	assert.Zero(t, snap.RunsTotal)
	assert.Zero(t, snap.RunFailRate)
	assert.Zero(t, snap.PropertyFailRate)
}

func TestCollector_ListError(t *testing.T) {
	_, err := newTestCollector(&mockStore{listErr: errors.New("db down")}).Collect(context.Background(), 24)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "monitoring: list runs")
}
