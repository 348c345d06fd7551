// ABOUTME: Tests for engagement create, close and reopen operations.
// ABOUTME: Verifies status transitions and best-effort tracker notifications.

package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jfeddern/RiskGate/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type MockEngagementStore struct {
	engagements map[int64]*types.Engagement
	nextID      int64
	failSave    bool
}

func (m *MockEngagementStore) GetEngagement(ctx context.Context, id int64) (*types.Engagement, error) {
	e, ok := m.engagements[id]
	if !ok {
		return nil, types.ErrNotFound
	}
	clone := *e
	return &clone, nil
}

func (m *MockEngagementStore) CreateEngagement(ctx context.Context, engagement *types.Engagement) error {
	if m.engagements == nil {
		m.engagements = make(map[int64]*types.Engagement)
	}
	m.nextID++
	engagement.ID = m.nextID
	clone := *engagement
	m.engagements[engagement.ID] = &clone
	return nil
}

func (m *MockEngagementStore) SaveEngagement(ctx context.Context, engagement *types.Engagement) error {
	if m.failSave {
		return errors.New("save failed")
	}
	clone := *engagement
	m.engagements[engagement.ID] = &clone
	return nil
}

type MockTracker struct {
	closed      []types.TrackerLink
	shouldError bool
}

func (m *MockTracker) CloseEpic(ctx context.Context, link types.TrackerLink) error {
	m.closed = append(m.closed, link)
	if m.shouldError {
		return errors.New("tracker unavailable")
	}
	return nil
}

func lifecycleEngine(store *MockEngagementStore, tracker *MockTracker, writer *MockResultWriter) *Engine {
	findings := []types.Finding{{ID: 1, Severity: types.SeverityHigh, Active: true}}
	source := &MockFindingSource{findings: map[int64][]types.Finding{1: findings}}
	opts := []Option{WithEngagementStore(store)}
	if tracker != nil {
		opts = append(opts, WithTracker(tracker))
	}
	return NewEngine(source, &MockPolicyResolver{policy: defaultPolicy()}, writer, testLogger(), opts...)
}

func TestCreateEngagementDefaultsName(t *testing.T) {
	store := &MockEngagementStore{}
	engine := lifecycleEngine(store, nil, &MockResultWriter{})

	engagement := &types.Engagement{TargetStart: time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)}
	require.NoError(t, engine.CreateEngagement(context.Background(), engagement))

	stored := store.engagements[engagement.ID]
	assert.Equal(t, "2025-06-02", stored.Name)
	assert.Equal(t, types.StatusNotStarted, stored.Status)
}

func TestCloseEngagement(t *testing.T) {
	link := &types.TrackerLink{Provider: "github", Project: "acme/webshop", Issue: 12}

	t.Run("closes and notifies tracker", func(t *testing.T) {
		store := &MockEngagementStore{engagements: map[int64]*types.Engagement{
			1: {ID: 1, Active: true, Status: types.StatusInProgress, TrackerLink: link},
		}}
		tracker := &MockTracker{}
		engine := lifecycleEngine(store, tracker, &MockResultWriter{})

		engagement, err := engine.CloseEngagement(context.Background(), 1)
		require.NoError(t, err)
		assert.False(t, engagement.Active)
		assert.Equal(t, types.StatusCompleted, engagement.Status)
		assert.False(t, store.engagements[1].Active)
		assert.Equal(t, types.StatusCompleted, store.engagements[1].Status)
		assert.Equal(t, []types.TrackerLink{*link}, tracker.closed)
	})

	t.Run("tracker failure does not undo close", func(t *testing.T) {
		store := &MockEngagementStore{engagements: map[int64]*types.Engagement{
			1: {ID: 1, Active: true, Status: types.StatusInProgress, TrackerLink: link},
		}}
		tracker := &MockTracker{shouldError: true}
		engine := lifecycleEngine(store, tracker, &MockResultWriter{})

		engagement, err := engine.CloseEngagement(context.Background(), 1)
		require.NoError(t, err)
		assert.Equal(t, types.StatusCompleted, engagement.Status)
		assert.Equal(t, types.StatusCompleted, store.engagements[1].Status)
		assert.Len(t, tracker.closed, 1)
	})

	t.Run("no tracker link", func(t *testing.T) {
		store := &MockEngagementStore{engagements: map[int64]*types.Engagement{
			1: {ID: 1, Active: true, Status: types.StatusInProgress},
		}}
		tracker := &MockTracker{}
		engine := lifecycleEngine(store, tracker, &MockResultWriter{})

		_, err := engine.CloseEngagement(context.Background(), 1)
		require.NoError(t, err)
		assert.Empty(t, tracker.closed)
	})

	t.Run("unknown engagement", func(t *testing.T) {
		engine := lifecycleEngine(&MockEngagementStore{}, nil, &MockResultWriter{})

		_, err := engine.CloseEngagement(context.Background(), 99)
		assert.ErrorIs(t, err, types.ErrNotFound)
	})

	t.Run("save failure skips tracker", func(t *testing.T) {
		store := &MockEngagementStore{
			engagements: map[int64]*types.Engagement{1: {ID: 1, Active: true, TrackerLink: link}},
			failSave:    true,
		}
		tracker := &MockTracker{}
		engine := lifecycleEngine(store, tracker, &MockResultWriter{})

		_, err := engine.CloseEngagement(context.Background(), 1)
		assert.Error(t, err)
		assert.Empty(t, tracker.closed)
	})
}

func TestReopenEngagement(t *testing.T) {
	store := &MockEngagementStore{engagements: map[int64]*types.Engagement{
		1: {ID: 1, Active: false, Status: types.StatusCompleted, TrackerLink: &types.TrackerLink{Provider: "gitlab", Project: "1", Issue: 3}},
	}}
	tracker := &MockTracker{}
	engine := lifecycleEngine(store, tracker, &MockResultWriter{})

	engagement, err := engine.ReopenEngagement(context.Background(), 1)
	require.NoError(t, err)
	assert.True(t, engagement.Active)
	assert.Equal(t, types.StatusInProgress, engagement.Status)
	assert.Empty(t, tracker.closed)
}

func TestLifecycleDoesNotTouchResidualRisk(t *testing.T) {
	store := &MockEngagementStore{engagements: map[int64]*types.Engagement{
		1: {ID: 1, Active: true, Status: types.StatusInProgress},
	}}
	writer := &MockResultWriter{}
	engine := lifecycleEngine(store, nil, writer)

	_, err := engine.Validate(context.Background(), 1)
	require.NoError(t, err)
	before := writer.scores[1]

	_, err = engine.CloseEngagement(context.Background(), 1)
	require.NoError(t, err)
	_, err = engine.ReopenEngagement(context.Background(), 1)
	require.NoError(t, err)

	assert.Equal(t, 1, writer.saveCalls)
	assert.Equal(t, before, writer.scores[1])
}

func TestLifecycleWithoutStore(t *testing.T) {
	engine := NewEngine(&MockFindingSource{}, &MockPolicyResolver{}, &MockResultWriter{}, testLogger())

	_, err := engine.CloseEngagement(context.Background(), 1)
	assert.ErrorIs(t, err, ErrLifecycleUnavailable)
	_, err = engine.ReopenEngagement(context.Background(), 1)
	assert.ErrorIs(t, err, ErrLifecycleUnavailable)
	assert.ErrorIs(t, engine.CreateEngagement(context.Background(), &types.Engagement{}), ErrLifecycleUnavailable)
}
