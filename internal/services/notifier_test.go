package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"ticketintel/internal/models"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogNotifier(t *testing.T) {
	logger, hook := test.NewNullLogger()
	n := NewLogNotifier(logger)

	err := n.Notify(context.Background(), []AlertSnapshot{
		{TicketID: 4, Severity: models.SeverityBreach, PreviousSeverity: models.SeverityWarning, Priority: models.PriorityHigh},
	})
	require.NoError(t, err)
	require.Len(t, hook.Entries, 1)
	entry := hook.LastEntry()
	assert.Equal(t, logrus.WarnLevel, entry.Level)
	assert.Equal(t, "SLA alert raised", entry.Message)
	assert.Equal(t, uint(4), entry.Data["ticket_id"])
	assert.Equal(t, models.SeverityBreach, entry.Data["severity"])
}

func TestMultiNotifier(t *testing.T) {
	ok := &recordingNotifier{}
	failing := &recordingNotifier{err: errors.New("broker down")}
	m := MultiNotifier{failing, nil, ok}

	err := m.Notify(context.Background(), []AlertSnapshot{{TicketID: 1}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker down")
	assert.Equal(t, 1, ok.calls, "a failing sink must not block the others")
	assert.Equal(t, 1, failing.calls)

	assert.NoError(t, MultiNotifier{ok}.Notify(context.Background(), nil))
}

func TestNoopLocker(t *testing.T) {
	l := NoopLocker()
	release, err := l.Acquire(context.Background(), OperationSLA)
	require.NoError(t, err)
	release()

	// 不做互斥
	release2, err := l.Acquire(context.Background(), OperationSLA)
	require.NoError(t, err)
	release2()
}

// busyLocker 模拟其它进程正在运行
type busyLocker struct{}

func (busyLocker) Acquire(_ context.Context, operation string) (func(), error) {
	return nil, NewInvalidStateError("another run of this operation is in progress", map[string]any{"operation": operation})
}

func TestServices_LockConflict(t *testing.T) {
	store := newTestStore(t)
	cfg := testEngineConfig()
	ctx := context.Background()

	_, err := NewSuggestionService(store, cfg, busyLocker{}, quietLogger()).Recompute(ctx, RecomputeOptions{})
	assert.True(t, IsKind(err, KindInvalidState))

	_, err = NewAssignmentService(store, cfg, busyLocker{}, quietLogger()).Recompute(ctx, ScopeOptions{})
	assert.True(t, IsKind(err, KindInvalidState))

	_, err = NewClusterService(store, cfg, busyLocker{}, quietLogger()).Retrain(ctx, RetrainOptions{})
	assert.True(t, IsKind(err, KindInvalidState))

	// dry-run 不需要加锁
	_, err = NewSLAService(store, cfg, busyLocker{}, nil, quietLogger()).Evaluate(ctx, EvaluateOptions{DryRun: true})
	assert.NoError(t, err)
}

func TestScheduler_StopsWithContext(t *testing.T) {
	store := newTestStore(t)
	cfg := testEngineConfig()
	cfg.SLA.Interval = 10 * time.Millisecond
	cfg.Suggestions.Interval = 10 * time.Millisecond

	sla := NewSLAService(store, cfg, nil, &recordingNotifier{}, quietLogger())
	suggestions := NewSuggestionService(store, cfg, nil, quietLogger())
	s := NewScheduler(sla, suggestions, cfg, quietLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop after context cancellation")
	}

	var runs int64
	require.NoError(t, store.DB().Model(&models.EngineRun{}).Count(&runs).Error)
	assert.Greater(t, runs, int64(0))
}
