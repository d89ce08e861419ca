package services

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"ticketintel/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func plainTickets(n int) []models.Ticket {
	tickets := make([]models.Ticket, n)
	for i := range tickets {
		tickets[i] = models.Ticket{Title: fmt.Sprintf("ticket %d", i+1), Status: models.StatusOpen}
	}
	return tickets
}

// brokenSource 读取工单总是失败
type brokenSource struct {
	TicketSource
}

func (brokenSource) ListTickets(context.Context, TicketQuery) ([]models.Ticket, error) {
	return nil, NewDependencyUnavailable("list tickets", errors.New("dial tcp: connection refused"))
}

func TestBatchRunner_ChunksAndLimit(t *testing.T) {
	store := newTestStore(t)
	seedTickets(t, store, plainTickets(10))
	runner := NewBatchRunner(store, 3, quietLogger())

	var sizes []int
	var seen []uint
	res, err := runner.Run(context.Background(), BatchOptions{Operation: "test", Limit: 7}, func(_ context.Context, _ TicketSource, tickets []models.Ticket) (func(), error) {
		sizes = append(sizes, len(tickets))
		seen = append(seen, ticketIDs(tickets)...)
		return nil, nil
	})
	require.NoError(t, err)
	assert.Equal(t, []int{3, 3, 1}, sizes)
	assert.Equal(t, []uint{1, 2, 3, 4, 5, 6, 7}, seen)
	assert.Equal(t, 7, res.Processed)
	assert.Equal(t, 3, res.Chunks)
	assert.False(t, res.Cancelled)
}

func TestBatchRunner_ScopeFilters(t *testing.T) {
	store := newTestStore(t)
	tickets := plainTickets(6)
	tickets[1].Status = models.StatusClosed
	tickets[4].Status = models.StatusResolved
	seedTickets(t, store, tickets)
	runner := NewBatchRunner(store, 0, quietLogger())

	var seen []uint
	collect := func(_ context.Context, _ TicketSource, tickets []models.Ticket) (func(), error) {
		seen = append(seen, ticketIDs(tickets)...)
		return nil, nil
	}

	_, err := runner.Run(context.Background(), BatchOptions{OnlyOpen: true, DryRun: true}, collect)
	require.NoError(t, err)
	assert.Equal(t, []uint{1, 3, 4, 6}, seen)

	seen = nil
	_, err = runner.Run(context.Background(), BatchOptions{TicketIDs: []uint{5, 2}, DryRun: true}, collect)
	require.NoError(t, err)
	assert.Equal(t, []uint{2, 5}, seen)
}

func TestBatchRunner_CancelBetweenChunks(t *testing.T) {
	store := newTestStore(t)
	seedTickets(t, store, plainTickets(9))
	runner := NewBatchRunner(store, 2, quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	calls := 0
	res, err := runner.Run(ctx, BatchOptions{DryRun: true}, func(_ context.Context, _ TicketSource, tickets []models.Ticket) (func(), error) {
		calls++
		cancel()
		return nil, nil
	})
	require.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, res)
	assert.True(t, res.Cancelled)
	assert.Equal(t, 1, calls)
	assert.Equal(t, 2, res.Processed, "the chunk finished before cancellation is kept")
}

func TestBatchRunner_WriteFailureContinues(t *testing.T) {
	store := newTestStore(t)
	seedTickets(t, store, plainTickets(6))
	runner := NewBatchRunner(store, 2, quietLogger())

	committed := 0
	res, err := runner.Run(context.Background(), BatchOptions{}, func(ctx context.Context, src TicketSource, tickets []models.Ticket) (func(), error) {
		for _, tk := range tickets {
			if err := src.AssignTicket(ctx, tk.ID, 42); err != nil {
				return nil, err
			}
			if tk.ID == 3 {
				return nil, NewDependencyUnavailable("assign ticket", errors.New("deadlock detected"))
			}
		}
		n := len(tickets)
		return func() { committed += n }, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 4, res.Processed)
	assert.Equal(t, 4, committed)
	require.Len(t, res.Failures, 1)
	assert.Equal(t, 2, res.Failures[0].Chunk)
	assert.Equal(t, uint(3), res.Failures[0].FirstID)
	assert.Equal(t, uint(4), res.Failures[0].LastID)
	assert.Equal(t, KindDependencyUnavailable, res.Failures[0].Kind)

	var assigned []uint
	require.NoError(t, store.DB().Model(&models.Ticket{}).Where("assigned_to IS NOT NULL").Order("id").Pluck("id", &assigned).Error)
	assert.Equal(t, []uint{1, 2, 5, 6}, assigned, "chunk 2 must be rolled back")
}

func TestBatchRunner_FailureKeepsKind(t *testing.T) {
	store := newTestStore(t)
	seedTickets(t, store, plainTickets(4))
	runner := NewBatchRunner(store, 2, quietLogger())

	res, err := runner.Run(context.Background(), BatchOptions{}, func(_ context.Context, _ TicketSource, tickets []models.Ticket) (func(), error) {
		switch tickets[0].ID {
		case 1:
			return nil, NewNotFoundError("technician", map[string]any{"technician_id": 77})
		default:
			return nil, errors.New("unclassified")
		}
	})
	require.NoError(t, err)
	require.Len(t, res.Failures, 2)
	assert.Equal(t, KindNotFound, res.Failures[0].Kind)
	assert.Equal(t, KindDependencyUnavailable, res.Failures[1].Kind)

	errs := failureErrors(res.Failures)
	require.Len(t, errs, 2)
	assert.Equal(t, KindNotFound, errs[0].Kind)
	assert.Equal(t, 1, errs[0].Chunk)
	assert.Equal(t, KindDependencyUnavailable, errs[1].Kind)
	assert.Equal(t, 2, errs[1].Chunk)
}

func TestBatchRunner_ReadFailureStops(t *testing.T) {
	runner := NewBatchRunner(brokenSource{}, 10, quietLogger())

	called := false
	res, err := runner.Run(context.Background(), BatchOptions{DryRun: true}, func(context.Context, TicketSource, []models.Ticket) (func(), error) {
		called = true
		return nil, nil
	})
	require.Error(t, err)
	assert.True(t, IsKind(err, KindDependencyUnavailable))
	assert.False(t, called)
	require.Len(t, res.Failures, 1)
	assert.Equal(t, 1, res.Failures[0].Chunk)
	assert.Equal(t, KindDependencyUnavailable, res.Failures[0].Kind)
}

func TestValidateBatchOptions(t *testing.T) {
	assert.NoError(t, ValidateBatchOptions(0, 0))
	assert.True(t, IsKind(ValidateBatchOptions(-1, 0), KindValidation))
	assert.True(t, IsKind(ValidateBatchOptions(0, -5), KindValidation))
}
