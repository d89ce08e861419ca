package services

import (
	"context"
	"errors"

	"ticketintel/internal/models"
)

// ErrCircuitOpen 熔断期间快速失败
var ErrCircuitOpen = errors.New("circuit breaker open")

// GuardedSource 在 TicketSource 外包一层熔断器
type GuardedSource struct {
	inner   TicketSource
	breaker *CircuitBreaker
}

// NewGuardedSource 创建带熔断的工单存储
func NewGuardedSource(inner TicketSource, breaker *CircuitBreaker) *GuardedSource {
	return &GuardedSource{inner: inner, breaker: breaker}
}

// Breaker 底层熔断器
func (g *GuardedSource) Breaker() *CircuitBreaker {
	return g.breaker
}

func guard[T any](g *GuardedSource, op string, call func() (T, error)) (T, error) {
	var zero T
	if !g.breaker.Allow() {
		return zero, NewDependencyUnavailable(op, ErrCircuitOpen)
	}
	v, err := call()
	g.breaker.Record(err)
	return v, err
}

func guardErr(g *GuardedSource, op string, call func() error) error {
	_, err := guard(g, op, func() (struct{}, error) { return struct{}{}, call() })
	return err
}

func (g *GuardedSource) ListTickets(ctx context.Context, q TicketQuery) ([]models.Ticket, error) {
	return guard(g, "list tickets", func() ([]models.Ticket, error) { return g.inner.ListTickets(ctx, q) })
}

func (g *GuardedSource) ExistingTicketIDs(ctx context.Context, ids []uint) ([]uint, error) {
	return guard(g, "lookup tickets", func() ([]uint, error) { return g.inner.ExistingTicketIDs(ctx, ids) })
}

func (g *GuardedSource) ListRules(ctx context.Context) ([]models.AssignmentRule, error) {
	return guard(g, "list rules", func() ([]models.AssignmentRule, error) { return g.inner.ListRules(ctx) })
}

func (g *GuardedSource) ListLabels(ctx context.Context) ([]models.Label, error) {
	return guard(g, "list labels", func() ([]models.Label, error) { return g.inner.ListLabels(ctx) })
}

func (g *GuardedSource) ListSuggestions(ctx context.Context, ticketIDs []uint) ([]models.LabelSuggestion, error) {
	return guard(g, "list suggestions", func() ([]models.LabelSuggestion, error) {
		return g.inner.ListSuggestions(ctx, ticketIDs)
	})
}

func (g *GuardedSource) GetSuggestion(ctx context.Context, id uint) (*models.LabelSuggestion, error) {
	return guard(g, "get suggestion", func() (*models.LabelSuggestion, error) { return g.inner.GetSuggestion(ctx, id) })
}

func (g *GuardedSource) ListClusterAssignments(ctx context.Context, ticketIDs []uint) ([]models.ClusterAssignment, error) {
	return guard(g, "list clusters", func() ([]models.ClusterAssignment, error) {
		return g.inner.ListClusterAssignments(ctx, ticketIDs)
	})
}

func (g *GuardedSource) ListAlerts(ctx context.Context, ticketIDs []uint) ([]models.SLAAlert, error) {
	return guard(g, "list alerts", func() ([]models.SLAAlert, error) { return g.inner.ListAlerts(ctx, ticketIDs) })
}

func (g *GuardedSource) AssignTicket(ctx context.Context, ticketID, technicianID uint) error {
	return guardErr(g, "assign ticket", func() error { return g.inner.AssignTicket(ctx, ticketID, technicianID) })
}

func (g *GuardedSource) ApplySuggestionPlan(ctx context.Context, plan SuggestionPlan) error {
	return guardErr(g, "apply suggestions", func() error { return g.inner.ApplySuggestionPlan(ctx, plan) })
}

func (g *GuardedSource) SaveSuggestionStatus(ctx context.Context, s *models.LabelSuggestion) error {
	return guardErr(g, "save suggestion", func() error { return g.inner.SaveSuggestionStatus(ctx, s) })
}

func (g *GuardedSource) AddTicketLabel(ctx context.Context, label *models.TicketLabel) error {
	return guardErr(g, "add ticket label", func() error { return g.inner.AddTicketLabel(ctx, label) })
}

func (g *GuardedSource) ReplaceClusterAssignments(ctx context.Context, scope []uint, assignments []models.ClusterAssignment) error {
	return guardErr(g, "replace clusters", func() error { return g.inner.ReplaceClusterAssignments(ctx, scope, assignments) })
}

func (g *GuardedSource) SaveAlert(ctx context.Context, alert *models.SLAAlert) error {
	return guardErr(g, "save alert", func() error { return g.inner.SaveAlert(ctx, alert) })
}

func (g *GuardedSource) DeleteAlert(ctx context.Context, ticketID uint) error {
	return guardErr(g, "delete alert", func() error { return g.inner.DeleteAlert(ctx, ticketID) })
}

func (g *GuardedSource) RecordRun(ctx context.Context, run *models.EngineRun) error {
	return guardErr(g, "record run", func() error { return g.inner.RecordRun(ctx, run) })
}

// Transaction 整个事务按一次调用计入熔断统计，事务内部直接使用底层存储
func (g *GuardedSource) Transaction(ctx context.Context, fn func(tx TicketSource) error) error {
	return guardErr(g, "transaction", func() error { return g.inner.Transaction(ctx, fn) })
}
