package services

import (
	"context"
	"time"

	"ticketintel/internal/config"
	"ticketintel/internal/metrics"
	"ticketintel/internal/models"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// AssignmentService 按规则自动分配技术员
type AssignmentService struct {
	source TicketSource
	runner *BatchRunner
	locker RunLocker
	logger *logrus.Logger
	tracer trace.Tracer
}

// NewAssignmentService 创建自动分配服务
func NewAssignmentService(source TicketSource, cfg config.EngineConfig, locker RunLocker, logger *logrus.Logger) *AssignmentService {
	if logger == nil {
		logger = logrus.New()
	}
	if locker == nil {
		locker = NoopLocker()
	}
	return &AssignmentService{
		source: source,
		runner: NewBatchRunner(source, cfg.Batch.ChunkSize, logger),
		locker: locker,
		logger: logger,
		tracer: otel.Tracer("ticketintel.assignments"),
	}
}

// ScopeOptions 分配范围
type ScopeOptions struct {
	OnlyOpen  bool   `json:"only_open"`
	TicketIDs []uint `json:"ticket_ids"`
	Limit     int    `json:"limit"`
	ChunkSize int    `json:"chunk_size"`
	DryRun    bool   `json:"dry_run"`
}

// AssignmentReport 分配报告
type AssignmentReport struct {
	RunID               string         `json:"run_id,omitempty"`
	Processed           int            `json:"processed"`
	Assigned            int            `json:"assigned"`             // 技术员发生变化的工单数
	UnassignedRemaining int            `json:"unassigned_remaining"` // 无规则命中且仍未分配
	DryRun              bool           `json:"dry_run"`
	Cancelled           bool           `json:"cancelled,omitempty"`
	DurationSeconds     float64        `json:"duration_seconds"`
	ChunkFailures       []ChunkFailure `json:"chunk_failures,omitempty"`
	Errors              []ReportError  `json:"errors,omitempty"`
}

// AssignmentResult 单个工单的分配结果
type AssignmentResult struct {
	TicketID     uint  `json:"ticket_id"`
	TechnicianID *uint `json:"technician_id"`
	RuleID       *uint `json:"rule_id"`
	Changed      bool  `json:"changed"`
}

// Recompute 按规则重新计算分配，只在技术员变化时写入
//
// 无规则命中的工单保留原有分配。
func (s *AssignmentService) Recompute(ctx context.Context, opts ScopeOptions) (*AssignmentReport, error) {
	ctx, span := s.tracer.Start(ctx, "assignments.recompute")
	defer span.End()
	started := time.Now()

	if err := ValidateBatchOptions(opts.Limit, opts.ChunkSize); err != nil {
		return nil, err
	}
	span.SetAttributes(
		attribute.Bool("assignments.only_open", opts.OnlyOpen),
		attribute.Bool("assignments.dry_run", opts.DryRun),
	)

	report := &AssignmentReport{DryRun: opts.DryRun}
	if !opts.DryRun {
		release, err := s.locker.Acquire(ctx, OperationAssignments)
		if err != nil {
			return nil, err
		}
		defer release()
		report.RunID = uuid.NewString()
	}

	scope, scopeErrs, err := resolveScope(ctx, s.source, opts.TicketIDs)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	report.Errors = scopeErrs
	if len(opts.TicketIDs) > 0 && len(scope) == 0 {
		report.DurationSeconds = durationSeconds(started)
		return report, nil
	}

	rules, err := s.source.ListRules(ctx)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	matcher := NewRuleMatcher(rules)

	result, runErr := s.runner.Run(ctx, BatchOptions{
		Operation: OperationAssignments,
		OnlyOpen:  opts.OnlyOpen,
		TicketIDs: scope,
		Limit:     opts.Limit,
		ChunkSize: opts.ChunkSize,
		DryRun:    opts.DryRun,
	}, func(ctx context.Context, src TicketSource, tickets []models.Ticket) (func(), error) {
		var assigned, unassigned int
		for i := range tickets {
			t := &tickets[i]
			tech, ok := matcher.Technician(t)
			if !ok {
				if t.AssignedTo == nil {
					unassigned++
				}
				continue
			}
			if t.AssignedTo != nil && *t.AssignedTo == tech {
				continue
			}
			assigned++
			if opts.DryRun {
				continue
			}
			if err := src.AssignTicket(ctx, t.ID, tech); err != nil {
				return nil, err
			}
		}
		return func() {
			report.Assigned += assigned
			report.UnassignedRemaining += unassigned
		}, nil
	})

	report.Processed = result.Processed
	report.Cancelled = result.Cancelled
	report.ChunkFailures = result.Failures
	report.Errors = append(report.Errors, failureErrors(result.Failures)...)
	report.DurationSeconds = durationSeconds(started)

	metrics.ObserveRun(OperationAssignments, opts.DryRun, time.Since(started), report.Processed, len(result.Failures))
	if !opts.DryRun {
		metrics.AddDelta(OperationAssignments, "assigned", report.Assigned)
		recordRun(ctx, s.source, s.logger, models.EngineRun{
			RunID:         report.RunID,
			Operation:     OperationAssignments,
			StartedAt:     started,
			FinishedAt:    time.Now(),
			Processed:     report.Processed,
			ChunkFailures: len(result.Failures),
		}, report)
	}

	span.SetAttributes(
		attribute.Int("assignments.processed", report.Processed),
		attribute.Int("assignments.assigned", report.Assigned),
	)
	s.logger.WithFields(logrus.Fields{
		"run_id":     report.RunID,
		"processed":  report.Processed,
		"assigned":   report.Assigned,
		"unassigned": report.UnassignedRemaining,
		"dry_run":    report.DryRun,
	}).Info("Ticket assignments recomputed")

	if runErr != nil {
		span.RecordError(runErr)
		return report, runErr
	}
	return report, nil
}

// AssignOne 对单个工单执行规则匹配
func (s *AssignmentService) AssignOne(ctx context.Context, ticketID uint) (*AssignmentResult, error) {
	ctx, span := s.tracer.Start(ctx, "assignments.assign_one")
	defer span.End()
	span.SetAttributes(attribute.Int("ticket.id", int(ticketID)))

	tickets, err := s.source.ListTickets(ctx, TicketQuery{TicketIDs: []uint{ticketID}, Limit: 1})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if len(tickets) == 0 {
		return nil, NewNotFoundError("ticket", map[string]any{"ticket_id": ticketID})
	}
	t := &tickets[0]

	rules, err := s.source.ListRules(ctx)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	res := &AssignmentResult{TicketID: ticketID, TechnicianID: t.AssignedTo}
	rule, ok := NewRuleMatcher(rules).Match(t)
	if !ok {
		return res, nil
	}
	ruleID, tech := rule.ID, rule.TechnicianID
	res.RuleID = &ruleID
	if t.AssignedTo != nil && *t.AssignedTo == tech {
		return res, nil
	}
	if err := s.source.AssignTicket(ctx, ticketID, tech); err != nil {
		span.RecordError(err)
		return nil, err
	}
	res.TechnicianID = &tech
	res.Changed = true
	s.logger.Infof("Ticket %d assigned to technician %d by rule %d", ticketID, tech, ruleID)
	return res, nil
}
