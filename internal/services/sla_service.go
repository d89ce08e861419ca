package services

import (
	"context"
	"time"

	"ticketintel/internal/config"
	"ticketintel/internal/metrics"
	"ticketintel/internal/models"
	"ticketintel/pkg/utils"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// SLAService SLA 预警/违约评估
type SLAService struct {
	source   TicketSource
	runner   *BatchRunner
	locker   RunLocker
	policy   SLAPolicy
	notifier AlertNotifier
	logger   *logrus.Logger
	tracer   trace.Tracer
	now      func() time.Time
}

// NewSLAService 创建 SLA 服务，notifier 为空时只写日志
func NewSLAService(source TicketSource, cfg config.EngineConfig, locker RunLocker, notifier AlertNotifier, logger *logrus.Logger) *SLAService {
	if logger == nil {
		logger = logrus.New()
	}
	if locker == nil {
		locker = NoopLocker()
	}
	if notifier == nil {
		notifier = NewLogNotifier(logger)
	}
	return &SLAService{
		source:   source,
		runner:   NewBatchRunner(source, cfg.Batch.ChunkSize, logger),
		locker:   locker,
		policy:   PolicyFromConfig(cfg.SLA),
		notifier: notifier,
		logger:   logger,
		tracer:   otel.Tracer("ticketintel.sla"),
		now:      time.Now,
	}
}

// Policy 当前生效的策略
func (s *SLAService) Policy() SLAPolicy {
	return s.policy
}

// EvaluateOptions 评估参数
type EvaluateOptions struct {
	WarnRatio *float64 `json:"warn_ratio"` // 为空使用配置值
	DryRun    bool     `json:"dry_run"`
	Limit     int      `json:"limit"`
	ChunkSize int      `json:"chunk_size"`
	TicketIDs []uint   `json:"ticket_ids"`
}

// AlertSnapshot 告警清单条目
type AlertSnapshot struct {
	TicketID         uint                 `json:"ticket_id"`
	Priority         models.Priority      `json:"priority"`
	Status           models.TicketStatus  `json:"status"`
	Severity         models.AlertSeverity `json:"severity"`
	PreviousSeverity models.AlertSeverity `json:"previous_severity"`
	ElapsedRatio     float64              `json:"elapsed_ratio"`
	DueAt            time.Time            `json:"due_at"`
	ElapsedHours     float64              `json:"elapsed_hours"`
	RemainingHours   float64              `json:"remaining_hours"`
	Escalated        bool                 `json:"escalated"`
}

// SLAReport 评估报告
type SLAReport struct {
	RunID           string          `json:"run_id,omitempty"`
	Warnings        int             `json:"warnings"`
	Breaches        int             `json:"breaches"`
	Total           int             `json:"total"` // 已评估的工单数
	Raised          int             `json:"raised"`
	Cleared         int             `json:"cleared"`
	WarnRatio       float64         `json:"warn_ratio"`
	DryRun          bool            `json:"dry_run"`
	Cancelled       bool            `json:"cancelled,omitempty"`
	DurationSeconds float64         `json:"duration_seconds"`
	Alerts          []AlertSnapshot `json:"alerts"`
	ChunkFailures   []ChunkFailure  `json:"chunk_failures,omitempty"`
	Errors          []ReportError   `json:"errors,omitempty"`
}

// Evaluate 分块评估全部未删除工单的 SLA 状态
//
// 告警只在级别变化时写入，降为 none 时删除；dry-run 只计算不写入也不通知。
// 已关闭工单同样参与扫描，以便清除其遗留告警。
func (s *SLAService) Evaluate(ctx context.Context, opts EvaluateOptions) (*SLAReport, error) {
	ctx, span := s.tracer.Start(ctx, "sla.evaluate")
	defer span.End()
	started := time.Now()

	policy := s.policy
	if opts.WarnRatio != nil {
		policy = policy.WithWarnRatio(*opts.WarnRatio)
	}
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	if err := ValidateBatchOptions(opts.Limit, opts.ChunkSize); err != nil {
		return nil, err
	}
	span.SetAttributes(
		attribute.Float64("sla.warn_ratio", policy.WarnRatio),
		attribute.Bool("sla.dry_run", opts.DryRun),
	)

	report := &SLAReport{WarnRatio: policy.WarnRatio, DryRun: opts.DryRun, Alerts: []AlertSnapshot{}}
	if !opts.DryRun {
		release, err := s.locker.Acquire(ctx, OperationSLA)
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

	now := s.now()
	var escalated []AlertSnapshot
	result, runErr := s.runner.Run(ctx, BatchOptions{
		Operation: OperationSLA,
		TicketIDs: scope,
		Limit:     opts.Limit,
		ChunkSize: opts.ChunkSize,
		DryRun:    opts.DryRun,
	}, func(ctx context.Context, src TicketSource, tickets []models.Ticket) (func(), error) {
		existing, err := src.ListAlerts(ctx, ticketIDs(tickets))
		if err != nil {
			return nil, err
		}
		persisted := make(map[uint]models.AlertSeverity, len(existing))
		for _, a := range existing {
			persisted[a.TicketID] = a.Severity
		}

		var listing, raisedNow []AlertSnapshot
		var warnings, breaches, raised, cleared int
		for i := range tickets {
			t := &tickets[i]
			state := policy.Evaluate(t, now)
			prev, had := persisted[t.ID]
			if !had {
				prev = models.SeverityNone
			}

			switch state.Severity {
			case models.SeverityWarning:
				warnings++
			case models.SeverityBreach:
				breaches++
			}
			if state.Severity != models.SeverityNone {
				snap := newAlertSnapshot(t, state, prev)
				listing = append(listing, snap)
				if snap.Escalated {
					raisedNow = append(raisedNow, snap)
				}
			}
			if state.Severity == prev {
				continue
			}

			if state.Severity == models.SeverityNone {
				cleared++
				if !opts.DryRun {
					if err := src.DeleteAlert(ctx, t.ID); err != nil {
						return nil, err
					}
				}
				continue
			}
			raised++
			if opts.DryRun {
				continue
			}
			alert := &models.SLAAlert{
				TicketID:     t.ID,
				Severity:     state.Severity,
				ElapsedRatio: state.ElapsedRatio,
				DueAt:        state.DueAt,
				EvaluatedAt:  now,
			}
			if err := src.SaveAlert(ctx, alert); err != nil {
				return nil, err
			}
		}
		return func() {
			report.Warnings += warnings
			report.Breaches += breaches
			report.Raised += raised
			report.Cleared += cleared
			report.Alerts = append(report.Alerts, listing...)
			escalated = append(escalated, raisedNow...)
		}, nil
	})

	report.Total = result.Processed
	report.Cancelled = result.Cancelled
	report.ChunkFailures = result.Failures
	report.Errors = append(report.Errors, failureErrors(result.Failures)...)

	// 通知只发送已提交的升级告警
	if !opts.DryRun && len(escalated) > 0 {
		for _, a := range escalated {
			metrics.IncAlertRaised(string(a.Severity))
		}
		if err := s.notifier.Notify(ctx, escalated); err != nil {
			s.logger.Warnf("Failed to deliver %d SLA notifications: %v", len(escalated), err)
			report.Errors = append(report.Errors, ReportError{Kind: KindDependencyUnavailable, Message: "notify: " + err.Error()})
		}
	}

	report.DurationSeconds = durationSeconds(started)
	metrics.ObserveRun(OperationSLA, opts.DryRun, time.Since(started), report.Total, len(result.Failures))
	if !opts.DryRun {
		metrics.AddDelta(OperationSLA, "raised", report.Raised)
		metrics.AddDelta(OperationSLA, "cleared", report.Cleared)
		recordRun(ctx, s.source, s.logger, models.EngineRun{
			RunID:         report.RunID,
			Operation:     OperationSLA,
			StartedAt:     started,
			FinishedAt:    time.Now(),
			Processed:     report.Total,
			ChunkFailures: len(result.Failures),
		}, report)
	}

	span.SetAttributes(
		attribute.Int("sla.total", report.Total),
		attribute.Int("sla.warnings", report.Warnings),
		attribute.Int("sla.breaches", report.Breaches),
	)
	s.logger.WithFields(logrus.Fields{
		"run_id":   report.RunID,
		"total":    report.Total,
		"warnings": report.Warnings,
		"breaches": report.Breaches,
		"raised":   report.Raised,
		"cleared":  report.Cleared,
		"dry_run":  report.DryRun,
	}).Info("SLA evaluation completed")

	if runErr != nil {
		span.RecordError(runErr)
		return report, runErr
	}
	return report, nil
}

// StartMonitor 按固定间隔执行评估，直到 ctx 结束
func (s *SLAService) StartMonitor(ctx context.Context, interval time.Duration) {
	s.logger.Info("Starting SLA monitor")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("SLA monitor stopped")
			return
		case <-ticker.C:
			if _, err := s.Evaluate(ctx, EvaluateOptions{}); err != nil && ctx.Err() == nil {
				s.logger.Errorf("SLA monitor run failed: %v", err)
			}
		}
	}
}

func newAlertSnapshot(t *models.Ticket, state AlertState, prev models.AlertSeverity) AlertSnapshot {
	return AlertSnapshot{
		TicketID:         t.ID,
		Priority:         t.Priority,
		Status:           t.Status,
		Severity:         state.Severity,
		PreviousSeverity: prev,
		ElapsedRatio:     state.ElapsedRatio,
		DueAt:            state.DueAt,
		ElapsedHours:     utils.Round(state.Elapsed.Hours(), 2),
		RemainingHours:   utils.Round(state.Remaining().Hours(), 2),
		Escalated:        state.Severity.Rank() > prev.Rank(),
	}
}
