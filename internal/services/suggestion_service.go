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

// SuggestionService 标签建议的批量重算与人工决策
type SuggestionService struct {
	source TicketSource
	runner *BatchRunner
	locker RunLocker
	cfg    config.SuggestionsConfig
	logger *logrus.Logger
	tracer trace.Tracer
	now    func() time.Time
}

// NewSuggestionService 创建标签建议服务
func NewSuggestionService(source TicketSource, cfg config.EngineConfig, locker RunLocker, logger *logrus.Logger) *SuggestionService {
	if logger == nil {
		logger = logrus.New()
	}
	if locker == nil {
		locker = NoopLocker()
	}
	return &SuggestionService{
		source: source,
		runner: NewBatchRunner(source, cfg.Batch.ChunkSize, logger),
		locker: locker,
		cfg:    cfg.Suggestions,
		logger: logger,
		tracer: otel.Tracer("ticketintel.suggestions"),
		now:    time.Now,
	}
}

// RecomputeOptions 重算参数
type RecomputeOptions struct {
	OnlyOpen  bool     `json:"only_open"`
	TicketIDs []uint   `json:"ticket_ids"`
	Threshold *float64 `json:"threshold"` // 为空使用配置值
	Limit     int      `json:"limit"`
	ChunkSize int      `json:"chunk_size"`
	DryRun    bool     `json:"dry_run"`
}

// RecomputeReport 重算报告
type RecomputeReport struct {
	RunID            string         `json:"run_id,omitempty"`
	Processed        int            `json:"processed"`
	Detected         int            `json:"detected"`
	Created          int            `json:"created"`
	Updated          int            `json:"updated"`
	Deleted          int            `json:"deleted"`
	ThresholdApplied float64        `json:"threshold_applied"`
	DurationSeconds  float64        `json:"duration_seconds"`
	DryRun           bool           `json:"dry_run"`
	Cancelled        bool           `json:"cancelled,omitempty"`
	ChunkFailures    []ChunkFailure `json:"chunk_failures,omitempty"`
	Errors           []ReportError  `json:"errors,omitempty"`
}

type suggestionCounts struct {
	detected, created, updated, deleted int
}

// Recompute 按分块重算标签建议并与已有建议对账
func (s *SuggestionService) Recompute(ctx context.Context, opts RecomputeOptions) (*RecomputeReport, error) {
	ctx, span := s.tracer.Start(ctx, "suggestions.recompute")
	defer span.End()
	started := time.Now()

	threshold := s.cfg.Threshold
	if opts.Threshold != nil {
		threshold = *opts.Threshold
	}
	if err := validateUnitInterval("threshold", threshold); err != nil {
		return nil, err
	}
	if err := ValidateBatchOptions(opts.Limit, opts.ChunkSize); err != nil {
		return nil, err
	}
	span.SetAttributes(
		attribute.Float64("suggestions.threshold", threshold),
		attribute.Bool("suggestions.dry_run", opts.DryRun),
		attribute.Int("suggestions.ticket_ids", len(opts.TicketIDs)),
	)

	report := &RecomputeReport{ThresholdApplied: threshold, DryRun: opts.DryRun}
	if !opts.DryRun {
		release, err := s.locker.Acquire(ctx, OperationSuggestions)
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
	report.Errors = append(report.Errors, scopeErrs...)
	if len(opts.TicketIDs) > 0 && len(scope) == 0 {
		report.DurationSeconds = durationSeconds(started)
		return report, nil
	}

	// 词表在整个运行期间只读
	labels, err := s.source.ListLabels(ctx)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	scorer := NewSuggestionScorer(labels)
	epsilon := s.cfg.ScoreEpsilon

	var total suggestionCounts
	result, runErr := s.runner.Run(ctx, BatchOptions{
		Operation: OperationSuggestions,
		OnlyOpen:  opts.OnlyOpen,
		TicketIDs: scope,
		Limit:     opts.Limit,
		ChunkSize: opts.ChunkSize,
		DryRun:    opts.DryRun,
	}, func(ctx context.Context, src TicketSource, tickets []models.Ticket) (func(), error) {
		existing, err := src.ListSuggestions(ctx, ticketIDs(tickets))
		if err != nil {
			return nil, err
		}
		byTicket := make(map[uint][]models.LabelSuggestion, len(tickets))
		for _, sg := range existing {
			byTicket[sg.TicketID] = append(byTicket[sg.TicketID], sg)
		}

		var local suggestionCounts
		for i := range tickets {
			t := &tickets[i]
			candidates := scorer.Candidates(t, threshold)
			plan := ReconcileSuggestions(t.ID, byTicket[t.ID], candidates, epsilon)
			local.detected += len(candidates)
			local.created += len(plan.Create)
			local.updated += len(plan.Update)
			local.deleted += len(plan.Delete)
			if opts.DryRun || plan.Empty() {
				continue
			}
			if err := src.ApplySuggestionPlan(ctx, plan); err != nil {
				return nil, err
			}
		}
		return func() {
			total.detected += local.detected
			total.created += local.created
			total.updated += local.updated
			total.deleted += local.deleted
		}, nil
	})

	report.Processed = result.Processed
	report.Detected = total.detected
	report.Created = total.created
	report.Updated = total.updated
	report.Deleted = total.deleted
	report.Cancelled = result.Cancelled
	report.ChunkFailures = result.Failures
	report.Errors = append(report.Errors, failureErrors(result.Failures)...)
	report.DurationSeconds = durationSeconds(started)

	metrics.ObserveRun(OperationSuggestions, opts.DryRun, time.Since(started), report.Processed, len(result.Failures))
	if !opts.DryRun {
		metrics.AddDelta(OperationSuggestions, "created", report.Created)
		metrics.AddDelta(OperationSuggestions, "updated", report.Updated)
		metrics.AddDelta(OperationSuggestions, "deleted", report.Deleted)
		recordRun(ctx, s.source, s.logger, models.EngineRun{
			RunID:         report.RunID,
			Operation:     OperationSuggestions,
			StartedAt:     started,
			FinishedAt:    time.Now(),
			Processed:     report.Processed,
			ChunkFailures: len(result.Failures),
		}, report)
	}

	span.SetAttributes(
		attribute.Int("suggestions.processed", report.Processed),
		attribute.Int("suggestions.created", report.Created),
		attribute.Int("suggestions.updated", report.Updated),
		attribute.Int("suggestions.deleted", report.Deleted),
	)
	s.logger.WithFields(logrus.Fields{
		"run_id":    report.RunID,
		"processed": report.Processed,
		"detected":  report.Detected,
		"created":   report.Created,
		"updated":   report.Updated,
		"deleted":   report.Deleted,
		"failures":  len(report.ChunkFailures),
		"dry_run":   report.DryRun,
	}).Info("Label suggestions recomputed")

	if runErr != nil {
		span.RecordError(runErr)
		return report, runErr
	}
	return report, nil
}

// List 返回工单的全部建议
func (s *SuggestionService) List(ctx context.Context, ticketID uint) ([]models.LabelSuggestion, error) {
	ctx, span := s.tracer.Start(ctx, "suggestions.list")
	defer span.End()
	span.SetAttributes(attribute.Int("ticket.id", int(ticketID)))

	found, err := s.source.ExistingTicketIDs(ctx, []uint{ticketID})
	if err != nil {
		return nil, err
	}
	if len(found) == 0 {
		return nil, NewNotFoundError("ticket", map[string]any{"ticket_id": ticketID})
	}
	return s.source.ListSuggestions(ctx, []uint{ticketID})
}

// Accept 接受建议并把标签加入工单的确认标签
//
// 建议不存在或不属于该工单返回 NotFoundError；已拒绝返回 InvalidStateError；
// 已接受时不做修改，直接返回现有结果。
func (s *SuggestionService) Accept(ctx context.Context, ticketID, suggestionID uint) (*models.LabelSuggestion, *models.TicketLabel, error) {
	ctx, span := s.tracer.Start(ctx, "suggestions.accept")
	defer span.End()
	span.SetAttributes(
		attribute.Int("ticket.id", int(ticketID)),
		attribute.Int("suggestion.id", int(suggestionID)),
	)

	var suggestion *models.LabelSuggestion
	var label *models.TicketLabel
	err := s.source.Transaction(ctx, func(tx TicketSource) error {
		current, err := s.loadOwned(ctx, tx, ticketID, suggestionID)
		if err != nil {
			return err
		}
		if current.Status != models.SuggestionAccepted {
			if !current.Status.CanTransitionTo(models.SuggestionAccepted) {
				return NewInvalidStateError("suggestion already "+string(current.Status), map[string]any{"suggestion_id": suggestionID})
			}
			now := s.now()
			current.Status = models.SuggestionAccepted
			current.DecidedAt = &now
			if err := tx.SaveSuggestionStatus(ctx, current); err != nil {
				return err
			}
		}
		l := &models.TicketLabel{TicketID: ticketID, Name: current.Label, Source: "suggestion"}
		if err := tx.AddTicketLabel(ctx, l); err != nil {
			return err
		}
		suggestion, label = current, l
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, nil, err
	}

	s.logger.Infof("Suggestion %d accepted for ticket %d (label %q)", suggestionID, ticketID, suggestion.Label)
	return suggestion, label, nil
}

// Reject 拒绝建议；已接受返回 InvalidStateError，已拒绝时不做修改
func (s *SuggestionService) Reject(ctx context.Context, ticketID, suggestionID uint) (*models.LabelSuggestion, error) {
	ctx, span := s.tracer.Start(ctx, "suggestions.reject")
	defer span.End()
	span.SetAttributes(
		attribute.Int("ticket.id", int(ticketID)),
		attribute.Int("suggestion.id", int(suggestionID)),
	)

	var suggestion *models.LabelSuggestion
	err := s.source.Transaction(ctx, func(tx TicketSource) error {
		current, err := s.loadOwned(ctx, tx, ticketID, suggestionID)
		if err != nil {
			return err
		}
		if current.Status != models.SuggestionRejected {
			if !current.Status.CanTransitionTo(models.SuggestionRejected) {
				return NewInvalidStateError("suggestion already "+string(current.Status), map[string]any{"suggestion_id": suggestionID})
			}
			now := s.now()
			current.Status = models.SuggestionRejected
			current.DecidedAt = &now
			if err := tx.SaveSuggestionStatus(ctx, current); err != nil {
				return err
			}
		}
		suggestion = current
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	s.logger.Infof("Suggestion %d rejected for ticket %d", suggestionID, ticketID)
	return suggestion, nil
}

func (s *SuggestionService) loadOwned(ctx context.Context, src TicketSource, ticketID, suggestionID uint) (*models.LabelSuggestion, error) {
	current, err := src.GetSuggestion(ctx, suggestionID)
	if err != nil {
		return nil, err
	}
	if current.TicketID != ticketID {
		return nil, NewNotFoundError("suggestion", map[string]any{"ticket_id": ticketID, "suggestion_id": suggestionID})
	}
	return current, nil
}
