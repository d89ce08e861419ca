package services

import (
	"context"
	"math/rand"
	"sort"
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

// ClusterService 工单聚类重训练
type ClusterService struct {
	source TicketSource
	runner *BatchRunner
	locker RunLocker
	cfg    config.ClustersConfig
	logger *logrus.Logger
	tracer trace.Tracer
	now    func() time.Time
}

// NewClusterService 创建聚类服务
func NewClusterService(source TicketSource, cfg config.EngineConfig, locker RunLocker, logger *logrus.Logger) *ClusterService {
	if logger == nil {
		logger = logrus.New()
	}
	if locker == nil {
		locker = NoopLocker()
	}
	return &ClusterService{
		source: source,
		runner: NewBatchRunner(source, cfg.Batch.ChunkSize, logger),
		locker: locker,
		cfg:    cfg.Clusters,
		logger: logger,
		tracer: otel.Tracer("ticketintel.clusters"),
		now:    time.Now,
	}
}

// RetrainOptions 重训练参数
type RetrainOptions struct {
	Clusters  *int   `json:"clusters"`   // 为空使用配置值
	TicketIDs []uint `json:"ticket_ids"` // 为空表示全部未删除工单
	Seed      *int64 `json:"seed"`       // 为空使用配置值
	DryRun    bool   `json:"dry_run"`
}

// RetrainReport 重训练报告
type RetrainReport struct {
	RunID             string        `json:"run_id,omitempty"`
	TotalProcessed    int           `json:"total_processed"`
	RequestedClusters int           `json:"requested_clusters"`
	EffectiveClusters int           `json:"effective_clusters"`
	Distribution      map[int]int   `json:"distribution"`
	Seed              int64         `json:"seed"`
	Iterations        int           `json:"iterations"`
	Changed           bool          `json:"changed"` // 聚类结果是否有变化（无变化时不写入）
	DryRun            bool          `json:"dry_run"`
	DurationSeconds   float64       `json:"duration_seconds"`
	Errors            []ReportError `json:"errors,omitempty"`
}

// Retrain 重新聚类并原子替换处理范围内的聚类结果
//
// 特征按分块读取后在内存中聚类；写入在单个事务中完成，读者只会看到旧结果或新结果。
func (s *ClusterService) Retrain(ctx context.Context, opts RetrainOptions) (*RetrainReport, error) {
	ctx, span := s.tracer.Start(ctx, "clusters.retrain")
	defer span.End()
	started := time.Now()

	k := s.cfg.Count
	if opts.Clusters != nil {
		k = *opts.Clusters
	}
	if k <= 0 {
		return nil, NewValidationError("cluster count must be positive", map[string]any{"clusters": k})
	}
	seed := s.cfg.Seed
	if opts.Seed != nil {
		seed = *opts.Seed
	}
	span.SetAttributes(
		attribute.Int("clusters.requested", k),
		attribute.Int64("clusters.seed", seed),
		attribute.Bool("clusters.dry_run", opts.DryRun),
	)

	report := &RetrainReport{RequestedClusters: k, Seed: seed, DryRun: opts.DryRun, Distribution: map[int]int{}}
	if !opts.DryRun {
		release, err := s.locker.Acquire(ctx, OperationClusters)
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

	labels, err := s.source.ListLabels(ctx)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	keywords := VocabularyKeywords(labels)

	// 只读扫描：按分块收集特征
	var samples []ClusterSample
	result, err := s.runner.Run(ctx, BatchOptions{
		Operation: OperationClusters,
		TicketIDs: scope,
		DryRun:    true,
	}, func(_ context.Context, _ TicketSource, tickets []models.Ticket) (func(), error) {
		local := make([]ClusterSample, len(tickets))
		for i := range tickets {
			local[i] = NewClusterSample(&tickets[i], keywords)
		}
		return func() { samples = append(samples, local...) }, nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	span.SetAttributes(attribute.Int("clusters.chunks", result.Chunks))
	sort.Slice(samples, func(i, j int) bool { return samples[i].TicketID < samples[j].TicketID })

	km := KMeans(EncodeSamples(samples), k, rand.New(rand.NewSource(seed)), s.cfg.MaxIterations)
	report.TotalProcessed = len(samples)
	report.EffectiveClusters = km.Effective
	report.Iterations = km.Iterations
	report.Distribution = km.Distribution

	mapping := make(map[uint]int, len(samples))
	for i, sample := range samples {
		mapping[sample.TicketID] = km.Assignments[i]
	}

	previous, err := s.source.ListClusterAssignments(ctx, scope)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	report.Changed = !sameClusterMapping(previous, mapping)

	if !opts.DryRun && report.Changed {
		now := s.now()
		assignments := make([]models.ClusterAssignment, 0, len(samples))
		for i, sample := range samples {
			assignments = append(assignments, models.ClusterAssignment{
				TicketID:   sample.TicketID,
				ClusterID:  km.Assignments[i],
				RunID:      report.RunID,
				AssignedAt: now,
			})
		}
		err := s.source.Transaction(ctx, func(tx TicketSource) error {
			return tx.ReplaceClusterAssignments(ctx, scope, assignments)
		})
		if err != nil {
			span.RecordError(err)
			return nil, err
		}
		metrics.AddDelta(OperationClusters, "replaced", len(assignments))
	}

	report.DurationSeconds = durationSeconds(started)
	metrics.ObserveRun(OperationClusters, opts.DryRun, time.Since(started), report.TotalProcessed, 0)
	if !opts.DryRun {
		recordRun(ctx, s.source, s.logger, models.EngineRun{
			RunID:      report.RunID,
			Operation:  OperationClusters,
			StartedAt:  started,
			FinishedAt: time.Now(),
			Processed:  report.TotalProcessed,
		}, report)
	}

	span.SetAttributes(
		attribute.Int("clusters.processed", report.TotalProcessed),
		attribute.Int("clusters.effective", report.EffectiveClusters),
		attribute.Bool("clusters.changed", report.Changed),
	)
	s.logger.WithFields(logrus.Fields{
		"run_id":    report.RunID,
		"processed": report.TotalProcessed,
		"requested": report.RequestedClusters,
		"effective": report.EffectiveClusters,
		"changed":   report.Changed,
		"dry_run":   report.DryRun,
	}).Info("Ticket clusters retrained")
	return report, nil
}

// Assignments 查询聚类结果，ticketIDs 为空时返回全部
func (s *ClusterService) Assignments(ctx context.Context, ticketIDs []uint) ([]models.ClusterAssignment, error) {
	ctx, span := s.tracer.Start(ctx, "clusters.list")
	defer span.End()
	return s.source.ListClusterAssignments(ctx, ticketIDs)
}

func sameClusterMapping(previous []models.ClusterAssignment, next map[uint]int) bool {
	if len(previous) != len(next) {
		return false
	}
	for _, a := range previous {
		if c, ok := next[a.TicketID]; !ok || c != a.ClusterID {
			return false
		}
	}
	return true
}
