package services

import (
	"context"

	"ticketintel/internal/models"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// DefaultChunkSize 默认分块大小
const DefaultChunkSize = 200

// BatchOptions 批处理范围
type BatchOptions struct {
	Operation string
	OnlyOpen  bool
	TicketIDs []uint
	Limit     int // 0 表示不限制
	ChunkSize int
	DryRun    bool
}

// ChunkFailure 失败分块记录（该分块已整体回滚）
type ChunkFailure struct {
	Chunk   int       `json:"chunk"`
	FirstID uint      `json:"first_id"`
	LastID  uint      `json:"last_id"`
	Kind    ErrorKind `json:"kind"`
	Error   string    `json:"error"`
}

// failureKind 分块错误的分类，未分类的错误按依赖不可用处理
func failureKind(err error) ErrorKind {
	if ee, ok := AsEngineError(err); ok {
		return ee.Kind
	}
	return KindDependencyUnavailable
}

// BatchResult 批处理汇总
type BatchResult struct {
	Processed int            `json:"processed"`
	Chunks    int            `json:"chunks"`
	Failures  []ChunkFailure `json:"failures,omitempty"`
	Cancelled bool           `json:"cancelled"`
}

// ChunkFunc 处理一个分块
//
// src 在非 dry-run 时是该分块的事务。返回的 commit 回调只会在事务提交成功后调用，
// 用于合并分块内的计数，失败分块的计数因此不会进入报告。
type ChunkFunc func(ctx context.Context, src TicketSource, tickets []models.Ticket) (commit func(), err error)

// BatchRunner 按 ID 游标顺序分块驱动各算法
type BatchRunner struct {
	source    TicketSource
	chunkSize int
	logger    *logrus.Logger
	tracer    trace.Tracer
}

// NewBatchRunner 创建批处理驱动
func NewBatchRunner(source TicketSource, chunkSize int, logger *logrus.Logger) *BatchRunner {
	if logger == nil {
		logger = logrus.New()
	}
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &BatchRunner{
		source:    source,
		chunkSize: chunkSize,
		logger:    logger,
		tracer:    otel.Tracer("ticketintel.batch"),
	}
}

// ValidateBatchOptions 校验 limit 与 chunk 参数
func ValidateBatchOptions(limit, chunkSize int) error {
	if limit < 0 {
		return NewValidationError("limit must not be negative", map[string]any{"limit": limit})
	}
	if chunkSize < 0 {
		return NewValidationError("chunk size must not be negative", map[string]any{"chunk_size": chunkSize})
	}
	return nil
}

// Run 顺序处理各分块
//
// 分块之间检查取消信号，已提交的分块不会回滚。读取失败时游标无法推进，
// 记录失败后停止；写入失败只回滚当前分块并继续下一块。
func (r *BatchRunner) Run(ctx context.Context, opts BatchOptions, fn ChunkFunc) (*BatchResult, error) {
	ctx, span := r.tracer.Start(ctx, "batch.run")
	defer span.End()

	chunkSize := opts.ChunkSize
	if chunkSize <= 0 {
		chunkSize = r.chunkSize
	}
	span.SetAttributes(
		attribute.String("batch.operation", opts.Operation),
		attribute.Int("batch.chunk_size", chunkSize),
		attribute.Int("batch.limit", opts.Limit),
		attribute.Bool("batch.dry_run", opts.DryRun),
	)

	result := &BatchResult{}
	var cursor uint
	remaining := opts.Limit

	for {
		if err := ctx.Err(); err != nil {
			result.Cancelled = true
			r.logger.Warnf("%s run cancelled after %d chunks", opts.Operation, result.Chunks)
			span.SetAttributes(attribute.Bool("batch.cancelled", true))
			return result, err
		}

		size := chunkSize
		if opts.Limit > 0 && remaining < size {
			size = remaining
		}
		tickets, err := r.source.ListTickets(ctx, TicketQuery{
			OnlyOpen:  opts.OnlyOpen,
			TicketIDs: opts.TicketIDs,
			AfterID:   cursor,
			Limit:     size,
		})
		if err != nil {
			result.Failures = append(result.Failures, ChunkFailure{
				Chunk:   result.Chunks + 1,
				FirstID: cursor + 1,
				Kind:    failureKind(err),
				Error:   err.Error(),
			})
			span.RecordError(err)
			r.logger.Errorf("%s: failed to read chunk after ticket %d: %v", opts.Operation, cursor, err)
			return result, err
		}
		if len(tickets) == 0 {
			break
		}

		result.Chunks++
		first, last := tickets[0].ID, tickets[len(tickets)-1].ID
		if err := r.runChunk(ctx, opts.DryRun, tickets, fn); err != nil {
			result.Failures = append(result.Failures, ChunkFailure{
				Chunk:   result.Chunks,
				FirstID: first,
				LastID:  last,
				Kind:    failureKind(err),
				Error:   err.Error(),
			})
			span.RecordError(err)
			r.logger.Warnf("%s: chunk %d (tickets %d-%d) rolled back: %v", opts.Operation, result.Chunks, first, last, err)
		} else {
			result.Processed += len(tickets)
			r.logger.Debugf("%s: chunk %d (tickets %d-%d) done", opts.Operation, result.Chunks, first, last)
		}

		cursor = last
		if opts.Limit > 0 {
			remaining -= len(tickets)
			if remaining <= 0 {
				break
			}
		}
		if len(tickets) < size {
			break
		}
	}

	span.SetAttributes(
		attribute.Int("batch.processed", result.Processed),
		attribute.Int("batch.chunks", result.Chunks),
		attribute.Int("batch.failures", len(result.Failures)),
	)
	return result, nil
}

func (r *BatchRunner) runChunk(ctx context.Context, dryRun bool, tickets []models.Ticket, fn ChunkFunc) error {
	if dryRun {
		commit, err := fn(ctx, r.source, tickets)
		if err != nil {
			return err
		}
		if commit != nil {
			commit()
		}
		return nil
	}

	var commit func()
	err := r.source.Transaction(ctx, func(tx TicketSource) error {
		c, err := fn(ctx, tx, tickets)
		if err != nil {
			return err
		}
		commit = c
		return nil
	})
	if err != nil {
		return err
	}
	if commit != nil {
		commit()
	}
	return nil
}
