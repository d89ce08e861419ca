package services

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"ticketintel/internal/models"
	"ticketintel/pkg/utils"

	"github.com/sirupsen/logrus"
)

// 运行类型
const (
	OperationSuggestions = "suggestions"
	OperationClusters    = "clusters"
	OperationSLA         = "sla"
	OperationAssignments = "assignments"
)

// ReportError 报告中的错误条目
type ReportError struct {
	Kind     ErrorKind `json:"kind"`
	Message  string    `json:"message"`
	TicketID uint      `json:"ticket_id,omitempty"`
	Chunk    int       `json:"chunk,omitempty"`
}

// resolveScope 校验显式传入的工单ID，未知ID记为 ValidationError，其余照常处理
func resolveScope(ctx context.Context, src TicketSource, ids []uint) ([]uint, []ReportError, error) {
	ids = utils.UniqueUints(ids)
	if len(ids) == 0 {
		return nil, nil, nil
	}
	found, err := src.ExistingTicketIDs(ctx, ids)
	if err != nil {
		return nil, nil, err
	}
	known := make(map[uint]struct{}, len(found))
	for _, id := range found {
		known[id] = struct{}{}
	}
	var valid []uint
	var errs []ReportError
	for _, id := range ids {
		if _, ok := known[id]; ok {
			valid = append(valid, id)
			continue
		}
		errs = append(errs, ReportError{Kind: KindValidation, Message: "unknown ticket id", TicketID: id})
	}
	return valid, errs, nil
}

// failureErrors 把失败分块转成报告错误
func failureErrors(failures []ChunkFailure) []ReportError {
	out := make([]ReportError, 0, len(failures))
	for _, f := range failures {
		kind := f.Kind
		if kind == "" {
			kind = KindDependencyUnavailable
		}
		out = append(out, ReportError{
			Kind:    kind,
			Message: fmt.Sprintf("tickets %d-%d rolled back: %s", f.FirstID, f.LastID, f.Error),
			Chunk:   f.Chunk,
		})
	}
	return out
}

func ticketIDs(tickets []models.Ticket) []uint {
	ids := make([]uint, len(tickets))
	for i := range tickets {
		ids[i] = tickets[i].ID
	}
	return ids
}

func validateUnitInterval(name string, v float64) error {
	if math.IsNaN(v) || v < 0 || v > 1 {
		return NewValidationError(fmt.Sprintf("%s must be within [0,1]", name), map[string]any{name: v})
	}
	return nil
}

func durationSeconds(start time.Time) float64 {
	return utils.Round(time.Since(start).Seconds(), 3)
}

// recordRun 写入运行审计记录，失败只记日志
func recordRun(ctx context.Context, src TicketSource, logger *logrus.Logger, run models.EngineRun, report any) {
	payload, err := json.Marshal(report)
	if err != nil {
		logger.Warnf("failed to encode %s report: %v", run.Operation, err)
	} else {
		run.Report = string(payload)
	}
	if err := src.RecordRun(context.WithoutCancel(ctx), &run); err != nil {
		logger.Warnf("failed to record %s run %s: %v", run.Operation, run.RunID, err)
	}
}
