package services

import (
	"context"

	"ticketintel/internal/models"
)

// TicketQuery 工单查询范围，结果按 ID 升序
type TicketQuery struct {
	OnlyOpen  bool
	TicketIDs []uint // 为空表示全部
	AfterID   uint   // 游标：只返回 ID 大于该值的工单
	Limit     int    // 0 表示不限制
}

// TicketSource 工单存储端口，是批处理唯一的挂起点
type TicketSource interface {
	// ListTickets 返回的工单已预加载确认标签
	ListTickets(ctx context.Context, q TicketQuery) ([]models.Ticket, error)
	// ExistingTicketIDs 返回 ids 中实际存在的工单ID
	ExistingTicketIDs(ctx context.Context, ids []uint) ([]uint, error)

	ListRules(ctx context.Context) ([]models.AssignmentRule, error)
	ListLabels(ctx context.Context) ([]models.Label, error)

	ListSuggestions(ctx context.Context, ticketIDs []uint) ([]models.LabelSuggestion, error)
	GetSuggestion(ctx context.Context, id uint) (*models.LabelSuggestion, error)
	ListClusterAssignments(ctx context.Context, ticketIDs []uint) ([]models.ClusterAssignment, error)
	ListAlerts(ctx context.Context, ticketIDs []uint) ([]models.SLAAlert, error)

	AssignTicket(ctx context.Context, ticketID, technicianID uint) error
	ApplySuggestionPlan(ctx context.Context, plan SuggestionPlan) error
	SaveSuggestionStatus(ctx context.Context, s *models.LabelSuggestion) error
	AddTicketLabel(ctx context.Context, label *models.TicketLabel) error
	// ReplaceClusterAssignments 整体替换：scope 为空时替换全部聚类结果
	ReplaceClusterAssignments(ctx context.Context, scope []uint, assignments []models.ClusterAssignment) error
	SaveAlert(ctx context.Context, alert *models.SLAAlert) error
	DeleteAlert(ctx context.Context, ticketID uint) error
	RecordRun(ctx context.Context, run *models.EngineRun) error

	// Transaction 在单个事务中执行 fn，fn 返回错误时整体回滚
	Transaction(ctx context.Context, fn func(tx TicketSource) error) error
}
