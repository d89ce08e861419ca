package services

import (
	"context"
	"errors"

	"ticketintel/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// inClauseBatch IN 子句的最大参数个数（兼容 SQLite 的变量上限）
const inClauseBatch = 500

// GormStore 基于 gorm 的 TicketSource 实现
type GormStore struct {
	db *gorm.DB
}

// NewGormStore 创建 gorm 工单存储
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// DB 底层连接
func (s *GormStore) DB() *gorm.DB {
	return s.db
}

// Migrate 自动迁移引擎使用的全部表
func (s *GormStore) Migrate(ctx context.Context) error {
	db := s.db.WithContext(ctx)
	if err := db.AutoMigrate(models.AllModels()...); err != nil {
		return NewDependencyUnavailable("migrate", err)
	}
	for _, stmt := range compositeIndexes {
		if err := db.Exec(stmt).Error; err != nil {
			return NewDependencyUnavailable("create index", err)
		}
	}
	return nil
}

// 批处理扫描与规则加载使用的复合索引
var compositeIndexes = []string{
	"CREATE INDEX IF NOT EXISTS idx_tickets_status_id ON tickets(status, id)",
	"CREATE INDEX IF NOT EXISTS idx_tickets_category_area ON tickets(category, subcategory, area)",
	"CREATE INDEX IF NOT EXISTS idx_assignment_rules_active_priority ON assignment_rules(active, priority, id)",
	"CREATE INDEX IF NOT EXISTS idx_label_suggestions_ticket_status ON label_suggestions(ticket_id, status)",
}

// Ping 检查数据库连通性
func (s *GormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return NewDependencyUnavailable("ping", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return NewDependencyUnavailable("ping", err)
	}
	return nil
}

func (s *GormStore) wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := AsEngineError(err); ok {
		return err
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return NewNotFoundError(op, nil)
	}
	return NewDependencyUnavailable(op, err)
}

func (s *GormStore) scoped(ctx context.Context, q TicketQuery) *gorm.DB {
	tx := s.db.WithContext(ctx).Model(&models.Ticket{})
	if q.OnlyOpen {
		tx = tx.Where("status IN ?", models.OpenStatuses())
	}
	if len(q.TicketIDs) > 0 {
		tx = tx.Where("id IN ?", q.TicketIDs)
	}
	return tx
}

func (s *GormStore) ListTickets(ctx context.Context, q TicketQuery) ([]models.Ticket, error) {
	query := s.scoped(ctx, q).Where("id > ?", q.AfterID).Order("id ASC")
	if q.Limit > 0 {
		query = query.Limit(q.Limit)
	}
	var tickets []models.Ticket
	if err := query.Preload("Labels").Find(&tickets).Error; err != nil {
		return nil, s.wrap("list tickets", err)
	}
	return tickets, nil
}

func (s *GormStore) ExistingTicketIDs(ctx context.Context, ids []uint) ([]uint, error) {
	var found []uint
	err := forEachBatch(ids, func(batch []uint) error {
		var part []uint
		if err := s.db.WithContext(ctx).Model(&models.Ticket{}).
			Where("id IN ?", batch).Order("id ASC").Pluck("id", &part).Error; err != nil {
			return err
		}
		found = append(found, part...)
		return nil
	})
	if err != nil {
		return nil, s.wrap("lookup tickets", err)
	}
	return found, nil
}

func (s *GormStore) ListRules(ctx context.Context) ([]models.AssignmentRule, error) {
	var rules []models.AssignmentRule
	if err := s.db.WithContext(ctx).Where("active = ?", true).Order("id ASC").Find(&rules).Error; err != nil {
		return nil, s.wrap("list rules", err)
	}
	return rules, nil
}

func (s *GormStore) ListLabels(ctx context.Context) ([]models.Label, error) {
	var labels []models.Label
	if err := s.db.WithContext(ctx).Where("active = ?", true).Order("id ASC").Find(&labels).Error; err != nil {
		return nil, s.wrap("list labels", err)
	}
	return labels, nil
}

func (s *GormStore) ListSuggestions(ctx context.Context, ticketIDs []uint) ([]models.LabelSuggestion, error) {
	var out []models.LabelSuggestion
	err := forEachBatch(ticketIDs, func(batch []uint) error {
		var part []models.LabelSuggestion
		if err := s.db.WithContext(ctx).Where("ticket_id IN ?", batch).
			Order("ticket_id ASC, id ASC").Find(&part).Error; err != nil {
			return err
		}
		out = append(out, part...)
		return nil
	})
	if err != nil {
		return nil, s.wrap("list suggestions", err)
	}
	return out, nil
}

func (s *GormStore) GetSuggestion(ctx context.Context, id uint) (*models.LabelSuggestion, error) {
	var suggestion models.LabelSuggestion
	if err := s.db.WithContext(ctx).First(&suggestion, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, NewNotFoundError("suggestion", map[string]any{"suggestion_id": id})
		}
		return nil, s.wrap("get suggestion", err)
	}
	return &suggestion, nil
}

func (s *GormStore) ListClusterAssignments(ctx context.Context, ticketIDs []uint) ([]models.ClusterAssignment, error) {
	var out []models.ClusterAssignment
	if len(ticketIDs) == 0 {
		if err := s.db.WithContext(ctx).Order("ticket_id ASC").Find(&out).Error; err != nil {
			return nil, s.wrap("list clusters", err)
		}
		return out, nil
	}
	err := forEachBatch(ticketIDs, func(batch []uint) error {
		var part []models.ClusterAssignment
		if err := s.db.WithContext(ctx).Where("ticket_id IN ?", batch).Order("ticket_id ASC").Find(&part).Error; err != nil {
			return err
		}
		out = append(out, part...)
		return nil
	})
	if err != nil {
		return nil, s.wrap("list clusters", err)
	}
	return out, nil
}

func (s *GormStore) ListAlerts(ctx context.Context, ticketIDs []uint) ([]models.SLAAlert, error) {
	var out []models.SLAAlert
	err := forEachBatch(ticketIDs, func(batch []uint) error {
		var part []models.SLAAlert
		if err := s.db.WithContext(ctx).Where("ticket_id IN ?", batch).Find(&part).Error; err != nil {
			return err
		}
		out = append(out, part...)
		return nil
	})
	if err != nil {
		return nil, s.wrap("list alerts", err)
	}
	return out, nil
}

func (s *GormStore) AssignTicket(ctx context.Context, ticketID, technicianID uint) error {
	res := s.db.WithContext(ctx).Model(&models.Ticket{}).Where("id = ?", ticketID).Update("assigned_to", technicianID)
	if res.Error != nil {
		return s.wrap("assign ticket", res.Error)
	}
	if res.RowsAffected == 0 {
		return NewNotFoundError("ticket", map[string]any{"ticket_id": ticketID})
	}
	return nil
}

// ApplySuggestionPlan 只修改 pending 状态的建议
func (s *GormStore) ApplySuggestionPlan(ctx context.Context, plan SuggestionPlan) error {
	db := s.db.WithContext(ctx)
	if len(plan.Create) > 0 {
		if err := db.Create(&plan.Create).Error; err != nil {
			return s.wrap("create suggestions", err)
		}
	}
	for _, u := range plan.Update {
		if err := db.Model(&models.LabelSuggestion{}).
			Where("id = ? AND status = ?", u.ID, models.SuggestionPending).
			Update("score", u.Score).Error; err != nil {
			return s.wrap("update suggestions", err)
		}
	}
	if len(plan.Delete) > 0 {
		ids := make([]uint, len(plan.Delete))
		for i, d := range plan.Delete {
			ids[i] = d.ID
		}
		if err := db.Where("id IN ? AND status = ?", ids, models.SuggestionPending).
			Delete(&models.LabelSuggestion{}).Error; err != nil {
			return s.wrap("delete suggestions", err)
		}
	}
	return nil
}

// SaveSuggestionStatus 状态流转在写入边界再校验一次：只允许从 pending 出发
func (s *GormStore) SaveSuggestionStatus(ctx context.Context, suggestion *models.LabelSuggestion) error {
	res := s.db.WithContext(ctx).Model(&models.LabelSuggestion{}).
		Where("id = ? AND status = ?", suggestion.ID, models.SuggestionPending).
		Updates(map[string]interface{}{
			"status":     suggestion.Status,
			"decided_at": suggestion.DecidedAt,
		})
	if res.Error != nil {
		return s.wrap("save suggestion", res.Error)
	}
	if res.RowsAffected == 0 {
		return NewInvalidStateError("suggestion is no longer pending", map[string]any{"suggestion_id": suggestion.ID})
	}
	return nil
}

// AddTicketLabel 幂等添加确认标签（名称忽略大小写）
func (s *GormStore) AddTicketLabel(ctx context.Context, label *models.TicketLabel) error {
	db := s.db.WithContext(ctx)
	var existing models.TicketLabel
	err := db.Where("ticket_id = ? AND LOWER(name) = ?", label.TicketID, models.LabelKey(label.Name)).First(&existing).Error
	if err == nil {
		*label = existing
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return s.wrap("find ticket label", err)
	}
	if err := db.Create(label).Error; err != nil {
		return s.wrap("create ticket label", err)
	}
	return nil
}

func (s *GormStore) ReplaceClusterAssignments(ctx context.Context, scope []uint, assignments []models.ClusterAssignment) error {
	db := s.db.WithContext(ctx)
	if len(scope) == 0 {
		if err := db.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&models.ClusterAssignment{}).Error; err != nil {
			return s.wrap("clear clusters", err)
		}
	} else {
		err := forEachBatch(scope, func(batch []uint) error {
			return db.Where("ticket_id IN ?", batch).Delete(&models.ClusterAssignment{}).Error
		})
		if err != nil {
			return s.wrap("clear clusters", err)
		}
	}
	if len(assignments) == 0 {
		return nil
	}
	if err := db.CreateInBatches(assignments, 200).Error; err != nil {
		return s.wrap("store clusters", err)
	}
	return nil
}

// SaveAlert 按工单 upsert 告警状态
func (s *GormStore) SaveAlert(ctx context.Context, alert *models.SLAAlert) error {
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "ticket_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"severity", "elapsed_ratio", "due_at", "evaluated_at", "updated_at"}),
	}).Create(alert).Error
	return s.wrap("save alert", err)
}

func (s *GormStore) DeleteAlert(ctx context.Context, ticketID uint) error {
	err := s.db.WithContext(ctx).Where("ticket_id = ?", ticketID).Delete(&models.SLAAlert{}).Error
	return s.wrap("delete alert", err)
}

func (s *GormStore) RecordRun(ctx context.Context, run *models.EngineRun) error {
	return s.wrap("record run", s.db.WithContext(ctx).Create(run).Error)
}

func (s *GormStore) Transaction(ctx context.Context, fn func(tx TicketSource) error) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&GormStore{db: tx})
	})
	return s.wrap("transaction", err)
}

func forEachBatch(ids []uint, fn func(batch []uint) error) error {
	for start := 0; start < len(ids); start += inClauseBatch {
		end := start + inClauseBatch
		if end > len(ids) {
			end = len(ids)
		}
		if err := fn(ids[start:end]); err != nil {
			return err
		}
	}
	return nil
}
