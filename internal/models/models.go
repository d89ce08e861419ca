package models

import (
	"sort"
	"strings"
	"time"

	"ticketintel/pkg/utils"

	"gorm.io/gorm"
)

// Priority 工单优先级（有序：low < medium < high < critical）
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// Priorities 按从低到高的顺序返回全部优先级
func Priorities() []Priority {
	return []Priority{PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical}
}

// Rank 返回优先级序号，未知优先级返回 -1
func (p Priority) Rank() int {
	for i, candidate := range Priorities() {
		if candidate == p {
			return i
		}
	}
	return -1
}

// Valid 是否为已知优先级
func (p Priority) Valid() bool {
	return p.Rank() >= 0
}

// ParsePriority 解析优先级（忽略大小写与首尾空白）
func ParsePriority(s string) (Priority, bool) {
	p := Priority(strings.ToLower(strings.TrimSpace(s)))
	return p, p.Valid()
}

// TicketStatus 工单状态
type TicketStatus string

const (
	StatusOpen       TicketStatus = "open"
	StatusInProgress TicketStatus = "in_progress"
	StatusResolved   TicketStatus = "resolved"
	StatusClosed     TicketStatus = "closed"
)

// OpenStatuses 仍需处理的状态
func OpenStatuses() []TicketStatus {
	return []TicketStatus{StatusOpen, StatusInProgress}
}

// IsTerminal 已解决或已关闭的工单不再参与 SLA 告警
func (s TicketStatus) IsTerminal() bool {
	return s == StatusResolved || s == StatusClosed
}

// 工单模型
type Ticket struct {
	ID          uint           `gorm:"primaryKey" json:"id"`
	Title       string         `gorm:"not null" json:"title"`
	Description string         `gorm:"type:text" json:"description"`
	Category    string         `gorm:"index" json:"category"`
	Subcategory string         `json:"subcategory"`
	Area        string         `json:"area"`
	Priority    Priority       `gorm:"default:'medium'" json:"priority"`
	Status      TicketStatus   `gorm:"default:'open';index" json:"status"`
	AssignedTo  *uint          `gorm:"index" json:"assigned_to"` // 技术员ID，为空表示未分配
	ResolvedAt  *time.Time     `json:"resolved_at"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	DeletedAt   gorm.DeletedAt `gorm:"index" json:"-"`

	// 关联关系
	Labels []TicketLabel `gorm:"foreignKey:TicketID" json:"labels,omitempty"`
}

// HasLabel 判断工单是否已确认某个标签（忽略大小写）
func (t *Ticket) HasLabel(name string) bool {
	key := LabelKey(name)
	for _, l := range t.Labels {
		if LabelKey(l.Name) == key {
			return true
		}
	}
	return false
}

// 工单已确认标签
type TicketLabel struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	TicketID  uint      `gorm:"uniqueIndex:idx_ticket_label;not null" json:"ticket_id"`
	Name      string    `gorm:"uniqueIndex:idx_ticket_label;not null" json:"name"`
	Source    string    `gorm:"default:'manual'" json:"source"` // manual, suggestion
	CreatedAt time.Time `json:"created_at"`
}

// LabelKey 标签比较键（小写、去首尾空白）
func LabelKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// 自动分配规则
// Category/Subcategory/Area 为空表示该字段不参与匹配
type AssignmentRule struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	Name         string    `json:"name"`
	Category     *string   `json:"category"`
	Subcategory  *string   `json:"subcategory"`
	Area         *string   `json:"area"`
	TechnicianID uint      `gorm:"not null;index" json:"technician_id"`
	Priority     int       `gorm:"not null;index" json:"priority"` // 越小越优先
	Active       bool      `gorm:"not null" json:"active"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// 标签词表
type Label struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Name      string    `gorm:"uniqueIndex;not null" json:"name"`
	Keywords  string    `gorm:"type:text" json:"keywords"` // 关键词，逗号分隔
	Active    bool      `gorm:"not null" json:"active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// KeywordList 返回规范化（小写、去重、排序）后的关键词
func (l *Label) KeywordList() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, raw := range utils.SplitCSV(l.Keywords) {
		kw := strings.ToLower(raw)
		if _, ok := seen[kw]; ok {
			continue
		}
		seen[kw] = struct{}{}
		out = append(out, kw)
	}
	sort.Strings(out)
	return out
}

// SuggestionStatus 标签建议状态
type SuggestionStatus string

const (
	SuggestionPending  SuggestionStatus = "pending"
	SuggestionAccepted SuggestionStatus = "accepted"
	SuggestionRejected SuggestionStatus = "rejected"
)

// CanTransitionTo 状态流转只允许 pending → accepted | rejected
func (s SuggestionStatus) CanTransitionTo(next SuggestionStatus) bool {
	if s != SuggestionPending {
		return false
	}
	return next == SuggestionAccepted || next == SuggestionRejected
}

// 标签建议
type LabelSuggestion struct {
	ID        uint             `gorm:"primaryKey" json:"id"`
	TicketID  uint             `gorm:"uniqueIndex:idx_ticket_suggestion;not null" json:"ticket_id"`
	Label     string           `gorm:"uniqueIndex:idx_ticket_suggestion;not null" json:"label"`
	Score     float64          `gorm:"not null" json:"score"`
	Status    SuggestionStatus `gorm:"default:'pending';index" json:"status"`
	DecidedAt *time.Time       `json:"decided_at"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// 聚类结果
type ClusterAssignment struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	TicketID   uint      `gorm:"uniqueIndex;not null" json:"ticket_id"`
	ClusterID  int       `gorm:"not null;index" json:"cluster_id"`
	RunID      string    `gorm:"index" json:"run_id"`
	AssignedAt time.Time `json:"assigned_at"`
}

// AlertSeverity SLA 告警级别
type AlertSeverity string

const (
	SeverityNone    AlertSeverity = "none"
	SeverityWarning AlertSeverity = "warning"
	SeverityBreach  AlertSeverity = "breach"
)

// Rank none < warning < breach
func (s AlertSeverity) Rank() int {
	switch s {
	case SeverityWarning:
		return 1
	case SeverityBreach:
		return 2
	default:
		return 0
	}
}

// SLA 告警状态（只在级别变化时写入）
type SLAAlert struct {
	ID           uint          `gorm:"primaryKey" json:"id"`
	TicketID     uint          `gorm:"uniqueIndex;not null" json:"ticket_id"`
	Severity     AlertSeverity `gorm:"not null;index" json:"severity"`
	ElapsedRatio float64       `json:"elapsed_ratio"`
	DueAt        time.Time     `json:"due_at"`
	EvaluatedAt  time.Time     `json:"evaluated_at"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

// 引擎运行记录
type EngineRun struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	RunID         string    `gorm:"uniqueIndex;not null" json:"run_id"`
	Operation     string    `gorm:"index;not null" json:"operation"` // suggestions, clusters, sla, assignments
	StartedAt     time.Time `json:"started_at"`
	FinishedAt    time.Time `json:"finished_at"`
	Processed     int       `json:"processed"`
	ChunkFailures int       `json:"chunk_failures"`
	Report        string    `gorm:"type:text" json:"report"` // JSON
	CreatedAt     time.Time `json:"created_at"`
}

// AllModels 需要迁移的全部模型
func AllModels() []interface{} {
	return []interface{}{
		&Ticket{}, &TicketLabel{}, &AssignmentRule{}, &Label{},
		&LabelSuggestion{}, &ClusterAssignment{}, &SLAAlert{}, &EngineRun{},
	}
}
