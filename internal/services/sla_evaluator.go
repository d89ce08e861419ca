package services

import (
	"math"
	"time"

	"ticketintel/internal/config"
	"ticketintel/internal/models"
	"ticketintel/pkg/utils"
)

// DefaultWarnRatio 默认预警比例
const DefaultWarnRatio = 0.75

// SLAPolicy 各优先级的 SLA 时限与预警比例
type SLAPolicy struct {
	Deadlines       map[models.Priority]time.Duration
	DefaultDeadline time.Duration // 未知优先级使用
	WarnRatio       float64
}

// DefaultSLAPolicy 默认时限：low 72h, medium 24h, high 4h, critical 1h
func DefaultSLAPolicy() SLAPolicy {
	return SLAPolicy{
		Deadlines: map[models.Priority]time.Duration{
			models.PriorityLow:      72 * time.Hour,
			models.PriorityMedium:   24 * time.Hour,
			models.PriorityHigh:     4 * time.Hour,
			models.PriorityCritical: 1 * time.Hour,
		},
		DefaultDeadline: 72 * time.Hour,
		WarnRatio:       DefaultWarnRatio,
	}
}

// PolicyFromConfig 由配置构造策略，配置中缺失的优先级沿用默认值
func PolicyFromConfig(cfg config.SLAConfig) SLAPolicy {
	p := DefaultSLAPolicy()
	for name, d := range cfg.Deadlines {
		if priority, ok := models.ParsePriority(name); ok && d > 0 {
			p.Deadlines[priority] = d
		}
	}
	if cfg.DefaultDeadline > 0 {
		p.DefaultDeadline = cfg.DefaultDeadline
	}
	if cfg.WarnRatio != 0 {
		p.WarnRatio = cfg.WarnRatio
	}
	return p
}

// WithWarnRatio 返回替换了预警比例的副本
func (p SLAPolicy) WithWarnRatio(ratio float64) SLAPolicy {
	deadlines := make(map[models.Priority]time.Duration, len(p.Deadlines))
	for k, v := range p.Deadlines {
		deadlines[k] = v
	}
	p.Deadlines = deadlines
	p.WarnRatio = ratio
	return p
}

// Validate 预警比例必须在 (0,1]，时限必须为正
func (p SLAPolicy) Validate() error {
	if math.IsNaN(p.WarnRatio) || p.WarnRatio <= 0 || p.WarnRatio > 1 {
		return NewValidationError("warn ratio must be within (0,1]", map[string]any{"warn_ratio": p.WarnRatio})
	}
	for priority, d := range p.Deadlines {
		if d <= 0 {
			return NewValidationError("sla deadline must be positive", map[string]any{"priority": string(priority)})
		}
	}
	if p.DefaultDeadline <= 0 {
		return NewValidationError("default sla deadline must be positive", nil)
	}
	return nil
}

// DeadlineFor 优先级对应的时限
func (p SLAPolicy) DeadlineFor(priority models.Priority) time.Duration {
	if d, ok := p.Deadlines[priority]; ok && d > 0 {
		return d
	}
	return p.DefaultDeadline
}

// AlertState 单个工单的 SLA 评估结果（内存派生）
type AlertState struct {
	TicketID     uint
	Severity     models.AlertSeverity
	ElapsedRatio float64
	Deadline     time.Duration
	Elapsed      time.Duration
	DueAt        time.Time
}

// Remaining 距离截止时间的剩余时长，超时为负
func (a AlertState) Remaining() time.Duration {
	return a.Deadline - a.Elapsed
}

// Evaluate 计算工单的告警级别
//
// 已解决/已关闭的工单恒为 none。其余按 elapsed 与时限比较：
// elapsed ≥ deadline 为 breach，elapsed ≥ warnRatio·deadline 为 warning。
// 比较在整数纳秒上进行，边界值不受浮点误差影响。
func (p SLAPolicy) Evaluate(t *models.Ticket, now time.Time) AlertState {
	deadline := p.DeadlineFor(t.Priority)
	elapsed := now.Sub(t.CreatedAt)
	state := AlertState{
		TicketID:     t.ID,
		Severity:     models.SeverityNone,
		Deadline:     deadline,
		Elapsed:      elapsed,
		DueAt:        t.CreatedAt.Add(deadline),
		ElapsedRatio: utils.Round(float64(elapsed)/float64(deadline), 4),
	}
	if t.Status.IsTerminal() {
		return state
	}

	warnAt := time.Duration(math.Round(p.WarnRatio * float64(deadline)))
	switch {
	case elapsed >= deadline:
		state.Severity = models.SeverityBreach
	case elapsed >= warnAt:
		state.Severity = models.SeverityWarning
	}
	return state
}
