package services

import (
	"sort"

	"ticketintel/internal/models"
)

// RuleMatcher 按顺序匹配自动分配规则（首个命中生效）
type RuleMatcher struct {
	rules []models.AssignmentRule
}

// NewRuleMatcher 过滤停用规则，按 Priority 升序排序，相同优先级保持插入顺序（ID 升序）
func NewRuleMatcher(rules []models.AssignmentRule) *RuleMatcher {
	active := make([]models.AssignmentRule, 0, len(rules))
	for _, r := range rules {
		if r.Active {
			active = append(active, r)
		}
	}
	sort.SliceStable(active, func(i, j int) bool {
		if active[i].Priority != active[j].Priority {
			return active[i].Priority < active[j].Priority
		}
		return active[i].ID < active[j].ID
	})
	return &RuleMatcher{rules: active}
}

// Match 返回首个匹配规则，未匹配时 ok 为 false
func (m *RuleMatcher) Match(t *models.Ticket) (rule models.AssignmentRule, ok bool) {
	for _, r := range m.rules {
		if predicateMatches(r.Category, t.Category) &&
			predicateMatches(r.Subcategory, t.Subcategory) &&
			predicateMatches(r.Area, t.Area) {
			return r, true
		}
	}
	return models.AssignmentRule{}, false
}

// Technician 匹配到的技术员ID
func (m *RuleMatcher) Technician(t *models.Ticket) (uint, bool) {
	r, ok := m.Match(t)
	if !ok {
		return 0, false
	}
	return r.TechnicianID, true
}

// predicateMatches 空谓词表示不关心该字段
func predicateMatches(predicate *string, value string) bool {
	if predicate == nil {
		return true
	}
	want := models.LabelKey(*predicate)
	if want == "" {
		return true
	}
	return want == models.LabelKey(value)
}
