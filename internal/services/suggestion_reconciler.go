package services

import (
	"math"

	"ticketintel/internal/models"
)

// LabelCandidate 达到阈值的候选标签
type LabelCandidate struct {
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

// SuggestionPlan 单个工单的建议变更集
type SuggestionPlan struct {
	TicketID uint
	Create   []models.LabelSuggestion
	Update   []models.LabelSuggestion
	Delete   []models.LabelSuggestion
}

// Empty 没有任何变更
func (p SuggestionPlan) Empty() bool {
	return len(p.Create) == 0 && len(p.Update) == 0 && len(p.Delete) == 0
}

// ReconcileSuggestions 对比已有建议与新候选，生成三路差异
//
// 以小写标签为键：新标签创建为 pending；pending 建议分值变化超过 epsilon 时更新；
// 不在候选中的 pending 建议删除。已接受或已拒绝的建议不会被修改，
// 对应标签的候选直接跳过，保证每个标签最多一条建议。
func ReconcileSuggestions(ticketID uint, existing []models.LabelSuggestion, candidates []LabelCandidate, epsilon float64) SuggestionPlan {
	plan := SuggestionPlan{TicketID: ticketID}

	current := make(map[string]models.LabelSuggestion, len(existing))
	for _, s := range existing {
		if s.TicketID != ticketID {
			continue
		}
		key := models.LabelKey(s.Label)
		prev, seen := current[key]
		// 同一标签出现多条时，已决定的那条优先保留
		if !seen || (prev.Status == models.SuggestionPending && s.Status != models.SuggestionPending) {
			current[key] = s
		}
	}

	wanted := make(map[string]struct{}, len(candidates))
	for _, c := range candidates {
		key := models.LabelKey(c.Label)
		if key == "" {
			continue
		}
		if _, dup := wanted[key]; dup {
			continue
		}
		wanted[key] = struct{}{}

		prev, ok := current[key]
		switch {
		case !ok:
			plan.Create = append(plan.Create, models.LabelSuggestion{
				TicketID: ticketID,
				Label:    c.Label,
				Score:    c.Score,
				Status:   models.SuggestionPending,
			})
		case prev.Status != models.SuggestionPending:
			continue
		case math.Abs(prev.Score-c.Score) > epsilon:
			prev.Score = c.Score
			plan.Update = append(plan.Update, prev)
		}
	}

	for _, s := range existing {
		if s.TicketID != ticketID || s.Status != models.SuggestionPending {
			continue
		}
		key := models.LabelKey(s.Label)
		_, keep := wanted[key]
		if keep && current[key].ID == s.ID {
			continue
		}
		plan.Delete = append(plan.Delete, s)
	}
	return plan
}
