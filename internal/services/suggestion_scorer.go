package services

import (
	"math"
	"sort"
	"strings"

	"ticketintel/internal/models"
	"ticketintel/pkg/utils"
)

// DefaultSuggestionThreshold 默认建议阈值
const DefaultSuggestionThreshold = 0.35

// 评分权重
const (
	textWeight        = 0.7
	categoricalWeight = 0.3

	categoryWeight    = 1.5
	subcategoryWeight = 0.8
	areaWeight        = 0.7
	categoricalNorm   = 3.0

	keywordHitFactor = 3.0
)

type vocabularyEntry struct {
	name     string
	key      string
	keywords map[string]struct{}
}

// SuggestionScorer 基于关键词的标签评分器，构造后只读
type SuggestionScorer struct {
	vocabulary []vocabularyEntry
}

// NewSuggestionScorer 用标签词表快照构造评分器，跳过停用和没有关键词的标签
func NewSuggestionScorer(labels []models.Label) *SuggestionScorer {
	s := &SuggestionScorer{}
	seen := make(map[string]struct{})
	for i := range labels {
		l := &labels[i]
		if !l.Active {
			continue
		}
		key := models.LabelKey(l.Name)
		if key == "" {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		kws := l.KeywordList()
		if len(kws) == 0 {
			continue
		}
		set := make(map[string]struct{}, len(kws))
		for _, kw := range kws {
			set[kw] = struct{}{}
		}
		seen[key] = struct{}{}
		s.vocabulary = append(s.vocabulary, vocabularyEntry{name: strings.TrimSpace(l.Name), key: key, keywords: set})
	}
	sort.Slice(s.vocabulary, func(i, j int) bool { return s.vocabulary[i].key < s.vocabulary[j].key })
	return s
}

// Score 计算工单对每个标签的分值（已确认标签除外），描述为空时返回 nil
func (s *SuggestionScorer) Score(t *models.Ticket) map[string]float64 {
	if strings.TrimSpace(t.Description) == "" {
		return nil
	}
	tokens := utils.Tokenize(t.Title + "\n" + t.Description)
	category := models.LabelKey(t.Category)
	subcategory := models.LabelKey(t.Subcategory)
	area := models.LabelKey(t.Area)

	scores := make(map[string]float64, len(s.vocabulary))
	for _, entry := range s.vocabulary {
		if t.HasLabel(entry.name) {
			continue
		}
		text := 0.0
		if len(tokens) > 0 {
			hits := 0
			for _, tok := range tokens {
				if _, ok := entry.keywords[tok]; ok {
					hits++
				}
			}
			text = math.Min(1, keywordHitFactor*float64(hits)/float64(len(tokens)))
		}

		categorical := 0.0
		if _, ok := entry.keywords[category]; ok && category != "" {
			categorical += categoryWeight
		}
		if _, ok := entry.keywords[subcategory]; ok && subcategory != "" {
			categorical += subcategoryWeight
		}
		if _, ok := entry.keywords[area]; ok && area != "" {
			categorical += areaWeight
		}
		categorical /= categoricalNorm

		scores[entry.name] = utils.Round(utils.Clamp01(textWeight*text+categoricalWeight*categorical), 2)
	}
	return scores
}

// Candidates 返回分值不低于阈值的候选标签，按分值降序、标签名升序
func (s *SuggestionScorer) Candidates(t *models.Ticket, threshold float64) []LabelCandidate {
	var out []LabelCandidate
	for label, score := range s.Score(t) {
		if score <= 0 || score < threshold {
			continue
		}
		out = append(out, LabelCandidate{Label: label, Score: score})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return models.LabelKey(out[i].Label) < models.LabelKey(out[j].Label)
	})
	return out
}
