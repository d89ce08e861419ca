package utils

import (
	"math"
	"regexp"
	"strings"
	"time"
)

var (
	wordRe  = regexp.MustCompile(`[\p{L}\p{N}_]+`)
	spaceRe = regexp.MustCompile(`\s+`)
)

// Tokenize 按 unicode 词切分并转为小写
func Tokenize(text string) []string {
	words := wordRe.FindAllString(text, -1)
	if len(words) == 0 {
		return nil
	}
	out := make([]string, len(words))
	for i, w := range words {
		out[i] = strings.ToLower(w)
	}
	return out
}

// CompactSpaces 将连续空白压缩为一个空格
func CompactSpaces(s string) string {
	return strings.TrimSpace(spaceRe.ReplaceAllString(s, " "))
}

// SplitCSV 拆分逗号分隔的字符串，忽略空项
func SplitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Round 四舍五入到指定小数位
func Round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

// Clamp01 将数值限制在 [0,1]
func Clamp01(v float64) float64 {
	if v < 0 || math.IsNaN(v) {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// 时间格式化
func FormatTime(t time.Time) string {
	return t.Format("2006-01-02 15:04:05")
}

// UniqueUints 去重并保持首次出现顺序
func UniqueUints(ids []uint) []uint {
	seen := make(map[uint]struct{}, len(ids))
	out := make([]uint, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
