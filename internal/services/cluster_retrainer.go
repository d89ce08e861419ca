package services

import (
	"math"
	"math/rand"
	"sort"
	"strconv"
	"strings"

	"ticketintel/internal/models"
	"ticketintel/pkg/utils"
)

// DefaultMaxIterations Lloyd 迭代上限
const DefaultMaxIterations = 50

// ClusterSample 聚类用的工单特征（只保留必要字段，避免持有整张工单）
type ClusterSample struct {
	TicketID       uint
	Category       string
	Subcategory    string
	Area           string
	Priority       string
	Status         string
	LengthFeature  float64 // log1p(len(description)) / 10
	KeywordDensity float64 // 词表关键词命中数 / token 数
}

// NewClusterSample 提取工单特征
func NewClusterSample(t *models.Ticket, keywords map[string]struct{}) ClusterSample {
	tokens := utils.Tokenize(t.Title + "\n" + t.Description)
	density := 0.0
	if len(tokens) > 0 && len(keywords) > 0 {
		hits := 0
		for _, tok := range tokens {
			if _, ok := keywords[tok]; ok {
				hits++
			}
		}
		density = float64(hits) / float64(len(tokens))
	}
	return ClusterSample{
		TicketID:       t.ID,
		Category:       models.LabelKey(t.Category),
		Subcategory:    models.LabelKey(t.Subcategory),
		Area:           models.LabelKey(t.Area),
		Priority:       string(t.Priority),
		Status:         string(t.Status),
		LengthFeature:  math.Log1p(float64(len([]rune(t.Description)))) / 10,
		KeywordDensity: density,
	}
}

// VocabularyKeywords 词表全部关键词的并集
func VocabularyKeywords(labels []models.Label) map[string]struct{} {
	set := make(map[string]struct{})
	for i := range labels {
		if !labels[i].Active {
			continue
		}
		for _, kw := range labels[i].KeywordList() {
			set[kw] = struct{}{}
		}
	}
	return set
}

// EncodeSamples 类别特征 one-hot 编码（取值排序后分配维度），末尾追加两个数值特征
func EncodeSamples(samples []ClusterSample) [][]float64 {
	fields := []func(ClusterSample) string{
		func(s ClusterSample) string { return s.Category },
		func(s ClusterSample) string { return s.Subcategory },
		func(s ClusterSample) string { return s.Area },
		func(s ClusterSample) string { return s.Priority },
		func(s ClusterSample) string { return s.Status },
	}

	offsets := make([]map[string]int, len(fields))
	width := 0
	for f, get := range fields {
		seen := make(map[string]struct{})
		for _, s := range samples {
			seen[get(s)] = struct{}{}
		}
		values := make([]string, 0, len(seen))
		for v := range seen {
			values = append(values, v)
		}
		sort.Strings(values)
		offsets[f] = make(map[string]int, len(values))
		for _, v := range values {
			offsets[f][v] = width
			width++
		}
	}

	vectors := make([][]float64, len(samples))
	for i, s := range samples {
		vec := make([]float64, width+2)
		for f, get := range fields {
			vec[offsets[f][get(s)]] = 1
		}
		vec[width] = s.LengthFeature
		vec[width+1] = s.KeywordDensity
		vectors[i] = vec
	}
	return vectors
}

// KMeansResult 聚类结果
type KMeansResult struct {
	Assignments  []int       // 与输入顺序一致，簇编号从 1 开始
	Effective    int         // 实际非空簇数
	Distribution map[int]int // 簇编号 → 工单数
	Iterations   int
}

// KMeans 以 k-means++ 初始化的 Lloyd 聚类
//
// 随机性只来自 rng，相同输入与相同种子得到相同划分。距离相同时选择编号最小的簇。
// 有效簇数为 min(k, 不同向量数)，空簇被丢弃，簇编号按首次出现顺序重排为 1..n。
func KMeans(vectors [][]float64, k int, rng *rand.Rand, maxIter int) KMeansResult {
	res := KMeansResult{Distribution: map[int]int{}}
	n := len(vectors)
	if n == 0 || k <= 0 {
		return res
	}
	if maxIter <= 0 {
		maxIter = DefaultMaxIterations
	}
	if d := distinctVectors(vectors); k > d {
		k = d
	}

	centers := seedCenters(vectors, k, rng)
	labels := make([]int, n)
	for i := range labels {
		labels[i] = -1
	}

	for iter := 0; iter < maxIter; iter++ {
		res.Iterations = iter + 1
		changed := false
		for i, v := range vectors {
			best := nearest(v, centers)
			if best != labels[i] {
				labels[i] = best
				changed = true
			}
		}
		if !changed {
			break
		}
		centers = recomputeCenters(vectors, labels, centers)
	}

	// 按首次出现顺序重新编号
	renumber := make(map[int]int, len(centers))
	res.Assignments = make([]int, n)
	for i, c := range labels {
		id, ok := renumber[c]
		if !ok {
			id = len(renumber) + 1
			renumber[c] = id
		}
		res.Assignments[i] = id
		res.Distribution[id]++
	}
	res.Effective = len(renumber)
	return res
}

func seedCenters(vectors [][]float64, k int, rng *rand.Rand) [][]float64 {
	n := len(vectors)
	centers := make([][]float64, 0, k)
	centers = append(centers, cloneVector(vectors[rng.Intn(n)]))

	dist := make([]float64, n)
	for len(centers) < k {
		total := 0.0
		for i, v := range vectors {
			d := squaredDistance(v, centers[0])
			for _, c := range centers[1:] {
				if dd := squaredDistance(v, c); dd < d {
					d = dd
				}
			}
			dist[i] = d
			total += d
		}
		if total == 0 {
			break
		}

		target := rng.Float64() * total
		pick := -1
		cum := 0.0
		for i, d := range dist {
			if d == 0 {
				continue
			}
			cum += d
			pick = i
			if cum >= target {
				break
			}
		}
		centers = append(centers, cloneVector(vectors[pick]))
	}
	return centers
}

func recomputeCenters(vectors [][]float64, labels []int, prev [][]float64) [][]float64 {
	dim := len(vectors[0])
	sums := make([][]float64, len(prev))
	counts := make([]int, len(prev))
	for c := range sums {
		sums[c] = make([]float64, dim)
	}
	for i, v := range vectors {
		c := labels[i]
		counts[c]++
		for d, x := range v {
			sums[c][d] += x
		}
	}
	next := make([][]float64, len(prev))
	for c := range sums {
		if counts[c] == 0 {
			// 空簇保留原中心
			next[c] = prev[c]
			continue
		}
		for d := range sums[c] {
			sums[c][d] /= float64(counts[c])
		}
		next[c] = sums[c]
	}
	return next
}

func nearest(v []float64, centers [][]float64) int {
	best, bestDist := 0, math.Inf(1)
	for c, center := range centers {
		if d := squaredDistance(v, center); d < bestDist {
			best, bestDist = c, d
		}
	}
	return best
}

func squaredDistance(a, b []float64) float64 {
	sum := 0.0
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}

func distinctVectors(vectors [][]float64) int {
	seen := make(map[string]struct{}, len(vectors))
	var b strings.Builder
	for _, v := range vectors {
		b.Reset()
		for _, x := range v {
			b.WriteString(strconv.FormatUint(math.Float64bits(x), 16))
			b.WriteByte(',')
		}
		seen[b.String()] = struct{}{}
	}
	return len(seen)
}

func cloneVector(v []float64) []float64 {
	out := make([]float64, len(v))
	copy(out, v)
	return out
}
