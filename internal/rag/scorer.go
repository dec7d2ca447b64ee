package rag

import (
	"math"
	"sort"
	"strings"
	"time"

	"kb-pilot-go/internal/config"
	"kb-pilot-go/internal/model"
)

// scoreEpsilon 是相关性分数的量化粒度：同一档位视为同分，
// 按相似度、块序号决出次序。
const scoreEpsilon = 1e-9

// Scorer 把相似度、元数据匹配与新鲜度合成为单一相关性分数：
//
//	relevance = w1*similarity + w2*metadataMatch + w3*recencyBonus
//
// w1 占主导（>= 0.6），保证对 similarity 单调：其他输入不变时，
// 相似度严格上升绝不会降低排名。
type Scorer struct {
	simWeight     float64
	metaWeight    float64
	recencyWeight float64
	recencyWindow time.Duration
	now           func() time.Time
}

// NewScorer 用配置的权重创建打分器。
func NewScorer(cfg config.RetrievalConfig) *Scorer {
	return &Scorer{
		simWeight:     cfg.SimilarityWeight,
		metaWeight:    cfg.MetadataWeight,
		recencyWeight: cfg.RecencyWeight,
		recencyWindow: time.Duration(cfg.RecencyWindowDays) * 24 * time.Hour,
		now:           time.Now,
	}
}

// Score 对候选集打分并排序。useCase 是从查询文本提取出的用例标签。
func (s *Scorer) Score(query string, useCase string, hits []model.Hit) []model.RankedEvidence {
	terms := tokenizeTerms(query)
	ranked := make([]model.RankedEvidence, 0, len(hits))
	for _, h := range hits {
		meta := s.metadataMatch(useCase, terms, h.Chunk)
		recency := s.recencyBonus(h.Chunk)
		ranked = append(ranked, model.RankedEvidence{
			ChunkID:    h.ChunkID,
			Similarity: h.Similarity,
			Relevance:  s.simWeight*h.Similarity + s.metaWeight*meta + s.recencyWeight*recency,
			Modality:   h.Chunk.Modality,
			Chunk:      h.Chunk,
		})
	}
	SortEvidence(ranked)
	return ranked
}

// metadataMatch 返回 1 或 0：配置的元数据字段是否命中查询启发信号。
// 命中条件：use_case 标签一致，或标题含任一查询词条。
func (s *Scorer) metadataMatch(useCase string, queryTerms []string, c *model.Chunk) float64 {
	if c == nil || len(c.Metadata) == 0 {
		return 0
	}
	if useCase != UseCaseDefault && c.Metadata["use_case"] == useCase {
		return 1
	}
	if title := strings.ToLower(c.Metadata["title"]); title != "" {
		for _, t := range queryTerms {
			if strings.Contains(title, t) {
				return 1
			}
		}
	}
	return 0
}

// recencyBonus 是文档年龄的单调递减函数，取值 [0,1]：
// 当天为 1.0，窗口期（默认 60 天）线性衰减到 0；无时间戳给中性值 0.5。
func (s *Scorer) recencyBonus(c *model.Chunk) float64 {
	if c == nil || c.IngestedAt.IsZero() {
		return 0.5
	}
	age := s.now().Sub(c.IngestedAt)
	if age <= 0 {
		return 1
	}
	if age >= s.recencyWindow {
		return 0
	}
	return 1 - float64(age)/float64(s.recencyWindow)
}

// SortEvidence 按约定排序：相关性量化到 epsilon 粒度后降序；
// 同档按相似度降序，再按块序号升序，保证确定性。
// 量化成整数档位而不是逐对比差值，否则 epsilon 同分关系不可传递，
// 排序结果会依赖输入顺序。
func SortEvidence(ev []model.RankedEvidence) {
	bucket := func(r float64) float64 { return math.Round(r / scoreEpsilon) }
	sort.SliceStable(ev, func(i, j int) bool {
		bi, bj := bucket(ev[i].Relevance), bucket(ev[j].Relevance)
		if bi != bj {
			return bi > bj
		}
		if ev[i].Similarity != ev[j].Similarity {
			return ev[i].Similarity > ev[j].Similarity
		}
		pi, pj := 0, 0
		if ev[i].Chunk != nil {
			pi = ev[i].Chunk.Position
		}
		if ev[j].Chunk != nil {
			pj = ev[j].Chunk.Position
		}
		return pi < pj
	})
}
