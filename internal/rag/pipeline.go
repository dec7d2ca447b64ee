package rag

import (
	"context"
	"fmt"

	"kb-pilot-go/internal/config"
	"kb-pilot-go/internal/model"
	"kb-pilot-go/pkg/log"
)

// Pipeline 串联一次查询的完整数据流：
// 查询向量化 -> 向量索引召回 -> 相关性打分 -> 上下文装配 ->
// 多模态融合（如涉及媒体）-> 应答生成。
// 每个查询独立处理，除向量索引外各阶段不共享可变状态，可跨查询并行。
type Pipeline struct {
	embedder  Embedder
	lexical   Embedder
	index     VectorIndex
	scorer    *Scorer
	builder   *ContextBuilder
	generator *Generator
	topK      int
	threshold float64
	maxTokens int
}

// NewPipeline 创建检索增强生成管线。
func NewPipeline(
	embedder Embedder,
	lexical Embedder,
	index VectorIndex,
	scorer *Scorer,
	builder *ContextBuilder,
	generator *Generator,
	retrievalCfg config.RetrievalConfig,
	contextCfg config.ContextConfig,
) *Pipeline {
	return &Pipeline{
		embedder:  embedder,
		lexical:   lexical,
		index:     index,
		scorer:    scorer,
		builder:   builder,
		generator: generator,
		topK:      retrievalCfg.TopK,
		threshold: retrievalCfg.SimilarityThreshold,
		maxTokens: contextCfg.MaxTokens,
	}
}

// Answer 处理一次问答请求，返回带引用的应答。
// 索引后端不可达时返回包 ErrIndexUnavailable 的错误，调用方据此提示重试；
// 嵌入/生成失败在各自阶段内降级吸收，不会以硬错误出现在这里。
func (p *Pipeline) Answer(ctx context.Context, q *model.Query) (*model.Answer, error) {
	useCase, window, err := p.Retrieve(ctx, q)
	if err != nil {
		return nil, err
	}
	if window.Empty() {
		log.Infof("[Pipeline] 无相关证据, query: '%s'", q.Text)
	}
	answer, err := p.generator.Generate(ctx, q, useCase, window)
	if err != nil {
		return nil, err
	}
	log.Infof("[Pipeline] 应答完成, mode: %s, citations: %d, useCase: %s",
		answer.GenerationMode, len(answer.Citations), answer.UseCaseTag)
	return answer, nil
}

// Retrieve 执行检索部分（向量化到上下文装配），返回用例标签与上下文窗口。
// 供流式聊天入口复用：检索完成后由调用方自行驱动流式生成。
func (p *Pipeline) Retrieve(ctx context.Context, q *model.Query) (string, *model.ContextWindow, error) {
	useCase := DetectUseCase(q.Text)
	if q.AttachedMedia != nil {
		useCase = UseCaseMultimodal
	}
	log.Infof("[Pipeline] 步骤1: 用例识别, query: '%s', useCase: %s", q.Text, useCase)

	// 步骤2: 查询向量化，主策略不可用时降级到词法向量
	textVector, err := p.embedQuery(ctx, q.Text, model.ModalityText)
	if err != nil {
		return useCase, nil, err
	}
	log.Infof("[Pipeline] 步骤2: 查询向量化完成, 维度: %d", len(textVector))

	// 步骤3: 文本空间召回
	textHits, err := p.search(ctx, textVector, model.ModalityText)
	if err != nil {
		return useCase, nil, err
	}
	textRanked := p.scorer.Score(q.Text, useCase, textHits)
	log.Infof("[Pipeline] 步骤3: 文本召回完成, 过阈值候选 %d 条", len(textHits))

	// 步骤4: 附带媒体时在对应模态空间内召回（各模态空间互不直接比较）
	var mediaRanked []model.RankedEvidence
	if q.AttachedMedia != nil && q.AttachedMedia.Modality.Valid() {
		mediaVector, err := p.embedQuery(ctx, q.AttachedMedia.Descriptor, q.AttachedMedia.Modality)
		if err != nil {
			return useCase, nil, err
		}
		mediaHits, err := p.search(ctx, mediaVector, q.AttachedMedia.Modality)
		if err != nil {
			return useCase, nil, err
		}
		mediaRanked = p.scorer.Score(q.AttachedMedia.Descriptor, useCase, mediaHits)
		log.Infof("[Pipeline] 步骤4: 媒体召回 %d 条, modality: %s", len(mediaHits), q.AttachedMedia.Modality)
	}

	// 步骤5: 融合（无媒体时透传）后装配有界上下文
	fused := Fuse(textRanked, mediaRanked)
	window := p.builder.Build(fused, p.maxTokens)
	log.Infof("[Pipeline] 步骤5: 上下文装配完成, 入选 %d 块, tokens: %d/%d",
		len(window.Selected), window.TotalTokens, window.MaxTokens)
	return useCase, window, nil
}

// embedQuery 执行查询向量化：主策略失败且是模型不可用时切词法降级。
func (p *Pipeline) embedQuery(ctx context.Context, content string, modality model.Modality) ([]float32, error) {
	vec, err := p.embedder.Embed(ctx, content, modality)
	if err == nil {
		return vec, nil
	}
	if !IsModelUnavailable(err) {
		return nil, err
	}
	log.Warnf("[Pipeline] 嵌入模型不可用，查询改用词法向量: %v", err)
	return p.lexical.Embed(ctx, content, modality)
}

// search 调用向量索引并做最小相似度阈值过滤。
// 低于阈值的候选被丢弃；全部被丢弃不是错误，走"未找到知识"应答。
func (p *Pipeline) search(ctx context.Context, vector []float32, modality model.Modality) ([]model.Hit, error) {
	hits, err := p.index.Search(ctx, vector, modality, p.topK)
	if err != nil {
		return nil, fmt.Errorf("检索失败: %w", err)
	}
	filtered := hits[:0]
	for _, h := range hits {
		if h.Similarity >= p.threshold {
			filtered = append(filtered, h)
		}
	}
	return filtered, nil
}
