package rag

import (
	"context"
	"strings"
	"time"

	"kb-pilot-go/internal/model"
	"kb-pilot-go/pkg/log"
)

// GenerationBackend 是生成后端协作方的边界契约。
// 后端可能缺席或失败，调用方按 ErrModelUnavailable 降级。
type GenerationBackend interface {
	Generate(ctx context.Context, messages []model.ChatMessage) (string, error)
}

// Generator 是两态应答状态机：full-generation 成功即返回；
// 后端不可用或出错则一次性转入 extractive-fallback，单次请求内不回头重试。
// 后端超时只视为本次不可用，不记录为持久状态。
//
// 生成后端是独占性的稀缺资源（常驻内存的模型），用计数信号量限流：
// 同一后端实例同时最多 MaxConcurrency 个生成调用，排不进去的直接走降级，
// 检索各阶段不受此约束，可跨查询完全并行。
type Generator struct {
	backend        GenerationBackend
	prompts        *PromptBuilder
	sem            chan struct{}
	acquireTimeout time.Duration
	callTimeout    time.Duration
}

// NewGenerator 创建应答生成器。maxConcurrency <= 1 时后端调用完全串行。
func NewGenerator(backend GenerationBackend, prompts *PromptBuilder, maxConcurrency int, acquireTimeout, callTimeout time.Duration) *Generator {
	if maxConcurrency <= 0 {
		maxConcurrency = 1
	}
	if acquireTimeout <= 0 {
		acquireTimeout = 5 * time.Second
	}
	return &Generator{
		backend:        backend,
		prompts:        prompts,
		sem:            make(chan struct{}, maxConcurrency),
		acquireTimeout: acquireTimeout,
		callTimeout:    callTimeout,
	}
}

// Generate 生成最终应答。无论哪种模式，Citations 都来自上下文窗口。
func (g *Generator) Generate(ctx context.Context, q *model.Query, useCase string, window *model.ContextWindow) (*model.Answer, error) {
	contextText := RenderContext(window)
	citations := window.ChunkIDs()

	text, err := g.invokeBackend(ctx, g.prompts.Messages(q, useCase, contextText))
	if err == nil {
		return &model.Answer{
			Text:           text,
			Citations:      citations,
			UseCaseTag:     useCase,
			GenerationMode: model.ModeFullGeneration,
		}, nil
	}
	if ctx.Err() != nil {
		// 查询本身被取消，不产出降级答案
		return nil, ctx.Err()
	}
	log.Warnf("[Generator] 生成后端不可用，转入抽取式降级: %v", err)
	return &model.Answer{
		Text:           g.ExtractiveAnswer(window),
		Citations:      citations,
		UseCaseTag:     useCase,
		GenerationMode: model.ModeExtractiveFallback,
	}, nil
}

// invokeBackend 在信号量保护下调用生成后端。
// 限流排队超时与后端错误统一归为本次不可用。
func (g *Generator) invokeBackend(ctx context.Context, messages []model.ChatMessage) (string, error) {
	if g.backend == nil {
		return "", ErrModelUnavailable
	}
	acquire := time.NewTimer(g.acquireTimeout)
	defer acquire.Stop()
	select {
	case g.sem <- struct{}{}:
	case <-acquire.C:
		return "", ErrModelUnavailable
	case <-ctx.Done():
		return "", ctx.Err()
	}
	defer func() { <-g.sem }()

	callCtx, cancel := context.WithTimeout(ctx, g.callTimeout)
	defer cancel()
	return g.backend.Generate(callCtx, messages)
}

// ExtractiveAnswer 按上下文装配顺序拼接证据文本，加引导句构成降级应答。
// 窗口为空时返回"未找到"文案。
func (g *Generator) ExtractiveAnswer(window *model.ContextWindow) string {
	if window.Empty() {
		return g.prompts.NoResultText()
	}
	var sb strings.Builder
	sb.WriteString(g.prompts.FallbackLead())
	sb.WriteString("\n\n")
	for _, ev := range window.Selected {
		sb.WriteString("- ")
		sb.WriteString(RenderEvidence(ev))
		sb.WriteString("\n")
	}
	return sb.String()
}
