package rag

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"math"
	"strings"

	"kb-pilot-go/internal/config"
	"kb-pilot-go/internal/model"
	"kb-pilot-go/pkg/embedding"
	"kb-pilot-go/pkg/log"
)

// Embedder 把一段内容转换为固定维度的数值向量。
// 同一模态的输出向量维度恒定；对固定的模型配置，函数是纯的、确定的。
// 模型不可用时返回 ErrModelUnavailable，调用方负责降级，绝不静默返回零向量。
type Embedder interface {
	Embed(ctx context.Context, content string, modality model.Modality) ([]float32, error)
	Dimensions(modality model.Modality) int
}

// remoteEmbedder 通过 OpenAI 兼容 API 生成稠密语义向量。
// 媒体模态若配置了原生模型则直接使用；否则用文本模型嵌入其描述文本。
type remoteEmbedder struct {
	client embedding.Client
	cfg    config.EmbeddingConfig
}

// NewRemoteEmbedder 创建基于远程嵌入服务的 Embedder。
func NewRemoteEmbedder(client embedding.Client, cfg config.EmbeddingConfig) Embedder {
	return &remoteEmbedder{client: client, cfg: cfg}
}

func (e *remoteEmbedder) modelFor(modality model.Modality) config.ModalityModelConfig {
	var mc config.ModalityModelConfig
	switch modality {
	case model.ModalityImage:
		mc = e.cfg.Image
	case model.ModalityAudio:
		mc = e.cfg.Audio
	case model.ModalityVideo:
		mc = e.cfg.Video
	}
	// 未配置原生模型的模态回退到文本模型（描述文本走同一语义空间）
	if mc.Model == "" {
		mc = e.cfg.Text
	}
	if mc.Dimensions <= 0 {
		mc.Dimensions = e.cfg.Text.Dimensions
	}
	return mc
}

func (e *remoteEmbedder) Dimensions(modality model.Modality) int {
	return e.modelFor(modality).Dimensions
}

func (e *remoteEmbedder) Embed(ctx context.Context, content string, modality model.Modality) ([]float32, error) {
	if strings.TrimSpace(content) == "" {
		return nil, fmt.Errorf("嵌入内容为空")
	}
	mc := e.modelFor(modality)
	vec, err := e.client.CreateEmbedding(ctx, mc.Model, mc.Dimensions, content)
	if err != nil {
		// 远程服务的任何失败都归一为 ModelUnavailable，由调用方决定降级
		return nil, fmt.Errorf("%w: %v", ErrModelUnavailable, err)
	}
	if len(vec) != mc.Dimensions {
		return nil, fmt.Errorf("%w: 返回维度 %d 与配置 %d 不符", ErrModelUnavailable, len(vec), mc.Dimensions)
	}
	return vec, nil
}

// lexicalEmbedder 是确定性的词法统计降级策略：
// 词条经 FNV 哈希落入固定维度的词频向量，再做 L2 归一化。
// 质量远逊于语义模型，但保证系统在模型缺席时优雅降级而不是失败。
type lexicalEmbedder struct {
	dims map[model.Modality]int
}

// NewLexicalEmbedder 创建词法降级 Embedder，各模态维度与主策略保持一致。
func NewLexicalEmbedder(cfg config.EmbeddingConfig) Embedder {
	textDims := cfg.Text.Dimensions
	dimOr := func(d int) int {
		if d > 0 {
			return d
		}
		return textDims
	}
	return &lexicalEmbedder{dims: map[model.Modality]int{
		model.ModalityText:  textDims,
		model.ModalityImage: dimOr(cfg.Image.Dimensions),
		model.ModalityAudio: dimOr(cfg.Audio.Dimensions),
		model.ModalityVideo: dimOr(cfg.Video.Dimensions),
	}}
}

func (e *lexicalEmbedder) Dimensions(modality model.Modality) int {
	if d, ok := e.dims[modality]; ok {
		return d
	}
	return e.dims[model.ModalityText]
}

func (e *lexicalEmbedder) Embed(_ context.Context, content string, modality model.Modality) ([]float32, error) {
	dims := e.Dimensions(modality)
	vec := make([]float32, dims)
	for _, term := range tokenizeTerms(content) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(term))
		vec[int(h.Sum32())%dims]++
	}
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return nil, fmt.Errorf("嵌入内容为空")
	}
	inv := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= inv
	}
	return vec, nil
}

// tokenizeTerms 做大小写归一的简易分词：连续的字母数字视为一个词条，
// 中日韩文字逐字成词。
func tokenizeTerms(s string) []string {
	var terms []string
	var buf strings.Builder
	flush := func() {
		if buf.Len() > 0 {
			terms = append(terms, buf.String())
			buf.Reset()
		}
	}
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z' || r >= '0' && r <= '9':
			buf.WriteRune(r)
		case r >= 0x4E00 && r <= 0x9FFF:
			flush()
			terms = append(terms, string(r))
		default:
			flush()
		}
	}
	flush()
	return terms
}

// FallbackEmbedder 组合主策略与词法降级：主策略报告 ModelUnavailable 时
// 切换到降级策略，保持调用方"捕获并降级"的约定集中在一处。
type FallbackEmbedder struct {
	primary  Embedder
	fallback Embedder
}

// NewFallbackEmbedder 创建带降级的组合 Embedder。
func NewFallbackEmbedder(primary, fallback Embedder) *FallbackEmbedder {
	return &FallbackEmbedder{primary: primary, fallback: fallback}
}

func (e *FallbackEmbedder) Dimensions(modality model.Modality) int {
	return e.primary.Dimensions(modality)
}

func (e *FallbackEmbedder) Embed(ctx context.Context, content string, modality model.Modality) ([]float32, error) {
	vec, err := e.primary.Embed(ctx, content, modality)
	if err == nil {
		return vec, nil
	}
	if !IsModelUnavailable(err) {
		return nil, err
	}
	log.Warnf("[Embedder] 主嵌入策略不可用，切换词法降级, modality: %s, err: %v", modality, err)
	return e.fallback.Embed(ctx, content, modality)
}

// IsModelUnavailable 判断错误链中是否含 ErrModelUnavailable。
func IsModelUnavailable(err error) bool {
	return errors.Is(err, ErrModelUnavailable)
}
