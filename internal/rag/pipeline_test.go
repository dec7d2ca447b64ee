package rag

import (
	"context"
	"testing"
	"time"

	"kb-pilot-go/internal/config"
	"kb-pilot-go/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPipeline(index VectorIndex, embedder Embedder, backend GenerationBackend) *Pipeline {
	retrievalCfg := config.RetrievalConfig{
		TopK:                10,
		SimilarityThreshold: 0.7,
		SimilarityWeight:    0.7,
		MetadataWeight:      0.2,
		RecencyWeight:       0.1,
		RecencyWindowDays:   60,
	}
	contextCfg := config.ContextConfig{MaxTokens: 1000, HistoryTurns: 10}
	prompts := NewPromptBuilder(config.LLMPromptConfig{}, 10)
	lexical := NewLexicalEmbedder(config.EmbeddingConfig{Text: config.ModalityModelConfig{Dimensions: 4}})
	return NewPipeline(
		embedder,
		lexical,
		index,
		NewScorer(retrievalCfg),
		NewContextBuilder(runeCounter{}, false),
		NewGenerator(backend, prompts, 1, time.Second, time.Second),
		retrievalCfg,
		contextCfg,
	)
}

func TestPipelineAnswer(t *testing.T) {
	ctx := context.Background()

	t.Run("命中证据时完整生成并携带引用", func(t *testing.T) {
		idx := NewMemoryIndex()
		require.NoError(t, idx.Upsert(ctx, textChunk("c1", "d1", 0, []float32{1, 0, 0, 0})))

		embedder := &stubEmbedder{vec: []float32{1, 0, 0, 0}, dims: 4}
		backend := &stubBackend{text: "生成的答案"}
		p := testPipeline(idx, embedder, backend)

		answer, err := p.Answer(ctx, &model.Query{Text: "查询"})
		require.NoError(t, err)
		assert.Equal(t, model.ModeFullGeneration, answer.GenerationMode)
		assert.Equal(t, []string{"c1"}, answer.Citations)
	})

	t.Run("空索引走未找到应答且引用为空", func(t *testing.T) {
		embedder := &stubEmbedder{vec: []float32{1, 0, 0, 0}, dims: 4}
		p := testPipeline(NewMemoryIndex(), embedder, nil)

		answer, err := p.Answer(ctx, &model.Query{Text: "没有任何资料的问题"})
		require.NoError(t, err)
		assert.Empty(t, answer.Citations)
		assert.Equal(t, model.ModeExtractiveFallback, answer.GenerationMode)
	})

	t.Run("低于相似度阈值的候选被过滤", func(t *testing.T) {
		idx := NewMemoryIndex()
		// 与查询向量的余弦相似度为 0，远低于 0.7 阈值
		require.NoError(t, idx.Upsert(ctx, textChunk("far", "d1", 0, []float32{0, 1, 0, 0})))

		embedder := &stubEmbedder{vec: []float32{1, 0, 0, 0}, dims: 4}
		backend := &stubBackend{text: "答案"}
		p := testPipeline(idx, embedder, backend)

		answer, err := p.Answer(ctx, &model.Query{Text: "查询"})
		require.NoError(t, err)
		assert.Empty(t, answer.Citations)
	})
}

func TestPipelineRetrieve(t *testing.T) {
	ctx := context.Background()

	t.Run("附带媒体时用例判定为多模态", func(t *testing.T) {
		embedder := &stubEmbedder{vec: []float32{1, 0, 0, 0}, dims: 4}
		p := testPipeline(NewMemoryIndex(), embedder, nil)

		q := &model.Query{
			Text:          "这是什么配件",
			AttachedMedia: &model.MediaDescriptor{Modality: model.ModalityImage, Descriptor: "一个轴承"},
		}
		useCase, window, err := p.Retrieve(ctx, q)
		require.NoError(t, err)
		assert.Equal(t, UseCaseMultimodal, useCase)
		assert.True(t, window.Empty())
	})

	t.Run("媒体查询同时在文本与媒体空间召回", func(t *testing.T) {
		idx := NewMemoryIndex()
		require.NoError(t, idx.Upsert(ctx, textChunk("txt", "d1", 0, []float32{1, 0, 0, 0})))
		img := textChunk("img", "d2", 0, []float32{1, 0, 0, 0})
		img.Modality = model.ModalityImage
		require.NoError(t, idx.Upsert(ctx, img))

		embedder := &stubEmbedder{vec: []float32{1, 0, 0, 0}, dims: 4}
		p := testPipeline(idx, embedder, nil)

		q := &model.Query{
			Text:          "识别这张图",
			AttachedMedia: &model.MediaDescriptor{Modality: model.ModalityImage, Descriptor: "一个轴承"},
		}
		_, window, err := p.Retrieve(ctx, q)
		require.NoError(t, err)
		require.Len(t, window.Selected, 2)
		ids := window.ChunkIDs()
		assert.Contains(t, ids, "txt")
		assert.Contains(t, ids, "img")
	})

	t.Run("嵌入模型不可用时查询降级到词法向量", func(t *testing.T) {
		idx := NewMemoryIndex()
		embedder := &stubEmbedder{err: ErrModelUnavailable, dims: 4}
		p := testPipeline(idx, embedder, nil)

		// 主策略不可用，但词法降级保证检索流程不失败
		_, window, err := p.Retrieve(ctx, &model.Query{Text: "任意查询"})
		require.NoError(t, err)
		assert.True(t, window.Empty())
	})
}
