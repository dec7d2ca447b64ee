package rag

import (
	"context"
	"testing"
	"time"

	"kb-pilot-go/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCosineSimilarity(t *testing.T) {
	t.Run("相同向量为1", func(t *testing.T) {
		assert.InDelta(t, 1.0, CosineSimilarity([]float32{1, 2, 3}, []float32{1, 2, 3}), 1e-9)
	})
	t.Run("正交向量为0", func(t *testing.T) {
		assert.InDelta(t, 0.0, CosineSimilarity([]float32{1, 0}, []float32{0, 1}), 1e-9)
	})
	t.Run("维度不符返回0", func(t *testing.T) {
		assert.Equal(t, 0.0, CosineSimilarity([]float32{1, 0}, []float32{1, 0, 0}))
	})
	t.Run("零向量返回0", func(t *testing.T) {
		assert.Equal(t, 0.0, CosineSimilarity([]float32{0, 0}, []float32{1, 0}))
	})
}

func textChunk(id, docID string, position int, vec []float32) *model.Chunk {
	return &model.Chunk{
		ID:         id,
		DocumentID: docID,
		Position:   position,
		Modality:   model.ModalityText,
		Text:       "内容" + id,
		Embedding:  vec,
		IngestedAt: time.Now(),
	}
}

func TestMemoryIndex(t *testing.T) {
	ctx := context.Background()

	t.Run("结果按相似度降序且不超过k", func(t *testing.T) {
		idx := NewMemoryIndex()
		require.NoError(t, idx.Upsert(ctx, textChunk("c1", "d1", 0, []float32{1, 0, 0})))
		require.NoError(t, idx.Upsert(ctx, textChunk("c2", "d1", 1, []float32{0.9, 0.1, 0})))
		require.NoError(t, idx.Upsert(ctx, textChunk("c3", "d1", 2, []float32{0, 1, 0})))

		hits, err := idx.Search(ctx, []float32{1, 0, 0}, model.ModalityText, 2)
		require.NoError(t, err)
		require.Len(t, hits, 2)
		assert.Equal(t, "c1", hits[0].ChunkID)
		assert.Equal(t, "c2", hits[1].ChunkID)
		assert.GreaterOrEqual(t, hits[0].Similarity, hits[1].Similarity)
	})

	t.Run("同分按写入先后排序保证可复现", func(t *testing.T) {
		idx := NewMemoryIndex()
		// 相同向量，相似度完全一致
		require.NoError(t, idx.Upsert(ctx, textChunk("old", "d1", 0, []float32{1, 0})))
		require.NoError(t, idx.Upsert(ctx, textChunk("new", "d2", 0, []float32{1, 0})))

		for i := 0; i < 5; i++ {
			hits, err := idx.Search(ctx, []float32{1, 0}, model.ModalityText, 10)
			require.NoError(t, err)
			require.Len(t, hits, 2)
			assert.Equal(t, "old", hits[0].ChunkID)
			assert.Equal(t, "new", hits[1].ChunkID)
		}
	})

	t.Run("覆盖写保留写入序号", func(t *testing.T) {
		idx := NewMemoryIndex()
		require.NoError(t, idx.Upsert(ctx, textChunk("a", "d1", 0, []float32{1, 0})))
		require.NoError(t, idx.Upsert(ctx, textChunk("b", "d2", 0, []float32{1, 0})))
		// 重复摄取 a，不应落到 b 之后
		require.NoError(t, idx.Upsert(ctx, textChunk("a", "d1", 0, []float32{1, 0})))

		hits, err := idx.Search(ctx, []float32{1, 0}, model.ModalityText, 10)
		require.NoError(t, err)
		require.Len(t, hits, 2)
		assert.Equal(t, "a", hits[0].ChunkID)
	})

	t.Run("墓碑后的块不再出现在检索结果中", func(t *testing.T) {
		idx := NewMemoryIndex()
		require.NoError(t, idx.Upsert(ctx, textChunk("c1", "dead-doc", 0, []float32{1, 0})))
		require.NoError(t, idx.Upsert(ctx, textChunk("c2", "live-doc", 0, []float32{1, 0})))

		require.NoError(t, idx.Delete(ctx, "dead-doc"))

		hits, err := idx.Search(ctx, []float32{1, 0}, model.ModalityText, 10)
		require.NoError(t, err)
		require.Len(t, hits, 1)
		assert.Equal(t, "c2", hits[0].ChunkID)
	})

	t.Run("重新摄取使墓碑块复活", func(t *testing.T) {
		idx := NewMemoryIndex()
		require.NoError(t, idx.Upsert(ctx, textChunk("c1", "d1", 0, []float32{1, 0})))
		require.NoError(t, idx.Delete(ctx, "d1"))
		require.NoError(t, idx.Upsert(ctx, textChunk("c1", "d1", 0, []float32{1, 0})))

		hits, err := idx.Search(ctx, []float32{1, 0}, model.ModalityText, 10)
		require.NoError(t, err)
		assert.Len(t, hits, 1)
	})

	t.Run("只在同一模态空间内检索", func(t *testing.T) {
		idx := NewMemoryIndex()
		img := textChunk("img1", "d1", 0, []float32{1, 0})
		img.Modality = model.ModalityImage
		require.NoError(t, idx.Upsert(ctx, img))
		require.NoError(t, idx.Upsert(ctx, textChunk("txt1", "d2", 0, []float32{1, 0})))

		hits, err := idx.Search(ctx, []float32{1, 0}, model.ModalityImage, 10)
		require.NoError(t, err)
		require.Len(t, hits, 1)
		assert.Equal(t, "img1", hits[0].ChunkID)
	})

	t.Run("k为0或空索引返回空", func(t *testing.T) {
		idx := NewMemoryIndex()
		hits, err := idx.Search(ctx, []float32{1, 0}, model.ModalityText, 0)
		require.NoError(t, err)
		assert.Empty(t, hits)

		hits, err = idx.Search(ctx, []float32{1, 0}, model.ModalityText, 5)
		require.NoError(t, err)
		assert.Empty(t, hits)
	})
}
