package rag

import (
	"testing"

	"kb-pilot-go/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFuse(t *testing.T) {
	t.Run("无媒体证据时纯透传", func(t *testing.T) {
		text := []model.RankedEvidence{
			evidence("t1", "d1", 0, 0.9, "文本一"),
			evidence("t2", "d2", 0, 0.8, "文本二"),
		}
		fused := Fuse(text, nil)
		assert.Equal(t, text, fused)
	})

	t.Run("媒体证据按相关性插入同一排序", func(t *testing.T) {
		text := []model.RankedEvidence{
			evidence("t1", "d1", 0, 0.85, "文本一"),
			evidence("t2", "d2", 0, 0.60, "文本二"),
		}
		img := evidence("img1", "d3", 0, 0.75, "一张装配示意图")
		img.Modality = model.ModalityImage

		fused := Fuse(text, []model.RankedEvidence{img})
		require.Len(t, fused, 3)
		assert.Equal(t, []string{"t1", "img1", "t2"},
			[]string{fused[0].ChunkID, fused[1].ChunkID, fused[2].ChunkID})
	})

	t.Run("高分媒体证据可以排在文本证据之前", func(t *testing.T) {
		text := []model.RankedEvidence{evidence("t1", "d1", 0, 0.7, "文本")}
		img := evidence("img1", "d2", 0, 0.95, "高度相关的图片描述")
		img.Modality = model.ModalityImage

		fused := Fuse(text, []model.RankedEvidence{img})
		assert.Equal(t, "img1", fused[0].ChunkID)
	})
}

func TestFusedEvidenceSharesBudget(t *testing.T) {
	// 融合后的媒体证据与文本证据在同一窗口预算下竞争：
	// 高分图片先入选，预算被占用后低分文本被挤出。
	b := NewContextBuilder(runeCounter{}, false)

	img := evidence("img1", "d1", 0, 0.95, "图片描述内容")
	img.Modality = model.ModalityImage // 渲染为 "(t) [图片描述] 图片描述内容" = 17 字符
	text := evidence("t1", "d2", 0, 0.5, "文本内容")

	fused := Fuse([]model.RankedEvidence{text}, []model.RankedEvidence{img})
	window := b.Build(fused, 20)

	assert.Equal(t, []string{"img1"}, window.ChunkIDs())
	assert.LessOrEqual(t, window.TotalTokens, 20)
}
