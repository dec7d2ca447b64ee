package rag

import (
	"strings"
	"testing"

	"kb-pilot-go/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runeCounter 按字符数计 token，让测试里的块大小可精确预算。
type runeCounter struct{}

func (runeCounter) CountTokens(text string) int { return len([]rune(text)) }

func evidence(id, docID string, position int, relevance float64, text string) model.RankedEvidence {
	return model.RankedEvidence{
		ChunkID:    id,
		Relevance:  relevance,
		Similarity: relevance,
		Modality:   model.ModalityText,
		Chunk: &model.Chunk{
			ID:         id,
			DocumentID: docID,
			Position:   position,
			Modality:   model.ModalityText,
			Text:       text,
			Metadata:   map[string]string{"title": "t"},
		},
	}
}

// 渲染结果形如 "(t) <正文>"，每块的 token 数 = 正文字符数 + 4。

func TestContextBuilderBudget(t *testing.T) {
	b := NewContextBuilder(runeCounter{}, false)

	t.Run("总量不超过上限", func(t *testing.T) {
		ranked := []model.RankedEvidence{
			evidence("c1", "d1", 0, 0.9, strings.Repeat("a", 10)),
			evidence("c2", "d1", 1, 0.8, strings.Repeat("b", 10)),
			evidence("c3", "d1", 2, 0.7, strings.Repeat("c", 10)),
		}
		window := b.Build(ranked, 30)
		assert.LessOrEqual(t, window.TotalTokens, 30)
		// 每块 14 字符，只装得下前两块
		require.Len(t, window.Selected, 2)
		assert.Equal(t, []string{"c1", "c2"}, window.ChunkIDs())
	})

	t.Run("装不下的块被跳过而不是终止", func(t *testing.T) {
		ranked := []model.RankedEvidence{
			evidence("small1", "d1", 0, 0.9, strings.Repeat("a", 6)),  // 10
			evidence("big", "d2", 0, 0.8, strings.Repeat("b", 16)),    // 20，余额不足
			evidence("small2", "d3", 0, 0.7, strings.Repeat("c", 6)),  // 10
		}
		window := b.Build(ranked, 25)
		assert.Equal(t, []string{"small1", "small2"}, window.ChunkIDs())
		assert.Equal(t, 20, window.TotalTokens)
	})

	t.Run("单块超限记录并跳过", func(t *testing.T) {
		ranked := []model.RankedEvidence{
			evidence("huge", "d1", 0, 0.9, strings.Repeat("x", 100)),
			evidence("ok", "d2", 0, 0.8, strings.Repeat("y", 6)),
		}
		window := b.Build(ranked, 20)
		assert.Equal(t, []string{"ok"}, window.ChunkIDs())
	})

	t.Run("同一逻辑块只保留排名最高的一次", func(t *testing.T) {
		dup := evidence("c1-dup", "d1", 0, 0.7, "重复内容")
		ranked := []model.RankedEvidence{
			evidence("c1", "d1", 0, 0.9, "原始内容"),
			dup,
			evidence("c2", "d2", 0, 0.6, "其他内容"),
		}
		window := b.Build(ranked, 1000)
		assert.Equal(t, []string{"c1", "c2"}, window.ChunkIDs())
	})

	t.Run("空输入产出空窗口", func(t *testing.T) {
		window := b.Build(nil, 100)
		assert.True(t, window.Empty())
		assert.Equal(t, 0, window.TotalTokens)
	})
}

func TestContextBuilderNarrative(t *testing.T) {
	b := NewContextBuilder(runeCounter{}, true)

	// 排名顺序：dB#2, dA#1, dB#0 -> 文档序 dB 先于 dA，文档内按 position
	ranked := []model.RankedEvidence{
		evidence("b2", "dB", 2, 0.9, "bb"),
		evidence("a1", "dA", 1, 0.8, "aa"),
		evidence("b0", "dB", 0, 0.7, "bb"),
	}
	window := b.Build(ranked, 1000)
	assert.Equal(t, []string{"b0", "b2", "a1"}, window.ChunkIDs())
}

func TestRenderEvidence(t *testing.T) {
	t.Run("文本证据带标题前缀", func(t *testing.T) {
		ev := evidence("c1", "d1", 0, 0.9, "正文内容")
		assert.Equal(t, "(t) 正文内容", RenderEvidence(ev))
	})

	t.Run("媒体证据带模态标注", func(t *testing.T) {
		ev := evidence("c1", "d1", 0, 0.9, "一张网络拓扑图")
		ev.Modality = model.ModalityImage
		assert.Equal(t, "(t) [图片描述] 一张网络拓扑图", RenderEvidence(ev))
	})

	t.Run("无标题时退回文档ID", func(t *testing.T) {
		ev := evidence("c1", "doc-42", 0, 0.9, "正文")
		ev.Chunk.Metadata = nil
		assert.Equal(t, "(doc-42) 正文", RenderEvidence(ev))
	})
}

func TestRenderContext(t *testing.T) {
	t.Run("带编号逐条渲染", func(t *testing.T) {
		window := &model.ContextWindow{Selected: []model.RankedEvidence{
			evidence("c1", "d1", 0, 0.9, "第一条"),
			evidence("c2", "d2", 0, 0.8, "第二条"),
		}}
		text := RenderContext(window)
		assert.Contains(t, text, "[1] (t) 第一条")
		assert.Contains(t, text, "[2] (t) 第二条")
	})
	t.Run("空窗口渲染为空串", func(t *testing.T) {
		assert.Equal(t, "", RenderContext(&model.ContextWindow{}))
	})
}
