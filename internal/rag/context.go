package rag

import (
	"fmt"
	"sort"
	"strings"

	"kb-pilot-go/internal/model"
	"kb-pilot-go/pkg/log"
)

// TokenCounter 计算一段文本占用的 token 数，用于上下文窗口预算。
type TokenCounter interface {
	CountTokens(text string) int
}

// ContextBuilder 把排好序的证据贪心装配进有界上下文窗口。
// 严格按排名顺序处理：装得下就收，装不下就跳过继续（不终止），
// 避免一个排名靠前的大块挡住后面更小的高分证据。
type ContextBuilder struct {
	counter   TokenCounter
	narrative bool
}

// NewContextBuilder 创建上下文装配器。narrative 为真时，入选后
// 同一文档内的块追加按 position 排序，便于输出可读的连贯摘录。
func NewContextBuilder(counter TokenCounter, narrative bool) *ContextBuilder {
	return &ContextBuilder{counter: counter, narrative: narrative}
}

// Build 装配上下文窗口。保证：总 token 数不超过 maxTokens；
// 不存在重复的 (DocumentID, Position)；除 narrative 模式外保持排名相对顺序。
func (b *ContextBuilder) Build(ranked []model.RankedEvidence, maxTokens int) *model.ContextWindow {
	window := &model.ContextWindow{MaxTokens: maxTokens}
	seen := make(map[string]struct{})
	for _, ev := range ranked {
		if ev.Chunk == nil {
			continue
		}
		// 去重：同一逻辑块的重复命中只保留排名最高的一次
		key := fmt.Sprintf("%s:%d", ev.Chunk.DocumentID, ev.Chunk.Position)
		if _, dup := seen[key]; dup {
			continue
		}
		size := b.counter.CountTokens(RenderEvidence(ev))
		if size > maxTokens {
			// 单块独占即超限：记录并跳过，绝不让管线失败
			log.Warnf("[ContextBuilder] %v: chunk=%s, tokens=%d, max=%d",
				ErrOverflowRejected, ev.ChunkID, size, maxTokens)
			continue
		}
		if window.TotalTokens+size > maxTokens {
			continue
		}
		seen[key] = struct{}{}
		window.Selected = append(window.Selected, ev)
		window.TotalTokens += size
	}
	if b.narrative {
		sortNarrative(window.Selected)
	}
	return window
}

// sortNarrative 保持文档间按其最高排名块的先后次序，
// 文档内的块改按 position 升序排列。
func sortNarrative(selected []model.RankedEvidence) {
	docOrder := make(map[string]int)
	for i, ev := range selected {
		if _, ok := docOrder[ev.Chunk.DocumentID]; !ok {
			docOrder[ev.Chunk.DocumentID] = i
		}
	}
	sort.SliceStable(selected, func(i, j int) bool {
		di, dj := docOrder[selected[i].Chunk.DocumentID], docOrder[selected[j].Chunk.DocumentID]
		if di != dj {
			return di < dj
		}
		return selected[i].Chunk.Position < selected[j].Chunk.Position
	})
}

// modalityLabels 是媒体证据在文本代理中的模态标注。
var modalityLabels = map[model.Modality]string{
	model.ModalityImage: "[图片描述]",
	model.ModalityAudio: "[音频转写]",
	model.ModalityVideo: "[视频描述]",
}

// RenderEvidence 把一条证据渲染为进入提示词的文本片段。
// 媒体证据用其文本描述加模态标注表示，原始字节从不进入生成阶段。
func RenderEvidence(ev model.RankedEvidence) string {
	title := ""
	if ev.Chunk != nil {
		title = ev.Chunk.Metadata["title"]
	}
	if title == "" && ev.Chunk != nil {
		title = ev.Chunk.DocumentID
	}
	var sb strings.Builder
	sb.WriteString("(")
	sb.WriteString(title)
	sb.WriteString(") ")
	if label, ok := modalityLabels[ev.Modality]; ok {
		sb.WriteString(label)
		sb.WriteString(" ")
	}
	if ev.Chunk != nil {
		sb.WriteString(ev.Chunk.Text)
	}
	return sb.String()
}

// RenderContext 把整个窗口渲染为带编号的上下文文本。
func RenderContext(window *model.ContextWindow) string {
	if window.Empty() {
		return ""
	}
	var sb strings.Builder
	for i, ev := range window.Selected {
		sb.WriteString(fmt.Sprintf("[%d] %s\n", i+1, RenderEvidence(ev)))
	}
	return sb.String()
}
