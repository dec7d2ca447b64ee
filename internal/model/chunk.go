// Package model 定义了核心数据模型与数据库表对应的 Go 结构体。
package model

import (
	"crypto/md5"
	"fmt"
	"time"
)

// Modality 标识知识块的模态，核心管线按该标签显式分支，
// 不同模态的向量空间互不可比。
type Modality string

const (
	ModalityText  Modality = "text"
	ModalityImage Modality = "image"
	ModalityAudio Modality = "audio"
	ModalityVideo Modality = "video"
)

// Valid 判断模态取值是否合法。
func (m Modality) Valid() bool {
	switch m {
	case ModalityText, ModalityImage, ModalityAudio, ModalityVideo:
		return true
	}
	return false
}

// Chunk 是知识库中最小的被索引单元，对应一条向量索引记录。
// 对于媒体模态，Text 存放外部协作方预先抽取的描述文本（图片说明/转写稿），
// 生成阶段只消费文本代理，原始字节永远不进入管线。
type Chunk struct {
	ID         string            `json:"id"`
	DocumentID string            `json:"documentId"`
	DocVersion int               `json:"docVersion"`
	Position   int               `json:"position"`
	Modality   Modality          `json:"modality"`
	Text       string            `json:"text"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	Embedding  []float32         `json:"-"`
	IngestedAt time.Time         `json:"ingestedAt"`
}

// ChunkID 由文档 ID、版本与块序号内容寻址生成，保证全索引唯一且可复现。
func ChunkID(documentID string, docVersion, position int, text string) string {
	sum := md5.Sum([]byte(fmt.Sprintf("%s:%d:%d:%s", documentID, docVersion, position, text)))
	return fmt.Sprintf("%x", sum)
}

// Hit 是向量索引 Search 的单条返回：chunk 的只读视图加余弦相似度。
type Hit struct {
	ChunkID    string
	Similarity float64
	Chunk      *Chunk
}

// RankedEvidence 是打分阶段的输出。排序约定：Relevance 降序，
// epsilon 内持平时按 Similarity 降序，再按 Chunk.Position 升序，保证确定性。
type RankedEvidence struct {
	ChunkID    string   `json:"chunkId"`
	Similarity float64  `json:"similarity"`
	Relevance  float64  `json:"relevance"`
	Modality   Modality `json:"modality"`
	Chunk      *Chunk   `json:"-"`
}

// ContextWindow 是装配好的有界上下文：按入选顺序排列的证据与已用 token 数。
// 不变量：TotalTokens <= MaxTokens；Selected 中不存在重复的 (DocumentID, Position)。
type ContextWindow struct {
	Selected    []RankedEvidence
	TotalTokens int
	MaxTokens   int
}

// ChunkIDs 返回窗口内证据的 chunk id 序列（引用顺序即上下文顺序）。
func (w *ContextWindow) ChunkIDs() []string {
	ids := make([]string, 0, len(w.Selected))
	for _, ev := range w.Selected {
		ids = append(ids, ev.ChunkID)
	}
	return ids
}

// Empty 判断窗口是否不含任何证据。
func (w *ContextWindow) Empty() bool {
	return w == nil || len(w.Selected) == 0
}

// 生成模式：完整生成或抽取式降级。
const (
	ModeFullGeneration     = "full-generation"
	ModeExtractiveFallback = "extractive-fallback"
)

// Answer 是核心对外的最终应答。Citations 永远来自上下文窗口的 chunk id，
// 无论哪种生成模式；无证据时为空，正文明确说明未找到相关知识。
type Answer struct {
	Text           string   `json:"text"`
	Citations      []string `json:"citations"`
	UseCaseTag     string   `json:"useCaseTag"`
	GenerationMode string   `json:"generationMode"`
}
