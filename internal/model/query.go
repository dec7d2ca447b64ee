package model

import "time"

// ChatMessage 代表存储在 Redis 中的单条对话消息。
type ChatMessage struct {
	Role      string    `json:"role"` // "user" 或 "assistant"
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// MediaDescriptor 是随查询附带的媒体内容：模态加外部协作方
// 预先抽取好的文本描述（图片说明、音频转写等）。原始字节不进入核心。
type MediaDescriptor struct {
	Modality   Modality `json:"modality"`
	Descriptor string   `json:"descriptor"`
}

// Query 是一次问答请求的短生命周期载体。
type Query struct {
	Text          string           `json:"text"`
	AttachedMedia *MediaDescriptor `json:"attachedMedia,omitempty"`
	History       []ChatMessage    `json:"history,omitempty"`
}

// EvidenceDTO 是返回给前端的检索结果结构。
type EvidenceDTO struct {
	ChunkID    string   `json:"chunkId"`
	DocumentID string   `json:"documentId"`
	FileName   string   `json:"fileName"`
	Position   int      `json:"position"`
	Modality   Modality `json:"modality"`
	Text       string   `json:"text"`
	Similarity float64  `json:"similarity"`
	Relevance  float64  `json:"relevance"`
}
