// Package tasks defines the structure for tasks that are sent to Kafka.
package tasks

import "kb-pilot-go/internal/model"

// IngestTask 表示一次文档摄取作业。
// 文本文档由处理管线从对象存储下载并抽取文本；
// 媒体文档的 Descriptor 由外部协作方预先抽取（图片说明/转写稿）。
type IngestTask struct {
	DocumentID string            `json:"document_id"`
	FileName   string            `json:"file_name"`
	ObjectName string            `json:"object_name"`
	Modality   model.Modality    `json:"modality"`
	Descriptor string            `json:"descriptor,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}
