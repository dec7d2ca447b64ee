package model

import "time"

// 文档摄取状态。
const (
	DocStatusPending    = 0
	DocStatusIngested   = 1
	DocStatusFailed     = 2
	DocStatusSuperseded = 3
)

// Document 对应数据库中的 documents 表，是 1..N 个有序 Chunk 的逻辑归属。
// 重新摄取不会原地修改旧块：版本号单调递增，旧版本块集被整体软删除。
// Descriptor 持久化媒体文档的描述文本（图片说明/转写稿），
// 重新摄取时从这里取回，不依赖任务载荷。
type Document struct {
	ID          string     `gorm:"primaryKey;type:varchar(64);column:id" json:"id"`
	FileName    string     `gorm:"type:varchar(255);not null;column:file_name" json:"fileName"`
	Modality    Modality   `gorm:"type:varchar(16);not null;column:modality" json:"modality"`
	Version     int        `gorm:"not null;default:1;column:version" json:"version"`
	Status      int        `gorm:"type:tinyint;not null;default:0;column:status" json:"status"`
	ObjectName  string     `gorm:"type:varchar(255);column:object_name" json:"objectName"`
	UseCaseTag  string     `gorm:"type:varchar(50);column:use_case_tag" json:"useCaseTag"`
	Descriptor  string     `gorm:"type:text;column:descriptor" json:"descriptor,omitempty"`
	ChunkCount  int        `gorm:"not null;default:0;column:chunk_count" json:"chunkCount"`
	CreatedAt   time.Time  `gorm:"autoCreateTime" json:"createdAt"`
	IngestedAt  *time.Time `gorm:"default:null;column:ingested_at" json:"ingestedAt"`
}

func (Document) TableName() string {
	return "documents"
}

// ChunkRecord 对应数据库中的 chunk_records 表，保存切块文本与元数据，
// 作为向量索引之外的事实存储（阶段一落库，阶段二向量化）。
type ChunkRecord struct {
	ID         uint     `gorm:"primaryKey;autoIncrement;column:id"`
	ChunkID    string   `gorm:"type:varchar(64);not null;uniqueIndex;column:chunk_id"`
	DocumentID string   `gorm:"type:varchar(64);not null;index;column:document_id"`
	DocVersion int      `gorm:"not null;column:doc_version"`
	Position   int      `gorm:"not null;column:position"`
	Modality   Modality `gorm:"type:varchar(16);not null;column:modality"`
	Text       string   `gorm:"type:text;column:text_content"`
	UseCaseTag string   `gorm:"type:varchar(50);column:use_case_tag"`
	Title      string   `gorm:"type:varchar(255);column:title"`
}

func (ChunkRecord) TableName() string {
	return "chunk_records"
}
