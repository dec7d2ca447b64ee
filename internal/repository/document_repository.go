// Package repository 封装了所有数据库访问逻辑。
package repository

import (
	"time"

	"kb-pilot-go/internal/model"

	"gorm.io/gorm"
)

// DocumentRepository 定义了文档表的数据访问接口。
type DocumentRepository interface {
	Create(doc *model.Document) error
	FindByID(id string) (*model.Document, error)
	List(offset, limit int) ([]model.Document, int64, error)
	// BumpVersion 为重新摄取的文档递增版本号并重置状态为待处理。
	BumpVersion(id string) (*model.Document, error)
	MarkIngested(id string, chunkCount int) error
	MarkFailed(id string) error
	MarkSuperseded(id string) error
	Delete(id string) error
}

type documentRepository struct {
	db *gorm.DB
}

// NewDocumentRepository 创建一个新的 DocumentRepository 实例。
func NewDocumentRepository(db *gorm.DB) DocumentRepository {
	return &documentRepository{db: db}
}

func (r *documentRepository) Create(doc *model.Document) error {
	return r.db.Create(doc).Error
}

func (r *documentRepository) FindByID(id string) (*model.Document, error) {
	var doc model.Document
	if err := r.db.Where("id = ?", id).First(&doc).Error; err != nil {
		return nil, err
	}
	return &doc, nil
}

func (r *documentRepository) List(offset, limit int) ([]model.Document, int64, error) {
	var docs []model.Document
	var total int64
	if err := r.db.Model(&model.Document{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}
	err := r.db.Order("created_at DESC").Offset(offset).Limit(limit).Find(&docs).Error
	return docs, total, err
}

// BumpVersion 在事务内递增版本号，返回更新后的文档。
// 旧版本的块集由摄取管线负责打墓碑，这里只推进元数据。
func (r *documentRepository) BumpVersion(id string) (*model.Document, error) {
	var doc model.Document
	err := r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id = ?", id).First(&doc).Error; err != nil {
			return err
		}
		doc.Version++
		doc.Status = model.DocStatusPending
		doc.ChunkCount = 0
		doc.IngestedAt = nil
		return tx.Save(&doc).Error
	})
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

func (r *documentRepository) MarkIngested(id string, chunkCount int) error {
	now := time.Now()
	return r.db.Model(&model.Document{}).Where("id = ?", id).Updates(map[string]interface{}{
		"status":      model.DocStatusIngested,
		"chunk_count": chunkCount,
		"ingested_at": &now,
	}).Error
}

func (r *documentRepository) MarkFailed(id string) error {
	return r.db.Model(&model.Document{}).Where("id = ?", id).
		Update("status", model.DocStatusFailed).Error
}

func (r *documentRepository) MarkSuperseded(id string) error {
	return r.db.Model(&model.Document{}).Where("id = ?", id).
		Update("status", model.DocStatusSuperseded).Error
}

func (r *documentRepository) Delete(id string) error {
	return r.db.Where("id = ?", id).Delete(&model.Document{}).Error
}
