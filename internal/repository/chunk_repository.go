package repository

import (
	"kb-pilot-go/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ChunkRepository 定义了切块事实表的数据访问接口。
// 两阶段摄取的第一阶段在这里落库，第二阶段才做向量化写索引。
type ChunkRepository interface {
	BatchCreate(records []model.ChunkRecord) error
	FindByChunkIDs(chunkIDs []string) ([]model.ChunkRecord, error)
	FindByDocument(documentID string, docVersion int) ([]model.ChunkRecord, error)
	DeleteByDocument(documentID string) error
}

type chunkRepository struct {
	db *gorm.DB
}

// NewChunkRepository 创建一个新的 ChunkRepository 实例。
func NewChunkRepository(db *gorm.DB) ChunkRepository {
	return &chunkRepository{db: db}
}

// BatchCreate 批量写入切块记录。chunk_id 是内容寻址的，
// 冲突时直接忽略，保证重复摄取幂等。
func (r *chunkRepository) BatchCreate(records []model.ChunkRecord) error {
	if len(records) == 0 {
		return nil
	}
	return r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "chunk_id"}},
		DoNothing: true,
	}).CreateInBatches(records, 100).Error
}

func (r *chunkRepository) FindByChunkIDs(chunkIDs []string) ([]model.ChunkRecord, error) {
	var records []model.ChunkRecord
	if len(chunkIDs) == 0 {
		return records, nil
	}
	err := r.db.Where("chunk_id IN ?", chunkIDs).Find(&records).Error
	return records, err
}

func (r *chunkRepository) FindByDocument(documentID string, docVersion int) ([]model.ChunkRecord, error) {
	var records []model.ChunkRecord
	err := r.db.Where("document_id = ? AND doc_version = ?", documentID, docVersion).
		Order("position ASC").Find(&records).Error
	return records, err
}

func (r *chunkRepository) DeleteByDocument(documentID string) error {
	return r.db.Where("document_id = ?", documentID).Delete(&model.ChunkRecord{}).Error
}
