package service

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"kb-pilot-go/internal/config"
	"kb-pilot-go/internal/model"
	"kb-pilot-go/internal/rag"
	"kb-pilot-go/internal/repository"
	"kb-pilot-go/pkg/kafka"
	"kb-pilot-go/pkg/log"
	"kb-pilot-go/pkg/storage"
	"kb-pilot-go/pkg/tasks"
	"kb-pilot-go/pkg/token"

	"github.com/minio/minio-go/v7"
)

// RegisterRequest 描述一次文档注册：原始文件（文本模态）或
// 外部协作方抽取好的描述文本（媒体模态）。
type RegisterRequest struct {
	FileName   string
	Modality   model.Modality
	UseCaseTag string
	Descriptor string
	File       io.Reader
	FileSize   int64
}

// DocumentService 定义了文档生命周期管理的业务接口。
type DocumentService interface {
	// Register 登记文档并投递摄取任务，摄取在后台异步完成。
	Register(ctx context.Context, req RegisterRequest) (*model.Document, error)
	// Reingest 对已有文档触发重新摄取：版本号递增，旧版本块随后被废弃。
	Reingest(ctx context.Context, documentID string) (*model.Document, error)
	List(offset, limit int) ([]model.Document, int64, error)
	Get(documentID string) (*model.Document, error)
	// Delete 从检索中移除文档：索引打墓碑，元数据标记为已废弃。
	Delete(ctx context.Context, documentID string) error
	// DownloadURL 生成原始文件的预签名下载链接，用于引用展示。
	DownloadURL(documentID string) (string, error)
}

type documentService struct {
	docRepo    repository.DocumentRepository
	index      rag.VectorIndex
	bucketName string
}

// NewDocumentService 创建一个新的 DocumentService 实例。
func NewDocumentService(docRepo repository.DocumentRepository, index rag.VectorIndex, minioCfg config.MinIOConfig) DocumentService {
	return &documentService{
		docRepo:    docRepo,
		index:      index,
		bucketName: minioCfg.BucketName,
	}
}

// Register 登记一个新文档：原始文件入对象存储，元数据落库，任务入队。
func (s *documentService) Register(ctx context.Context, req RegisterRequest) (*model.Document, error) {
	if !req.Modality.Valid() {
		return nil, fmt.Errorf("不支持的模态: %s", req.Modality)
	}
	if req.Modality != model.ModalityText && req.Descriptor == "" {
		return nil, fmt.Errorf("媒体文档必须携带描述文本")
	}

	docID := token.GenerateRandomString(16)
	objectName := fmt.Sprintf("%s%s", docID, filepath.Ext(req.FileName))

	// 原始字节只进对象存储，不进核心管线
	if req.File != nil {
		_, err := storage.MinioClient.PutObject(ctx, s.bucketName, objectName, req.File, req.FileSize,
			minio.PutObjectOptions{})
		if err != nil {
			return nil, fmt.Errorf("上传原始文件失败: %w", err)
		}
	} else {
		objectName = ""
	}

	doc := &model.Document{
		ID:         docID,
		FileName:   req.FileName,
		Modality:   req.Modality,
		Version:    1,
		Status:     model.DocStatusPending,
		ObjectName: objectName,
		UseCaseTag: req.UseCaseTag,
		Descriptor: req.Descriptor,
	}
	if err := s.docRepo.Create(doc); err != nil {
		return nil, fmt.Errorf("创建文档记录失败: %w", err)
	}

	if err := kafka.ProduceIngestTask(tasks.IngestTask{
		DocumentID: doc.ID,
		FileName:   doc.FileName,
		ObjectName: doc.ObjectName,
		Modality:   doc.Modality,
		Descriptor: req.Descriptor,
	}); err != nil {
		// 任务投递失败时标记失败态，等待人工或重注册
		log.Errorf("[DocumentService] 投递摄取任务失败: %v", err)
		_ = s.docRepo.MarkFailed(doc.ID)
		return nil, fmt.Errorf("投递摄取任务失败: %w", err)
	}

	log.Infof("[DocumentService] 文档 %s 已登记并入队 (模态=%s)", doc.ID, doc.Modality)
	return doc, nil
}

// Reingest 递增版本号并重新投递摄取任务。
func (s *documentService) Reingest(ctx context.Context, documentID string) (*model.Document, error) {
	doc, err := s.docRepo.BumpVersion(documentID)
	if err != nil {
		return nil, fmt.Errorf("递增文档版本失败: %w", err)
	}

	// 媒体文档的描述文本从持久化记录取回，重新摄取不依赖原任务载荷
	if err := kafka.ProduceIngestTask(tasks.IngestTask{
		DocumentID: doc.ID,
		FileName:   doc.FileName,
		ObjectName: doc.ObjectName,
		Modality:   doc.Modality,
		Descriptor: doc.Descriptor,
	}); err != nil {
		_ = s.docRepo.MarkFailed(doc.ID)
		return nil, fmt.Errorf("投递摄取任务失败: %w", err)
	}

	log.Infof("[DocumentService] 文档 %s 已触发重新摄取 (新版本 %d)", doc.ID, doc.Version)
	return doc, nil
}

func (s *documentService) List(offset, limit int) ([]model.Document, int64, error) {
	return s.docRepo.List(offset, limit)
}

func (s *documentService) Get(documentID string) (*model.Document, error) {
	return s.docRepo.FindByID(documentID)
}

// Delete 先给索引块打墓碑，成功后才更新元数据，
// 保证"已废弃"状态一旦可见，检索就不会再返回该文档的块。
func (s *documentService) Delete(ctx context.Context, documentID string) error {
	if _, err := s.docRepo.FindByID(documentID); err != nil {
		return err
	}
	if err := s.index.Delete(ctx, documentID); err != nil {
		return fmt.Errorf("索引打墓碑失败: %w", err)
	}
	if err := s.docRepo.MarkSuperseded(documentID); err != nil {
		return fmt.Errorf("更新文档状态失败: %w", err)
	}
	log.Infof("[DocumentService] 文档 %s 已从检索中移除", documentID)
	return nil
}

// DownloadURL 生成 1 小时有效的预签名下载链接。
func (s *documentService) DownloadURL(documentID string) (string, error) {
	doc, err := s.docRepo.FindByID(documentID)
	if err != nil {
		return "", err
	}
	if doc.ObjectName == "" {
		return "", fmt.Errorf("文档 %s 没有关联的原始文件", documentID)
	}
	return storage.GetPresignedURL(s.bucketName, doc.ObjectName, time.Hour)
}
