// Package pipeline 实现了文档摄取的后台处理管线。
package pipeline

import (
	"context"
	"fmt"
	"time"

	"kb-pilot-go/internal/config"
	"kb-pilot-go/internal/model"
	"kb-pilot-go/internal/rag"
	"kb-pilot-go/internal/repository"
	"kb-pilot-go/pkg/extract"
	"kb-pilot-go/pkg/log"
	"kb-pilot-go/pkg/storage"
	"kb-pilot-go/pkg/tasks"

	"github.com/minio/minio-go/v7"
)

// Processor 消费摄取任务：下载原始文件、抽取文本、切块、
// 两阶段存储（先落库后建索引）。
type Processor struct {
	docRepo      repository.DocumentRepository
	chunkRepo    repository.ChunkRepository
	extractor    *extract.Client
	embedder     rag.Embedder
	index        rag.VectorIndex
	bucketName   string
	chunkSize    int
	chunkOverlap int
}

// NewProcessor 创建一个新的摄取处理器。
func NewProcessor(
	docRepo repository.DocumentRepository,
	chunkRepo repository.ChunkRepository,
	extractor *extract.Client,
	embedder rag.Embedder,
	index rag.VectorIndex,
	minioCfg config.MinIOConfig,
	ingestCfg config.IngestConfig,
) *Processor {
	return &Processor{
		docRepo:      docRepo,
		chunkRepo:    chunkRepo,
		extractor:    extractor,
		embedder:     embedder,
		index:        index,
		bucketName:   minioCfg.BucketName,
		chunkSize:    ingestCfg.ChunkSize,
		chunkOverlap: ingestCfg.ChunkOverlap,
	}
}

// Process 处理一个摄取任务。失败时文档标记为失败态，旧版本块不受影响。
func (p *Processor) Process(ctx context.Context, task tasks.IngestTask) error {
	log.Infof("[Processor] 步骤1: 开始处理文档 %s (%s, 模态=%s)", task.DocumentID, task.FileName, task.Modality)

	doc, err := p.docRepo.FindByID(task.DocumentID)
	if err != nil {
		return fmt.Errorf("查询文档记录失败: %w", err)
	}

	// 步骤2: 取得待索引文本。
	// 文本模态：从对象存储下载原始文件并调用抽取服务；
	// 媒体模态：直接使用任务携带的描述文本（图片说明/转写稿）。
	var content string
	switch task.Modality {
	case model.ModalityText:
		content, err = p.extractContent(ctx, task)
		if err != nil {
			p.markFailed(task.DocumentID)
			return err
		}
	case model.ModalityImage, model.ModalityAudio, model.ModalityVideo:
		// 任务未携带描述文本时（如重新摄取）回退到文档记录里持久化的描述
		content = task.Descriptor
		if content == "" {
			content = doc.Descriptor
		}
	default:
		p.markFailed(task.DocumentID)
		return fmt.Errorf("未知的模态: %s", task.Modality)
	}
	if content == "" {
		p.markFailed(task.DocumentID)
		return fmt.Errorf("文档 %s 没有可索引的文本内容", task.DocumentID)
	}
	log.Infof("[Processor] 步骤2: 文本抽取完成，长度 %d 字符", len([]rune(content)))

	// 步骤3: 切块
	chunks := p.splitText(content)
	log.Infof("[Processor] 步骤3: 文本切块完成，共 %d 块", len(chunks))

	// 步骤4: 阶段一，切块事实落库
	ingestedAt := time.Now()
	records := make([]model.ChunkRecord, 0, len(chunks))
	for i, text := range chunks {
		records = append(records, model.ChunkRecord{
			ChunkID:    model.ChunkID(doc.ID, doc.Version, i, text),
			DocumentID: doc.ID,
			DocVersion: doc.Version,
			Position:   i,
			Modality:   task.Modality,
			Text:       text,
			UseCaseTag: doc.UseCaseTag,
			Title:      doc.FileName,
		})
	}
	if err := p.chunkRepo.BatchCreate(records); err != nil {
		p.markFailed(task.DocumentID)
		return fmt.Errorf("切块记录落库失败: %w", err)
	}
	log.Infof("[Processor] 步骤4: 切块记录落库完成")

	// 步骤5: 阶段二，逐块向量化并写索引。
	// 按块原子：任一块失败则整体失败，已写入的块等待重试覆盖（内容寻址幂等）。
	built := make([]*model.Chunk, 0, len(chunks))
	for i, text := range chunks {
		embedding, err := p.embedder.Embed(ctx, text, task.Modality)
		if err != nil {
			p.markFailed(task.DocumentID)
			return fmt.Errorf("第 %d 块向量化失败: %w", i, err)
		}
		chunk := &model.Chunk{
			ID:         model.ChunkID(doc.ID, doc.Version, i, text),
			DocumentID: doc.ID,
			DocVersion: doc.Version,
			Position:   i,
			Modality:   task.Modality,
			Text:       text,
			Metadata:   p.chunkMetadata(doc, task),
			Embedding:  embedding,
			IngestedAt: ingestedAt,
		}
		if err := p.index.Upsert(ctx, chunk); err != nil {
			p.markFailed(task.DocumentID)
			return fmt.Errorf("第 %d 块写入索引失败: %w", i, err)
		}
		built = append(built, chunk)
	}
	log.Infof("[Processor] 步骤5: 共 %d 块已写入向量索引", len(chunks))

	// 步骤6: 旧版本块打墓碑（重新摄取场景）。
	// 注意顺序：新版本全部可见后才废弃旧版本，检索侧不会出现空窗。
	if doc.Version > 1 {
		if err := p.tombstoneOldVersions(ctx, doc.ID, built); err != nil {
			log.Errorf("[Processor] 废弃旧版本块失败: %v", err)
			// 不回滚新版本：旧块多留一会儿只影响排序，不影响正确性
		}
	}

	if err := p.docRepo.MarkIngested(doc.ID, len(chunks)); err != nil {
		return fmt.Errorf("更新文档状态失败: %w", err)
	}
	log.Infof("[Processor] 步骤6: 文档 %s 摄取完成 (版本 %d, %d 块)", doc.ID, doc.Version, len(chunks))
	return nil
}

// extractContent 从 MinIO 下载原始文件并调用抽取服务获取纯文本。
func (p *Processor) extractContent(ctx context.Context, task tasks.IngestTask) (string, error) {
	object, err := storage.MinioClient.GetObject(ctx, p.bucketName, task.ObjectName, minio.GetObjectOptions{})
	if err != nil {
		return "", fmt.Errorf("从对象存储下载文件失败: %w", err)
	}
	defer object.Close()

	content, err := p.extractor.ExtractText(object, task.FileName)
	if err != nil {
		return "", fmt.Errorf("文本抽取失败: %w", err)
	}
	return content, nil
}

// chunkMetadata 组装随块写入索引的元数据，打分阶段据此做标签匹配。
func (p *Processor) chunkMetadata(doc *model.Document, task tasks.IngestTask) map[string]string {
	metadata := map[string]string{
		"title": doc.FileName,
	}
	if doc.UseCaseTag != "" {
		metadata["use_case"] = doc.UseCaseTag
	}
	for k, v := range task.Metadata {
		metadata[k] = v
	}
	return metadata
}

// tombstoneOldVersions 把该文档旧版本的块全部打上墓碑。
// 索引的 Delete 以文档为粒度，会连带刚写入的新版本块，
// 因此墓碑之后立即重放新块的 Upsert 恢复其存活标记。
// 内容寻址保证重放覆盖的是同一批记录，整个过程幂等。
// 事实表里旧版本的行保留作审计，不做物理删除。
func (p *Processor) tombstoneOldVersions(ctx context.Context, documentID string, current []*model.Chunk) error {
	if err := p.index.Delete(ctx, documentID); err != nil {
		return err
	}
	for _, chunk := range current {
		if err := p.index.Upsert(ctx, chunk); err != nil {
			return err
		}
	}
	return nil
}

func (p *Processor) markFailed(documentID string) {
	if err := p.docRepo.MarkFailed(documentID); err != nil {
		log.Errorf("[Processor] 标记文档失败态时出错: %v", err)
	}
}

// splitText 按固定长度加重叠滑窗切分文本，按 rune 计数以兼容中文。
func (p *Processor) splitText(content string) []string {
	runes := []rune(content)
	if len(runes) == 0 {
		return nil
	}
	if len(runes) <= p.chunkSize {
		return []string{content}
	}

	var chunks []string
	step := p.chunkSize - p.chunkOverlap
	if step <= 0 {
		step = p.chunkSize
	}
	for start := 0; start < len(runes); start += step {
		end := start + p.chunkSize
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[start:end]))
		if end == len(runes) {
			break
		}
	}
	return chunks
}
