package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"

	"kb-pilot-go/internal/model"
	"kb-pilot-go/internal/rag"
	"kb-pilot-go/pkg/tasks"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubDocumentRepo 记录状态流转调用，FindByID 只认预置的那一条文档。
type stubDocumentRepo struct {
	doc            *model.Document
	failed         bool
	ingestedChunks int
}

func (r *stubDocumentRepo) Create(*model.Document) error { return nil }

func (r *stubDocumentRepo) FindByID(id string) (*model.Document, error) {
	if r.doc == nil || r.doc.ID != id {
		return nil, errors.New("文档不存在: " + id)
	}
	return r.doc, nil
}

func (r *stubDocumentRepo) List(int, int) ([]model.Document, int64, error) { return nil, 0, nil }
func (r *stubDocumentRepo) BumpVersion(string) (*model.Document, error)    { return nil, nil }

func (r *stubDocumentRepo) MarkIngested(_ string, chunkCount int) error {
	r.ingestedChunks = chunkCount
	return nil
}

func (r *stubDocumentRepo) MarkFailed(string) error     { r.failed = true; return nil }
func (r *stubDocumentRepo) MarkSuperseded(string) error { return nil }
func (r *stubDocumentRepo) Delete(string) error         { return nil }

type stubChunkRepo struct {
	records []model.ChunkRecord
	err     error
}

func (r *stubChunkRepo) BatchCreate(records []model.ChunkRecord) error {
	if r.err != nil {
		return r.err
	}
	r.records = append(r.records, records...)
	return nil
}

func (r *stubChunkRepo) FindByChunkIDs([]string) ([]model.ChunkRecord, error) { return nil, nil }

func (r *stubChunkRepo) FindByDocument(string, int) ([]model.ChunkRecord, error) {
	return nil, nil
}

func (r *stubChunkRepo) DeleteByDocument(string) error { return nil }

type stubEmbedder struct {
	err error
}

func (e *stubEmbedder) Embed(context.Context, string, model.Modality) ([]float32, error) {
	if e.err != nil {
		return nil, e.err
	}
	return []float32{1, 0, 0, 0}, nil
}

func (e *stubEmbedder) Dimensions(model.Modality) int { return 4 }

// stubIndex 按发生顺序记录索引操作，用于检验墓碑与重放的先后关系。
type stubIndex struct {
	ops       []string
	upsertErr error
}

func (x *stubIndex) Upsert(_ context.Context, chunk *model.Chunk) error {
	if x.upsertErr != nil {
		return x.upsertErr
	}
	x.ops = append(x.ops, "upsert:"+chunk.ID)
	return nil
}

func (x *stubIndex) Delete(_ context.Context, documentID string) error {
	x.ops = append(x.ops, "delete:"+documentID)
	return nil
}

func (x *stubIndex) Search(context.Context, []float32, model.Modality, int) ([]model.Hit, error) {
	return nil, nil
}

func testProcessor(docRepo *stubDocumentRepo, chunkRepo *stubChunkRepo, embedder rag.Embedder, idx rag.VectorIndex) *Processor {
	return &Processor{
		docRepo:      docRepo,
		chunkRepo:    chunkRepo,
		embedder:     embedder,
		index:        idx,
		chunkSize:    200,
		chunkOverlap: 20,
	}
}

func mediaDoc(version int, descriptor string) *model.Document {
	return &model.Document{
		ID:         "img-doc",
		FileName:   "bearing.png",
		Modality:   model.ModalityImage,
		Version:    version,
		UseCaseTag: "helpdesk",
		Descriptor: descriptor,
	}
}

func imageTask(descriptor string) tasks.IngestTask {
	return tasks.IngestTask{
		DocumentID: "img-doc",
		FileName:   "bearing.png",
		Modality:   model.ModalityImage,
		Descriptor: descriptor,
	}
}

func TestProcessMedia(t *testing.T) {
	ctx := context.Background()

	t.Run("按任务携带的描述文本完成摄取", func(t *testing.T) {
		docRepo := &stubDocumentRepo{doc: mediaDoc(1, "")}
		chunkRepo := &stubChunkRepo{}
		idx := &stubIndex{}
		p := testProcessor(docRepo, chunkRepo, &stubEmbedder{}, idx)

		require.NoError(t, p.Process(ctx, imageTask("一个深沟球轴承的特写")))

		require.Len(t, chunkRepo.records, 1)
		assert.Equal(t, "一个深沟球轴承的特写", chunkRepo.records[0].Text)
		assert.Len(t, idx.ops, 1)
		assert.Equal(t, 1, docRepo.ingestedChunks)
		assert.False(t, docRepo.failed)
	})

	t.Run("任务缺描述文本时回退到文档记录", func(t *testing.T) {
		// 重新摄取的任务不携带描述文本，取文档记录里持久化的那份
		docRepo := &stubDocumentRepo{doc: mediaDoc(2, "一个深沟球轴承的特写")}
		chunkRepo := &stubChunkRepo{}
		idx := &stubIndex{}
		p := testProcessor(docRepo, chunkRepo, &stubEmbedder{}, idx)

		require.NoError(t, p.Process(ctx, imageTask("")))

		require.Len(t, chunkRepo.records, 1)
		assert.Equal(t, "一个深沟球轴承的特写", chunkRepo.records[0].Text)
		assert.Equal(t, 1, docRepo.ingestedChunks)
		assert.False(t, docRepo.failed)
	})

	t.Run("描述文本完全缺失时标记失败", func(t *testing.T) {
		docRepo := &stubDocumentRepo{doc: mediaDoc(1, "")}
		idx := &stubIndex{}
		p := testProcessor(docRepo, &stubChunkRepo{}, &stubEmbedder{}, idx)

		err := p.Process(ctx, imageTask(""))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "没有可索引的文本内容")
		assert.True(t, docRepo.failed)
		assert.Empty(t, idx.ops)
		assert.Zero(t, docRepo.ingestedChunks)
	})

	t.Run("未知模态标记失败", func(t *testing.T) {
		docRepo := &stubDocumentRepo{doc: mediaDoc(1, "描述")}
		p := testProcessor(docRepo, &stubChunkRepo{}, &stubEmbedder{}, &stubIndex{})

		task := imageTask("描述")
		task.Modality = model.Modality("hologram")
		err := p.Process(ctx, task)
		require.Error(t, err)
		assert.True(t, docRepo.failed)
	})

	t.Run("向量化失败标记失败", func(t *testing.T) {
		docRepo := &stubDocumentRepo{doc: mediaDoc(1, "")}
		idx := &stubIndex{}
		p := testProcessor(docRepo, &stubChunkRepo{}, &stubEmbedder{err: errors.New("嵌入服务超载")}, idx)

		err := p.Process(ctx, imageTask("描述"))
		require.Error(t, err)
		assert.True(t, docRepo.failed)
		assert.Empty(t, idx.ops)
		assert.Zero(t, docRepo.ingestedChunks)
	})

	t.Run("写索引失败标记失败", func(t *testing.T) {
		docRepo := &stubDocumentRepo{doc: mediaDoc(1, "")}
		idx := &stubIndex{upsertErr: errors.New("索引不可用")}
		p := testProcessor(docRepo, &stubChunkRepo{}, &stubEmbedder{}, idx)

		err := p.Process(ctx, imageTask("描述"))
		require.Error(t, err)
		assert.True(t, docRepo.failed)
		assert.Zero(t, docRepo.ingestedChunks)
	})

	t.Run("重新摄取先写新块再废弃旧版本", func(t *testing.T) {
		docRepo := &stubDocumentRepo{doc: mediaDoc(2, "")}
		chunkRepo := &stubChunkRepo{}
		idx := &stubIndex{}
		p := testProcessor(docRepo, chunkRepo, &stubEmbedder{}, idx)

		require.NoError(t, p.Process(ctx, imageTask("新版描述")))

		// 新版本块全部可见后才打墓碑，墓碑连带新块故立即重放恢复
		cid := model.ChunkID("img-doc", 2, 0, "新版描述")
		assert.Equal(t, []string{"upsert:" + cid, "delete:img-doc", "upsert:" + cid}, idx.ops)
		assert.Equal(t, 1, docRepo.ingestedChunks)
		assert.False(t, docRepo.failed)
	})
}

func testSplitter(size, overlap int) *Processor {
	return &Processor{chunkSize: size, chunkOverlap: overlap}
}

func TestSplitText(t *testing.T) {
	t.Run("短文本不切分", func(t *testing.T) {
		p := testSplitter(500, 50)
		chunks := p.splitText("一段不足五百字的短文本")
		require.Len(t, chunks, 1)
		assert.Equal(t, "一段不足五百字的短文本", chunks[0])
	})

	t.Run("空文本返回空", func(t *testing.T) {
		p := testSplitter(500, 50)
		assert.Empty(t, p.splitText(""))
	})

	t.Run("相邻块之间保留重叠", func(t *testing.T) {
		p := testSplitter(10, 3)
		text := "abcdefghijklmnopqrstuvwxyz"
		chunks := p.splitText(text)
		require.Greater(t, len(chunks), 1)
		for i := 0; i < len(chunks)-1; i++ {
			cur := []rune(chunks[i])
			next := []rune(chunks[i+1])
			// 上一块的尾部与下一块的头部重叠 overlap 个字符
			assert.Equal(t, string(cur[len(cur)-3:]), string(next[:3]))
		}
	})

	t.Run("切块覆盖全部内容", func(t *testing.T) {
		p := testSplitter(10, 3)
		text := strings.Repeat("天道酬勤", 20)
		chunks := p.splitText(text)
		var rebuilt strings.Builder
		for i, c := range chunks {
			runes := []rune(c)
			if i > 0 {
				// 去掉与上一块重叠的头部
				runes = runes[3:]
			}
			rebuilt.WriteString(string(runes))
		}
		assert.Equal(t, text, rebuilt.String())
	})

	t.Run("按字符计数兼容中文", func(t *testing.T) {
		p := testSplitter(10, 0)
		text := strings.Repeat("知", 25)
		chunks := p.splitText(text)
		require.Len(t, chunks, 3)
		assert.Equal(t, 10, len([]rune(chunks[0])))
		assert.Equal(t, 10, len([]rune(chunks[1])))
		assert.Equal(t, 5, len([]rune(chunks[2])))
	})

	t.Run("块长不超过设定上限", func(t *testing.T) {
		p := testSplitter(10, 3)
		for _, c := range p.splitText(strings.Repeat("x", 97)) {
			assert.LessOrEqual(t, len([]rune(c)), 10)
		}
	})
}
