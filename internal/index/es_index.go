// Package index 提供基于 Elasticsearch 的向量索引实现。
package index

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"kb-pilot-go/internal/config"
	"kb-pilot-go/internal/model"
	"kb-pilot-go/internal/rag"
	"kb-pilot-go/pkg/es"
	"kb-pilot-go/pkg/log"

	"github.com/elastic/go-elasticsearch/v8/esapi"
)

// esDocument 是写入 Elasticsearch 的文档结构，与索引 mapping 一一对应。
type esDocument struct {
	ChunkID     string            `json:"chunk_id"`
	DocumentID  string            `json:"document_id"`
	DocVersion  int               `json:"doc_version"`
	Position    int               `json:"position"`
	Modality    string            `json:"modality"`
	TextContent string            `json:"text_content"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	Vector      []float32         `json:"vector"`
	Deleted     bool              `json:"deleted"`
	Seq         int64             `json:"seq"`
	IngestedAt  time.Time         `json:"ingested_at"`
}

// ESIndex 是 rag.VectorIndex 的 Elasticsearch 实现。
// 每个模态一个索引（维度不同），删除为逻辑墓碑，写后读是最终一致。
type ESIndex struct {
	indexPrefix string
}

// NewESIndex 创建一个基于全局 ES 客户端的向量索引。
func NewESIndex(cfg config.ElasticsearchConfig) *ESIndex {
	return &ESIndex{indexPrefix: cfg.IndexPrefix}
}

// Upsert 以 chunk id 为文档 ID 写入 Elasticsearch，天然幂等：
// 内容寻址的块重复摄取只会覆盖同一条记录。
func (i *ESIndex) Upsert(ctx context.Context, chunk *model.Chunk) error {
	doc := esDocument{
		ChunkID:     chunk.ID,
		DocumentID:  chunk.DocumentID,
		DocVersion:  chunk.DocVersion,
		Position:    chunk.Position,
		Modality:    string(chunk.Modality),
		TextContent: chunk.Text,
		Metadata:    chunk.Metadata,
		Vector:      chunk.Embedding,
		Deleted:     false,
		Seq:         chunk.IngestedAt.UnixNano(),
		IngestedAt:  chunk.IngestedAt,
	}

	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("序列化索引文档失败: %w", err)
	}

	req := esapi.IndexRequest{
		Index:      es.IndexName(i.indexPrefix, chunk.Modality),
		DocumentID: chunk.ID,
		Body:       bytes.NewReader(body),
	}
	res, err := req.Do(ctx, es.ESClient)
	if err != nil {
		return fmt.Errorf("%w: %v", rag.ErrIndexUnavailable, err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("%w: 写入索引返回错误 %s", rag.ErrIndexUnavailable, res.String())
	}
	return nil
}

// Delete 通过 update_by_query 为指定文档的全部块打墓碑。
// 物理记录保留，后续 Search 通过 deleted=false 过滤。
func (i *ESIndex) Delete(ctx context.Context, documentID string) error {
	query := fmt.Sprintf(`{
		"script": { "source": "ctx._source.deleted = true", "lang": "painless" },
		"query": { "term": { "document_id": "%s" } }
	}`, documentID)

	for _, modality := range []model.Modality{model.ModalityText, model.ModalityImage, model.ModalityAudio, model.ModalityVideo} {
		indexName := es.IndexName(i.indexPrefix, modality)
		res, err := es.ESClient.UpdateByQuery(
			[]string{indexName},
			es.ESClient.UpdateByQuery.WithContext(ctx),
			es.ESClient.UpdateByQuery.WithBody(strings.NewReader(query)),
			es.ESClient.UpdateByQuery.WithConflicts("proceed"),
		)
		if err != nil {
			return fmt.Errorf("%w: %v", rag.ErrIndexUnavailable, err)
		}
		if res.IsError() {
			errStr := res.String()
			res.Body.Close()
			return fmt.Errorf("%w: 打墓碑返回错误 %s", rag.ErrIndexUnavailable, errStr)
		}
		res.Body.Close()
	}

	log.Infof("[ESIndex] 文档 %s 的索引块已全部打上墓碑", documentID)
	return nil
}

// Search 在指定模态的索引内做 kNN 查询，过滤掉墓碑块。
// ES 的同分顺序不保证稳定，拿回后在客户端按 (相似度降序, seq 升序) 重排。
func (i *ESIndex) Search(ctx context.Context, vector []float32, modality model.Modality, k int) ([]model.Hit, error) {
	if k <= 0 {
		return nil, nil
	}

	searchBody := map[string]interface{}{
		"knn": map[string]interface{}{
			"field":          "vector",
			"query_vector":   vector,
			"k":              k,
			"num_candidates": k * 10,
			"filter": map[string]interface{}{
				"term": map[string]interface{}{"deleted": false},
			},
		},
		"size":    k,
		"_source": []string{"chunk_id", "document_id", "doc_version", "position", "modality", "text_content", "metadata", "seq", "ingested_at"},
	}

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(searchBody); err != nil {
		return nil, fmt.Errorf("构建查询失败: %w", err)
	}

	indexName := es.IndexName(i.indexPrefix, modality)
	res, err := es.ESClient.Search(
		es.ESClient.Search.WithContext(ctx),
		es.ESClient.Search.WithIndex(indexName),
		es.ESClient.Search.WithBody(&buf),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", rag.ErrIndexUnavailable, err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return nil, fmt.Errorf("%w: 检索返回错误 %s", rag.ErrIndexUnavailable, res.String())
	}

	var sr struct {
		Hits struct {
			Hits []struct {
				Score  float64    `json:"_score"`
				Source esDocument `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&sr); err != nil {
		return nil, fmt.Errorf("解析检索结果失败: %w", err)
	}

	type scored struct {
		hit model.Hit
		seq int64
	}
	candidates := make([]scored, 0, len(sr.Hits.Hits))
	for _, h := range sr.Hits.Hits {
		src := h.Source
		chunk := &model.Chunk{
			ID:         src.ChunkID,
			DocumentID: src.DocumentID,
			DocVersion: src.DocVersion,
			Position:   src.Position,
			Modality:   model.Modality(src.Modality),
			Text:       src.TextContent,
			Metadata:   src.Metadata,
			IngestedAt: src.IngestedAt,
		}
		// knn 的 _score 是 (1 + cosine) / 2，还原为余弦相似度
		sim := h.Score*2 - 1
		if sim > 1 {
			sim = 1
		}
		candidates = append(candidates, scored{
			hit: model.Hit{ChunkID: src.ChunkID, Similarity: sim, Chunk: chunk},
			seq: src.Seq,
		})
	}

	sort.SliceStable(candidates, func(a, b int) bool {
		if candidates[a].hit.Similarity != candidates[b].hit.Similarity {
			return candidates[a].hit.Similarity > candidates[b].hit.Similarity
		}
		return candidates[a].seq < candidates[b].seq
	})
	if len(candidates) > k {
		candidates = candidates[:k]
	}
	hits := make([]model.Hit, 0, len(candidates))
	for _, c := range candidates {
		hits = append(hits, c.hit)
	}
	return hits, nil
}
