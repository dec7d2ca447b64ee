package rag

import (
	"context"
	"math"
	"sort"
	"sync"

	"kb-pilot-go/internal/model"
)

// VectorIndex 存储 (id -> 向量, 元数据) 并回答 k 近邻查询。
// 相似度为余弦相似度，只在同一模态的向量空间内比较。
// Delete 是逻辑墓碑：被废弃的块不再出现在后续 Search 中，物理记录可留作审计。
// 后端为外部存储时语义是最终一致：upsert 后的块对并发 Search 不保证立即可见。
type VectorIndex interface {
	// Upsert 写入或覆盖一个块，按块原子：对后续 Search 要么完整可见要么不可见。
	Upsert(ctx context.Context, chunk *model.Chunk) error
	// Delete 把指定文档的全部块打上墓碑。
	Delete(ctx context.Context, documentID string) error
	// Search 返回至多 k 条结果，按相似度降序；同分按写入先后（旧在前）保证可复现。
	Search(ctx context.Context, vector []float32, modality model.Modality, k int) ([]model.Hit, error)
}

// CosineSimilarity 计算两个向量的余弦相似度，维度不符或零向量返回 0。
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

type memoryEntry struct {
	chunk *model.Chunk
	seq   uint64
	dead  bool
}

// MemoryIndex 是进程内的 VectorIndex 实现：读写互斥保护，
// 写入序号用于同分排序。用于测试与无外部存储的嵌入式部署。
type MemoryIndex struct {
	mu      sync.RWMutex
	entries map[string]*memoryEntry
	nextSeq uint64
}

// NewMemoryIndex 创建一个空的进程内向量索引。
func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{entries: make(map[string]*memoryEntry)}
}

// Upsert 写入一个块。持锁完成全部状态变更，保证按块原子。
func (idx *MemoryIndex) Upsert(_ context.Context, chunk *model.Chunk) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if old, ok := idx.entries[chunk.ID]; ok {
		// 覆盖写保留原写入序号，避免重复摄取扰乱同分排序
		old.chunk = chunk
		old.dead = false
		return nil
	}
	idx.nextSeq++
	idx.entries[chunk.ID] = &memoryEntry{chunk: chunk, seq: idx.nextSeq}
	return nil
}

// Delete 把指定文档的全部块打上墓碑。
func (idx *MemoryIndex) Delete(_ context.Context, documentID string) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	for _, e := range idx.entries {
		if e.chunk.DocumentID == documentID {
			e.dead = true
		}
	}
	return nil
}

// Search 在指定模态内做余弦相似度的 k 近邻查询。
func (idx *MemoryIndex) Search(_ context.Context, vector []float32, modality model.Modality, k int) ([]model.Hit, error) {
	if k <= 0 {
		return nil, nil
	}
	idx.mu.RLock()
	type scored struct {
		hit model.Hit
		seq uint64
	}
	var candidates []scored
	for _, e := range idx.entries {
		if e.dead || e.chunk.Modality != modality {
			continue
		}
		sim := CosineSimilarity(vector, e.chunk.Embedding)
		candidates = append(candidates, scored{
			hit: model.Hit{ChunkID: e.chunk.ID, Similarity: sim, Chunk: e.chunk},
			seq: e.seq,
		})
	}
	idx.mu.RUnlock()

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].hit.Similarity != candidates[j].hit.Similarity {
			return candidates[i].hit.Similarity > candidates[j].hit.Similarity
		}
		return candidates[i].seq < candidates[j].seq
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
