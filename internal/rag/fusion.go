package rag

import (
	"kb-pilot-go/internal/model"
	"kb-pilot-go/pkg/log"
)

// Fuse 把文本证据与媒体证据归并为单一有序证据列表。
// 查询无附带媒体且未检索到媒体块时是纯透传；否则媒体证据以其文本描述
// 参与排序，与文本证据在同一窗口预算下按同一准入规则竞争。
// 不同模态的原始向量从不直接比较，融合只发生在打分后的相关性空间。
func Fuse(textEvidence, mediaEvidence []model.RankedEvidence) []model.RankedEvidence {
	if len(mediaEvidence) == 0 {
		return textEvidence
	}
	fused := make([]model.RankedEvidence, 0, len(textEvidence)+len(mediaEvidence))
	fused = append(fused, textEvidence...)
	fused = append(fused, mediaEvidence...)
	SortEvidence(fused)
	log.Infof("[Fusion] 融合完成, 文本证据: %d, 媒体证据: %d", len(textEvidence), len(mediaEvidence))
	return fused
}
