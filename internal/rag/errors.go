// Package rag 实现了检索增强生成的核心管线：向量化、相似度检索、
// 相关性打分、上下文窗口装配、多模态融合与两态应答生成。
package rag

import "errors"

var (
	// ErrModelUnavailable 表示嵌入模型或生成后端缺失/不可达。
	// 该错误在各自阶段内部通过降级吸收，绝不作为硬失败抛给调用方。
	ErrModelUnavailable = errors.New("模型服务不可用")

	// ErrIndexUnavailable 表示向量索引的存储后端不可达。
	// 该错误向调用方透传为可识别的检索失败，管线不得伪造证据。
	ErrIndexUnavailable = errors.New("向量索引不可用")

	// ErrOverflowRejected 表示单个知识块自身就超过了上下文窗口上限。
	// 记录日志后跳过该块，不会导致管线失败。
	ErrOverflowRejected = errors.New("知识块超过上下文窗口上限")
)
