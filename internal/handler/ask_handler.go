// Package handler 包含了所有 HTTP 请求的处理器。
package handler

import (
	"errors"
	"net/http"

	"kb-pilot-go/internal/model"
	"kb-pilot-go/internal/rag"
	"kb-pilot-go/internal/service"
	"kb-pilot-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// AskHandler 结构体定义了问答相关的处理器。
type AskHandler struct {
	answerService service.AnswerService
}

// NewAskHandler 创建一个新的 AskHandler 实例。
func NewAskHandler(answerService service.AnswerService) *AskHandler {
	return &AskHandler{answerService: answerService}
}

// askRequest 是问答接口的请求体。
type askRequest struct {
	Query          string                 `json:"query" binding:"required"`
	ConversationID string                 `json:"conversationId"`
	Media          *model.MediaDescriptor `json:"media,omitempty"`
}

// Ask 是处理阻塞式问答请求的 Gin 处理函数。
func (h *AskHandler) Ask(c *gin.Context) {
	var req askRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Warnf("[AskHandler] 请求参数无效: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的请求参数"})
		return
	}
	if req.Media != nil && !req.Media.Modality.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的媒体模态"})
		return
	}
	log.Infof("[AskHandler] 收到问答请求, query: '%s'", req.Query)

	q := &model.Query{Text: req.Query, AttachedMedia: req.Media}
	answer, err := h.answerService.Ask(c.Request.Context(), req.ConversationID, q)
	if err != nil {
		if errors.Is(err, rag.ErrIndexUnavailable) {
			log.Errorf("[AskHandler] 向量索引不可用: %v", err)
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "检索服务暂不可用，请稍后重试"})
			return
		}
		log.Errorf("[AskHandler] 问答服务返回错误: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "问答失败"})
		return
	}

	log.Infof("[AskHandler] 问答成功, mode: %s, citations: %d", answer.GenerationMode, len(answer.Citations))
	c.JSON(http.StatusOK, gin.H{"code": 200, "data": answer, "message": "success"})
}
