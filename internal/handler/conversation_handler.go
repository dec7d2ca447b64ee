package handler

import (
	"net/http"

	"kb-pilot-go/internal/repository"
	"kb-pilot-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// ConversationHandler 结构体定义了会话历史相关的处理器。
type ConversationHandler struct {
	conversationRepo repository.ConversationRepository
}

// NewConversationHandler 创建一个新的 ConversationHandler 实例。
func NewConversationHandler(conversationRepo repository.ConversationRepository) *ConversationHandler {
	return &ConversationHandler{conversationRepo: conversationRepo}
}

// History 返回指定会话的留存消息列表。
func (h *ConversationHandler) History(c *gin.Context) {
	conversationID := c.Param("id")
	messages, err := h.conversationRepo.History(c.Request.Context(), conversationID)
	if err != nil {
		log.Errorf("[ConversationHandler] 查询会话历史失败: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "查询会话历史失败"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": 200, "data": messages, "message": "success"})
}

// Clear 清空指定会话的历史。
func (h *ConversationHandler) Clear(c *gin.Context) {
	conversationID := c.Param("id")
	if err := h.conversationRepo.Clear(c.Request.Context(), conversationID); err != nil {
		log.Errorf("[ConversationHandler] 清空会话历史失败: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "清空会话历史失败"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": 200, "message": "success"})
}
