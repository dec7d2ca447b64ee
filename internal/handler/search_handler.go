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

// SearchHandler 结构体定义了检索相关的处理器。
type SearchHandler struct {
	answerService service.AnswerService
}

// NewSearchHandler 创建一个新的 SearchHandler 实例。
func NewSearchHandler(answerService service.AnswerService) *SearchHandler {
	return &SearchHandler{answerService: answerService}
}

// Search 是处理知识检索请求的 Gin 处理函数，只返回排好序的证据列表。
func (h *SearchHandler) Search(c *gin.Context) {
	query := c.Query("query")
	log.Infof("[SearchHandler] 收到检索请求, query: %s", query)

	if query == "" {
		log.Warnf("[SearchHandler] 检索请求失败: query 参数为空")
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的查询参数"})
		return
	}

	results, err := h.answerService.Search(c.Request.Context(), &model.Query{Text: query})
	if err != nil {
		if errors.Is(err, rag.ErrIndexUnavailable) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "检索服务暂不可用，请稍后重试"})
			return
		}
		log.Errorf("[SearchHandler] 检索服务返回错误, error: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "检索失败"})
		return
	}

	log.Infof("[SearchHandler] 检索成功, query: '%s', 返回 %d 条结果", query, len(results))
	c.JSON(http.StatusOK, gin.H{"code": 200, "data": results, "message": "success"})
}
