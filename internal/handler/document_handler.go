package handler

import (
	"net/http"
	"strconv"

	"kb-pilot-go/internal/model"
	"kb-pilot-go/internal/service"
	"kb-pilot-go/pkg/log"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// DocumentHandler 结构体定义了文档管理相关的处理器。
type DocumentHandler struct {
	documentService service.DocumentService
}

// NewDocumentHandler 创建一个新的 DocumentHandler 实例。
func NewDocumentHandler(documentService service.DocumentService) *DocumentHandler {
	return &DocumentHandler{documentService: documentService}
}

// Register 是处理文档注册请求的 Gin 处理函数。
// 文本模态通过 multipart 上传原始文件；媒体模态额外携带 descriptor 字段，
// 内容是外部协作方预先抽取的描述文本。
func (h *DocumentHandler) Register(c *gin.Context) {
	modality := model.Modality(c.DefaultPostForm("modality", string(model.ModalityText)))
	useCaseTag := c.PostForm("useCaseTag")
	descriptor := c.PostForm("descriptor")

	req := service.RegisterRequest{
		Modality:   modality,
		UseCaseTag: useCaseTag,
		Descriptor: descriptor,
	}

	fileHeader, err := c.FormFile("file")
	if err == nil {
		file, err := fileHeader.Open()
		if err != nil {
			log.Errorf("[DocumentHandler] 打开上传文件失败: %v", err)
			c.JSON(http.StatusBadRequest, gin.H{"error": "无法读取上传文件"})
			return
		}
		defer file.Close()
		req.FileName = fileHeader.Filename
		req.File = file
		req.FileSize = fileHeader.Size
	} else {
		req.FileName = c.PostForm("fileName")
	}
	if req.FileName == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "缺少文件或文件名"})
		return
	}

	log.Infof("[DocumentHandler] 收到文档注册请求: %s (模态=%s)", req.FileName, modality)
	doc, err := h.documentService.Register(c.Request.Context(), req)
	if err != nil {
		log.Errorf("[DocumentHandler] 文档注册失败: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": 200, "data": doc, "message": "success"})
}

// List 返回分页的文档列表。
func (h *DocumentHandler) List(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	size, _ := strconv.Atoi(c.DefaultQuery("size", "20"))
	if page < 1 {
		page = 1
	}
	if size < 1 || size > 100 {
		size = 20
	}

	docs, total, err := h.documentService.List((page-1)*size, size)
	if err != nil {
		log.Errorf("[DocumentHandler] 查询文档列表失败: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "查询文档列表失败"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": 200, "data": gin.H{"items": docs, "total": total}, "message": "success"})
}

// Get 返回单个文档的元数据。
func (h *DocumentHandler) Get(c *gin.Context) {
	doc, err := h.documentService.Get(c.Param("id"))
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			c.JSON(http.StatusNotFound, gin.H{"error": "文档不存在"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "查询文档失败"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": 200, "data": doc, "message": "success"})
}

// Reingest 对已有文档触发重新摄取。
func (h *DocumentHandler) Reingest(c *gin.Context) {
	doc, err := h.documentService.Reingest(c.Request.Context(), c.Param("id"))
	if err != nil {
		log.Errorf("[DocumentHandler] 触发重新摄取失败: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": 200, "data": doc, "message": "success"})
}

// Delete 把文档从检索中移除。
func (h *DocumentHandler) Delete(c *gin.Context) {
	if err := h.documentService.Delete(c.Request.Context(), c.Param("id")); err != nil {
		if err == gorm.ErrRecordNotFound {
			c.JSON(http.StatusNotFound, gin.H{"error": "文档不存在"})
			return
		}
		log.Errorf("[DocumentHandler] 删除文档失败: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "删除文档失败"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": 200, "message": "success"})
}

// DownloadURL 返回原始文件的预签名下载链接。
func (h *DocumentHandler) DownloadURL(c *gin.Context) {
	url, err := h.documentService.DownloadURL(c.Param("id"))
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			c.JSON(http.StatusNotFound, gin.H{"error": "文档不存在"})
			return
		}
		log.Errorf("[DocumentHandler] 生成下载链接失败: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "生成下载链接失败"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": 200, "data": gin.H{"url": url}, "message": "success"})
}
