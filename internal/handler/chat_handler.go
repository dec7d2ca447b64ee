package handler

import (
	"net/http"

	"kb-pilot-go/internal/service"
	"kb-pilot-go/pkg/log"
	"kb-pilot-go/pkg/token"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // 允许所有来源
	},
}

// ChatHandler 负责处理 WebSocket 聊天连接。
type ChatHandler struct {
	chatService service.ChatService
	jwtManager  *token.JWTManager
}

// NewChatHandler 创建一个新的 ChatHandler。
func NewChatHandler(chatService service.ChatService, jwtManager *token.JWTManager) *ChatHandler {
	return &ChatHandler{
		chatService: chatService,
		jwtManager:  jwtManager,
	}
}

// IssueToken 为当前调用方签发短时聊天 token。
// WebSocket 握手无法带自定义请求头，连接凭证放在 URL 路径里，
// 因此用短时 JWT 而不是长期的 API Key。
func (h *ChatHandler) IssueToken(c *gin.Context) {
	clientID := c.Query("clientId")
	if clientID == "" {
		clientID = token.GenerateRandomString(16)
	}

	chatToken, err := h.jwtManager.GenerateChatToken(clientID)
	if err != nil {
		log.Errorf("[ChatHandler] 签发聊天 token 失败: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "签发聊天 token 失败"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": 200, "message": "success", "data": gin.H{
		"token":    chatToken,
		"clientId": clientID,
	}})
}

// Handle 处理一个传入的 WebSocket 连接。
func (h *ChatHandler) Handle(c *gin.Context) {
	tokenString := c.Param("token")
	claims, err := h.jwtManager.VerifyChatToken(tokenString)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"code": http.StatusUnauthorized, "message": "无效的 token", "data": nil})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error("WebSocket 升级失败", err)
		return
	}

	log.Infof("WebSocket 连接已建立，客户端: %s", claims.ClientID)
	h.chatService.HandleConnection(conn, claims.ClientID)
}
