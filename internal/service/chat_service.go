package service

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"kb-pilot-go/internal/model"
	"kb-pilot-go/internal/rag"
	"kb-pilot-go/internal/repository"
	"kb-pilot-go/pkg/llm"
	"kb-pilot-go/pkg/log"

	"github.com/gorilla/websocket"
)

// ChatService 定义了 WebSocket 流式聊天的业务接口。
type ChatService interface {
	// HandleConnection 接管一条已升级的 WebSocket 连接直到其关闭。
	HandleConnection(conn *websocket.Conn, clientID string)
}

type chatService struct {
	pipeline         *rag.Pipeline
	llmClient        llm.Client
	prompts          *rag.PromptBuilder
	generator        *rag.Generator
	conversationRepo repository.ConversationRepository
}

// NewChatService 创建一个新的 ChatService 实例。
func NewChatService(
	pipeline *rag.Pipeline,
	llmClient llm.Client,
	prompts *rag.PromptBuilder,
	generator *rag.Generator,
	conversationRepo repository.ConversationRepository,
) ChatService {
	return &chatService{
		pipeline:         pipeline,
		llmClient:        llmClient,
		prompts:          prompts,
		generator:        generator,
		conversationRepo: conversationRepo,
	}
}

// chatRequest 是客户端发来的单条聊天消息。
type chatRequest struct {
	Type  string                 `json:"type"` // "message" 或 "stop"
	Text  string                 `json:"text"`
	Media *model.MediaDescriptor `json:"media,omitempty"`
}

// chatEvent 是服务端推送的控制事件（文本分块直接以裸文本帧推送）。
type chatEvent struct {
	Type      string   `json:"type"` // "done" / "error"
	Mode      string   `json:"mode,omitempty"`
	Citations []string `json:"citations,omitempty"`
	UseCase   string   `json:"useCase,omitempty"`
	Message   string   `json:"message,omitempty"`
}

// wsWriter 包装 WebSocket 连接：加写锁串行化写入，同时累积完整应答文本
// 用于会话持久化。
type wsWriter struct {
	conn *websocket.Conn
	mu   sync.Mutex
	full strings.Builder
}

func (w *wsWriter) WriteMessage(messageType int, data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if messageType == websocket.TextMessage {
		w.full.Write(data)
	}
	return w.conn.WriteMessage(messageType, data)
}

func (w *wsWriter) writeEvent(ev chatEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn.WriteMessage(websocket.TextMessage, data)
}

// HandleConnection 处理一条聊天连接的完整生命周期。
// 同一连接上的请求串行处理；"stop" 取消当前正在进行的生成。
func (s *chatService) HandleConnection(conn *websocket.Conn, clientID string) {
	defer conn.Close()
	log.Infof("[ChatService] 客户端 %s 已连接", clientID)

	var cancelMu sync.Mutex
	var cancelCurrent context.CancelFunc

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warnf("[ChatService] 客户端 %s 连接异常关闭: %v", clientID, err)
			}
			break
		}

		var req chatRequest
		if err := json.Unmarshal(data, &req); err != nil {
			// 兼容裸文本消息
			req = chatRequest{Type: "message", Text: string(data)}
		}

		switch req.Type {
		case "stop":
			cancelMu.Lock()
			if cancelCurrent != nil {
				cancelCurrent()
				cancelCurrent = nil
			}
			cancelMu.Unlock()
			continue
		case "message", "":
			// 继续处理
		default:
			continue
		}
		if strings.TrimSpace(req.Text) == "" && req.Media == nil {
			continue
		}

		ctx, cancel := context.WithCancel(context.Background())
		cancelMu.Lock()
		cancelCurrent = cancel
		cancelMu.Unlock()

		s.handleMessage(ctx, conn, clientID, req)

		cancelMu.Lock()
		if cancelCurrent != nil {
			cancelCurrent()
			cancelCurrent = nil
		}
		cancelMu.Unlock()
	}

	log.Infof("[ChatService] 客户端 %s 已断开", clientID)
}

// handleMessage 处理一轮问答：检索、流式生成、降级与会话回写。
func (s *chatService) handleMessage(ctx context.Context, conn *websocket.Conn, clientID string, req chatRequest) {
	writer := &wsWriter{conn: conn}

	history, err := s.conversationRepo.History(ctx, clientID)
	if err != nil {
		log.Warnf("[ChatService] 加载会话历史失败: %v", err)
	}
	q := &model.Query{Text: req.Text, AttachedMedia: req.Media, History: history}

	useCase, window, err := s.pipeline.Retrieve(ctx, q)
	if err != nil {
		log.Errorf("[ChatService] 检索失败: %v", err)
		_ = writer.writeEvent(chatEvent{Type: "error", Message: "检索服务暂不可用，请稍后重试"})
		return
	}

	mode := model.ModeFullGeneration
	messages := toLLMMessages(s.prompts.Messages(q, useCase, rag.RenderContext(window)))
	if err := s.llmClient.StreamChatMessages(ctx, messages, writer); err != nil {
		if ctx.Err() != nil {
			// 客户端主动停止，不再推送降级内容
			log.Infof("[ChatService] 客户端 %s 停止了本轮生成", clientID)
			return
		}
		log.Warnf("[ChatService] 流式生成失败，转入抽取式降级: %v", err)
		mode = model.ModeExtractiveFallback
		fallback := s.generator.ExtractiveAnswer(window)
		if err := writer.WriteMessage(websocket.TextMessage, []byte(fallback)); err != nil {
			log.Errorf("[ChatService] 推送降级应答失败: %v", err)
			return
		}
	}

	if err := writer.writeEvent(chatEvent{
		Type:      "done",
		Mode:      mode,
		Citations: window.ChunkIDs(),
		UseCase:   useCase,
	}); err != nil {
		log.Errorf("[ChatService] 推送结束事件失败: %v", err)
		return
	}

	s.saveTurn(clientID, req.Text, writer.full.String())
}

// saveTurn 回写一轮对话。用独立的上下文，不受本轮取消影响。
func (s *chatService) saveTurn(clientID, question, answer string) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	now := time.Now()
	if err := s.conversationRepo.Append(ctx, clientID, model.ChatMessage{
		Role: "user", Content: question, Timestamp: now,
	}); err != nil {
		log.Warnf("[ChatService] 保存用户消息失败: %v", err)
	}
	if err := s.conversationRepo.Append(ctx, clientID, model.ChatMessage{
		Role: "assistant", Content: answer, Timestamp: now,
	}); err != nil {
		log.Warnf("[ChatService] 保存应答消息失败: %v", err)
	}
}
