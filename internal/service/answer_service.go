// Package service 包含了应用的核心业务逻辑。
package service

import (
	"context"
	"time"

	"kb-pilot-go/internal/model"
	"kb-pilot-go/internal/rag"
	"kb-pilot-go/internal/repository"
	"kb-pilot-go/pkg/llm"
	"kb-pilot-go/pkg/log"
)

// AnswerService 定义了问答与检索的业务接口。
type AnswerService interface {
	// Ask 处理一次阻塞式问答：加载会话历史、执行检索生成、回写会话。
	Ask(ctx context.Context, conversationID string, q *model.Query) (*model.Answer, error)
	// Search 只执行检索部分，返回过阈值并排好序的证据列表。
	Search(ctx context.Context, q *model.Query) ([]model.EvidenceDTO, error)
}

type answerService struct {
	pipeline         *rag.Pipeline
	conversationRepo repository.ConversationRepository
}

// NewAnswerService 创建一个新的 AnswerService 实例。
func NewAnswerService(pipeline *rag.Pipeline, conversationRepo repository.ConversationRepository) AnswerService {
	return &answerService{
		pipeline:         pipeline,
		conversationRepo: conversationRepo,
	}
}

// Ask 处理一次问答请求。会话历史的读写失败只记日志不阻断问答。
func (s *answerService) Ask(ctx context.Context, conversationID string, q *model.Query) (*model.Answer, error) {
	if conversationID != "" {
		history, err := s.conversationRepo.History(ctx, conversationID)
		if err != nil {
			log.Warnf("[AnswerService] 加载会话历史失败: %v", err)
		} else {
			q.History = history
		}
	}

	answer, err := s.pipeline.Answer(ctx, q)
	if err != nil {
		return nil, err
	}

	if conversationID != "" {
		now := time.Now()
		if err := s.conversationRepo.Append(ctx, conversationID, model.ChatMessage{
			Role: "user", Content: q.Text, Timestamp: now,
		}); err != nil {
			log.Warnf("[AnswerService] 保存用户消息失败: %v", err)
		}
		if err := s.conversationRepo.Append(ctx, conversationID, model.ChatMessage{
			Role: "assistant", Content: answer.Text, Timestamp: now,
		}); err != nil {
			log.Warnf("[AnswerService] 保存应答消息失败: %v", err)
		}
	}
	return answer, nil
}

// Search 执行检索并把上下文窗口内的证据映射为前端结构。
func (s *answerService) Search(ctx context.Context, q *model.Query) ([]model.EvidenceDTO, error) {
	_, window, err := s.pipeline.Retrieve(ctx, q)
	if err != nil {
		return nil, err
	}
	results := make([]model.EvidenceDTO, 0, len(window.Selected))
	for _, ev := range window.Selected {
		dto := model.EvidenceDTO{
			ChunkID:    ev.ChunkID,
			Modality:   ev.Modality,
			Similarity: ev.Similarity,
			Relevance:  ev.Relevance,
		}
		if ev.Chunk != nil {
			dto.DocumentID = ev.Chunk.DocumentID
			dto.Position = ev.Chunk.Position
			dto.Text = ev.Chunk.Text
			dto.FileName = ev.Chunk.Metadata["title"]
		}
		results = append(results, dto)
	}
	return results, nil
}

// llmBackend 把通用的 LLM 客户端适配为生成后端契约。
type llmBackend struct {
	client llm.Client
}

// NewLLMBackend 用 LLM 客户端构造一个生成后端。
func NewLLMBackend(client llm.Client) rag.GenerationBackend {
	return &llmBackend{client: client}
}

func (b *llmBackend) Generate(ctx context.Context, messages []model.ChatMessage) (string, error) {
	return b.client.ChatMessages(ctx, toLLMMessages(messages))
}

func toLLMMessages(messages []model.ChatMessage) []llm.Message {
	out := make([]llm.Message, 0, len(messages))
	for _, m := range messages {
		out = append(out, llm.Message{Role: m.Role, Content: m.Content})
	}
	return out
}
