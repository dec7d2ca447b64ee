package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"kb-pilot-go/internal/model"

	"github.com/go-redis/redis/v8"
)

const (
	// 每个会话最多保留 20 条消息（10 轮对话）
	maxConversationMessages = 20
	// 会话 7 天后过期
	conversationTTL = 7 * 24 * time.Hour
)

// ConversationRepository 定义了对话历史的数据访问接口。
// 历史保存在 Redis List 中，有界且带过期时间。
type ConversationRepository interface {
	Append(ctx context.Context, conversationID string, msg model.ChatMessage) error
	History(ctx context.Context, conversationID string) ([]model.ChatMessage, error)
	Clear(ctx context.Context, conversationID string) error
}

type conversationRepository struct {
	rdb *redis.Client
}

// NewConversationRepository 创建一个新的 ConversationRepository 实例。
func NewConversationRepository(rdb *redis.Client) ConversationRepository {
	return &conversationRepository{rdb: rdb}
}

func conversationKey(conversationID string) string {
	return fmt.Sprintf("conversation:%s", conversationID)
}

// Append 追加一条消息并截断到最近 maxConversationMessages 条。
func (r *conversationRepository) Append(ctx context.Context, conversationID string, msg model.ChatMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	key := conversationKey(conversationID)
	pipe := r.rdb.Pipeline()
	pipe.RPush(ctx, key, data)
	pipe.LTrim(ctx, key, -maxConversationMessages, -1)
	pipe.Expire(ctx, key, conversationTTL)
	_, err = pipe.Exec(ctx)
	return err
}

// History 返回会话的全部留存消息，时间顺序从旧到新。
func (r *conversationRepository) History(ctx context.Context, conversationID string) ([]model.ChatMessage, error) {
	values, err := r.rdb.LRange(ctx, conversationKey(conversationID), 0, -1).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, err
	}
	messages := make([]model.ChatMessage, 0, len(values))
	for _, v := range values {
		var msg model.ChatMessage
		if err := json.Unmarshal([]byte(v), &msg); err != nil {
			// 损坏的记录跳过，不影响整段历史
			continue
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

func (r *conversationRepository) Clear(ctx context.Context, conversationID string) error {
	return r.rdb.Del(ctx, conversationKey(conversationID)).Err()
}
