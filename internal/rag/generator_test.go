package rag

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"kb-pilot-go/internal/config"
	"kb-pilot-go/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubBackend 按预设返回固定文本或错误，并记录调用次数。
type stubBackend struct {
	mu    sync.Mutex
	text  string
	err   error
	calls int
	block chan struct{}
}

func (b *stubBackend) Generate(ctx context.Context, _ []model.ChatMessage) (string, error) {
	b.mu.Lock()
	b.calls++
	b.mu.Unlock()
	if b.block != nil {
		select {
		case <-b.block:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if b.err != nil {
		return "", b.err
	}
	return b.text, nil
}

func testWindow() *model.ContextWindow {
	return &model.ContextWindow{
		Selected: []model.RankedEvidence{
			evidence("c1", "d1", 0, 0.9, "第一条证据"),
			evidence("c2", "d2", 0, 0.8, "第二条证据"),
		},
		TotalTokens: 20,
		MaxTokens:   100,
	}
}

func newTestGenerator(backend GenerationBackend) *Generator {
	prompts := NewPromptBuilder(config.LLMPromptConfig{}, 10)
	return NewGenerator(backend, prompts, 1, time.Second, time.Second)
}

func TestGeneratorFullGeneration(t *testing.T) {
	backend := &stubBackend{text: "这是生成的答案"}
	g := newTestGenerator(backend)

	answer, err := g.Generate(context.Background(), &model.Query{Text: "问题"}, UseCaseDefault, testWindow())
	require.NoError(t, err)
	assert.Equal(t, model.ModeFullGeneration, answer.GenerationMode)
	assert.Equal(t, "这是生成的答案", answer.Text)
	assert.Equal(t, []string{"c1", "c2"}, answer.Citations)
	assert.Equal(t, UseCaseDefault, answer.UseCaseTag)
}

func TestGeneratorExtractiveFallback(t *testing.T) {
	t.Run("后端报错时转入抽取式降级", func(t *testing.T) {
		backend := &stubBackend{err: errors.New("后端超载")}
		g := newTestGenerator(backend)

		answer, err := g.Generate(context.Background(), &model.Query{Text: "问题"}, UseCaseHelpdesk, testWindow())
		require.NoError(t, err)
		assert.Equal(t, model.ModeExtractiveFallback, answer.GenerationMode)
		// 降级答案由证据文本拼接而成
		assert.Contains(t, answer.Text, "第一条证据")
		assert.Contains(t, answer.Text, "第二条证据")
		// 引用与完整生成一致，都来自上下文窗口
		assert.Equal(t, []string{"c1", "c2"}, answer.Citations)
	})

	t.Run("后端缺席时直接降级", func(t *testing.T) {
		g := newTestGenerator(nil)
		answer, err := g.Generate(context.Background(), &model.Query{Text: "问题"}, UseCaseDefault, testWindow())
		require.NoError(t, err)
		assert.Equal(t, model.ModeExtractiveFallback, answer.GenerationMode)
		assert.NotEmpty(t, answer.Citations)
	})

	t.Run("空窗口降级为未找到文案", func(t *testing.T) {
		g := newTestGenerator(nil)
		answer, err := g.Generate(context.Background(), &model.Query{Text: "问题"}, UseCaseDefault, &model.ContextWindow{})
		require.NoError(t, err)
		assert.Equal(t, model.ModeExtractiveFallback, answer.GenerationMode)
		assert.Empty(t, answer.Citations)
		assert.Contains(t, answer.Text, "没有找到")
	})

	t.Run("查询取消时不产出降级答案", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		backend := &stubBackend{text: "不该返回"}
		g := newTestGenerator(backend)
		_, err := g.Generate(ctx, &model.Query{Text: "问题"}, UseCaseDefault, testWindow())
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestGeneratorSemaphore(t *testing.T) {
	// 后端被第一个调用占住，第二个调用排队超时后走降级
	block := make(chan struct{})
	backend := &stubBackend{text: "慢答案", block: block}
	prompts := NewPromptBuilder(config.LLMPromptConfig{}, 10)
	g := NewGenerator(backend, prompts, 1, 50*time.Millisecond, time.Second)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		answer, err := g.Generate(context.Background(), &model.Query{Text: "第一问"}, UseCaseDefault, testWindow())
		require.NoError(t, err)
		assert.Equal(t, model.ModeFullGeneration, answer.GenerationMode)
	}()

	// 等第一个调用占住信号量
	time.Sleep(20 * time.Millisecond)

	answer, err := g.Generate(context.Background(), &model.Query{Text: "第二问"}, UseCaseDefault, testWindow())
	require.NoError(t, err)
	assert.Equal(t, model.ModeExtractiveFallback, answer.GenerationMode)

	close(block)
	wg.Wait()
	// 只有第一个调用真正打到了后端
	assert.Equal(t, 1, backend.calls)
}
