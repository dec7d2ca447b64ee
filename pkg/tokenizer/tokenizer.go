// Package tokenizer 基于 tiktoken 提供 token 计数，用于上下文窗口预算。
package tokenizer

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
	tiktoken_loader "github.com/pkoukk/tiktoken-go-loader"
)

// 在包初始化时设置离线加载器，避免运行时联网下载编码文件
func init() {
	tiktoken.SetBpeLoader(tiktoken_loader.NewOfflineLoader())
}

// Counter 使用 tiktoken 精确计算 token 数量。
type Counter struct {
	encoding *tiktoken.Tiktoken
	mu       sync.RWMutex
}

var (
	instance *Counter
	once     sync.Once
	initErr  error
)

// GetCounter 获取 Counter 单例，避免重复加载编码文件。
// 使用 cl100k_base 编码（GPT-4 等主流模型兼容）。
func GetCounter() (*Counter, error) {
	once.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			initErr = err
			return
		}
		instance = &Counter{encoding: enc}
	})
	if initErr != nil {
		return nil, initErr
	}
	return instance, nil
}

// CountTokens 计算文本的 token 数量。
func (c *Counter) CountTokens(text string) int {
	if text == "" {
		return 0
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.encoding.Encode(text, nil, nil))
}
