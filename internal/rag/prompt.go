package rag

import (
	"strings"

	"kb-pilot-go/internal/config"
	"kb-pilot-go/internal/model"
)

// 各用例的系统角色说明，拼在通用规则之前。
var useCaseRoles = map[string]string{
	UseCaseDefault:     "你是基于企业知识库的多模态智能助手，依据提供的参考资料回答问题。",
	UseCaseEmployee:    "你是企业员工服务助手，擅长解答人事、行政、入职培训相关的问题。",
	UseCaseKnowledge:   "你是企业知识管理助手，帮助用户在公司文档资料中查找信息。",
	UseCaseMaintenance: "你是设备维护诊断助手，帮助识别配件并提供检修指引。",
	UseCaseHelpdesk:    "你是 IT 支持助手，帮助解决常见的软件、账号与网络问题。",
	UseCaseMultimodal:  "你是能够理解图片、音频与视频描述的多模态企业助手，结合参考资料与媒体描述回答问题。",
}

// PromptBuilder 负责组装发往生成后端的消息序列：
// 系统指令（用例相关）+ 参考上下文 + 有界历史 + 用户问题。
type PromptBuilder struct {
	cfg          config.LLMPromptConfig
	historyTurns int
}

// NewPromptBuilder 创建提示词装配器。historyTurns 限定携带的历史轮数。
func NewPromptBuilder(cfg config.LLMPromptConfig, historyTurns int) *PromptBuilder {
	return &PromptBuilder{cfg: cfg, historyTurns: historyTurns}
}

// SystemMessage 组装系统消息：角色说明、规则与包裹在定界符内的参考上下文。
func (p *PromptBuilder) SystemMessage(useCase string, contextText string) string {
	role, ok := useCaseRoles[useCase]
	if !ok {
		role = useCaseRoles[UseCaseDefault]
	}
	rules := p.cfg.Rules
	if rules == "" {
		rules = "仅依据参考资料回答；资料中没有的信息要明确说明未找到，不得编造。回答保持专业、简洁。"
	}
	refStart := p.cfg.RefStart
	if refStart == "" {
		refStart = "<<REF>>"
	}
	refEnd := p.cfg.RefEnd
	if refEnd == "" {
		refEnd = "<<END>>"
	}

	var sb strings.Builder
	sb.WriteString(role)
	sb.WriteString("\n")
	sb.WriteString(rules)
	sb.WriteString("\n\n")
	sb.WriteString(refStart)
	sb.WriteString("\n")
	if contextText != "" {
		sb.WriteString(contextText)
	} else {
		sb.WriteString(p.NoResultText())
		sb.WriteString("\n")
	}
	sb.WriteString(refEnd)
	return sb.String()
}

// Messages 组装完整的角色消息序列，历史裁剪到最近 historyTurns 轮。
func (p *PromptBuilder) Messages(q *model.Query, useCase string, contextText string) []model.ChatMessage {
	history := q.History
	if max := p.historyTurns * 2; len(history) > max {
		history = history[len(history)-max:]
	}
	msgs := make([]model.ChatMessage, 0, len(history)+2)
	msgs = append(msgs, model.ChatMessage{Role: "system", Content: p.SystemMessage(useCase, contextText)})
	msgs = append(msgs, history...)
	msgs = append(msgs, model.ChatMessage{Role: "user", Content: q.Text})
	return msgs
}

// NoResultText 返回"未检索到相关知识"的提示文案。
func (p *PromptBuilder) NoResultText() string {
	if p.cfg.NoResultText != "" {
		return p.cfg.NoResultText
	}
	return "知识库中没有找到与该问题相关的资料。"
}

// FallbackLead 返回抽取式降级应答的引导句。
func (p *PromptBuilder) FallbackLead() string {
	if p.cfg.FallbackLead != "" {
		return p.cfg.FallbackLead
	}
	return "以下是从知识库中检索到的相关内容："
}
