package rag

import "strings"

// 用例标签：用于选择提示词模板，也作为打分阶段的元数据匹配信号。
const (
	UseCaseDefault     = "default"
	UseCaseEmployee    = "employee_assistance"
	UseCaseKnowledge   = "knowledge_management"
	UseCaseMaintenance = "maintenance"
	UseCaseHelpdesk    = "helpdesk"
	UseCaseMultimodal  = "multimodal"
)

// useCaseKeywords 是各用例的关键词表，命中任意一词即判定为该用例。
// 按声明顺序检测，先命中者生效。
var useCaseKeywords = []struct {
	tag   string
	words []string
}{
	{UseCaseEmployee, []string{
		"人事", "考勤", "请假", "薪资", "合同", "入职", "培训", "报销",
		"hr", "onboarding", "salary", "leave",
	}},
	{UseCaseMaintenance, []string{
		"故障", "维修", "保养", "诊断", "配件", "设备", "机器", "检修",
		"repair", "maintenance", "diagnostic",
	}},
	{UseCaseHelpdesk, []string{
		"电脑", "软件", "密码", "账号", "权限", "网络", "报错", "安装",
		"password", "login", "bug", "error",
	}},
	{UseCaseKnowledge, []string{
		"文档", "资料", "流程", "规范", "手册", "指南", "在哪", "查找",
		"document", "manual", "guide", "procedure",
	}},
}

// DetectUseCase 从查询文本中启发式识别用例标签，识别不出返回 default。
func DetectUseCase(query string) string {
	lower := strings.ToLower(query)
	for _, uc := range useCaseKeywords {
		for _, w := range uc.words {
			if strings.Contains(lower, w) {
				return uc.tag
			}
		}
	}
	return UseCaseDefault
}
