package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino/schema"

	"zhiku-report-api/internal/config"
	"zhiku-report-api/internal/domain/report"
	"zhiku-report-api/pkg/logger"
	"zhiku-report-api/pkg/metrics"
)

const agentPlanner = "planner"

// recencyKeywords 时效性关键词，命中则在单知识库快速路径中附加网页搜索
var recencyKeywords = []string{
	"最新", "近期", "今年", "最近", "当前",
	"2024", "2025", "2026",
	"新闻", "动态", "趋势", "进展",
}

const planSystemPrompt = `你是一个检索规划助手。根据用户问题和可用知识库制定检索计划。

可用知识库：
%s

请输出 JSON，格式如下：
{
  "analysis": "对问题的简要分析",
  "retrieval_plan": [
    {"knowledge_base_id": "...", "knowledge_base_name": "...", "queries": ["..."], "reason": "..."}
  ],
  "web_search_plan": {"queries": ["..."], "reason": "..."}
}

要求：
1. 只选择与问题相关的知识库，每个知识库最多 %d 条查询
2. 仅当问题涉及时效性信息时才包含 web_search_plan，否则省略该字段
3. 只输出 JSON，不要输出任何其他内容`

// Planner 检索规划器
// 单知识库时走快速路径跳过 LLM；多知识库时由 LLM 产出结构化计划，
// 任何失败都降级为覆盖全部知识库的兜底计划，规划阶段永不失败。
type Planner struct {
	models     ModelProvider
	bases      []config.KnowledgeBaseConfig
	maxQueries int
}

// NewPlanner 创建规划器
func NewPlanner(models ModelProvider, kc config.KnowledgeConfig) *Planner {
	return &Planner{
		models:     models,
		bases:      kc.Bases,
		maxQueries: kc.MaxQueriesPerBase,
	}
}

// Plan 为查询制定检索计划
func (p *Planner) Plan(ctx context.Context, query string) *report.Plan {
	if len(p.bases) == 1 {
		return p.singleSourcePlan(query)
	}
	return p.llmPlan(ctx, query)
}

// singleSourcePlan 单知识库快速路径：不调用 LLM，按时效性启发式决定网页搜索
func (p *Planner) singleSourcePlan(query string) *report.Plan {
	kb := p.bases[0]
	plan := &report.Plan{
		Analysis: "用户查询: " + query,
		RetrievalPlan: []report.PlanItem{{
			KnowledgeBaseID:   kb.ID,
			KnowledgeBaseName: kb.Name,
			Queries:           []string{query},
			Reason:            "默认知识库",
		}},
	}
	if needsWebSearch(query) {
		plan.WebSearchPlan = &report.WebPlan{
			Queries: []string{query + " 最新", query + " 2025"},
			Reason:  "问题涉及时效性，需要获取最新信息",
		}
	}
	return plan
}

// llmPlan 由 LLM 产出计划，失败时降级
func (p *Planner) llmPlan(ctx context.Context, query string) *report.Plan {
	start := time.Now()
	cm, err := p.models.GetModel(ctx, agentPlanner)
	if err != nil {
		logger.Warn(ctx, "planner model unavailable, using fallback plan", "error", err.Error())
		return p.fallbackPlan(query)
	}

	messages := []*schema.Message{
		schema.SystemMessage(fmt.Sprintf(planSystemPrompt, p.describeBases(), p.maxQueries)),
		schema.UserMessage(query),
	}

	resp, err := cm.Generate(ctx, messages)
	if err != nil {
		metrics.LLMCallTotal.WithLabelValues(agentPlanner, "", "error").Inc()
		logger.Warn(ctx, "planner LLM call failed, using fallback plan", "error", err.Error())
		return p.fallbackPlan(query)
	}
	metrics.LLMCallTotal.WithLabelValues(agentPlanner, "", "success").Inc()
	metrics.LLMCallDuration.WithLabelValues(agentPlanner, "").Observe(time.Since(start).Seconds())

	plan, err := parsePlan(resp.Content)
	if err != nil {
		logger.Warn(ctx, "planner output unparsable, using fallback plan", "error", err.Error())
		return p.fallbackPlan(query)
	}
	return plan
}

// fallbackPlan 兜底计划：用原始查询覆盖全部知识库
func (p *Planner) fallbackPlan(query string) *report.Plan {
	items := make([]report.PlanItem, 0, len(p.bases))
	for _, kb := range p.bases {
		items = append(items, report.PlanItem{
			KnowledgeBaseID:   kb.ID,
			KnowledgeBaseName: kb.Name,
			Queries:           []string{query},
			Reason:            "降级方案",
		})
	}
	return &report.Plan{
		Analysis:      "用户查询: " + query,
		RetrievalPlan: items,
	}
}

// describeBases 生成知识库清单文本
func (p *Planner) describeBases() string {
	lines := make([]string, 0, len(p.bases))
	for _, kb := range p.bases {
		lines = append(lines, fmt.Sprintf("- %s (id: %s, 领域: %s): %s", kb.Name, kb.ID, kb.Domain, kb.Description))
	}
	return strings.Join(lines, "\n")
}

// parsePlan 解析 LLM 输出的计划 JSON，容忍 markdown 代码块包裹
func parsePlan(content string) (*report.Plan, error) {
	content = strings.TrimSpace(content)
	if idx := strings.Index(content, "```"); idx >= 0 {
		content = strings.TrimPrefix(content[idx:], "```json")
		content = strings.TrimPrefix(content, "```")
		if end := strings.Index(content, "```"); end >= 0 {
			content = content[:end]
		}
		content = strings.TrimSpace(content)
	}

	var plan report.Plan
	if err := json.Unmarshal([]byte(content), &plan); err != nil {
		return nil, fmt.Errorf("failed to parse plan JSON: %w", err)
	}
	if len(plan.RetrievalPlan) == 0 {
		return nil, fmt.Errorf("plan has no retrieval items")
	}
	return &plan, nil
}

// needsWebSearch 时效性启发式判断
func needsWebSearch(query string) bool {
	q := strings.ToLower(query)
	for _, kw := range recencyKeywords {
		if strings.Contains(q, kw) {
			return true
		}
	}
	return false
}
