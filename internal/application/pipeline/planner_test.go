package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zhiku-report-api/internal/config"
)

func twoBases() config.KnowledgeConfig {
	return config.KnowledgeConfig{
		Bases: []config.KnowledgeBaseConfig{
			{ID: "kb-1", Name: "政策库", Domain: "政策", Description: "政策法规"},
			{ID: "kb-2", Name: "行业库", Domain: "行业", Description: "行业研究"},
		},
		MaxQueriesPerBase: 3,
	}
}

func TestPlanSingleSourceSkipsLLM(t *testing.T) {
	planner := NewPlanner(&fakeProvider{}, config.KnowledgeConfig{
		Bases: []config.KnowledgeBaseConfig{{ID: "kb-1", Name: "政策库"}},
	})

	plan := planner.Plan(context.Background(), "碳排放权交易制度")

	require.Len(t, plan.RetrievalPlan, 1)
	assert.Equal(t, "kb-1", plan.RetrievalPlan[0].KnowledgeBaseID)
	assert.Equal(t, []string{"碳排放权交易制度"}, plan.RetrievalPlan[0].Queries)
	assert.Equal(t, "默认知识库", plan.RetrievalPlan[0].Reason)
	assert.False(t, plan.HasWebSearch())
}

func TestPlanSingleSourceRecencyAddsWebSearch(t *testing.T) {
	planner := NewPlanner(&fakeProvider{}, config.KnowledgeConfig{
		Bases: []config.KnowledgeBaseConfig{{ID: "kb-1", Name: "政策库"}},
	})

	plan := planner.Plan(context.Background(), "新能源汽车最新政策")

	require.True(t, plan.HasWebSearch())
	assert.Equal(t, []string{"新能源汽车最新政策 最新", "新能源汽车最新政策 2025"}, plan.WebSearchPlan.Queries)
	assert.Equal(t, "问题涉及时效性，需要获取最新信息", plan.WebSearchPlan.Reason)
}

func TestPlanMultiSourceParsesLLMOutput(t *testing.T) {
	cm := &fakeChatModel{generateResp: "```json\n" + `{
		"analysis": "问题涉及政策与行业两方面",
		"retrieval_plan": [
			{"knowledge_base_id": "kb-1", "knowledge_base_name": "政策库", "queries": ["补贴政策"], "reason": "政策相关"},
			{"knowledge_base_id": "kb-2", "knowledge_base_name": "行业库", "queries": ["市场规模"], "reason": "行业相关"}
		],
		"web_search_plan": {"queries": ["最新动态"], "reason": "时效性"}
	}` + "\n```"}
	planner := NewPlanner(&fakeProvider{models: map[string]*fakeChatModel{"planner": cm}}, twoBases())

	plan := planner.Plan(context.Background(), "新能源汽车补贴")

	assert.Equal(t, 1, cm.calls)
	assert.Equal(t, "问题涉及政策与行业两方面", plan.Analysis)
	require.Len(t, plan.RetrievalPlan, 2)
	assert.Equal(t, "kb-2", plan.RetrievalPlan[1].KnowledgeBaseID)
	assert.True(t, plan.HasWebSearch())
}

func TestPlanFallbackOnUnparsableOutput(t *testing.T) {
	cm := &fakeChatModel{generateResp: "我无法生成计划"}
	planner := NewPlanner(&fakeProvider{models: map[string]*fakeChatModel{"planner": cm}}, twoBases())

	plan := planner.Plan(context.Background(), "产业政策")

	// 降级计划用原始查询覆盖全部知识库
	require.Len(t, plan.RetrievalPlan, 2)
	for _, item := range plan.RetrievalPlan {
		assert.Equal(t, []string{"产业政策"}, item.Queries)
		assert.Equal(t, "降级方案", item.Reason)
	}
	assert.False(t, plan.HasWebSearch())
}

func TestPlanFallbackOnModelUnavailable(t *testing.T) {
	planner := NewPlanner(&fakeProvider{err: assert.AnError}, twoBases())

	plan := planner.Plan(context.Background(), "产业政策")

	require.Len(t, plan.RetrievalPlan, 2)
	assert.Equal(t, "降级方案", plan.RetrievalPlan[0].Reason)
}

func TestParsePlanRejectsEmptyRetrievalPlan(t *testing.T) {
	_, err := parsePlan(`{"analysis": "分析", "retrieval_plan": []}`)
	assert.Error(t, err)
}

func TestNeedsWebSearch(t *testing.T) {
	tests := []struct {
		query string
		want  bool
	}{
		{"新能源汽车最新政策", true},
		{"2025年市场趋势", true},
		{"行业近期动态", true},
		{"碳排放权交易制度", false},
		{"产业结构分析", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, needsWebSearch(tt.query), tt.query)
	}
}
