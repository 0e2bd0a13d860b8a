package report

// Plan 检索计划
type Plan struct {
	Analysis      string     `json:"analysis"`
	RetrievalPlan []PlanItem `json:"retrieval_plan"`
	WebSearchPlan *WebPlan   `json:"web_search_plan,omitempty"`
}

// PlanItem 单个知识库的检索任务
type PlanItem struct {
	KnowledgeBaseID   string   `json:"knowledge_base_id"`
	KnowledgeBaseName string   `json:"knowledge_base_name"`
	Queries           []string `json:"queries"`
	Reason            string   `json:"reason"`
}

// WebPlan 网页搜索任务
type WebPlan struct {
	Queries []string `json:"queries"`
	Reason  string   `json:"reason"`
}

// HasWebSearch 计划是否包含网页搜索阶段
func (p *Plan) HasWebSearch() bool {
	return p != nil && p.WebSearchPlan != nil && len(p.WebSearchPlan.Queries) > 0
}
