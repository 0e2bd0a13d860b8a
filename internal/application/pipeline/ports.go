// Package pipeline 实现研报生成管线：规划、并行检索、网页增强、总结与持久化
package pipeline

import (
	"context"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"zhiku-report-api/internal/config"
	"zhiku-report-api/internal/domain/report"
)

// KnowledgeRetriever 知识库检索端口
type KnowledgeRetriever interface {
	Retrieve(ctx context.Context, kb config.KnowledgeBaseConfig, query string, topK int) ([]*report.Document, error)
}

// WebSearcher 网页搜索端口
type WebSearcher interface {
	Search(ctx context.Context, query string, count int) ([]*report.Document, error)
}

// ChatModel 对话模型端口，eino ChatModel 直接满足该接口
type ChatModel interface {
	Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error)
	Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error)
}

// ModelProvider 按智能体名称提供对话模型
type ModelProvider interface {
	GetModel(ctx context.Context, agent string) (ChatModel, error)
}

// ReportStore 报告持久化端口
// 持久化是尽力而为的：失败只记录日志，不影响管线结果。
type ReportStore interface {
	SaveReport(ctx context.Context, sessionID, query, content string) error
}

// Emit 事件发射函数，管线各阶段通过它向下游推送事件
// 实现必须支持并发调用。
type Emit func(report.Event)
