package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"zhiku-report-api/internal/config"
	"zhiku-report-api/internal/domain/report"
	"zhiku-report-api/pkg/logger"
	"zhiku-report-api/pkg/metrics"
)

// Coordinator 检索扇出协调器
// 每个计划条目一个并发任务，任务内事件严格有序，任务间交错不限；
// 单条查询失败只标记该查询，不中断任务，也不中断阶段。
type Coordinator struct {
	retrievers map[string]KnowledgeRetriever // key: provider
	web        WebSearcher
	bases      map[string]config.KnowledgeBaseConfig // key: 知识库 ID
	topK       int
	maxQueries int
	webCount   int
	timeout    time.Duration
}

// NewCoordinator 创建协调器
func NewCoordinator(retrievers map[string]KnowledgeRetriever, web WebSearcher, kc config.KnowledgeConfig, webCount int) *Coordinator {
	bases := make(map[string]config.KnowledgeBaseConfig, len(kc.Bases))
	for _, kb := range kc.Bases {
		bases[kb.ID] = kb
	}
	return &Coordinator{
		retrievers: retrievers,
		web:        web,
		bases:      bases,
		topK:       kc.TopK,
		maxQueries: kc.MaxQueriesPerBase,
		webCount:   webCount,
		timeout:    kc.RetrievalTimeout,
	}
}

// Retrieve 执行知识库检索阶段
// 所有任务完成后发出携带注册表总量的终止事件。
func (c *Coordinator) Retrieve(ctx context.Context, items []report.PlanItem, reg *report.Registry, emit Emit) {
	emit(report.RetrievalStarted{SourceCount: len(items)})

	g := new(errgroup.Group)
	for _, item := range items {
		item := item
		g.Go(func() error {
			c.runTask(ctx, item, reg, emit)
			return nil
		})
	}
	// 任务永不返回错误，失败已隔离到查询级
	_ = g.Wait()

	emit(report.RetrievalCompleted{TotalDocs: reg.Len()})
}

// runTask 执行单个知识库的检索任务
func (c *Coordinator) runTask(ctx context.Context, item report.PlanItem, reg *report.Registry, emit Emit) {
	taskID := uuid.NewString()[:8]
	ctx = logger.WithContext(ctx, logger.TaskIDKey, taskID)

	// 单任务查询数上限，LLM 计划超长时截断
	queries := item.Queries
	if c.maxQueries > 0 && len(queries) > c.maxQueries {
		logger.Warn(ctx, "plan item queries truncated",
			"knowledge_base", item.KnowledgeBaseName, "planned", len(queries), "max", c.maxQueries)
		queries = queries[:c.maxQueries]
	}

	emit(report.SourceStarted{
		TaskID:            taskID,
		KnowledgeBaseID:   item.KnowledgeBaseID,
		KnowledgeBaseName: item.KnowledgeBaseName,
		QueryCount:        len(queries),
	})

	total := 0
	for _, query := range queries {
		emit(report.QueryStarted{
			TaskID:            taskID,
			KnowledgeBaseName: item.KnowledgeBaseName,
			Query:             query,
		})

		docs, err := c.retrieveOne(ctx, item, query)
		if err != nil {
			metrics.RetrievalQueriesTotal.WithLabelValues(item.KnowledgeBaseName, "error").Inc()
			logger.Warn(ctx, "retrieval query failed",
				"knowledge_base", item.KnowledgeBaseName, "query", query, "error", err.Error())
			emit(report.QueryCompleted{
				TaskID:            taskID,
				KnowledgeBaseName: item.KnowledgeBaseName,
				Query:             query,
				Success:           false,
				Err:               err.Error(),
			})
			continue
		}

		for _, doc := range docs {
			reg.Add(doc)
		}
		total += len(docs)
		metrics.RetrievalQueriesTotal.WithLabelValues(item.KnowledgeBaseName, "success").Inc()
		metrics.RetrievalDocsTotal.WithLabelValues(item.KnowledgeBaseName).Add(float64(len(docs)))

		emit(report.QueryCompleted{
			TaskID:            taskID,
			KnowledgeBaseName: item.KnowledgeBaseName,
			Query:             query,
			Success:           true,
			Docs:              docs,
		})
	}

	emit(report.SourceCompleted{
		TaskID:            taskID,
		KnowledgeBaseName: item.KnowledgeBaseName,
		TotalDocs:         total,
	})
}

// retrieveOne 执行单条查询
func (c *Coordinator) retrieveOne(ctx context.Context, item report.PlanItem, query string) ([]*report.Document, error) {
	kb, ok := c.bases[item.KnowledgeBaseID]
	if !ok {
		return nil, fmt.Errorf("unknown knowledge base: %s", item.KnowledgeBaseID)
	}
	retriever, ok := c.retrievers[kb.Provider]
	if !ok {
		return nil, fmt.Errorf("no retriever for provider: %s", kb.Provider)
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	docs, err := retriever.Retrieve(ctx, kb, query, c.topK)
	if err != nil {
		return nil, err
	}
	for _, doc := range docs {
		doc.KnowledgeBaseID = kb.ID
		doc.KnowledgeBaseName = kb.Name
	}
	return docs, nil
}

// WebSearch 执行网页搜索阶段，查询串行执行
func (c *Coordinator) WebSearch(ctx context.Context, plan *report.WebPlan, reg *report.Registry, emit Emit) {
	emit(report.WebSearchStarted{QueryCount: len(plan.Queries)})

	added := 0
	for _, query := range plan.Queries {
		emit(report.WebQueryStarted{Query: query})

		docs, err := c.web.Search(ctx, query, c.webCount)
		if err != nil {
			metrics.RetrievalQueriesTotal.WithLabelValues("web_search", "error").Inc()
			logger.Warn(ctx, "web search query failed", "query", query, "error", err.Error())
			emit(report.WebQueryCompleted{Query: query, Success: false, Err: err.Error()})
			continue
		}

		for _, doc := range docs {
			doc.SearchQuery = query
			before := reg.Len()
			reg.Add(doc)
			if reg.Len() > before {
				added++
			}
		}
		metrics.RetrievalQueriesTotal.WithLabelValues("web_search", "success").Inc()
		metrics.RetrievalDocsTotal.WithLabelValues("web_search").Add(float64(len(docs)))

		emit(report.WebQueryCompleted{Query: query, Success: true, Docs: docs})
	}

	emit(report.WebSearchCompleted{Added: added, TotalDocs: reg.Len()})
}
