package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zhiku-report-api/internal/config"
	"zhiku-report-api/internal/domain/report"
)

func coordinatorConfig() config.KnowledgeConfig {
	return config.KnowledgeConfig{
		Bases: []config.KnowledgeBaseConfig{
			{ID: "kb-1", Name: "政策库", Provider: "zhipu"},
			{ID: "kb-2", Name: "行业库", Provider: "zhipu"},
		},
		TopK: 5,
	}
}

func TestRetrieveFanOut(t *testing.T) {
	retriever := &fakeRetriever{fn: func(kb config.KnowledgeBaseConfig, query string) ([]*report.Document, error) {
		if query == "失败查询" {
			return nil, errors.New("upstream timeout")
		}
		return []*report.Document{
			{Content: kb.ID + "/" + query, ChunkID: kb.ID + "-" + query, Source: kb.Name, Score: 0.8},
		}, nil
	}}
	c := NewCoordinator(map[string]KnowledgeRetriever{"zhipu": retriever}, nil, coordinatorConfig(), 5)

	items := []report.PlanItem{
		{KnowledgeBaseID: "kb-1", KnowledgeBaseName: "政策库", Queries: []string{"查询一", "失败查询"}},
		{KnowledgeBaseID: "kb-2", KnowledgeBaseName: "行业库", Queries: []string{"查询二"}},
	}

	reg := report.NewRegistry()
	collector := &eventCollector{}
	c.Retrieve(context.Background(), items, reg, collector.emit)

	events := collector.all()
	require.NotEmpty(t, events)

	// 首尾事件固定
	started, ok := events[0].(report.RetrievalStarted)
	require.True(t, ok)
	assert.Equal(t, 2, started.SourceCount)
	completed, ok := events[len(events)-1].(report.RetrievalCompleted)
	require.True(t, ok)
	assert.Equal(t, 2, completed.TotalDocs)
	assert.Equal(t, 2, reg.Len())

	// 失败查询只标记自身，任务继续
	var failed *report.QueryCompleted
	succeeded := 0
	for _, ev := range events {
		if qc, ok := ev.(report.QueryCompleted); ok {
			if qc.Success {
				succeeded++
			} else {
				failed = &qc
			}
		}
	}
	require.NotNil(t, failed)
	assert.Equal(t, "失败查询", failed.Query)
	assert.Equal(t, "upstream timeout", failed.Err)
	assert.Equal(t, 2, succeeded)
}

func TestRetrieveTaskEventOrder(t *testing.T) {
	retriever := &fakeRetriever{fn: func(kb config.KnowledgeBaseConfig, query string) ([]*report.Document, error) {
		return nil, nil
	}}
	c := NewCoordinator(map[string]KnowledgeRetriever{"zhipu": retriever}, nil, coordinatorConfig(), 5)

	items := []report.PlanItem{
		{KnowledgeBaseID: "kb-1", KnowledgeBaseName: "政策库", Queries: []string{"q1", "q2"}},
		{KnowledgeBaseID: "kb-2", KnowledgeBaseName: "行业库", Queries: []string{"q3"}},
	}

	collector := &eventCollector{}
	c.Retrieve(context.Background(), items, report.NewRegistry(), collector.emit)

	// 按任务分组后事件序列固定：开始 -> (查询开始/结束)* -> 结束
	byTask := make(map[string][]string)
	for _, ev := range collector.all() {
		switch e := ev.(type) {
		case report.SourceStarted:
			byTask[e.TaskID] = append(byTask[e.TaskID], "source_started")
		case report.QueryStarted:
			byTask[e.TaskID] = append(byTask[e.TaskID], "query_started")
		case report.QueryCompleted:
			byTask[e.TaskID] = append(byTask[e.TaskID], "query_completed")
		case report.SourceCompleted:
			byTask[e.TaskID] = append(byTask[e.TaskID], "source_completed")
		}
	}

	require.Len(t, byTask, 2)
	for taskID, seq := range byTask {
		assert.Equal(t, "source_started", seq[0], taskID)
		assert.Equal(t, "source_completed", seq[len(seq)-1], taskID)
		for i := 1; i < len(seq)-1; i += 2 {
			assert.Equal(t, "query_started", seq[i], taskID)
			assert.Equal(t, "query_completed", seq[i+1], taskID)
		}
	}
}

func TestRetrieveCapsQueriesPerItem(t *testing.T) {
	var (
		mu    sync.Mutex
		calls []string
	)
	retriever := &fakeRetriever{fn: func(kb config.KnowledgeBaseConfig, query string) ([]*report.Document, error) {
		mu.Lock()
		calls = append(calls, query)
		mu.Unlock()
		return nil, nil
	}}
	kc := coordinatorConfig()
	kc.MaxQueriesPerBase = 3
	c := NewCoordinator(map[string]KnowledgeRetriever{"zhipu": retriever}, nil, kc, 5)

	items := []report.PlanItem{{
		KnowledgeBaseID:   "kb-1",
		KnowledgeBaseName: "政策库",
		Queries:           []string{"q1", "q2", "q3", "q4", "q5", "q6", "q7", "q8"},
	}}

	collector := &eventCollector{}
	c.Retrieve(context.Background(), items, report.NewRegistry(), collector.emit)

	// 超出上限的查询被截断，只执行前 3 条
	assert.Equal(t, []string{"q1", "q2", "q3"}, calls)

	for _, ev := range collector.all() {
		if ss, ok := ev.(report.SourceStarted); ok {
			assert.Equal(t, 3, ss.QueryCount)
		}
	}
}

func TestRetrieveUnknownKnowledgeBase(t *testing.T) {
	c := NewCoordinator(map[string]KnowledgeRetriever{}, nil, coordinatorConfig(), 5)

	items := []report.PlanItem{
		{KnowledgeBaseID: "kb-missing", KnowledgeBaseName: "未知库", Queries: []string{"q"}},
	}

	reg := report.NewRegistry()
	collector := &eventCollector{}
	c.Retrieve(context.Background(), items, reg, collector.emit)

	assert.Equal(t, 0, reg.Len())
	var failed bool
	for _, ev := range collector.all() {
		if qc, ok := ev.(report.QueryCompleted); ok && !qc.Success {
			failed = true
			assert.Contains(t, qc.Err, "unknown knowledge base")
		}
	}
	assert.True(t, failed)
}

func TestWebSearchCountsOnlyNewDocuments(t *testing.T) {
	web := &fakeWebSearcher{fn: func(query string) ([]*report.Document, error) {
		return []*report.Document{
			{Content: "已有内容", Source: "新闻网"},
			{Content: "新内容 " + query, Source: "新闻网"},
		}, nil
	}}
	c := NewCoordinator(nil, web, coordinatorConfig(), 5)

	reg := report.NewRegistry()
	reg.Add(&report.Document{Content: "已有内容"})

	collector := &eventCollector{}
	c.WebSearch(context.Background(), &report.WebPlan{Queries: []string{"q1"}}, reg, collector.emit)

	events := collector.all()
	completed, ok := events[len(events)-1].(report.WebSearchCompleted)
	require.True(t, ok)
	assert.Equal(t, 1, completed.Added)
	assert.Equal(t, 2, completed.TotalDocs)

	// 搜索查询回填到文档
	docs := reg.Documents()
	assert.Equal(t, "q1", docs[1].SearchQuery)
}

func TestWebSearchFailureIsolated(t *testing.T) {
	web := &fakeWebSearcher{fn: func(query string) ([]*report.Document, error) {
		if query == "bad" {
			return nil, errors.New("api error")
		}
		return []*report.Document{{Content: "ok " + query}}, nil
	}}
	c := NewCoordinator(nil, web, coordinatorConfig(), 5)

	reg := report.NewRegistry()
	collector := &eventCollector{}
	c.WebSearch(context.Background(), &report.WebPlan{Queries: []string{"bad", "good"}}, reg, collector.emit)

	assert.Equal(t, 1, reg.Len())

	var failures, successes int
	for _, ev := range collector.all() {
		if wc, ok := ev.(report.WebQueryCompleted); ok {
			if wc.Success {
				successes++
			} else {
				failures++
				assert.Equal(t, "api error", wc.Err)
			}
		}
	}
	assert.Equal(t, 1, failures)
	assert.Equal(t, 1, successes)
}
