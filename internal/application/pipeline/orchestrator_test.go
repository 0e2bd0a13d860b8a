package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zhiku-report-api/internal/config"
	"zhiku-report-api/internal/domain/report"
)

func singleBaseConfig() config.KnowledgeConfig {
	return config.KnowledgeConfig{
		Bases: []config.KnowledgeBaseConfig{
			{ID: "kb-1", Name: "政策库", Provider: "zhipu"},
		},
		TopK:              5,
		MaxDocsForSummary: 5,
	}
}

func newTestOrchestrator(retriever KnowledgeRetriever, summarizerModel *fakeChatModel, store ReportStore) *Orchestrator {
	kc := singleBaseConfig()
	provider := &fakeProvider{models: map[string]*fakeChatModel{"summarizer": summarizerModel}}
	planner := NewPlanner(provider, kc)
	coordinator := NewCoordinator(map[string]KnowledgeRetriever{"zhipu": retriever}, nil, kc, 5)
	summarizer := NewSummarizer(provider)
	return NewOrchestrator(planner, coordinator, summarizer, store, kc.MaxDocsForSummary)
}

func collectEvents(t *testing.T, events <-chan report.Event) []report.Event {
	t.Helper()
	var got []report.Event
	for ev := range events {
		got = append(got, ev)
	}
	return got
}

func TestRunHappyPath(t *testing.T) {
	retriever := &fakeRetriever{fn: func(kb config.KnowledgeBaseConfig, query string) ([]*report.Document, error) {
		return []*report.Document{
			{Content: "检索内容", Source: "政策文件", ChunkID: "c1", DocID: "d1", Score: 0.9},
		}, nil
	}}
	cm := &fakeChatModel{streamChunks: []string{"结论：", "政策利好 [1]"}}
	store := &fakeStore{}
	o := newTestOrchestrator(retriever, cm, store)

	events := collectEvents(t, o.Run(context.Background(), "session-1", "碳排放权交易制度"))

	require.NotEmpty(t, events)
	_, ok := events[0].(report.PlanningStarted)
	assert.True(t, ok)

	var (
		refs     *report.ReferencesPublished
		chunks   []string
		finished *report.SummaryCompleted
	)
	for _, ev := range events {
		switch e := ev.(type) {
		case report.ReferencesPublished:
			refs = &e
		case report.ContentChunk:
			chunks = append(chunks, e.Content)
		case report.SummaryCompleted:
			finished = &e
		case report.NoDocumentsFound, report.PipelineFailed:
			t.Fatalf("unexpected event: %T", ev)
		}
	}

	require.NotNil(t, refs)
	require.Len(t, refs.References, 1)
	assert.Equal(t, 1, refs.References[0].ID)

	assert.Equal(t, []string{"结论：", "政策利好 [1]"}, chunks)
	require.NotNil(t, finished)
	assert.Equal(t, "结论：政策利好 [1]", finished.Content)

	assert.Equal(t, []string{"session-1"}, store.saved)
}

func TestRunNoDocumentsShortCircuit(t *testing.T) {
	retriever := &fakeRetriever{fn: func(kb config.KnowledgeBaseConfig, query string) ([]*report.Document, error) {
		return nil, nil
	}}
	cm := &fakeChatModel{streamChunks: []string{"不应被调用"}}
	o := newTestOrchestrator(retriever, cm, nil)

	events := collectEvents(t, o.Run(context.Background(), "session-1", "冷门问题"))

	var notice *report.NoDocumentsFound
	for _, ev := range events {
		switch e := ev.(type) {
		case report.NoDocumentsFound:
			notice = &e
		case report.ContentChunk, report.SummaryCompleted, report.ReferencesPublished:
			t.Fatalf("unexpected event after empty retrieval: %T", ev)
		}
	}
	require.NotNil(t, notice)
	assert.Equal(t, noDocumentsNotice, notice.Notice)

	// 总结模型未被触发
	assert.Equal(t, 0, cm.calls)
}

func TestRunSummaryFailure(t *testing.T) {
	retriever := &fakeRetriever{fn: func(kb config.KnowledgeBaseConfig, query string) ([]*report.Document, error) {
		return []*report.Document{{Content: "内容", ChunkID: "c1", Score: 0.5}}, nil
	}}
	cm := &fakeChatModel{streamErr: errors.New("model overloaded")}
	o := newTestOrchestrator(retriever, cm, nil)

	events := collectEvents(t, o.Run(context.Background(), "session-1", "问题"))

	var failed *report.PipelineFailed
	for _, ev := range events {
		if e, ok := ev.(report.PipelineFailed); ok {
			failed = &e
		}
		if _, ok := ev.(report.SummaryCompleted); ok {
			t.Fatal("summary should not complete after stream failure")
		}
	}
	require.NotNil(t, failed)
	assert.Contains(t, failed.Err.Error(), "summary stream failed")
}

func TestRunStoreFailureTolerated(t *testing.T) {
	retriever := &fakeRetriever{fn: func(kb config.KnowledgeBaseConfig, query string) ([]*report.Document, error) {
		return []*report.Document{{Content: "内容", ChunkID: "c1", Score: 0.5}}, nil
	}}
	cm := &fakeChatModel{streamChunks: []string{"总结"}}
	store := &fakeStore{err: errors.New("db down")}
	o := newTestOrchestrator(retriever, cm, store)

	events := collectEvents(t, o.Run(context.Background(), "session-1", "问题"))

	// 持久化失败不影响管线结果
	var finished bool
	for _, ev := range events {
		if _, ok := ev.(report.SummaryCompleted); ok {
			finished = true
		}
		if _, ok := ev.(report.PipelineFailed); ok {
			t.Fatal("store failure must not fail the pipeline")
		}
	}
	assert.True(t, finished)
}
