package pipeline

import (
	"context"
	"sync"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"zhiku-report-api/internal/config"
	"zhiku-report-api/internal/domain/report"
)

// fakeChatModel 固定响应的对话模型
type fakeChatModel struct {
	generateResp string
	generateErr  error
	streamChunks []string
	streamErr    error
	calls        int
}

func (m *fakeChatModel) Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	m.calls++
	if m.generateErr != nil {
		return nil, m.generateErr
	}
	return schema.AssistantMessage(m.generateResp, nil), nil
}

func (m *fakeChatModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	m.calls++
	if m.streamErr != nil {
		return nil, m.streamErr
	}
	msgs := make([]*schema.Message, 0, len(m.streamChunks))
	for _, chunk := range m.streamChunks {
		msgs = append(msgs, schema.AssistantMessage(chunk, nil))
	}
	return schema.StreamReaderFromArray(msgs), nil
}

// fakeProvider 按智能体名称返回固定模型
type fakeProvider struct {
	models map[string]*fakeChatModel
	err    error
}

func (p *fakeProvider) GetModel(ctx context.Context, agent string) (ChatModel, error) {
	if p.err != nil {
		return nil, p.err
	}
	return p.models[agent], nil
}

// fakeRetriever 以函数驱动的知识库检索器
type fakeRetriever struct {
	fn func(kb config.KnowledgeBaseConfig, query string) ([]*report.Document, error)
}

func (r *fakeRetriever) Retrieve(ctx context.Context, kb config.KnowledgeBaseConfig, query string, topK int) ([]*report.Document, error) {
	return r.fn(kb, query)
}

// fakeWebSearcher 以函数驱动的网页搜索器
type fakeWebSearcher struct {
	fn func(query string) ([]*report.Document, error)
}

func (w *fakeWebSearcher) Search(ctx context.Context, query string, count int) ([]*report.Document, error) {
	return w.fn(query)
}

// fakeStore 记录持久化调用
type fakeStore struct {
	mu    sync.Mutex
	saved []string
	err   error
}

func (s *fakeStore) SaveReport(ctx context.Context, sessionID, query, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.saved = append(s.saved, sessionID)
	return nil
}

// eventCollector 并发安全的事件收集器
type eventCollector struct {
	mu     sync.Mutex
	events []report.Event
}

func (c *eventCollector) emit(ev report.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
}

func (c *eventCollector) all() []report.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]report.Event, len(c.events))
	copy(out, c.events)
	return out
}
