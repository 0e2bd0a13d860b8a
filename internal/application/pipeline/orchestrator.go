package pipeline

import (
	"context"
	"fmt"
	"time"

	"zhiku-report-api/internal/domain/report"
	"zhiku-report-api/pkg/logger"
	"zhiku-report-api/pkg/metrics"
	"zhiku-report-api/pkg/tracer"
)

const noDocumentsNotice = "抱歉,没有找到相关文档。请尝试使用不同的关键词重新提问。"

// Orchestrator 研报管线编排器
// 阶段顺序固定：规划 -> 知识库检索 -> [网页搜索] -> 参考文献 -> 总结 -> 持久化。
// 全部检索为空时短路到提示语；顶层 panic 收敛为单个失败事件。
type Orchestrator struct {
	planner     *Planner
	coordinator *Coordinator
	summarizer  *Summarizer
	store       ReportStore // 可为 nil，持久化关闭
	maxDocs     int
}

// NewOrchestrator 创建编排器
func NewOrchestrator(planner *Planner, coordinator *Coordinator, summarizer *Summarizer, store ReportStore, maxDocs int) *Orchestrator {
	return &Orchestrator{
		planner:     planner,
		coordinator: coordinator,
		summarizer:  summarizer,
		store:       store,
		maxDocs:     maxDocs,
	}
}

// Run 启动一次管线，返回事件通道
// 通道在管线结束后关闭，调用方负责消费至关闭。
func (o *Orchestrator) Run(ctx context.Context, sessionID, query string) <-chan report.Event {
	events := make(chan report.Event, 64)
	emit := func(ev report.Event) {
		select {
		case events <- ev:
		case <-ctx.Done():
		}
	}

	go func() {
		defer close(events)
		defer func() {
			if r := recover(); r != nil {
				logger.Error(ctx, "pipeline panicked", fmt.Errorf("%v", r), "session_id", sessionID)
				metrics.PipelineRunsTotal.WithLabelValues("error").Inc()
				emit(report.PipelineFailed{Err: fmt.Errorf("pipeline panic: %v", r)})
			}
		}()
		o.run(ctx, sessionID, query, emit)
	}()

	return events
}

func (o *Orchestrator) run(ctx context.Context, sessionID, query string, emit Emit) {
	ctx, span := tracer.Start(ctx, "pipeline.Run")
	defer span.End()
	ctx = logger.WithContext(ctx, logger.SessionIDKey, sessionID)

	// 规划
	stageStart := time.Now()
	emit(report.PlanningStarted{})
	plan := o.planner.Plan(ctx, query)
	emit(report.PlanningCompleted{Plan: plan})
	metrics.PipelineStageDuration.WithLabelValues("planning").Observe(time.Since(stageStart).Seconds())

	// 知识库检索
	stageStart = time.Now()
	reg := report.NewRegistry()
	o.coordinator.Retrieve(ctx, plan.RetrievalPlan, reg, emit)
	metrics.PipelineStageDuration.WithLabelValues("retrieval").Observe(time.Since(stageStart).Seconds())

	// 网页增强，仅当计划包含网页搜索
	if plan.HasWebSearch() {
		stageStart = time.Now()
		o.coordinator.WebSearch(ctx, plan.WebSearchPlan, reg, emit)
		metrics.PipelineStageDuration.WithLabelValues("web_search").Observe(time.Since(stageStart).Seconds())
	}

	// 零结果短路
	if reg.Len() == 0 {
		logger.Info(ctx, "pipeline finished without documents", "query", query)
		metrics.PipelineRunsTotal.WithLabelValues("no_documents").Inc()
		emit(report.NoDocumentsFound{Notice: noDocumentsNotice})
		return
	}

	// 排序并发布参考文献
	reg.Sort()
	refs := reg.BuildReferences(o.maxDocs)
	emit(report.ReferencesPublished{References: refs})

	// 总结
	stageStart = time.Now()
	docCount := reg.Len()
	if o.maxDocs > 0 && o.maxDocs < docCount {
		docCount = o.maxDocs
	}
	contextText := reg.BuildContext(o.maxDocs)

	content, err := o.summarizer.Summarize(ctx, query, contextText, docCount, emit)
	if err != nil {
		logger.Error(ctx, "summary generation failed", err, "query", query)
		metrics.PipelineRunsTotal.WithLabelValues("error").Inc()
		emit(report.PipelineFailed{Err: err})
		return
	}
	emit(report.SummaryCompleted{Content: content})
	metrics.PipelineStageDuration.WithLabelValues("summary").Observe(time.Since(stageStart).Seconds())
	metrics.PipelineRunsTotal.WithLabelValues("completed").Inc()

	// 尽力持久化，失败只记日志
	if o.store != nil {
		if err := o.store.SaveReport(ctx, sessionID, query, content); err != nil {
			logger.Warn(ctx, "failed to persist report", "session_id", sessionID, "error", err.Error())
		}
	}
}
