package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/cloudwego/eino/schema"

	"zhiku-report-api/internal/domain/report"
	apperrors "zhiku-report-api/pkg/errors"
	"zhiku-report-api/pkg/metrics"
)

const agentSummarizer = "summarizer"

const summarySystemPrompt = `你是一个专业的研报分析师。请基于提供的检索结果撰写一份带引用的总结报告。

要求：
1. 使用 [1][2] 形式的引用标注，编号对应检索结果的编号
2. 只依据检索结果作答，不要编造内容
3. 结构清晰，先给结论，再展开分析
4. 使用中文撰写`

// Summarizer 总结生成器，流式输出带引用的总结报告
type Summarizer struct {
	models ModelProvider
}

// NewSummarizer 创建总结生成器
func NewSummarizer(models ModelProvider) *Summarizer {
	return &Summarizer{models: models}
}

// Summarize 流式生成总结
// 每个增量通过 emit 下发，返回拼接后的全文。
func (s *Summarizer) Summarize(ctx context.Context, query, contextText string, docCount int, emit Emit) (string, error) {
	cm, err := s.models.GetModel(ctx, agentSummarizer)
	if err != nil {
		return "", apperrors.Wrap(err, apperrors.CodeSummaryFailed, "summarizer model unavailable")
	}

	messages := []*schema.Message{
		schema.SystemMessage(summarySystemPrompt),
		schema.UserMessage(fmt.Sprintf(
			"用户问题：%s\n\n检索结果（共 %d 条）：\n\n%s\n\n请撰写总结报告。",
			query, docCount, contextText,
		)),
	}

	start := time.Now()
	reader, err := cm.Stream(ctx, messages)
	if err != nil {
		metrics.LLMCallTotal.WithLabelValues(agentSummarizer, "", "error").Inc()
		return "", apperrors.Wrap(err, apperrors.CodeLLMCallFailed, "summary stream failed")
	}
	defer reader.Close()

	var sb strings.Builder
	for {
		msg, err := reader.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			metrics.LLMCallTotal.WithLabelValues(agentSummarizer, "", "error").Inc()
			return "", apperrors.Wrap(err, apperrors.CodeLLMCallFailed, "summary stream interrupted")
		}
		if msg.Content == "" {
			continue
		}
		sb.WriteString(msg.Content)
		emit(report.ContentChunk{Content: msg.Content})
	}

	metrics.LLMCallTotal.WithLabelValues(agentSummarizer, "", "success").Inc()
	metrics.LLMCallDuration.WithLabelValues(agentSummarizer, "").Observe(time.Since(start).Seconds())
	return sb.String(), nil
}
