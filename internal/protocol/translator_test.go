package protocol

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zhiku-report-api/internal/domain/report"
)

func TestNewInvocationID(t *testing.T) {
	id1 := NewInvocationID("行业研究库", "新能源政策", "task-1")
	id2 := NewInvocationID("行业研究库", "新能源政策", "task-1")
	assert.Equal(t, id1, id2)

	// 任务不同则 ID 不同，同一查询在不同任务中可区分
	id3 := NewInvocationID("行业研究库", "新能源政策", "task-2")
	assert.NotEqual(t, id1, id3)

	// 空格替换为连字符
	id4 := NewInvocationID("kb alpha", "q", "t")
	assert.Contains(t, id4, "inv-kb-alpha-")
}

// roundTrip 序列化一条协议消息并还原为通用结构，用于校验线上形态
func roundTrip(t *testing.T, msg Message) map[string]any {
	t.Helper()
	data, err := json.Marshal(msg)
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	return decoded
}

func TestStreamMessagesCarryPayloadInMessages(t *testing.T) {
	decoded := roundTrip(t, NewStreamThink(StagePlanning, "分析"))

	// 载荷只在 messages 数组内，顶层无 content
	_, hasTopContent := decoded["content"]
	assert.False(t, hasTopContent)

	msgs := decoded["messages"].([]any)
	require.Len(t, msgs, 1)
	assert.Equal(t, "分析", msgs[0].(map[string]any)["content"])

	decoded = roundTrip(t, NewStreamContent(StageSummary, "正文"))
	msgs = decoded["messages"].([]any)
	require.Len(t, msgs, 1)
	assert.Equal(t, "正文", msgs[0].(map[string]any)["content"])
}

func TestPlanChangeCarriesStageIDInMessage(t *testing.T) {
	decoded := roundTrip(t, NewPlanChange(StageRetrieval, StatusRunning))

	ctx := decoded["context"].(map[string]any)
	assert.Equal(t, "plan-executor", ctx["mode"])
	_, hasStage := ctx["stage_id"]
	assert.False(t, hasStage)

	msgs := decoded["messages"].([]any)
	require.Len(t, msgs, 1)
	body := msgs[0].(map[string]any)
	assert.Equal(t, "STATUS_CHANGE", body["change_type"])
	assert.Equal(t, StageRetrieval, body["stage_id"])
	assert.Equal(t, "RUNNING", body["status"])
}

func TestTranslatePlanningSequence(t *testing.T) {
	tr := NewTranslator()

	msgs := tr.Translate(report.PlanningStarted{})
	require.Len(t, msgs, 1)
	assert.Equal(t, EventPlanChange, msgs[0].EventType)
	assert.Equal(t, StagePlanning, msgs[0].Messages[0].(ChangeMessage).StageID)

	plan := &report.Plan{
		Analysis: "需要检索政策与行业信息",
		RetrievalPlan: []report.PlanItem{
			{KnowledgeBaseID: "kb-1", KnowledgeBaseName: "政策库", Queries: []string{"q"}},
		},
		WebSearchPlan: &report.WebPlan{Queries: []string{"q 最新"}},
	}

	msgs = tr.Translate(report.PlanningCompleted{Plan: plan})
	require.Len(t, msgs, 3)

	// 计划声明含网页搜索阶段，全部 PENDING
	decl := msgs[0]
	assert.Equal(t, EventPlanDeclared, decl.EventType)
	require.Len(t, decl.Messages, 4)
	ids := make([]string, 0, 4)
	for _, m := range decl.Messages {
		stage, ok := m.(StageDecl)
		require.True(t, ok)
		assert.Equal(t, StatusPending, stage.Status)
		assert.NotEmpty(t, stage.StageName)
		ids = append(ids, stage.StageID)
	}
	assert.Equal(t, []string{StagePlanning, StageRetrieval, StageWebSearch, StageSummary}, ids)

	assert.Equal(t, EventStreamThink, msgs[1].EventType)
	assert.Equal(t, "分析完成: 需要检索政策与行业信息", msgs[1].Messages[0].(StreamPayload).Content)

	assert.Equal(t, EventPlanChange, msgs[2].EventType)
	change := msgs[2].Messages[0].(ChangeMessage)
	assert.Equal(t, StagePlanning, change.StageID)
	assert.Equal(t, StatusCompleted, change.Status)
}

func TestTranslatePlanDeclaredWithoutWebSearch(t *testing.T) {
	tr := NewTranslator()
	plan := &report.Plan{
		Analysis:      "分析",
		RetrievalPlan: []report.PlanItem{{KnowledgeBaseID: "kb-1"}},
	}

	msgs := tr.Translate(report.PlanningCompleted{Plan: plan})
	require.Len(t, msgs, 3)
	require.Len(t, msgs[0].Messages, 3)
	for _, m := range msgs[0].Messages {
		assert.NotEqual(t, StageWebSearch, m.(StageDecl).StageID)
	}
}

func TestTranslateQueryLifecycle(t *testing.T) {
	tr := NewTranslator()

	started := tr.Translate(report.QueryStarted{
		TaskID:            "t1",
		KnowledgeBaseName: "政策库",
		Query:             "新能源补贴",
	})
	require.Len(t, started, 1)
	assert.Equal(t, EventInvocationDeclared, started[0].EventType)
	assert.Equal(t, StageRetrieval, started[0].Context.StageID)
	assert.Equal(t, ExecutorRetrieval, started[0].Context.Executor)

	decl := started[0].Messages[0].(InvocationDecl)
	assert.Equal(t, "正在查询政策库: 新能源补贴...", decl.Name)
	assert.Equal(t, "新能源补贴", decl.Content)

	completed := tr.Translate(report.QueryCompleted{
		TaskID:            "t1",
		KnowledgeBaseName: "政策库",
		Query:             "新能源补贴",
		Success:           true,
		Docs: []*report.Document{
			{Source: "补贴政策", Score: 0.9, ChunkID: "c1", DocID: "d1"},
		},
	})
	require.Len(t, completed, 1)
	assert.Equal(t, EventInvocationChange, completed[0].EventType)

	// 声明与变更使用同一调用 ID
	assert.Equal(t, started[0].Context.InvocationID, completed[0].Context.InvocationID)

	require.Len(t, completed[0].Messages, 2)
	status := completed[0].Messages[0].(ChangeMessage)
	assert.Equal(t, StatusCompleted, status.Status)
	assert.Empty(t, status.StageID)

	var result map[string]any
	require.NoError(t, json.Unmarshal([]byte(completed[0].Messages[1].(ChangeMessage).Content), &result))
	assert.Equal(t, true, result["success"])
	assert.Equal(t, float64(1), result["doc_count"])
	docs := result["documents"].([]any)
	assert.Equal(t, "补贴政策", docs[0].(map[string]any)["title"])
}

func TestTranslateQueryCompletedFailure(t *testing.T) {
	tr := NewTranslator()

	msgs := tr.Translate(report.QueryCompleted{
		TaskID:            "t1",
		KnowledgeBaseName: "政策库",
		Query:             "q",
		Success:           false,
		Err:               "connection refused",
	})
	require.Len(t, msgs, 1)

	var result map[string]any
	require.NoError(t, json.Unmarshal([]byte(msgs[0].Messages[1].(ChangeMessage).Content), &result))
	assert.Equal(t, false, result["success"])
	assert.Equal(t, "connection refused", result["error"])
}

func TestTranslateQueryCompletedEmpty(t *testing.T) {
	tr := NewTranslator()

	msgs := tr.Translate(report.QueryCompleted{
		TaskID:            "t1",
		KnowledgeBaseName: "政策库",
		Query:             "q",
		Success:           true,
	})
	require.Len(t, msgs, 1)

	var result map[string]any
	require.NoError(t, json.Unmarshal([]byte(msgs[0].Messages[1].(ChangeMessage).Content), &result))
	assert.Equal(t, true, result["success"])
	assert.Equal(t, "未检索到相关文档", result["message"])
}

func TestTranslateSourceEventsProduceNothing(t *testing.T) {
	tr := NewTranslator()
	assert.Nil(t, tr.Translate(report.SourceStarted{TaskID: "t1"}))
	assert.Nil(t, tr.Translate(report.SourceCompleted{TaskID: "t1"}))
}

func TestTranslateWebSearchCompleted(t *testing.T) {
	tr := NewTranslator()

	msgs := tr.Translate(report.WebSearchCompleted{Added: 3, TotalDocs: 12})
	require.Len(t, msgs, 2)

	assert.Equal(t, EventStreamThink, msgs[0].EventType)
	assert.Equal(t, "网页搜索完成，新增 3 个结果，总计 12 个文档", msgs[0].Messages[0].(StreamPayload).Content)

	change := msgs[1].Messages[0].(ChangeMessage)
	assert.Equal(t, StageWebSearch, change.StageID)
	assert.Equal(t, StatusCompleted, change.Status)
}

func TestTranslateReferencesPublished(t *testing.T) {
	tr := NewTranslator()

	refs := []*report.Reference{{ID: 1, Title: "产业报告", Score: 0.9}}
	msgs := tr.Translate(report.ReferencesPublished{References: refs})
	require.Len(t, msgs, 3)

	// 声明：产物字段在消息体内，内容为空
	assert.Equal(t, EventArtifact, msgs[0].EventType)
	assert.Equal(t, StageSummary, msgs[0].Context.StageID)
	artifact := msgs[0].Messages[0].(ArtifactDecl)
	assert.Equal(t, referencesArtifactID, artifact.ArtifactID)
	assert.Equal(t, "参考文献", artifact.ArtifactName)
	assert.Equal(t, "reference_list", artifact.ArtifactType)
	assert.Equal(t, ScopeStage, artifact.Scope)
	assert.Empty(t, artifact.Content)

	// 变更：带 scope/data_type，内容为序列化的参考文献
	assert.Equal(t, EventArtifactChange, msgs[1].EventType)
	assert.Equal(t, referencesArtifactID, msgs[1].Context.ArtifactID)
	change := msgs[1].Messages[0].(ArtifactChange)
	assert.Equal(t, ScopeStage, change.Scope)
	assert.Equal(t, ChangeContentAppend, change.ChangeType)
	assert.Equal(t, DataStructured, change.DataType)
	var decoded []*report.Reference
	require.NoError(t, json.Unmarshal([]byte(change.Content), &decoded))
	require.Len(t, decoded, 1)
	assert.Equal(t, "产业报告", decoded[0].Title)

	// 参考文献发布即进入总结阶段
	assert.Equal(t, EventPlanChange, msgs[2].EventType)
	planChange := msgs[2].Messages[0].(ChangeMessage)
	assert.Equal(t, StageSummary, planChange.StageID)
	assert.Equal(t, StatusRunning, planChange.Status)
}

func TestTranslateSummaryDeclaredOnce(t *testing.T) {
	tr := NewTranslator()

	first := tr.Translate(report.ContentChunk{Content: "报告"})
	require.Len(t, first, 2)
	assert.Equal(t, EventArtifact, first[0].EventType)
	artifact := first[0].Messages[0].(ArtifactDecl)
	assert.Equal(t, summaryArtifactID, artifact.ArtifactID)
	assert.Equal(t, "summary_report", artifact.ArtifactType)
	assert.Empty(t, artifact.Content)

	assert.Equal(t, EventArtifactChange, first[1].EventType)
	change := first[1].Messages[0].(ArtifactChange)
	assert.Equal(t, DataFile, change.DataType)
	assert.Equal(t, ScopeStage, change.Scope)
	assert.Equal(t, "报告", change.Content)

	second := tr.Translate(report.ContentChunk{Content: "内容"})
	require.Len(t, second, 1)
	assert.Equal(t, EventArtifactChange, second[0].EventType)
	assert.Equal(t, "内容", second[0].Messages[0].(ArtifactChange).Content)
}

func TestArtifactSerializedShape(t *testing.T) {
	tr := NewTranslator()
	msgs := tr.Translate(report.ContentChunk{Content: "x"})
	require.Len(t, msgs, 2)

	// 声明帧：顶层只有 event_type/context/messages，产物字段全部在消息体内
	decoded := roundTrip(t, msgs[0])
	assert.Len(t, decoded, 3)
	_, hasAttrs := decoded["attrs"]
	assert.False(t, hasAttrs)
	body := decoded["messages"].([]any)[0].(map[string]any)
	for _, key := range []string{"scope", "source", "artifact_id", "artifact_name", "artifact_type", "content"} {
		assert.Contains(t, body, key)
	}

	// 变更帧消息体携带 scope 与 data_type
	decoded = roundTrip(t, msgs[1])
	body = decoded["messages"].([]any)[0].(map[string]any)
	assert.Equal(t, "STAGE", body["scope"])
	assert.Equal(t, "CONTENT_APPEND", body["change_type"])
	assert.Equal(t, "FILE", body["data_type"])
	assert.Equal(t, "x", body["content"])
}

func TestTranslateNoDocumentsFound(t *testing.T) {
	tr := NewTranslator()

	msgs := tr.Translate(report.NoDocumentsFound{Notice: "抱歉,没有找到相关文档。"})
	require.Len(t, msgs, 1)
	assert.Equal(t, EventStreamContent, msgs[0].EventType)
	assert.Equal(t, StageSummary, msgs[0].Context.StageID)
	assert.Equal(t, "抱歉,没有找到相关文档。", msgs[0].Messages[0].(StreamPayload).Content)
}

func TestTranslatePipelineFailed(t *testing.T) {
	tr := NewTranslator()

	msgs := tr.Translate(report.PipelineFailed{Err: errors.New("boom")})
	require.Len(t, msgs, 1)
	assert.Equal(t, EventStreamThink, msgs[0].EventType)
	assert.Contains(t, msgs[0].Messages[0].(StreamPayload).Content, "boom")
}

func TestEndExactlyOnce(t *testing.T) {
	tr := NewTranslator()

	msgs := tr.End()
	require.Len(t, msgs, 1)
	assert.Equal(t, EventEnd, msgs[0].EventType)
	assert.NotNil(t, msgs[0].Messages)
	assert.Empty(t, msgs[0].Messages)

	assert.Nil(t, tr.End())
}
