package protocol

import (
	"encoding/json"
	"fmt"

	"zhiku-report-api/internal/domain/report"
)

const (
	webTaskID = "web"
	webKBName = "web_search"

	referencesArtifactID = "references-001"
	summaryArtifactID    = "summary-content-001"

	artifactSource = "知识库检索"
)

// Translator 管线事件到协议消息的有状态翻译器
// 单个请求内串行使用：保序、1:N 展开，保证恰好一条 END。
type Translator struct {
	summaryDeclared bool
	ended           bool
}

// NewTranslator 创建翻译器，每个请求一个实例
func NewTranslator() *Translator {
	return &Translator{}
}

// Translate 将一条管线事件展开为零或多条协议消息
func (t *Translator) Translate(ev report.Event) []Message {
	switch e := ev.(type) {
	case report.PlanningStarted:
		return []Message{NewPlanChange(StagePlanning, StatusRunning)}

	case report.PlanningCompleted:
		// 计划声明推迟到规划完成：此前无法确定是否包含网页搜索阶段
		return []Message{
			NewPlanDeclared(e.Plan.HasWebSearch()),
			NewStreamThink(StagePlanning, "分析完成: "+e.Plan.Analysis),
			NewPlanChange(StagePlanning, StatusCompleted),
		}

	case report.RetrievalStarted:
		return []Message{NewPlanChange(StageRetrieval, StatusRunning)}

	case report.SourceStarted, report.SourceCompleted:
		return nil

	case report.QueryStarted:
		return []Message{t.invocationDeclared(
			StageRetrieval, ExecutorRetrieval,
			e.KnowledgeBaseName, e.Query, e.TaskID,
			fmt.Sprintf("正在查询%s: %s...", e.KnowledgeBaseName, truncateQuery(e.Query)),
		)}

	case report.QueryCompleted:
		return []Message{t.invocationCompleted(
			StageRetrieval, ExecutorRetrieval,
			e.KnowledgeBaseName, e.Query, e.TaskID,
			e.Success, e.Docs, e.Err,
		)}

	case report.RetrievalCompleted:
		return []Message{
			NewStreamThink(StageRetrieval, fmt.Sprintf("知识库检索完成，共找到 %d 个文档", e.TotalDocs)),
			NewPlanChange(StageRetrieval, StatusCompleted),
		}

	case report.WebSearchStarted:
		return []Message{NewPlanChange(StageWebSearch, StatusRunning)}

	case report.WebQueryStarted:
		return []Message{t.invocationDeclared(
			StageWebSearch, ExecutorWebSearch,
			webKBName, e.Query, webTaskID,
			fmt.Sprintf("正在搜索网页: %s...", truncateQuery(e.Query)),
		)}

	case report.WebQueryCompleted:
		return []Message{t.invocationCompleted(
			StageWebSearch, ExecutorWebSearch,
			webKBName, e.Query, webTaskID,
			e.Success, e.Docs, e.Err,
		)}

	case report.WebSearchCompleted:
		return []Message{
			NewStreamThink(StageWebSearch, fmt.Sprintf("网页搜索完成，新增 %d 个结果，总计 %d 个文档", e.Added, e.TotalDocs)),
			NewPlanChange(StageWebSearch, StatusCompleted),
		}

	case report.ReferencesPublished:
		return []Message{
			{
				EventType: EventArtifact,
				Context:   newStageContext(StageSummary),
				Messages: []any{ArtifactDecl{
					Scope:        ScopeStage,
					Source:       artifactSource,
					ArtifactID:   referencesArtifactID,
					ArtifactName: "参考文献",
					ArtifactType: "reference_list",
					Content:      "",
				}},
			},
			{
				EventType: EventArtifactChange,
				Context:   Context{Mode: protocolMode, StageID: StageSummary, ArtifactID: referencesArtifactID},
				Messages: []any{ArtifactChange{
					Scope:        ScopeStage,
					ChangeType:   ChangeContentAppend,
					DataType:     DataStructured,
					Content:      mustMarshal(e.References),
					Source:       artifactSource,
					ArtifactName: "参考文献",
					ArtifactType: "reference_list",
				}},
			},
			NewPlanChange(StageSummary, StatusRunning),
		}

	case report.ContentChunk:
		appendMsg := Message{
			EventType: EventArtifactChange,
			Context:   Context{Mode: protocolMode, StageID: StageSummary, ArtifactID: summaryArtifactID},
			Messages: []any{ArtifactChange{
				Scope:      ScopeStage,
				ChangeType: ChangeContentAppend,
				DataType:   DataFile,
				Content:    e.Content,
			}},
		}
		if t.summaryDeclared {
			return []Message{appendMsg}
		}
		// 首个内容增量先声明总结产物
		t.summaryDeclared = true
		return []Message{
			{
				EventType: EventArtifact,
				Context:   newStageContext(StageSummary),
				Messages: []any{ArtifactDecl{
					Scope:        ScopeStage,
					Source:       artifactSource,
					ArtifactID:   summaryArtifactID,
					ArtifactName: "总结报告",
					ArtifactType: "summary_report",
					Content:      "",
				}},
			},
			appendMsg,
		}

	case report.SummaryCompleted:
		return []Message{NewPlanChange(StageSummary, StatusCompleted)}

	case report.NoDocumentsFound:
		return []Message{NewStreamContent(StageSummary, e.Notice)}

	case report.PipelineFailed:
		return []Message{NewStreamThink("", fmt.Sprintf("❌ 错误: %v", e.Err))}

	default:
		return nil
	}
}

// End 产出终止消息，重复调用只生效一次
func (t *Translator) End() []Message {
	if t.ended {
		return nil
	}
	t.ended = true
	return []Message{NewEnd()}
}

// invocationDeclared 构造调用声明消息
func (t *Translator) invocationDeclared(stageID, executor, kbName, query, taskID, name string) Message {
	return Message{
		EventType: EventInvocationDeclared,
		Context: Context{
			Mode:         protocolMode,
			StageID:      stageID,
			InvocationID: NewInvocationID(kbName, query, taskID),
			Executor:     executor,
		},
		Messages: []any{InvocationDecl{
			Name:           name,
			InvocationType: "search",
			ClickEffect:    "",
			Content:        query,
		}},
	}
}

// invocationCompleted 构造调用完成消息：状态变更 + 结果内容
func (t *Translator) invocationCompleted(stageID, executor, kbName, query, taskID string, success bool, docs []*report.Document, errMsg string) Message {
	var result invocationResult
	switch {
	case !success:
		result = invocationResult{Success: false, Error: errMsg}
	case len(docs) == 0:
		result = invocationResult{Success: true, DocCount: 0, Message: "未检索到相关文档"}
	default:
		result = invocationResult{Success: true, DocCount: len(docs)}
		for _, doc := range docs {
			result.Documents = append(result.Documents, invocationDoc{
				Title:    doc.Source,
				Score:    doc.Score,
				ChunkID:  doc.ChunkID,
				DocID:    doc.DocID,
				FileID:   doc.FileID,
				FileName: doc.FileName,
				URL:      doc.URL,
			})
		}
	}

	return Message{
		EventType: EventInvocationChange,
		Context: Context{
			Mode:         protocolMode,
			StageID:      stageID,
			InvocationID: NewInvocationID(kbName, query, taskID),
			Executor:     executor,
		},
		Messages: []any{
			ChangeMessage{ChangeType: ChangeStatus, Status: StatusCompleted},
			ChangeMessage{ChangeType: ChangeContentAppend, Content: mustMarshal(result)},
		},
	}
}

// invocationResult 调用结果内容体
type invocationResult struct {
	Success   bool            `json:"success"`
	DocCount  int             `json:"doc_count"`
	Documents []invocationDoc `json:"documents,omitempty"`
	Message   string          `json:"message,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// invocationDoc 调用结果中的文档摘要
type invocationDoc struct {
	Title    string  `json:"title"`
	Score    float64 `json:"score"`
	ChunkID  string  `json:"chunk_id,omitempty"`
	DocID    string  `json:"doc_id,omitempty"`
	FileID   string  `json:"file_id,omitempty"`
	FileName string  `json:"file_name,omitempty"`
	URL      string  `json:"url,omitempty"`
}

// truncateQuery 查询展示截断到 30 字符
func truncateQuery(query string) string {
	runes := []rune(query)
	if len(runes) > 30 {
		return string(runes[:30])
	}
	return query
}

// mustMarshal 序列化结构化内容体，失败时退化为空对象
func mustMarshal(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(data)
}
