package report

// Event 管线内部事件
// 密封联合类型：管线各阶段产出的全部事件形态都在本文件枚举，
// 协议翻译层据此做穷尽分派。
type Event interface {
	isEvent()
}

// PlanningStarted 规划阶段开始
type PlanningStarted struct{}

// PlanningCompleted 规划完成，携带最终计划
type PlanningCompleted struct {
	Plan *Plan
}

// RetrievalStarted 知识库检索阶段开始
type RetrievalStarted struct {
	SourceCount int
}

// SourceStarted 某个知识库的检索任务开始
type SourceStarted struct {
	TaskID            string
	KnowledgeBaseID   string
	KnowledgeBaseName string
	QueryCount        int
}

// QueryStarted 单条查询开始
type QueryStarted struct {
	TaskID            string
	KnowledgeBaseName string
	Query             string
}

// QueryCompleted 单条查询结束
// 查询失败时 Success=false，Docs 为空，Err 携带原因；任务不中断。
type QueryCompleted struct {
	TaskID            string
	KnowledgeBaseName string
	Query             string
	Success           bool
	Docs              []*Document
	Err               string
}

// SourceCompleted 某个知识库的检索任务结束
type SourceCompleted struct {
	TaskID            string
	KnowledgeBaseName string
	TotalDocs         int
}

// RetrievalCompleted 知识库检索阶段结束
type RetrievalCompleted struct {
	TotalDocs int
}

// WebSearchStarted 网页搜索阶段开始
type WebSearchStarted struct {
	QueryCount int
}

// WebQueryStarted 单条网页查询开始
type WebQueryStarted struct {
	Query string
}

// WebQueryCompleted 单条网页查询结束
type WebQueryCompleted struct {
	Query   string
	Success bool
	Docs    []*Document
	Err     string
}

// WebSearchCompleted 网页搜索阶段结束
type WebSearchCompleted struct {
	Added     int
	TotalDocs int
}

// ReferencesPublished 参考文献发布
type ReferencesPublished struct {
	References []*Reference
}

// ContentChunk 总结内容增量
type ContentChunk struct {
	Content string
}

// SummaryCompleted 总结完成，携带全文
type SummaryCompleted struct {
	Content string
}

// NoDocumentsFound 全部检索为空，管线短路
type NoDocumentsFound struct {
	Notice string
}

// PipelineFailed 管线顶层失败
type PipelineFailed struct {
	Err error
}

func (PlanningStarted) isEvent()     {}
func (PlanningCompleted) isEvent()   {}
func (RetrievalStarted) isEvent()    {}
func (SourceStarted) isEvent()       {}
func (QueryStarted) isEvent()        {}
func (QueryCompleted) isEvent()      {}
func (SourceCompleted) isEvent()     {}
func (RetrievalCompleted) isEvent()  {}
func (WebSearchStarted) isEvent()    {}
func (WebQueryStarted) isEvent()     {}
func (WebQueryCompleted) isEvent()   {}
func (WebSearchCompleted) isEvent()  {}
func (ReferencesPublished) isEvent() {}
func (ContentChunk) isEvent()        {}
func (SummaryCompleted) isEvent()    {}
func (NoDocumentsFound) isEvent()    {}
func (PipelineFailed) isEvent()      {}
