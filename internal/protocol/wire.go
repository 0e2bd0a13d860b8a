// Package protocol 实现对外流式协议：PLAN / INVOCATION / ARTIFACT / END
// 消息模型与管线内部事件到协议消息的翻译器。
package protocol

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"strings"
)

// EventType 协议事件类型
type EventType string

const (
	EventStreamThink        EventType = "STREAM_THINK"
	EventStreamContent      EventType = "STREAM_CONTENT"
	EventPlanDeclared       EventType = "PLAN_DECLARED"
	EventPlanChange         EventType = "PLAN_CHANGE"
	EventInvocationDeclared EventType = "INVOCATION_DECLARED"
	EventInvocationChange   EventType = "INVOCATION_CHANGE"
	EventArtifact           EventType = "ARTIFACT"
	EventArtifactChange     EventType = "ARTIFACT_CHANGE"
	EventEnd                EventType = "END"
)

// StageStatus 阶段状态
type StageStatus string

const (
	StatusPending   StageStatus = "PENDING"
	StatusRunning   StageStatus = "RUNNING"
	StatusCompleted StageStatus = "COMPLETED"
	StatusFailed    StageStatus = "FAILED"
)

// ChangeType 变更类型
type ChangeType string

const (
	ChangeStatus        ChangeType = "STATUS_CHANGE"
	ChangeContentAppend ChangeType = "CONTENT_APPEND"
)

// 产物属性取值
const (
	ScopeStage     = "STAGE"
	DataStructured = "STRUCTURED"
	DataFile       = "FILE"
)

// 阶段 ID
const (
	StagePlanning  = "planning"
	StageRetrieval = "retrieval"
	StageWebSearch = "web_search"
	StageSummary   = "summary"
)

// 执行器标识
const (
	ExecutorRetrieval = "retrieval-agent"
	ExecutorWebSearch = "web-search-agent"
)

const protocolMode = "plan-executor"

// Context 消息上下文定位块
type Context struct {
	Mode         string `json:"mode"`
	StageID      string `json:"stage_id,omitempty"`
	InvocationID string `json:"invocation_id,omitempty"`
	ArtifactID   string `json:"artifact_id,omitempty"`
	Executor     string `json:"executor,omitempty"`
}

// Message 一条协议消息，序列化后作为单个 SSE 帧下发
// 全部载荷都在 messages 数组内，顶层只有事件类型与上下文定位块。
type Message struct {
	EventType EventType `json:"event_type"`
	Context   Context   `json:"context"`
	Messages  []any     `json:"messages"`
}

// StageDecl 计划声明中的阶段定义
type StageDecl struct {
	StageID     string      `json:"stage_id"`
	StageName   string      `json:"stage_name"`
	Description string      `json:"description"`
	Status      StageStatus `json:"status"`
}

// InvocationDecl 调用声明
type InvocationDecl struct {
	Name           string `json:"name"`
	InvocationType string `json:"invocation_type"`
	ClickEffect    string `json:"click_effect"`
	Content        string `json:"content"`
}

// ChangeMessage 状态或内容变更
// PLAN_CHANGE 在消息体内携带 stage_id，调用变更省略该字段。
type ChangeMessage struct {
	ChangeType ChangeType  `json:"change_type"`
	StageID    string      `json:"stage_id,omitempty"`
	Status     StageStatus `json:"status,omitempty"`
	Content    string      `json:"content,omitempty"`
}

// StreamPayload 思考/正文流的消息体
type StreamPayload struct {
	Content string `json:"content"`
}

// ArtifactDecl 产物声明消息体，声明时内容为空
type ArtifactDecl struct {
	Scope        string `json:"scope"`
	Source       string `json:"source"`
	ArtifactID   string `json:"artifact_id"`
	ArtifactName string `json:"artifact_name"`
	ArtifactType string `json:"artifact_type"`
	Content      string `json:"content"`
}

// ArtifactChange 产物变更消息体
type ArtifactChange struct {
	Scope        string     `json:"scope"`
	ChangeType   ChangeType `json:"change_type"`
	DataType     string     `json:"data_type"`
	Content      string     `json:"content"`
	Source       string     `json:"source,omitempty"`
	ArtifactName string     `json:"artifact_name,omitempty"`
	ArtifactType string     `json:"artifact_type,omitempty"`
}

// stageDefs 阶段声明模板，web_search 仅在计划包含网页搜索时出现
var stageDefs = map[string]StageDecl{
	StagePlanning:  {StageID: StagePlanning, StageName: "问题分析与规划", Description: "分析用户问题并制定检索计划"},
	StageRetrieval: {StageID: StageRetrieval, StageName: "知识库检索", Description: "并行检索多个知识库"},
	StageWebSearch: {StageID: StageWebSearch, StageName: "网页搜索", Description: "从互联网搜索最新信息"},
	StageSummary:   {StageID: StageSummary, StageName: "生成总结报告", Description: "基于检索结果生成带引用的总结"},
}

// NewInvocationID 生成确定性调用 ID
// 同一 (知识库, 查询, 任务) 组合在声明与变更消息中得到同一 ID。
func NewInvocationID(kbName, query, taskID string) string {
	prefix := strings.ReplaceAll(kbName, " ", "-")
	runes := []rune(prefix)
	if len(runes) > 10 {
		prefix = string(runes[:10])
	}
	sum := md5.Sum([]byte(fmt.Sprintf("%s::%s::%s", kbName, query, taskID)))
	return fmt.Sprintf("inv-%s-%s", prefix, hex.EncodeToString(sum[:])[:8])
}

// newStageContext 构造指向某个阶段的上下文
func newStageContext(stageID string) Context {
	return Context{Mode: protocolMode, StageID: stageID}
}

// NewPlanChange 构造阶段状态变更消息，stage_id 在消息体内
func NewPlanChange(stageID string, status StageStatus) Message {
	return Message{
		EventType: EventPlanChange,
		Context:   Context{Mode: protocolMode},
		Messages:  []any{ChangeMessage{ChangeType: ChangeStatus, StageID: stageID, Status: status}},
	}
}

// NewPlanDeclared 构造计划声明消息，全部阶段初始为 PENDING
func NewPlanDeclared(includeWebSearch bool) Message {
	stageIDs := []string{StagePlanning, StageRetrieval}
	if includeWebSearch {
		stageIDs = append(stageIDs, StageWebSearch)
	}
	stageIDs = append(stageIDs, StageSummary)

	stages := make([]any, 0, len(stageIDs))
	for _, id := range stageIDs {
		decl := stageDefs[id]
		decl.Status = StatusPending
		stages = append(stages, decl)
	}
	return Message{
		EventType: EventPlanDeclared,
		Context:   Context{Mode: protocolMode},
		Messages:  stages,
	}
}

// NewStreamThink 构造思考流消息
func NewStreamThink(stageID, content string) Message {
	return Message{
		EventType: EventStreamThink,
		Context:   newStageContext(stageID),
		Messages:  []any{StreamPayload{Content: content}},
	}
}

// NewStreamContent 构造内容流消息
func NewStreamContent(stageID, content string) Message {
	return Message{
		EventType: EventStreamContent,
		Context:   newStageContext(stageID),
		Messages:  []any{StreamPayload{Content: content}},
	}
}

// NewEnd 构造终止消息
func NewEnd() Message {
	return Message{
		EventType: EventEnd,
		Context:   Context{Mode: protocolMode},
		Messages:  []any{},
	}
}
