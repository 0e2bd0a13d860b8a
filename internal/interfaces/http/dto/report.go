package dto

// ReportStreamRequest 研报流式生成请求
type ReportStreamRequest struct {
	Query     string `form:"query" json:"query"`
	SessionID string `form:"session_id" json:"session_id"`
}

// ReportResponse 已持久化的报告
type ReportResponse struct {
	SessionID string `json:"session_id"`
	Query     string `json:"query"`
	Content   string `json:"content"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}
