package handler

import (
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"zhiku-report-api/internal/application/pipeline"
	"zhiku-report-api/internal/infrastructure/persistence/postgres"
	"zhiku-report-api/internal/interfaces/http/dto"
	"zhiku-report-api/internal/protocol"
	"zhiku-report-api/pkg/logger"
	"zhiku-report-api/pkg/metrics"
)

// ReportHandler 研报生成处理器
type ReportHandler struct {
	orchestrator *pipeline.Orchestrator
	reports      *postgres.ReportRepository // 可为 nil，持久化未接入
}

// NewReportHandler 创建研报生成处理器
func NewReportHandler(orchestrator *pipeline.Orchestrator, reports *postgres.ReportRepository) *ReportHandler {
	return &ReportHandler{
		orchestrator: orchestrator,
		reports:      reports,
	}
}

// Stream 流式生成研报
// 管线事件经协议翻译后以 SSE 帧下发，流以恰好一条 END 消息收尾。
func (h *ReportHandler) Stream(c *gin.Context) {
	var req dto.ReportStreamRequest
	if c.Request.Method == http.MethodGet {
		if err := c.ShouldBindQuery(&req); err != nil {
			dto.BadRequest(c, "invalid request")
			return
		}
	} else {
		if err := c.ShouldBindJSON(&req); err != nil {
			dto.BadRequest(c, "invalid request")
			return
		}
	}

	query := strings.TrimSpace(req.Query)
	if query == "" {
		dto.BadRequest(c, "query is required")
		return
	}

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = uuid.New().String()
	}

	// SSE 响应头
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	metrics.ActiveStreams.Inc()
	defer metrics.ActiveStreams.Dec()

	ctx := c.Request.Context()
	logger.Info(ctx, "report stream started", "session_id", sessionID, "query", query)

	events := h.orchestrator.Run(ctx, sessionID, query)
	translator := protocol.NewTranslator()

	c.Stream(func(w io.Writer) bool {
		select {
		case ev, ok := <-events:
			if !ok {
				// 管线结束，补发终止消息
				for _, msg := range translator.End() {
					c.SSEvent("message", msg)
				}
				return false
			}
			for _, msg := range translator.Translate(ev) {
				c.SSEvent("message", msg)
			}
			return true

		case <-ctx.Done():
			// 客户端断开
			logger.Info(ctx, "report stream client disconnected", "session_id", sessionID)
			return false
		}
	})
}

// Get 查询已持久化的报告
func (h *ReportHandler) Get(c *gin.Context) {
	if h.reports == nil {
		dto.ServiceUnavailable(c, "report persistence not configured")
		return
	}

	sessionID := c.Param("session_id")
	record, err := h.reports.GetBySession(c.Request.Context(), sessionID)
	if err != nil {
		dto.NotFound(c, "report not found")
		return
	}

	dto.Success(c, dto.ReportResponse{
		SessionID: record.SessionID,
		Query:     record.Query,
		Content:   record.Content,
		CreatedAt: record.CreatedAt.Format(time.RFC3339),
		UpdatedAt: record.UpdatedAt.Format(time.RFC3339),
	})
}
