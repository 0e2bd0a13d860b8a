package postgres

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm/clause"
)

// ReportRecord 报告持久化记录
type ReportRecord struct {
	ID        uint      `gorm:"primaryKey;autoIncrement"`
	SessionID string    `gorm:"column:session_id;uniqueIndex;size:64"`
	Query     string    `gorm:"column:query;type:text"`
	Content   string    `gorm:"column:content;type:text"`
	CreatedAt time.Time `gorm:"column:created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

// TableName 表名
func (ReportRecord) TableName() string {
	return "reports"
}

// ReportRepository 报告仓储，按会话保存最终总结
type ReportRepository struct {
	client *Client
}

// NewReportRepository 创建报告仓储
func NewReportRepository(client *Client) *ReportRepository {
	return &ReportRepository{client: client}
}

// SaveReport 保存报告，同会话重复保存时覆盖内容
func (r *ReportRepository) SaveReport(ctx context.Context, sessionID, query, content string) error {
	ctx, span := tracer.Start(ctx, "postgres.ReportRepository.SaveReport")
	defer span.End()

	record := &ReportRecord{
		SessionID: sessionID,
		Query:     query,
		Content:   content,
	}
	err := r.client.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "session_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"query", "content", "updated_at"}),
	}).Create(record).Error
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to save report: %w", err)
	}
	return nil
}

// GetBySession 按会话读取报告
func (r *ReportRepository) GetBySession(ctx context.Context, sessionID string) (*ReportRecord, error) {
	ctx, span := tracer.Start(ctx, "postgres.ReportRepository.GetBySession")
	defer span.End()

	var record ReportRecord
	if err := r.client.db.WithContext(ctx).First(&record, "session_id = ?", sessionID).Error; err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to get report: %w", err)
	}
	return &record, nil
}

// Migrate 建表
func (r *ReportRepository) Migrate() error {
	return r.client.db.AutoMigrate(&ReportRecord{})
}
