package milvus

import (
	"context"
	"fmt"
	"time"

	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"zhiku-report-api/pkg/metrics"
)

// Repository 文档分块向量检索仓储
type Repository struct {
	client *Client
}

// NewRepository 创建向量检索仓储
func NewRepository(client *Client) *Repository {
	return &Repository{client: client}
}

// ChunkResult 分块检索结果
type ChunkResult struct {
	ID      string
	DocID   string
	DocName string
	DocURL  string
	Text    string
	Score   float32
}

// CreateIndex 为集合的向量字段创建 HNSW 索引
func (r *Repository) CreateIndex(ctx context.Context, collection string) error {
	if r == nil || r.client == nil || r.client.milvus == nil {
		return fmt.Errorf("milvus client not configured")
	}
	ctx, span := tracer.Start(ctx, "milvus.CreateIndex",
		trace.WithAttributes(attribute.String("collection", collection)))
	defer span.End()

	collName := r.client.CollectionName(collection)

	idx, err := entity.NewIndexHNSW(
		entity.COSINE,
		r.client.config.HNSWM,
		r.client.config.HNSWEfConstruction,
	)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to create index: %w", err)
	}

	err = r.client.milvus.CreateIndex(ctx, collName, "vector", idx, false)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to create index: %w", err)
	}

	return nil
}

// SearchChunks 按查询向量检索文档分块
func (r *Repository) SearchChunks(ctx context.Context, collection string, queryVector []float32, topK int) ([]*ChunkResult, error) {
	if r == nil || r.client == nil || r.client.milvus == nil {
		return nil, fmt.Errorf("milvus client not configured")
	}
	ctx, span := tracer.Start(ctx, "milvus.SearchChunks",
		trace.WithAttributes(
			attribute.String("collection", collection),
			attribute.Int("top_k", topK),
		))
	defer span.End()

	collName := r.client.CollectionName(collection)
	start := time.Now()

	// 集合不存在时返回空结果，检索阶段按零命中处理
	if has, err := r.client.milvus.HasCollection(ctx, collName); err != nil {
		span.RecordError(err)
		metrics.MilvusSearchTotal.WithLabelValues(collection, "error").Inc()
		return nil, fmt.Errorf("failed to check collection: %w", err)
	} else if !has {
		return []*ChunkResult{}, nil
	}

	sp, err := entity.NewIndexHNSWSearchParam(128)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to create search param: %w", err)
	}

	results, err := r.client.milvus.Search(ctx,
		collName,
		nil,
		"",
		[]string{"id", "doc_id", "doc_name", "doc_url", "text_content"},
		[]entity.Vector{entity.FloatVector(queryVector)},
		"vector",
		entity.COSINE,
		topK,
		sp,
	)
	if err != nil {
		span.RecordError(err)
		metrics.MilvusSearchTotal.WithLabelValues(collection, "error").Inc()
		return nil, fmt.Errorf("failed to search: %w", err)
	}

	var chunks []*ChunkResult
	for _, result := range results {
		for i := 0; i < result.ResultCount; i++ {
			chunk := &ChunkResult{
				Score: result.Scores[i],
			}
			if col, ok := result.Fields.GetColumn("id").(*entity.ColumnVarChar); ok {
				chunk.ID = col.Data()[i]
			}
			if col, ok := result.Fields.GetColumn("doc_id").(*entity.ColumnVarChar); ok {
				chunk.DocID = col.Data()[i]
			}
			if col, ok := result.Fields.GetColumn("doc_name").(*entity.ColumnVarChar); ok {
				chunk.DocName = col.Data()[i]
			}
			if col, ok := result.Fields.GetColumn("doc_url").(*entity.ColumnVarChar); ok {
				chunk.DocURL = col.Data()[i]
			}
			if col, ok := result.Fields.GetColumn("text_content").(*entity.ColumnVarChar); ok {
				chunk.Text = col.Data()[i]
			}
			chunks = append(chunks, chunk)
		}
	}

	metrics.MilvusSearchTotal.WithLabelValues(collection, "success").Inc()
	metrics.MilvusSearchDuration.WithLabelValues(collection).Observe(time.Since(start).Seconds())
	span.SetAttributes(attribute.Int("result_count", len(chunks)))
	return chunks, nil
}
