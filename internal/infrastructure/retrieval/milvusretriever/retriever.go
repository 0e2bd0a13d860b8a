// Package milvusretriever 提供基于本地 Milvus 集合的知识库检索实现
package milvusretriever

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/components/embedding"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"zhiku-report-api/internal/config"
	"zhiku-report-api/internal/domain/report"
	"zhiku-report-api/internal/infrastructure/persistence/milvus"
	apperrors "zhiku-report-api/pkg/errors"
)

var tracer = otel.Tracer("milvusretriever")

// Retriever 向量知识库检索器
// 查询先经 Embedder 向量化，再在知识库对应的集合中做相似度检索。
type Retriever struct {
	repo     *milvus.Repository
	embedder embedding.Embedder
}

// NewRetriever 创建向量检索器
func NewRetriever(repo *milvus.Repository, embedder embedding.Embedder) *Retriever {
	return &Retriever{
		repo:     repo,
		embedder: embedder,
	}
}

// Retrieve 检索知识库
func (r *Retriever) Retrieve(ctx context.Context, kb config.KnowledgeBaseConfig, query string, topK int) ([]*report.Document, error) {
	ctx, span := tracer.Start(ctx, "milvusretriever.Retrieve",
		trace.WithAttributes(
			attribute.String("knowledge_base", kb.ID),
			attribute.Int("top_k", topK),
		))
	defer span.End()

	if kb.Collection == "" {
		return nil, fmt.Errorf("knowledge base %s has no collection configured", kb.ID)
	}

	vectors, err := r.embedder.EmbedStrings(ctx, []string{query})
	if err != nil {
		span.RecordError(err)
		return nil, apperrors.Wrap(err, apperrors.CodeEmbeddingFailed, "failed to embed query")
	}
	if len(vectors) == 0 {
		return nil, fmt.Errorf("embedder returned no vectors")
	}

	queryVector := make([]float32, len(vectors[0]))
	for i, v := range vectors[0] {
		queryVector[i] = float32(v)
	}

	chunks, err := r.repo.SearchChunks(ctx, kb.Collection, queryVector, topK)
	if err != nil {
		span.RecordError(err)
		return nil, apperrors.Wrap(err, apperrors.CodeVectorDBError, "milvus search failed")
	}

	docs := make([]*report.Document, 0, len(chunks))
	for _, chunk := range chunks {
		docs = append(docs, &report.Document{
			Content:  chunk.Text,
			Source:   chunk.DocName,
			Score:    float64(chunk.Score),
			ChunkID:  chunk.ID,
			DocID:    chunk.DocID,
			FileName: chunk.DocName,
			DocURL:   chunk.DocURL,
		})
	}
	return docs, nil
}
