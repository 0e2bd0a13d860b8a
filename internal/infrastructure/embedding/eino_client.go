// Package embedding 提供查询向量化能力，服务于 Milvus 检索
package embedding

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino-ext/components/embedding/openai"
	"github.com/cloudwego/eino/components/embedding"

	"zhiku-report-api/internal/config"
)

// NewEinoEmbedder 通过 Eino 的 OpenAI 兼容适配器创建 Embedder
// 智谱等厂商的向量接口均兼容该协议，换模型只需改配置。
func NewEinoEmbedder(ctx context.Context, cfg *config.EmbeddingConfig) (embedding.Embedder, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("embedding endpoint is required")
	}

	embedder, err := openai.NewEmbedder(ctx, &openai.EmbeddingConfig{
		APIKey:  cfg.APIKey,
		BaseURL: cfg.Endpoint,
		Model:   cfg.Model,
	})
	if err != nil {
		return nil, fmt.Errorf("create eino embedder: %w", err)
	}
	return embedder, nil
}
