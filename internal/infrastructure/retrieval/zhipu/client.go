// Package zhipu 提供智谱知识库检索 API 客户端
package zhipu

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"zhiku-report-api/internal/config"
	"zhiku-report-api/internal/domain/report"
	redisinfra "zhiku-report-api/internal/infrastructure/persistence/redis"
	"zhiku-report-api/pkg/metrics"
)

var tracer = otel.Tracer("zhipu")

// Client 智谱知识库检索客户端
// 命中结果经 Redis 做 read-through 缓存，缓存不可用时直接透传。
type Client struct {
	endpoint string
	apiKey   string
	http     *http.Client
	cache    *redisinfra.Cache // 可为 nil
	cacheTTL time.Duration
}

// NewClient 创建检索客户端
func NewClient(kc config.KnowledgeConfig, cache *redisinfra.Cache) *Client {
	return &Client{
		endpoint: kc.ZhipuEndpoint,
		apiKey:   kc.ZhipuAPIKey,
		http:     &http.Client{Timeout: 30 * time.Second},
		cache:    cache,
		cacheTTL: kc.CacheTTL,
	}
}

type searchRequest struct {
	Query        string   `json:"query"`
	KnowledgeIDs []string `json:"knowledge_ids"`
	TopK         int      `json:"top_k"`
	RecallMethod string   `json:"recall_method"`
	RecallRatio  int      `json:"recall_ratio"`
	RerankStatus int      `json:"rerank_status"`
	RerankModel  string   `json:"rerank_model"`
}

type searchResponse struct {
	Data []struct {
		Text     string  `json:"text"`
		Score    float64 `json:"score"`
		Metadata struct {
			DocName string `json:"doc_name"`
			ID      string `json:"_id"`
			DocID   string `json:"doc_id"`
			DocURL  string `json:"doc_url"`
		} `json:"metadata"`
	} `json:"data"`
}

// Retrieve 检索知识库
func (c *Client) Retrieve(ctx context.Context, kb config.KnowledgeBaseConfig, query string, topK int) ([]*report.Document, error) {
	ctx, span := tracer.Start(ctx, "zhipu.Retrieve",
		trace.WithAttributes(
			attribute.String("knowledge_base", kb.ID),
			attribute.Int("top_k", topK),
		))
	defer span.End()

	if c.cache == nil {
		return c.search(ctx, kb, query, topK)
	}

	key := cacheKey(kb.ID, query, topK)
	loaded := false
	data, err := c.cache.GetOrLoadSafe(ctx, key, c.cacheTTL, func() (interface{}, error) {
		loaded = true
		metrics.RetrievalCacheTotal.WithLabelValues("miss").Inc()
		return c.search(ctx, kb, query, topK)
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if !loaded {
		metrics.RetrievalCacheTotal.WithLabelValues("hit").Inc()
	}

	var docs []*report.Document
	if err := json.Unmarshal(data, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode cached documents: %w", err)
	}
	return docs, nil
}

// search 调用智谱检索 API
func (c *Client) search(ctx context.Context, kb config.KnowledgeBaseConfig, query string, topK int) ([]*report.Document, error) {
	if c.endpoint == "" || c.apiKey == "" {
		return nil, fmt.Errorf("zhipu retrieval API not configured")
	}

	body, err := json.Marshal(searchRequest{
		Query:        query,
		KnowledgeIDs: []string{kb.ID},
		TopK:         clampTopK(topK),
		RecallMethod: "mixed",
		RecallRatio:  80,
		RerankStatus: 1,
		RerankModel:  "rerank",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal search request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build search request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("search API returned %d: %s", resp.StatusCode, payload)
	}

	var result searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode search response: %w", err)
	}

	docs := make([]*report.Document, 0, len(result.Data))
	for _, item := range result.Data {
		docs = append(docs, &report.Document{
			Content:  item.Text,
			Source:   item.Metadata.DocName,
			Score:    item.Score,
			ChunkID:  item.Metadata.ID,
			DocID:    item.Metadata.DocID,
			FileName: item.Metadata.DocName,
			DocURL:   item.Metadata.DocURL,
		})
	}
	return docs, nil
}

// clampTopK API 允许的 top_k 范围是 1..20
func clampTopK(topK int) int {
	if topK < 1 {
		return 1
	}
	if topK > 20 {
		return 20
	}
	return topK
}

// cacheKey 构建缓存键
func cacheKey(kbID, query string, topK int) string {
	sum := md5.Sum([]byte(query))
	return fmt.Sprintf("retrieval:zhipu:%s:%s:%d", kbID, hex.EncodeToString(sum[:]), topK)
}
