// Package websearch 提供网页搜索客户端（博查 API）
package websearch

import (
	"bytes"
	"context"
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
	"zhiku-report-api/pkg/logger"
)

var tracer = otel.Tracer("websearch")

// Client 网页搜索客户端
// 未配置 API 时返回确定性的示例结果，保证管线在开发环境可运行。
type Client struct {
	endpoint string
	apiKey   string
	http     *http.Client
}

// NewClient 创建网页搜索客户端
func NewClient(cfg config.WebSearchConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		endpoint: cfg.Endpoint,
		apiKey:   cfg.APIKey,
		http:     &http.Client{Timeout: timeout},
	}
}

type searchRequest struct {
	Query     string `json:"query"`
	Summary   bool   `json:"summary"`
	Freshness string `json:"freshness"`
	Count     int    `json:"count"`
}

type searchResponse struct {
	Data struct {
		WebPages struct {
			Value []struct {
				Name     string `json:"name"`
				URL      string `json:"url"`
				Summary  string `json:"summary"`
				Snippet  string `json:"snippet"`
				SiteName string `json:"siteName"`
			} `json:"value"`
		} `json:"webPages"`
	} `json:"data"`
}

// Search 执行网页搜索
func (c *Client) Search(ctx context.Context, query string, count int) ([]*report.Document, error) {
	ctx, span := tracer.Start(ctx, "websearch.Search",
		trace.WithAttributes(
			attribute.String("query", query),
			attribute.Int("count", count),
		))
	defer span.End()

	if c.endpoint == "" || c.apiKey == "" {
		logger.Debug(ctx, "web search API not configured, returning mock results", "query", query)
		return mockResults(query), nil
	}

	body, err := json.Marshal(searchRequest{
		Query:     query,
		Summary:   true,
		Freshness: "noLimit",
		Count:     count,
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

	pages := result.Data.WebPages.Value
	docs := make([]*report.Document, 0, len(pages))
	for _, page := range pages {
		content := page.Summary
		if content == "" {
			content = page.Snippet
		}
		source := page.Name
		if page.SiteName != "" {
			source = fmt.Sprintf("%s - %s", page.Name, page.SiteName)
		}
		docs = append(docs, &report.Document{
			Content: content,
			Source:  source,
			URL:     page.URL,
		})
	}
	return docs, nil
}

// mockResults 未配置 API 时的示例结果
func mockResults(query string) []*report.Document {
	return []*report.Document{
		{
			Content: fmt.Sprintf("这是关于「%s」的示例搜索结果。配置 web_search.endpoint 和 web_search.api_key 后将返回真实结果。", query),
			Source:  "示例新闻网",
			URL:     "https://example.com/mock-1",
		},
		{
			Content: fmt.Sprintf("「%s」相关的第二条示例内容，仅用于开发环境联调。", query),
			Source:  "示例资讯站",
			URL:     "https://example.com/mock-2",
		},
	}
}
