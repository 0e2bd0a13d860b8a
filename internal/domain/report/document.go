// Package report 定义研报管线的领域模型：检索文档、文档注册表、检索计划与管线事件
package report

// Document 一条检索命中（知识库分块或网页摘要）
type Document struct {
	Content           string  `json:"content"`
	Source            string  `json:"source"`
	Score             float64 `json:"score"`
	ChunkID           string  `json:"chunk_id,omitempty"`
	DocID             string  `json:"doc_id,omitempty"`
	FileID            string  `json:"file_id,omitempty"`
	FileName          string  `json:"file_name,omitempty"`
	DocURL            string  `json:"doc_url,omitempty"`
	KnowledgeBaseID   string  `json:"knowledge_base_id,omitempty"`
	KnowledgeBaseName string  `json:"knowledge_base_name,omitempty"`
	URL               string  `json:"url,omitempty"`
	SearchQuery       string  `json:"search_query,omitempty"`
}

// Reference 参考文献条目
// 同一文档的多个分块聚合为一条（携带 ChunkCount/Previews），
// 无文档归属的命中按分块单独成条（携带 ChunkID/Content）。
type Reference struct {
	ID                int      `json:"id"`
	Title             string   `json:"title"`
	Source            string   `json:"source"`
	Score             float64  `json:"score"`
	DocID             string   `json:"doc_id,omitempty"`
	DocURL            string   `json:"doc_url,omitempty"`
	KnowledgeBaseID   string   `json:"knowledge_base_id,omitempty"`
	KnowledgeBaseName string   `json:"knowledge_base_name,omitempty"`
	ChunkCount        int      `json:"chunk_count,omitempty"`
	Previews          []string `json:"previews,omitempty"`
	ChunkID           string   `json:"chunk_id,omitempty"`
	Content           string   `json:"content,omitempty"`
	URL               string   `json:"url,omitempty"`
}
