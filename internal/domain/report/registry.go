package report

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"sync"
)

const previewLength = 100

// Registry 请求级文档注册表
// 负责去重、按得分排序并维护稠密的 1 基引用编号，编号即总结中的引用序号。
// 并发检索任务共享同一个实例，方法内部持锁。
type Registry struct {
	mu    sync.Mutex
	docs  []*Document
	index map[string]int // 身份键 -> 1 基编号
}

// NewRegistry 创建空注册表
func NewRegistry() *Registry {
	return &Registry{
		index: make(map[string]int),
	}
}

// identityKey 文档身份键：优先分块 ID，缺失时退化为内容哈希
func identityKey(doc *Document) string {
	basis := doc.ChunkID
	if basis == "" {
		basis = doc.Content
	}
	sum := md5.Sum([]byte(basis))
	return hex.EncodeToString(sum[:])
}

// Add 注册文档并返回其 1 基编号
// 重复文档返回已有编号，不产生新条目。
func (r *Registry) Add(doc *Document) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := identityKey(doc)
	if pos, ok := r.index[key]; ok {
		return pos
	}

	r.docs = append(r.docs, doc)
	pos := len(r.docs)
	r.index[key] = pos
	return pos
}

// Len 当前注册文档数
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.docs)
}

// Documents 按当前编号顺序返回文档快照
func (r *Registry) Documents() []*Document {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Document, len(r.docs))
	copy(out, r.docs)
	return out
}

// Sort 按得分降序稳定排序并重排编号为 1..N
// 同分文档保持插入顺序。
func (r *Registry) Sort() {
	r.mu.Lock()
	defer r.mu.Unlock()

	sort.SliceStable(r.docs, func(i, j int) bool {
		return r.docs[i].Score > r.docs[j].Score
	})
	for i, doc := range r.docs {
		r.index[identityKey(doc)] = i + 1
	}
}

// BuildContext 生成供 LLM 引用的上下文文本，最多取前 maxDocs 条
func (r *Registry) BuildContext(maxDocs int) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := len(r.docs)
	if maxDocs > 0 && maxDocs < n {
		n = maxDocs
	}

	blocks := make([]string, 0, n)
	for i := 0; i < n; i++ {
		doc := r.docs[i]
		blocks = append(blocks, fmt.Sprintf("[%d] 来源：%s\n内容：%s", i+1, doc.Source, doc.Content))
	}
	return strings.Join(blocks, "\n\n")
}

// BuildReferences 生成参考文献列表，最多考察前 maxDocs 条文档
// 有 doc_id 的分块按文档聚合取最高分，无 doc_id 的命中按分块单独成条；
// 聚合条目与散列条目各自按得分降序，编号从聚合条目起连续分配。
func (r *Registry) BuildReferences(maxDocs int) []*Reference {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := len(r.docs)
	if maxDocs > 0 && maxDocs < n {
		n = maxDocs
	}

	type group struct {
		ref      *Reference
		previews []string
	}
	var groupOrder []string
	groups := make(map[string]*group)
	var ungrouped []*Reference

	for i := 0; i < n; i++ {
		doc := r.docs[i]
		if doc.DocID == "" {
			ungrouped = append(ungrouped, &Reference{
				Title:             doc.Source,
				Source:            doc.Source,
				Score:             doc.Score,
				ChunkID:           doc.ChunkID,
				Content:           preview(doc.Content),
				KnowledgeBaseID:   doc.KnowledgeBaseID,
				KnowledgeBaseName: doc.KnowledgeBaseName,
				URL:               doc.URL,
			})
			continue
		}

		g, ok := groups[doc.DocID]
		if !ok {
			g = &group{ref: &Reference{
				Title:             doc.Source,
				Source:            doc.Source,
				Score:             doc.Score,
				DocID:             doc.DocID,
				DocURL:            doc.DocURL,
				KnowledgeBaseID:   doc.KnowledgeBaseID,
				KnowledgeBaseName: doc.KnowledgeBaseName,
			}}
			groups[doc.DocID] = g
			groupOrder = append(groupOrder, doc.DocID)
		}
		if doc.Score > g.ref.Score {
			g.ref.Score = doc.Score
		}
		g.previews = append(g.previews, preview(doc.Content))
	}

	grouped := make([]*Reference, 0, len(groupOrder))
	for _, docID := range groupOrder {
		g := groups[docID]
		g.ref.ChunkCount = len(g.previews)
		g.ref.Previews = g.previews
		grouped = append(grouped, g.ref)
	}

	sort.SliceStable(grouped, func(i, j int) bool {
		return grouped[i].Score > grouped[j].Score
	})
	sort.SliceStable(ungrouped, func(i, j int) bool {
		return ungrouped[i].Score > ungrouped[j].Score
	})

	refs := append(grouped, ungrouped...)
	for i, ref := range refs {
		ref.ID = i + 1
	}
	return refs
}

// preview 截取内容预览，超长时补省略号
func preview(content string) string {
	runes := []rune(content)
	if len(runes) <= previewLength {
		return content
	}
	return string(runes[:previewLength]) + "..."
}
