// Package knowledge retrieves reference snippets that ground a
// conversation turn in user-supplied documents.
package knowledge

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/zhilian-ai/gateway/internal/model/chat"
)

// DefaultTopN is how many snippets a search returns at most.
const DefaultTopN = 3

// ChunkSize caps the rune length of one stored document chunk.
const ChunkSize = 256

// Retriever searches a knowledge base for snippets relevant to a
// question. Scoring is lexical token overlap over the stored chunks.
type Retriever struct {
	store DocumentLister
	topN  int
}

// DocumentLister is the slice of the store the retriever needs.
type DocumentLister interface {
	ListKnowledgeDocuments(ctx context.Context, knowledgeBaseID string) ([]chat.KnowledgeDocument, error)
}

// NewRetriever builds a retriever over the given store. topN <= 0 selects
// DefaultTopN.
func NewRetriever(store DocumentLister, topN int) *Retriever {
	if topN <= 0 {
		topN = DefaultTopN
	}
	return &Retriever{store: store, topN: topN}
}

// Search returns up to topN chunks ranked by token overlap with the
// question. A nil slice means nothing matched.
func (r *Retriever) Search(ctx context.Context, knowledgeBaseID, question string) ([]string, error) {
	docs, err := r.store.ListKnowledgeDocuments(ctx, knowledgeBaseID)
	if err != nil {
		return nil, err
	}

	queryTokens := tokenize(question)
	if len(queryTokens) == 0 {
		return nil, nil
	}

	type scored struct {
		content string
		score   int
		index   int
	}
	var hits []scored
	for i, doc := range docs {
		score := overlap(queryTokens, tokenize(doc.Content))
		if score > 0 {
			hits = append(hits, scored{content: doc.Content, score: score, index: i})
		}
	}
	if len(hits) == 0 {
		return nil, nil
	}

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].score != hits[j].score {
			return hits[i].score > hits[j].score
		}
		return hits[i].index < hits[j].index
	})
	if len(hits) > r.topN {
		hits = hits[:r.topN]
	}

	snippets := make([]string, len(hits))
	for i, h := range hits {
		snippets[i] = h.content
	}
	return snippets, nil
}

// SplitContent cuts raw document text into chunks of at most ChunkSize
// runes, preserving order. Empty input yields no chunks.
func SplitContent(content string) []string {
	runes := []rune(content)
	var chunks []string
	for start := 0; start < len(runes); start += ChunkSize {
		end := start + ChunkSize
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[start:end]))
	}
	return chunks
}

// GroundedPrompt renders the grounded-answer system prompt with the
// retrieved snippets numbered in rank order.
func GroundedPrompt(snippets []string) string {
	var b strings.Builder
	for i, s := range snippets {
		fmt.Fprintf(&b, "%d. %s\n", i+1, s)
	}
	return strings.Replace(groundedPromptTemplate, "{{context}}", strings.TrimRight(b.String(), "\n"), 1)
}

const groundedPromptTemplate = `你是智能助理"智链"。请优先依据下列参考资料回答用户的问题，引用资料时保持原意，资料未覆盖的内容再结合自身知识作答。

参考资料：
{{context}}`

// tokenize lowercases and splits mixed-script text. Latin runs of letters
// and digits form one token each; every Han rune is its own token.
func tokenize(text string) map[string]struct{} {
	tokens := make(map[string]struct{})
	var word []rune
	flush := func() {
		if len(word) > 0 {
			tokens[strings.ToLower(string(word))] = struct{}{}
			word = word[:0]
		}
	}
	for _, r := range text {
		switch {
		case unicode.Is(unicode.Han, r):
			flush()
			tokens[string(r)] = struct{}{}
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			word = append(word, r)
		default:
			flush()
		}
	}
	flush()
	return tokens
}

func overlap(query, doc map[string]struct{}) int {
	count := 0
	for token := range query {
		if _, ok := doc[token]; ok {
			count++
		}
	}
	return count
}
