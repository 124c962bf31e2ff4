// Package retrieval answers structured lookups against a local corpus
// of reference documents. The in-memory retriever scores by keyword
// overlap; callers depend only on the Retriever interface so a vector
// backend can slot in later.
package retrieval

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// Doc is one reference document.
type Doc struct {
	ID      string
	Title   string
	URL     string
	Content string
}

// Retriever finds documents relevant to a query.
type Retriever interface {
	Retrieve(ctx context.Context, query string, topK int) ([]Doc, error)
}

// MemoryRetriever holds the corpus in memory and ranks by term
// overlap, with identifier matches weighted heavily. Document IDs are
// kept in a radix tree so part codes match by prefix too.
type MemoryRetriever struct {
	mu    sync.RWMutex
	docs  []Doc
	index *identifierIndex
}

func NewMemoryRetriever(docs []Doc) *MemoryRetriever {
	r := &MemoryRetriever{index: newIdentifierIndex()}
	r.Add(docs...)
	return r
}

// Add appends documents to the corpus.
func (r *MemoryRetriever) Add(docs ...Doc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range docs {
		r.index.insert(d.ID, len(r.docs))
		r.docs = append(r.docs, d)
	}
}

// Retrieve returns up to topK documents scored against the query,
// best first. Documents with no term overlap are excluded.
func (r *MemoryRetriever) Retrieve(ctx context.Context, query string, topK int) ([]Doc, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if topK <= 0 {
		topK = 3
	}

	terms := tokenize(query)
	if len(terms) == 0 {
		return nil, nil
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	scores := make(map[int]int)
	for pos, d := range r.docs {
		if s := textScore(terms, d); s > 0 {
			scores[pos] = s
		}
	}
	for _, t := range terms {
		if pos, ok := r.index.exact(t); ok {
			scores[pos] += 10
			continue
		}
		if !looksLikeIdentifier(t) {
			continue
		}
		for _, pos := range r.index.withPrefix(t) {
			scores[pos] += 6
		}
	}

	type scored struct {
		doc   Doc
		score int
	}
	hits := make([]scored, 0, len(scores))
	for pos, s := range scores {
		hits = append(hits, scored{doc: r.docs[pos], score: s})
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].score != hits[j].score {
			return hits[i].score > hits[j].score
		}
		return hits[i].doc.ID < hits[j].doc.ID
	})
	if len(hits) > topK {
		hits = hits[:topK]
	}

	out := make([]Doc, len(hits))
	for i, h := range hits {
		out[i] = h.doc
	}
	return out, nil
}

func textScore(terms []string, d Doc) int {
	title := strings.ToLower(d.Title)
	content := strings.ToLower(d.Content)

	s := 0
	for _, t := range terms {
		if strings.Contains(title, t) {
			s += 3
		}
		if strings.Contains(content, t) {
			s++
		}
	}
	return s
}

// looksLikeIdentifier reports whether a term could be a part code.
// Plain words are excluded so "the" never prefix-matches an ID.
func looksLikeIdentifier(term string) bool {
	return strings.ContainsAny(term, "0123456789-_")
}

// tokenize splits a query into lowercase terms, dropping short stop
// words that would match everything.
func tokenize(query string) []string {
	fields := strings.Fields(strings.ToLower(query))
	terms := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.Trim(f, ".,!?;:\"'()")
		if len(f) < 3 {
			continue
		}
		if stopWords[f] {
			continue
		}
		terms = append(terms, f)
	}
	return terms
}

var stopWords = map[string]bool{
	"the": true, "and": true, "for": true, "what": true, "whats": true,
	"how": true, "who": true, "where": true, "when": true, "why": true,
	"with": true, "about": true, "does": true, "can": true, "are": true,
	"this": true, "that": true, "your": true, "you": true,
}
