package agent

import (
	"context"

	"magpie/internal/knowledge"
)

// KnowledgeSearcher adapts the knowledge store to the loop's Searcher
// interface.
type KnowledgeSearcher struct {
	Store *knowledge.Store
}

func (k KnowledgeSearcher) Search(ctx context.Context, query string, topK int) ([]SearchNote, error) {
	results, err := k.Store.Search(ctx, query, topK)
	if err != nil {
		return nil, err
	}
	notes := make([]SearchNote, len(results))
	for i, r := range results {
		source, _ := r.Metadata["source"].(string)
		notes[i] = SearchNote{
			Content:    r.Content,
			Source:     source,
			Similarity: r.Similarity,
		}
	}
	return notes, nil
}
