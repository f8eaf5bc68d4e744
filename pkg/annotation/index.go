package annotation

import (
	"fmt"

	"github.com/blevesearch/bleve/v2"
)

// textIndex is an in-memory full-text index over annotation descriptions
// and option labels. It is rebuilt from the KV store on startup.
type textIndex struct {
	idx bleve.Index
}

func newTextIndex() (*textIndex, error) {
	idx, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	if err != nil {
		return nil, fmt.Errorf("failed to create annotation index: %w", err)
	}
	return &textIndex{idx: idx}, nil
}

func (t *textIndex) put(a Annotation) error {
	if a.Deleted {
		return t.remove(a.ID)
	}
	doc := map[string]interface{}{
		"description":    a.Description,
		"annotationType": string(a.AnnotationType),
		"indicator":      Label(IndicatorOptions, string(a.Indicator)),
		"recommendation": Label(RecommendationOptions, string(a.Recommendation)),
		"status":         string(a.Status),
		"sourceIndex":    a.SourceIndex,
		"filterValue":    a.FilterValue,
	}
	return t.idx.Index(a.ID, doc)
}

func (t *textIndex) remove(id string) error {
	return t.idx.Delete(id)
}

// match returns the ids whose indexed text matches q.
func (t *textIndex) match(q string, limit int) (map[string]struct{}, error) {
	req := bleve.NewSearchRequestOptions(bleve.NewMatchQuery(q), limit, 0, false)
	res, err := t.idx.Search(req)
	if err != nil {
		return nil, fmt.Errorf("annotation text search failed: %w", err)
	}
	ids := make(map[string]struct{}, len(res.Hits))
	for _, hit := range res.Hits {
		ids[hit.ID] = struct{}{}
	}
	return ids, nil
}

func (t *textIndex) close() error {
	return t.idx.Close()
}
