package export

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/nicktill/tinylens/pkg/annotation"
)

// importMutationPrefix scopes mutation ids derived from exported ids.
const importMutationPrefix = "import:"

// Importer handles importing annotations from backup files
type Importer struct {
	store annotation.Store
	now   func() time.Time
}

// NewImporter creates a new importer
func NewImporter(store annotation.Store) *Importer {
	return &Importer{store: store, now: time.Now}
}

// ImportResult contains stats about the import operation
type ImportResult struct {
	AnnotationsImported int       `json:"annotations_imported"`
	Skipped             int       `json:"skipped"`
	TimeRange           string    `json:"time_range"`
	ImportedAt          time.Time `json:"imported_at"`
	Errors              []string  `json:"errors,omitempty"`
}

// ImportFromJSON imports annotations from a JSON export. Invalid
// annotations are skipped and reported in the result.
func (im *Importer) ImportFromJSON(ctx context.Context, r io.Reader) (*ImportResult, error) {
	var doc Document
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode JSON: %w", err)
	}
	if doc.Metadata.Version != "" && doc.Metadata.Version != FormatVersion {
		return nil, fmt.Errorf("unsupported export version %q", doc.Metadata.Version)
	}

	result := &ImportResult{
		TimeRange: fmt.Sprintf("%s to %s",
			doc.Metadata.StartTime.Format(time.RFC3339), doc.Metadata.EndTime.Format(time.RFC3339)),
	}

	for i, a := range doc.Annotations {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if a.Deleted {
			result.Skipped++
			continue
		}

		a.History = nil
		if a.ID != "" {
			a.MutationID = importMutationPrefix + a.ID
		}
		if _, err := im.store.Create(ctx, a); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("annotation %d (%s): %v", i, a.ID, err))
			continue
		}
		result.AnnotationsImported++
	}

	result.ImportedAt = im.now().UTC()
	return result, nil
}
