package ingest

import (
	"fmt"
	"strings"

	"github.com/nicktill/tinylens/pkg/config"
	"github.com/nicktill/tinylens/pkg/storage"
)

var (
	// ErrIndexEmpty is returned when a document names no index
	ErrIndexEmpty = fmt.Errorf("index cannot be empty")

	// ErrIndexTooLong is returned when an index name is too long
	ErrIndexTooLong = fmt.Errorf("index name too long (max %d chars)", config.MaxIndexNameLength)

	// ErrIndexReserved is returned for index names starting with a dot
	ErrIndexReserved = fmt.Errorf("index names starting with '.' are reserved")

	// ErrTooManyFields is returned when a document has too many fields
	ErrTooManyFields = fmt.Errorf("too many fields (max %d)", config.MaxFieldsPerDocument)

	// ErrFieldNameInvalid is returned for empty or overlong field names
	ErrFieldNameInvalid = fmt.Errorf("field name must be 1-%d chars", config.MaxFieldNameLength)

	// ErrFieldValueTooLong is returned when a string value is too long
	ErrFieldValueTooLong = fmt.Errorf("field value too long (max %d chars)", config.MaxStringFieldLength)

	// ErrFieldValueType is returned for nested objects and arrays
	ErrFieldValueType = fmt.Errorf("field values must be strings, numbers or booleans")

	// ErrTooManyDocuments is returned when an ingest request contains too many documents
	ErrTooManyDocuments = fmt.Errorf("too many documents in request (max %d)", config.MaxDocumentsPerRequest)
)

// ValidateDocument checks a document against the ingest limits.
func ValidateDocument(d storage.Document) error {
	switch {
	case d.Index == "":
		return ErrIndexEmpty
	case len(d.Index) > config.MaxIndexNameLength:
		return fmt.Errorf("%w: %q has %d chars", ErrIndexTooLong, d.Index, len(d.Index))
	case strings.HasPrefix(d.Index, "."):
		return fmt.Errorf("%w: %q", ErrIndexReserved, d.Index)
	}

	if len(d.Fields) > config.MaxFieldsPerDocument {
		return fmt.Errorf("%w: document has %d fields", ErrTooManyFields, len(d.Fields))
	}

	for k, v := range d.Fields {
		if k == "" || len(k) > config.MaxFieldNameLength {
			return fmt.Errorf("%w: %q", ErrFieldNameInvalid, k)
		}
		switch val := v.(type) {
		case nil, float64, bool:
		case string:
			if len(val) > config.MaxStringFieldLength {
				return fmt.Errorf("%w: field %q", ErrFieldValueTooLong, k)
			}
		default:
			return fmt.Errorf("%w: field %q is %T", ErrFieldValueType, k, v)
		}
	}
	return nil
}
