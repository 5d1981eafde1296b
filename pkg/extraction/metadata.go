package extraction

import (
	"encoding/json"
	"maps"
)

// Metadata carries the well-known document properties plus a free-form
// section. Additional keys are flattened into the same JSON object.
type Metadata struct {
	Title      *string        `json:"title,omitempty"`
	Subject    *string        `json:"subject,omitempty"`
	Language   *string        `json:"language,omitempty"`
	CreatedAt  *string        `json:"created_at,omitempty"`
	ModifiedAt *string        `json:"modified_at,omitempty"`
	Authors    []string       `json:"authors,omitempty"`
	Keywords   []string       `json:"keywords,omitempty"`
	Pages      *PageStructure `json:"pages,omitempty"`
	Error      *ErrorMetadata `json:"error,omitempty"`

	Additional map[string]json.RawMessage `json:"-"`
}

// PageStructure describes page boundaries within the content.
type PageStructure struct {
	TotalCount int            `json:"total_count"`
	UnitType   string         `json:"unit_type"`
	Boundaries []PageBoundary `json:"boundaries,omitempty"`
}

// PageBoundary is a byte range of the content belonging to one page.
type PageBoundary struct {
	ByteStart  int `json:"byte_start"`
	ByteEnd    int `json:"byte_end"`
	PageNumber int `json:"page_number"`
}

// ErrorMetadata is attached by batch operations to results that failed.
type ErrorMetadata struct {
	ErrorType string `json:"error_type"`
	Message   string `json:"message"`
}

// metadataFields mirrors Metadata without the custom marshalers.
type metadataFields Metadata

var knownMetadataKeys = map[string]struct{}{
	"title": {}, "subject": {}, "language": {}, "created_at": {}, "modified_at": {},
	"authors": {}, "keywords": {}, "pages": {}, "error": {},
}

// MarshalJSON flattens Additional alongside the typed fields. Typed fields win
// on key collisions.
func (m Metadata) MarshalJSON() ([]byte, error) {
	typed, err := json.Marshal(metadataFields(m))
	if err != nil {
		return nil, err
	}
	if len(m.Additional) == 0 {
		return typed, nil
	}
	merged := make(map[string]json.RawMessage, len(m.Additional)+len(knownMetadataKeys))
	maps.Copy(merged, m.Additional)
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(typed, &fields); err != nil {
		return nil, err
	}
	maps.Copy(merged, fields)
	return json.Marshal(merged)
}

// UnmarshalJSON collects every key that is not a typed field into Additional.
func (m *Metadata) UnmarshalJSON(data []byte) error {
	var typed metadataFields
	if err := json.Unmarshal(data, &typed); err != nil {
		return err
	}
	var all map[string]json.RawMessage
	if err := json.Unmarshal(data, &all); err != nil {
		return err
	}
	*m = Metadata(typed)
	for k, v := range all {
		if _, known := knownMetadataKeys[k]; known {
			continue
		}
		if m.Additional == nil {
			m.Additional = make(map[string]json.RawMessage)
		}
		m.Additional[k] = v
	}
	return nil
}
