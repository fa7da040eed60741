package rules

import (
	"encoding/json"
	"fmt"
)

// Parse decodes a configuration document from its JSON text.
func Parse(data []byte) (*Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	if doc.Settings == nil {
		doc.Settings = map[string]*Setting{}
	}
	for key, setting := range doc.Settings {
		if setting == nil {
			return nil, fmt.Errorf("%w: setting %q is null", ErrInvalidDocument, key)
		}
	}
	return &doc, nil
}
