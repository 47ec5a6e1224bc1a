package codec

import (
	"encoding/json"
)

// JSON is the standard-library JSON codec.
//
// JSON is the portable default: it survives schema evolution gracefully and
// keeps the event journal line format greppable. Use Gob for compact
// snapshot sections when portability across languages is not needed.
type JSON struct{}

// Marshal encodes the value to JSON.
func (JSON) Marshal(v any) ([]byte, error) { return json.Marshal(v) }

// Unmarshal decodes the JSON data into v.
func (JSON) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

// Name returns the unique name of the codec ("json").
func (JSON) Name() string { return "json" }
