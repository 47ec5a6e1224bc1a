package codec

import (
	"bytes"
	"encoding/gob"
)

// Gob is a binary codec backed by encoding/gob.
//
// Denser than JSON for float-heavy records (embedding vectors), at the cost
// of being Go-specific. Snapshots written with Gob record the codec name and
// can only be opened by Go readers.
type Gob struct{}

// Marshal encodes the value with gob.
func (Gob) Marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Unmarshal decodes the gob data into v.
func (Gob) Unmarshal(data []byte, v any) error {
	return gob.NewDecoder(bytes.NewReader(data)).Decode(v)
}

// Name returns the unique name of the codec ("gob").
func (Gob) Name() string { return "gob" }
