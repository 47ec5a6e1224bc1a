// Package codec centralizes record and snapshot encoding.
//
// Persisted formats (snapshots, maintenance checkpoints, the event journal)
// store the codec name in their header; on load the codec is selected by
// name, so changing the default never breaks existing files.
package codec

import "fmt"

// Codec encodes/decodes values.
// Implementations must be safe for concurrent use.
type Codec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
	Name() string
}

// ByName returns a built-in codec by its stable name.
func ByName(name string) (Codec, bool) {
	switch name {
	case "json":
		return JSON{}, true
	case "gob":
		return Gob{}, true
	default:
		return nil, false
	}
}

// Default is the default codec used by the library.
var Default Codec = JSON{}

// MustMarshal is a helper for internal tests/benchmarks.
func MustMarshal(c Codec, v any) []byte {
	if c == nil {
		c = Default
	}
	b, err := c.Marshal(v)
	if err != nil {
		panic(fmt.Errorf("codec %s marshal failed: %w", c.Name(), err))
	}
	return b
}
