package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	Name   string
	Vector []float32
}

func TestByName(t *testing.T) {
	for _, name := range []string{"json", "gob"} {
		c, ok := ByName(name)
		require.True(t, ok)
		assert.Equal(t, name, c.Name())
	}

	_, ok := ByName("msgpack")
	assert.False(t, ok)
}

func TestRoundTrip(t *testing.T) {
	in := sample{Name: "a", Vector: []float32{1, 2.5, -3}}

	for _, c := range []Codec{JSON{}, Gob{}} {
		t.Run(c.Name(), func(t *testing.T) {
			data, err := c.Marshal(in)
			require.NoError(t, err)

			var out sample
			require.NoError(t, c.Unmarshal(data, &out))
			assert.Equal(t, in, out)
		})
	}
}

func TestMustMarshalNilCodec(t *testing.T) {
	assert.NotEmpty(t, MustMarshal(nil, sample{Name: "x"}))
}
