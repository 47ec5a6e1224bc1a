package persistence

import (
	"context"
	"encoding/binary"
	"hash/crc32"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/geosem/basis"
	"github.com/hupe1980/geosem/blobstore"
	"github.com/hupe1980/geosem/codec"
	"github.com/hupe1980/geosem/distance"
	"github.com/hupe1980/geosem/model"
)

func sampleSnapshot(t *testing.T) *Snapshot {
	t.Helper()

	b, err := basis.Seeded(1, 4, 42, distance.MetricL2)
	require.NoError(t, err)

	return &Snapshot{
		CreatedAt: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		Atoms: []model.Atom{
			{ID: 1, ContentHash: model.ContentHash{0xca, 0xfe}, Modality: "text", SizeBytes: 5, ReferenceCount: 2, IsActive: true},
			{ID: 2, ContentHash: model.ContentHash{0xbe, 0xef}, Modality: "image", SizeBytes: 9, ReferenceCount: 1, IsActive: true},
		},
		Models: map[model.ModelID]int{"m": 4},
		Embeddings: map[model.ModelID][]model.Embedding{
			"m": {
				{AtomID: 1, ModelID: "m", Dimension: 4, Vector: []float32{1, 0, 0, 0}, Point: model.Point3{0.5, 0.5, 0.5}, CurveValue: 17, BasisVersion: 1},
			},
		},
		Bases: map[model.ModelID][]*basis.Basis{"m": {b}},
	}
}

func TestSnapshot_RoundTrip(t *testing.T) {
	store := blobstore.NewMemory()
	want := sampleSnapshot(t)

	for _, tc := range []struct {
		name  string
		codec codec.Codec
		comp  Compression
	}{
		{"JSONZstd", codec.JSON{}, CompressionZSTD},
		{"GobLZ4", codec.Gob{}, CompressionLZ4},
		{"JSONUncompressed", codec.JSON{}, CompressionNone},
	} {
		t.Run(tc.name, func(t *testing.T) {
			key := "snapshots/" + tc.name

			err := Save(context.Background(), store, key, want, func(o *Options) {
				o.Codec = tc.codec
				o.Compression = tc.comp
			})
			require.NoError(t, err)

			got, err := Load(context.Background(), store, key)
			require.NoError(t, err)

			assert.Equal(t, want.Atoms, got.Atoms)
			assert.Equal(t, want.Models, got.Models)
			assert.Equal(t, want.Embeddings, got.Embeddings)
			require.Len(t, got.Bases["m"], 1)
			assert.Equal(t, want.Bases["m"][0].Version, got.Bases["m"][0].Version)
			assert.Equal(t, want.Bases["m"][0].Anchors, got.Bases["m"][0].Anchors)
		})
	}
}

func TestSnapshot_SelfDescribing(t *testing.T) {
	store := blobstore.NewMemory()
	want := sampleSnapshot(t)

	// Written with gob; the loader must pick the codec from the header.
	err := Save(context.Background(), store, "snap", want, func(o *Options) {
		o.Codec = codec.Gob{}
	})
	require.NoError(t, err)

	got, err := Load(context.Background(), store, "snap")
	require.NoError(t, err)
	assert.Equal(t, want.Atoms, got.Atoms)
}

func TestSnapshot_LoadErrors(t *testing.T) {
	store := blobstore.NewMemory()
	ctx := context.Background()

	t.Run("Missing", func(t *testing.T) {
		_, err := Load(ctx, store, "absent")
		assert.ErrorIs(t, err, blobstore.ErrNotFound)
	})

	t.Run("BadMagic", func(t *testing.T) {
		require.NoError(t, store.Put(ctx, "junk", []byte("definitely not a snapshot")))

		_, err := Load(ctx, store, "junk")
		assert.ErrorContains(t, err, "not a snapshot")
	})

	t.Run("Truncated", func(t *testing.T) {
		require.NoError(t, store.Put(ctx, "short", []byte{'G', 'S'}))

		_, err := Load(ctx, store, "short")
		assert.Error(t, err)
	})

	t.Run("UnknownCodec", func(t *testing.T) {
		data := append([]byte{'G', 'S', 'E', 'M', 1, 0, 3}, []byte("xml")...)
		data = append(data, 0, 0, 0, 0, 0, 0, 0, 0)
		data = binary.BigEndian.AppendUint32(data, crc32.ChecksumIEEE(data))
		require.NoError(t, store.Put(ctx, "codec", data))

		_, err := Load(ctx, store, "codec")
		assert.ErrorContains(t, err, "unknown snapshot codec")
	})

	t.Run("Corrupted", func(t *testing.T) {
		require.NoError(t, Save(ctx, store, "flipped", sampleSnapshot(t)))

		data, err := store.Get(ctx, "flipped")
		require.NoError(t, err)
		data[len(data)/2] ^= 0xff
		require.NoError(t, store.Put(ctx, "flipped", data))

		_, err = Load(ctx, store, "flipped")
		assert.ErrorIs(t, err, ErrChecksumMismatch)
	})
}

func TestCompression_RoundTrip(t *testing.T) {
	payload := []byte("aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaabbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")

	for _, c := range []Compression{CompressionNone, CompressionLZ4, CompressionZSTD} {
		block, err := compressBlock(payload, c)
		require.NoError(t, err)

		got, err := decompressBlock(block, c)
		require.NoError(t, err)
		assert.Equal(t, payload, got)
	}

	t.Run("TruncatedBlock", func(t *testing.T) {
		_, err := decompressBlock([]byte{1, 2, 3}, CompressionZSTD)
		assert.Error(t, err)
	})
}
