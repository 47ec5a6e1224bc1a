package embedding

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/geosem/model"
)

func TestStore_RegisterModel(t *testing.T) {
	s := New()

	require.NoError(t, s.RegisterModel("text-embed-v1", 128))

	t.Run("Idempotent", func(t *testing.T) {
		require.NoError(t, s.RegisterModel("text-embed-v1", 128))
		assert.Len(t, s.Models(), 1)
	})

	t.Run("ConflictingDimension", func(t *testing.T) {
		err := s.RegisterModel("text-embed-v1", 256)

		var conflict *ErrModelConflict
		require.ErrorAs(t, err, &conflict)
		assert.Equal(t, 128, conflict.Registered)
		assert.Equal(t, 256, conflict.Requested)
	})

	t.Run("InvalidDimension", func(t *testing.T) {
		assert.Error(t, s.RegisterModel("bad", 0))
	})

	dim, err := s.Dimension("text-embed-v1")
	require.NoError(t, err)
	assert.Equal(t, 128, dim)

	_, err = s.Dimension("absent")
	var unknown *ErrUnknownModel
	assert.ErrorAs(t, err, &unknown)
}

func TestStore_PutGet(t *testing.T) {
	s := New()
	require.NoError(t, s.RegisterModel("m", 3))

	row := &model.Embedding{
		AtomID:       1,
		ModelID:      "m",
		Vector:       []float32{1, 2, 3},
		Point:        model.Point3{0.1, 0.2, 0.3},
		CurveValue:   42,
		BasisVersion: 1,
	}
	require.NoError(t, s.Put(row))

	got, err := s.Get(1, "m")
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2, 3}, got.Vector)
	assert.Equal(t, 3, got.Dimension)
	assert.Equal(t, uint64(1), got.BasisVersion)

	t.Run("ReturnsCopy", func(t *testing.T) {
		got.Vector[0] = 99

		again, err := s.Get(1, "m")
		require.NoError(t, err)
		assert.Equal(t, float32(1), again.Vector[0])
	})

	t.Run("DimensionMismatchLeavesStoreUntouched", func(t *testing.T) {
		err := s.Put(&model.Embedding{AtomID: 2, ModelID: "m", Vector: []float32{1, 2}})

		var mismatch *ErrDimensionMismatch
		require.ErrorAs(t, err, &mismatch)
		assert.Equal(t, 3, mismatch.Expected)
		assert.Equal(t, 2, mismatch.Actual)
		assert.Equal(t, 1, s.Count("m"))
	})

	t.Run("UnknownModel", func(t *testing.T) {
		err := s.Put(&model.Embedding{AtomID: 3, ModelID: "absent", Vector: []float32{1}})

		var unknown *ErrUnknownModel
		assert.ErrorAs(t, err, &unknown)
	})

	t.Run("NotFound", func(t *testing.T) {
		_, err := s.Get(99, "m")

		var notFound *ErrNotFound
		assert.ErrorAs(t, err, &notFound)
	})
}

func TestStore_UpdateProjection(t *testing.T) {
	s := New()
	require.NoError(t, s.RegisterModel("m", 2))
	require.NoError(t, s.Put(&model.Embedding{AtomID: 1, ModelID: "m", Vector: []float32{1, 0}, BasisVersion: 1}))

	require.NoError(t, s.UpdateProjection(1, "m", model.Point3{1, 1, 1}, model.Bucket3{2, 2, 2}, 77, 2))

	got, err := s.Get(1, "m")
	require.NoError(t, err)
	assert.Equal(t, model.Point3{1, 1, 1}, got.Point)
	assert.Equal(t, model.Bucket3{2, 2, 2}, got.Bucket)
	assert.Equal(t, uint64(77), got.CurveValue)
	assert.Equal(t, uint64(2), got.BasisVersion)

	var notFound *ErrNotFound
	assert.ErrorAs(t, s.UpdateProjection(9, "m", model.Point3{}, model.Bucket3{}, 0, 2), &notFound)
}

func TestStore_VersionTracking(t *testing.T) {
	s := New()
	require.NoError(t, s.RegisterModel("m", 1))

	for i := range 5 {
		version := uint64(1)
		if i >= 3 {
			version = 2
		}
		require.NoError(t, s.Put(&model.Embedding{
			AtomID:       model.AtomID(i + 1),
			ModelID:      "m",
			Vector:       []float32{float32(i)},
			BasisVersion: version,
		}))
	}

	counts := s.CountByVersion("m")
	assert.Equal(t, map[uint64]int{1: 3, 2: 2}, counts)

	stale, err := s.StaleIDs("m", 2)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), stale.GetCardinality())
	assert.True(t, stale.Contains(1))
	assert.False(t, stale.Contains(4))

	ids, err := s.IDBitmap("m")
	require.NoError(t, err)
	assert.Equal(t, uint64(5), ids.GetCardinality())
}

func TestStore_SnapshotAndDelete(t *testing.T) {
	s := New()
	require.NoError(t, s.RegisterModel("m", 1))
	require.NoError(t, s.Put(&model.Embedding{AtomID: 1, ModelID: "m", Vector: []float32{1}}))
	require.NoError(t, s.Put(&model.Embedding{AtomID: 2, ModelID: "m", Vector: []float32{2}}))

	rows, err := s.Snapshot("m")
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	s.Delete(1, "m")
	assert.Equal(t, 1, s.Count("m"))

	// Deleting again is a no-op.
	s.Delete(1, "m")
	assert.Equal(t, 1, s.Count("m"))
}
