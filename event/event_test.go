package event

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/geosem/codec"
	"github.com/hupe1980/geosem/model"
)

func sampleEvent(typ Type, id uint64) Event {
	return Event{
		Type:           typ,
		AtomID:         model.AtomID(1000 + id),
		ContentHash:    "deadbeef",
		Modality:       "text",
		SizeBytes:      42,
		ReferenceCount: int64(id),
		At:             time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestMulti(t *testing.T) {
	var got []Type
	ok := NotifierFunc(func(_ context.Context, e Event) error {
		got = append(got, e.Type)
		return nil
	})
	failing := NotifierFunc(func(context.Context, Event) error {
		return errors.New("broker down")
	})

	t.Run("FanOut", func(t *testing.T) {
		got = nil
		m := Multi{ok, ok}

		require.NoError(t, m.Notify(context.Background(), sampleEvent(TypeAtomCreated, 1)))
		assert.Equal(t, []Type{TypeAtomCreated, TypeAtomCreated}, got)
	})

	t.Run("FirstErrorAfterAllAttempted", func(t *testing.T) {
		got = nil
		m := Multi{failing, ok}

		err := m.Notify(context.Background(), sampleEvent(TypeAtomReleased, 2))
		assert.EqualError(t, err, "broker down")
		assert.Len(t, got, 1, "remaining notifiers still run")
	})
}

func TestChan(t *testing.T) {
	c := NewChan(2)

	for i := range 3 {
		require.NoError(t, c.Notify(context.Background(), sampleEvent(TypeAtomCreated, uint64(i))))
	}

	// The third event was dropped, never blocked.
	assert.Len(t, c.Events(), 2)

	first := <-c.Events()
	assert.Equal(t, uint64(1000), uint64(first.AtomID))
}

func TestJournal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.log")

	j, err := NewJournal(path, codec.JSON{})
	require.NoError(t, err)

	want := []Event{
		sampleEvent(TypeAtomCreated, 1),
		sampleEvent(TypeAtomReferenced, 2),
		sampleEvent(TypeAtomReleased, 3),
	}

	for _, e := range want {
		require.NoError(t, j.Notify(context.Background(), e))
	}

	require.NoError(t, j.Sync())
	require.NoError(t, j.Close())

	got, err := ReplayJournal(path, codec.JSON{})
	require.NoError(t, err)
	assert.Equal(t, want, got)

	t.Run("AppendAcrossReopen", func(t *testing.T) {
		j2, err := NewJournal(path, codec.JSON{})
		require.NoError(t, err)

		extra := sampleEvent(TypeAtomCreated, 4)
		require.NoError(t, j2.Notify(context.Background(), extra))
		require.NoError(t, j2.Close())

		got, err := ReplayJournal(path, codec.JSON{})
		require.NoError(t, err)
		require.Len(t, got, 4)
		assert.Equal(t, extra, got[3])
	})

	t.Run("MissingFile", func(t *testing.T) {
		_, err := ReplayJournal(filepath.Join(t.TempDir(), "absent.log"), nil)
		assert.Error(t, err)
	})
}

func TestJournal_LargeRecordIsCompressed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.log")

	j, err := NewJournal(path, codec.JSON{})
	require.NoError(t, err)

	e := sampleEvent(TypeAtomCreated, 1)
	for range 6 {
		e.ContentHash += e.ContentHash
	}

	require.NoError(t, j.Notify(context.Background(), e))
	require.NoError(t, j.Close())

	got, err := ReplayJournal(path, codec.JSON{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, e.ContentHash, got[0].ContentHash)
}
