// Package persistence saves and loads self-describing snapshots of the
// full index state to any blob store.
//
// A snapshot file carries a small header naming its codec and compression,
// followed by one compressed block holding the codec-encoded Snapshot and a
// CRC32 trailer over everything before it. The header makes the file
// self-describing: a store written with gob and zstd loads correctly on a
// system configured for json, and vice versa.
package persistence

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"time"

	"github.com/hupe1980/geosem/basis"
	"github.com/hupe1980/geosem/blobstore"
	"github.com/hupe1980/geosem/codec"
	"github.com/hupe1980/geosem/model"
)

var magic = [4]byte{'G', 'S', 'E', 'M'}

const formatVersion = 1

// ErrChecksumMismatch is returned when the stored CRC32 does not match the
// snapshot contents. CRC32 detects accidental corruption, not tampering.
var ErrChecksumMismatch = errors.New("snapshot checksum mismatch")

// Snapshot is the complete serializable index state.
type Snapshot struct {
	CreatedAt  time.Time                           `json:"created_at"`
	Atoms      []model.Atom                        `json:"atoms"`
	Models     map[model.ModelID]int               `json:"models"`
	Embeddings map[model.ModelID][]model.Embedding `json:"embeddings"`
	Bases      map[model.ModelID][]*basis.Basis    `json:"bases"`
}

// Options contains configuration options for snapshot encoding.
type Options struct {
	// Codec encodes the snapshot body. Defaults to codec.Default.
	Codec codec.Codec
	// Compression applied to the encoded body.
	Compression Compression
}

// DefaultOptions contains the default configuration options for snapshots.
var DefaultOptions = Options{
	Codec:       codec.Default,
	Compression: CompressionZSTD,
}

// Save encodes, compresses and writes the snapshot under key.
func Save(ctx context.Context, store blobstore.Store, key string, snap *Snapshot, optFns ...func(o *Options)) error {
	opts := DefaultOptions

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Codec == nil {
		opts.Codec = codec.Default
	}

	body, err := opts.Codec.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	block, err := compressBlock(body, opts.Compression)
	if err != nil {
		return fmt.Errorf("compress snapshot: %w", err)
	}

	name := opts.Codec.Name()
	if len(name) > 255 {
		return fmt.Errorf("codec name too long: %s", name)
	}

	out := make([]byte, 0, len(magic)+3+len(name)+len(block)+crc32.Size)
	out = append(out, magic[:]...)
	out = append(out, formatVersion, byte(opts.Compression), byte(len(name)))
	out = append(out, name...)
	out = append(out, block...)
	out = binary.BigEndian.AppendUint32(out, crc32.ChecksumIEEE(out))

	if err := store.Put(ctx, key, out); err != nil {
		return fmt.Errorf("write snapshot %s: %w", key, err)
	}
	return nil
}

// Load reads, decompresses and decodes the snapshot stored under key. The
// codec is chosen from the file header, not the caller's configuration.
func Load(ctx context.Context, store blobstore.Store, key string) (*Snapshot, error) {
	data, err := store.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("read snapshot %s: %w", key, err)
	}

	if len(data) < len(magic)+3+crc32.Size {
		return nil, errors.New("snapshot too small for header")
	}
	if [4]byte(data[:4]) != magic {
		return nil, errors.New("not a snapshot file")
	}

	payload := data[:len(data)-crc32.Size]
	stored := binary.BigEndian.Uint32(data[len(data)-crc32.Size:])
	if crc32.ChecksumIEEE(payload) != stored {
		return nil, ErrChecksumMismatch
	}
	data = payload
	if data[4] != formatVersion {
		return nil, fmt.Errorf("unsupported snapshot format version: %d", data[4])
	}

	compression := Compression(data[5])
	nameLen := int(data[6])
	if len(data) < 7+nameLen {
		return nil, errors.New("snapshot header truncated")
	}

	name := string(data[7 : 7+nameLen])
	c, ok := codec.ByName(name)
	if !ok {
		return nil, fmt.Errorf("unknown snapshot codec: %s", name)
	}

	body, err := decompressBlock(data[7+nameLen:], compression)
	if err != nil {
		return nil, fmt.Errorf("decompress snapshot: %w", err)
	}

	var snap Snapshot
	if err := c.Unmarshal(body, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return &snap, nil
}
