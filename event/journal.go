package event

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/pierrec/lz4/v4"

	"github.com/hupe1980/geosem/codec"
)

// Record framing: [UncompressedSize uint32][CompressedSize uint32][Data].
// CompressedSize == 0 means the payload is stored raw; small records rarely
// compress, so the raw path is the common one.
const recordHeaderSize = 8

// Journal appends every event to a local append-only file, one LZ4
// block-compressed codec-encoded record per entry. It is the durable audit
// trail; replay order equals emission order.
type Journal struct {
	mu     sync.Mutex
	file   *os.File
	writer *bufio.Writer
	codec  codec.Codec
}

// NewJournal opens (or creates) the journal at path in append mode.
func NewJournal(path string, c codec.Codec) (*Journal, error) {
	if c == nil {
		c = codec.Default
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}

	return &Journal{
		file:   file,
		writer: bufio.NewWriter(file),
		codec:  c,
	}, nil
}

// Notify implements Notifier.
func (j *Journal) Notify(_ context.Context, e Event) error {
	data, err := j.codec.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	record := frameRecord(data)

	j.mu.Lock()
	defer j.mu.Unlock()

	_, err = j.writer.Write(record)
	return err
}

// Sync flushes buffered events and fsyncs the file.
func (j *Journal) Sync() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if err := j.writer.Flush(); err != nil {
		return err
	}
	return j.file.Sync()
}

// Close flushes and closes the journal.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if err := j.writer.Flush(); err != nil {
		return err
	}
	return j.file.Close()
}

func frameRecord(data []byte) []byte {
	bound := lz4.CompressBlockBound(len(data))
	compressed := make([]byte, bound)

	n, err := lz4.CompressBlock(data, compressed, nil)
	if err != nil || n == 0 || n >= len(data) {
		// Incompressible, store raw.
		record := make([]byte, recordHeaderSize+len(data))
		binary.LittleEndian.PutUint32(record[0:], uint32(len(data)))
		binary.LittleEndian.PutUint32(record[4:], 0)
		copy(record[recordHeaderSize:], data)
		return record
	}

	record := make([]byte, recordHeaderSize+n)
	binary.LittleEndian.PutUint32(record[0:], uint32(len(data)))
	binary.LittleEndian.PutUint32(record[4:], uint32(n))
	copy(record[recordHeaderSize:], compressed[:n])
	return record
}

// ReplayJournal reads all events from a journal file in emission order.
func ReplayJournal(path string, c codec.Codec) ([]Event, error) {
	if c == nil {
		c = codec.Default
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var events []Event

	reader := bufio.NewReader(file)
	header := make([]byte, recordHeaderSize)

	for {
		if _, err := io.ReadFull(reader, header); err != nil {
			if err == io.EOF {
				return events, nil
			}
			return events, fmt.Errorf("corrupt journal header: %w", err)
		}

		uncompressedSize := binary.LittleEndian.Uint32(header[0:])
		compressedSize := binary.LittleEndian.Uint32(header[4:])

		payload := make([]byte, uncompressedSize)
		if compressedSize == 0 {
			if _, err := io.ReadFull(reader, payload); err != nil {
				return events, fmt.Errorf("corrupt journal record: %w", err)
			}
		} else {
			compressed := make([]byte, compressedSize)
			if _, err := io.ReadFull(reader, compressed); err != nil {
				return events, fmt.Errorf("corrupt journal record: %w", err)
			}
			n, err := lz4.UncompressBlock(compressed, payload)
			if err != nil {
				return events, fmt.Errorf("corrupt journal record: %w", err)
			}
			if uint32(n) != uncompressedSize {
				return events, errors.New("corrupt journal record: size mismatch")
			}
		}

		var e Event
		if err := c.Unmarshal(payload, &e); err != nil {
			return events, fmt.Errorf("corrupt journal entry: %w", err)
		}
		events = append(events, e)
	}
}
