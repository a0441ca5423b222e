package arrow

import (
	"bytes"
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// IPCWriter writes Arrow record batches as IPC streams.
type IPCWriter struct {
	allocator memory.Allocator
	converter *Converter
}

// NewIPCWriter creates a new IPCWriter.
func NewIPCWriter() *IPCWriter {
	return &IPCWriter{
		allocator: memory.DefaultAllocator,
		converter: NewConverter(),
	}
}

// SerializeToIPC serializes one record batch to an IPC stream.
func (w *IPCWriter) SerializeToIPC(record arrow.Record) ([]byte, error) {
	var buf bytes.Buffer

	writer := ipc.NewWriter(&buf, ipc.WithSchema(record.Schema()), ipc.WithAllocator(w.allocator))
	defer writer.Close()

	if err := writer.Write(record); err != nil {
		return nil, fmt.Errorf("failed to write record: %w", err)
	}

	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close writer: %w", err)
	}

	return buf.Bytes(), nil
}

// DeserializeFromIPC reads the first record batch of an IPC stream. The
// caller must Release the result.
func (w *IPCWriter) DeserializeFromIPC(data []byte) (arrow.Record, error) {
	reader, err := ipc.NewReader(bytes.NewReader(data), ipc.WithAllocator(w.allocator))
	if err != nil {
		return nil, fmt.Errorf("failed to create reader: %w", err)
	}
	defer reader.Release()

	if !reader.Next() {
		if reader.Err() != nil {
			return nil, reader.Err()
		}
		return nil, fmt.Errorf("no records in IPC data")
	}

	record := reader.Record()
	record.Retain() // the reader releases its reference on Next/Release

	return record, nil
}

// EncodePeers builds and serializes the peer table.
func (w *IPCWriter) EncodePeers(rows []PeerRow) ([]byte, error) {
	record := w.converter.PeersToRecord(rows)
	defer record.Release()
	return w.SerializeToIPC(record)
}

// DecodePeers reads a stream written by EncodePeers.
func (w *IPCWriter) DecodePeers(data []byte) ([]PeerRow, error) {
	record, err := w.DeserializeFromIPC(data)
	if err != nil {
		return nil, err
	}
	defer record.Release()
	return w.converter.RecordToPeers(record)
}

// EncodeGroups builds and serializes the group table.
func (w *IPCWriter) EncodeGroups(rows []GroupRow) ([]byte, error) {
	record := w.converter.GroupsToRecord(rows)
	defer record.Release()
	return w.SerializeToIPC(record)
}

// DecodeGroups reads a stream written by EncodeGroups.
func (w *IPCWriter) DecodeGroups(data []byte) ([]GroupRow, error) {
	record, err := w.DeserializeFromIPC(data)
	if err != nil {
		return nil, err
	}
	defer record.Release()
	return w.converter.RecordToGroups(record)
}
