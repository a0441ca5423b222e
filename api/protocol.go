package api

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

// MaxFrameSize is the largest frame either side accepts (16MB).
const MaxFrameSize = 16 * 1024 * 1024

// Snapshot requests.
const (
	RequestPeers  = "peers"
	RequestGroups = "groups"
)

// errorPrefix starts every error frame.
var errorPrefix = []byte("ERR ")

// ErrFrameTooLarge is returned when a frame exceeds MaxFrameSize.
var ErrFrameTooLarge = errors.New("frame size exceeds maximum allowed size")

// ErrRemote wraps an error frame returned by the server.
var ErrRemote = errors.New("snapshot server error")

// ReadFrame reads a length-prefixed frame.
// Format: [4 bytes length (BigEndian)] [N bytes payload]
func ReadFrame(r io.Reader) ([]byte, error) {
	var length uint32
	if err := binary.Read(r, binary.BigEndian, &length); err != nil {
		return nil, err
	}

	if length > MaxFrameSize {
		return nil, fmt.Errorf("%w: %d bytes (max: %d)", ErrFrameTooLarge, length, MaxFrameSize)
	}

	buf := make([]byte, length)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("failed to read frame body: %w", err)
	}

	return buf, nil
}

// WriteFrame writes a length-prefixed frame.
func WriteFrame(w io.Writer, data []byte) error {
	if len(data) > MaxFrameSize || uint64(len(data)) > math.MaxUint32 {
		return fmt.Errorf("%w: %d bytes (max: %d)", ErrFrameTooLarge, len(data), MaxFrameSize)
	}

	length := uint32(len(data)) // #nosec G115 - bounds checked above
	if err := binary.Write(w, binary.BigEndian, length); err != nil {
		return fmt.Errorf("failed to write frame length: %w", err)
	}

	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("failed to write frame body: %w", err)
	}

	return nil
}

// errorFrame builds the payload of an error response.
func errorFrame(reason string) []byte {
	return append(append([]byte(nil), errorPrefix...), reason...)
}

// parseErrorFrame returns the reason carried by an error frame.
func parseErrorFrame(data []byte) (string, bool) {
	if !bytes.HasPrefix(data, errorPrefix) {
		return "", false
	}
	return string(data[len(errorPrefix):]), true
}
