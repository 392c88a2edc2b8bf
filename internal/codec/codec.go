// Package codec converts raw device blocks to pulse samples.
//
// A block is the device's native record: 4 channels × 4 metrics of signed
// 32-bit integers, little-endian, in the order rss, peak, avg, sum.
package codec

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/e7canasta/pulse-bridge/internal/types"
)

// BlockSize is the size in bytes of one device record
const BlockSize = 64

// ByteOrder is the wire byte order of device records
var ByteOrder = binary.LittleEndian

// ErrMalformedBlock is returned when a block is not exactly BlockSize bytes
var ErrMalformedBlock = errors.New("codec: malformed block")

// Decode parses one device record.
func Decode(block []byte) (types.PulseSample, error) {
	var s types.PulseSample
	if len(block) != BlockSize {
		return s, fmt.Errorf("%w: got %d bytes, want %d", ErrMalformedBlock, len(block), BlockSize)
	}

	for i, f := range types.SampleFields {
		v := int32(ByteOrder.Uint32(block[i*4:]))
		s.Channels[f.Channel].Set(f.Metric, v)
	}
	return s, nil
}

// Encode is the inverse of Decode
func Encode(s types.PulseSample) [BlockSize]byte {
	var block [BlockSize]byte
	for i, f := range types.SampleFields {
		ByteOrder.PutUint32(block[i*4:], uint32(f.Value(s)))
	}
	return block
}
