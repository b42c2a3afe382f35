// Package fec implements the channel coding of the sounding link: a CRC-32
// protected transport block wrapped in either a rate-1/2 convolutional code
// with hard-decision Viterbi decoding, or a Reed-Solomon block code.
//
// Bits are handled unpacked, one bit per byte element, matching the frame
// codec.
package fec

import "fmt"

// Coding scheme names accepted by New.
const (
	SchemeConvolutional = "conv"
	SchemeReedSolomon   = "rs"
)

// Coder turns transport blocks into frame-capacity coded bit vectors and
// back. Encode output always has exactly the frame capacity, padded with
// zero bits past the codeword; Decode ignores the padding.
type Coder interface {
	// TransportBlockBits is the payload size carried per frame, excluding
	// the CRC. Always a multiple of 8.
	TransportBlockBits() int
	// Encode appends the CRC to the transport block, encodes, and pads to
	// the frame capacity.
	Encode(info []byte) ([]byte, error)
	// Decode recovers the transport block and reports whether its CRC
	// checked out.
	Decode(coded []byte) ([]byte, bool, error)
}

// New builds the coder for one frame geometry. capacityBits is the coded bit
// capacity of a frame, num/den the code rate.
func New(scheme string, capacityBits, num, den int) (Coder, error) {
	if capacityBits <= 0 {
		return nil, fmt.Errorf("frame capacity must be positive, got %d", capacityBits)
	}
	if num <= 0 || den <= 0 || num > den {
		return nil, fmt.Errorf("invalid code rate %d/%d", num, den)
	}
	switch scheme {
	case SchemeConvolutional:
		return newConvCoder(capacityBits, num, den)
	case SchemeReedSolomon:
		return newRSCoder(capacityBits, num, den)
	default:
		return nil, fmt.Errorf("unknown coding scheme %q", scheme)
	}
}

// packBits packs unpacked bits MSB-first into bytes. The bit count must be a
// multiple of 8.
func packBits(bits []byte) []byte {
	out := make([]byte, len(bits)/8)
	for i, b := range bits {
		if b&1 != 0 {
			out[i/8] |= 0x80 >> (i % 8)
		}
	}
	return out
}

// unpackBits expands bytes to one bit per element, MSB first.
func unpackBits(data []byte) []byte {
	out := make([]byte, len(data)*8)
	for i := range out {
		out[i] = data[i/8] >> (7 - i%8) & 1
	}
	return out
}
