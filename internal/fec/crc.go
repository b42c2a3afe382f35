package fec

import "hash/crc32"

// crcBits is the length of the CRC-32 checksum appended to every transport
// block.
const crcBits = 32

// appendCRC returns bits with the IEEE CRC-32 of the packed payload appended,
// MSB first. len(bits) must be a multiple of 8.
func appendCRC(bits []byte) []byte {
	sum := crc32.ChecksumIEEE(packBits(bits))
	out := make([]byte, 0, len(bits)+crcBits)
	out = append(out, bits...)
	for i := crcBits - 1; i >= 0; i-- {
		out = append(out, byte(sum>>i&1))
	}
	return out
}

// splitCRC separates the payload from its checksum and reports whether the
// checksum matches.
func splitCRC(bits []byte) ([]byte, bool) {
	if len(bits) < crcBits {
		return nil, false
	}
	payload := bits[:len(bits)-crcBits]
	var sum uint32
	for _, b := range bits[len(bits)-crcBits:] {
		sum = sum<<1 | uint32(b&1)
	}
	return payload, sum == crc32.ChecksumIEEE(packBits(payload))
}
