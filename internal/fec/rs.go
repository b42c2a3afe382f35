package fec

import (
	"fmt"

	"github.com/klauspost/reedsolomon"
)

// rsCoder wraps a Reed-Solomon block code with one-byte shards, so each
// codeword byte is its own shard and byte erasures can be reconstructed.
type rsCoder struct {
	capacity    int
	tb          int
	dataShards  int
	totalShards int
	enc         reedsolomon.Encoder
}

func newRSCoder(capacityBits, num, den int) (*rsCoder, error) {
	total := capacityBits / 8
	if total > 255 {
		total = 255
	}
	data := total * num / den
	parity := total - data
	if data <= 0 || parity <= 0 {
		return nil, fmt.Errorf("frame capacity %d too small for reed-solomon at rate %d/%d", capacityBits, num, den)
	}
	tb := data*8 - crcBits
	if tb <= 0 {
		return nil, fmt.Errorf("frame capacity %d too small for a transport block", capacityBits)
	}
	enc, err := reedsolomon.New(data, parity)
	if err != nil {
		return nil, fmt.Errorf("reed-solomon init: %w", err)
	}
	return &rsCoder{
		capacity:    capacityBits,
		tb:          tb,
		dataShards:  data,
		totalShards: total,
		enc:         enc,
	}, nil
}

func (c *rsCoder) TransportBlockBits() int { return c.tb }

func (c *rsCoder) Encode(info []byte) ([]byte, error) {
	if len(info) != c.tb {
		return nil, fmt.Errorf("transport block is %d bits, want %d", len(info), c.tb)
	}
	data := packBits(appendCRC(info))
	shards := make([][]byte, c.totalShards)
	for i := 0; i < c.dataShards; i++ {
		shards[i] = []byte{data[i]}
	}
	for i := c.dataShards; i < c.totalShards; i++ {
		shards[i] = make([]byte, 1)
	}
	if err := c.enc.Encode(shards); err != nil {
		return nil, fmt.Errorf("reed-solomon encode: %w", err)
	}
	word := make([]byte, c.totalShards)
	for i, s := range shards {
		word[i] = s[0]
	}
	out := unpackBits(word)
	for len(out) < c.capacity {
		out = append(out, 0)
	}
	return out, nil
}

func (c *rsCoder) Decode(coded []byte) ([]byte, bool, error) {
	return c.DecodeErasures(coded, nil)
}

// DecodeErasures reconstructs the codeword with the given shard indices
// treated as erased, then checks the CRC. Without erasure information the
// code only detects corruption.
func (c *rsCoder) DecodeErasures(coded []byte, erased []int) ([]byte, bool, error) {
	if len(coded) < c.totalShards*8 {
		return nil, false, fmt.Errorf("codeword is %d bits, want at least %d", len(coded), c.totalShards*8)
	}
	word := packBits(coded[:c.totalShards*8])
	shards := make([][]byte, c.totalShards)
	for i := range shards {
		shards[i] = []byte{word[i]}
	}
	if len(erased) > 0 {
		for _, i := range erased {
			if i >= 0 && i < c.totalShards {
				shards[i] = nil
			}
		}
		if err := c.enc.Reconstruct(shards); err != nil {
			return nil, false, fmt.Errorf("reed-solomon reconstruct: %w", err)
		}
	}
	data := make([]byte, c.dataShards)
	for i := 0; i < c.dataShards; i++ {
		data[i] = shards[i][0]
	}
	info, ok := splitCRC(unpackBits(data))
	return info, ok, nil
}
