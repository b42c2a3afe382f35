package fec

import (
	"fmt"
	"math/bits"
)

// Industry-standard K=7 rate-1/2 code, generator polynomials 171 and 133
// octal. The encoder is terminated with convTail zero bits so the decoder
// trellis ends in the all-zero state.
const (
	convConstraint = 7
	convStates     = 1 << (convConstraint - 1)
	convTail       = convConstraint - 1
	convPolyA      = 0o171
	convPolyB      = 0o133
)

type convCoder struct {
	capacity int
	tb       int
	// outs[word] holds the two output bits for the 7-bit register value word.
	outs [2 * convStates][2]byte
}

func newConvCoder(capacityBits, num, den int) (*convCoder, error) {
	if num*2 != den {
		return nil, fmt.Errorf("convolutional coding supports rate 1/2 only, got %d/%d", num, den)
	}
	info := capacityBits / 2
	tb := (info - crcBits - convTail) / 8 * 8
	if tb <= 0 {
		return nil, fmt.Errorf("frame capacity %d too small for a transport block", capacityBits)
	}
	c := &convCoder{capacity: capacityBits, tb: tb}
	for word := range c.outs {
		c.outs[word][0] = byte(bits.OnesCount(uint(word)&convPolyA) & 1)
		c.outs[word][1] = byte(bits.OnesCount(uint(word)&convPolyB) & 1)
	}
	return c, nil
}

func (c *convCoder) TransportBlockBits() int { return c.tb }

func (c *convCoder) Encode(info []byte) ([]byte, error) {
	if len(info) != c.tb {
		return nil, fmt.Errorf("transport block is %d bits, want %d", len(info), c.tb)
	}
	payload := appendCRC(info)
	payload = append(payload, make([]byte, convTail)...)

	out := make([]byte, 0, c.capacity)
	state := 0
	for _, u := range payload {
		word := int(u&1)<<convTail | state
		out = append(out, c.outs[word][0], c.outs[word][1])
		state = word >> 1
	}
	// Zero-pad the unused tail of the frame.
	for len(out) < c.capacity {
		out = append(out, 0)
	}
	return out, nil
}

// Decode runs a hard-decision Viterbi pass over the terminated trellis.
func (c *convCoder) Decode(coded []byte) ([]byte, bool, error) {
	steps := c.tb + crcBits + convTail
	if len(coded) < 2*steps {
		return nil, false, fmt.Errorf("codeword is %d bits, want at least %d", len(coded), 2*steps)
	}

	const inf = 1 << 30
	metric := make([]int, convStates)
	next := make([]int, convStates)
	for s := 1; s < convStates; s++ {
		metric[s] = inf
	}
	// decisions[t][n] is the predecessor low bit chosen for state n at step t.
	decisions := make([][]byte, steps)

	for t := 0; t < steps; t++ {
		r0 := coded[2*t] & 1
		r1 := coded[2*t+1] & 1
		dec := make([]byte, convStates)
		for n := 0; n < convStates; n++ {
			next[n] = inf
		}
		for s := 0; s < convStates; s++ {
			if metric[s] >= inf {
				continue
			}
			for u := 0; u <= 1; u++ {
				word := u<<convTail | s
				cost := metric[s]
				if c.outs[word][0] != r0 {
					cost++
				}
				if c.outs[word][1] != r1 {
					cost++
				}
				n := word >> 1
				if cost < next[n] {
					next[n] = cost
					dec[n] = byte(s & 1)
				}
			}
		}
		metric, next = next, metric
		decisions[t] = dec
	}

	// The tail drives the encoder back to state zero; trace from there.
	state := 0
	payload := make([]byte, steps)
	for t := steps - 1; t >= 0; t-- {
		payload[t] = byte(state >> (convTail - 1) & 1)
		state = (state&(convStates/2-1))<<1 | int(decisions[t][state])
	}

	info, ok := splitCRC(payload[:c.tb+crcBits])
	return info, ok, nil
}
