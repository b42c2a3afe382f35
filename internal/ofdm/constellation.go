package ofdm

import "math"

// Constellation maps bits to Gray-coded constellation points normalized to
// unit average power, so constellation metrics are comparable across runs and
// modulation orders.
type Constellation struct {
	Order  int
	points []complex128
	bits   int
}

// NewConstellation builds the constellation for modulation order 2 (BPSK),
// 4 (QPSK) or 16 (16-QAM).
func NewConstellation(order int) *Constellation {
	c := &Constellation{Order: order}
	switch order {
	case 2:
		c.bits = 1
		c.points = []complex128{complex(1, 0), complex(-1, 0)}
	case 16:
		c.bits = 4
		c.points = squareQAM(4)
	default:
		c.Order = 4
		c.bits = 2
		// Gray-coded QPSK, one bit per axis: bit 0 selects the real
		// sign, bit 1 the imaginary sign.
		c.points = []complex128{
			complex(1, 1),
			complex(-1, 1),
			complex(1, -1),
			complex(-1, -1),
		}
	}
	c.normalize()
	return c
}

// squareQAM labels grid position (row, col) with the Gray codes of row and
// col, so neighboring points differ in exactly one bit.
func squareQAM(side int) []complex128 {
	shift := 0
	for 1<<shift < side {
		shift++
	}
	points := make([]complex128, side*side)
	for row := 0; row < side; row++ {
		for col := 0; col < side; col++ {
			label := (row^row>>1)<<shift | (col ^ col>>1)
			points[label] = complex(float64(2*col-side+1), float64(2*row-side+1))
		}
	}
	return points
}

func (c *Constellation) normalize() {
	var power float64
	for _, p := range c.points {
		power += real(p)*real(p) + imag(p)*imag(p)
	}
	power /= float64(len(c.points))
	scale := 1.0 / math.Sqrt(power)
	for i := range c.points {
		c.points[i] *= complex(scale, 0)
	}
}

// BitsPerPoint is the number of bits each constellation point carries.
func (c *Constellation) BitsPerPoint() int { return c.bits }

// Map converts bits (one byte per bit, MSB first) to a constellation point.
func (c *Constellation) Map(bits []byte) complex128 {
	idx := 0
	for _, b := range bits {
		idx = idx<<1 | int(b&1)
	}
	if idx >= len(c.points) {
		idx = 0
	}
	return c.points[idx]
}

// Demap returns the bits of the nearest constellation point.
func (c *Constellation) Demap(sym complex128) []byte {
	best := 0
	bestDist := math.MaxFloat64
	for i, p := range c.points {
		d := real(sym-p)*real(sym-p) + imag(sym-p)*imag(sym-p)
		if d < bestDist {
			bestDist = d
			best = i
		}
	}
	bits := make([]byte, c.bits)
	for i := c.bits - 1; i >= 0; i-- {
		bits[i] = byte(best & 1)
		best >>= 1
	}
	return bits
}

// MapBits maps a bit slice onto constellation points. The length must be a
// multiple of BitsPerPoint.
func (c *Constellation) MapBits(bits []byte) []complex128 {
	n := len(bits) / c.bits
	out := make([]complex128, n)
	for i := 0; i < n; i++ {
		out[i] = c.Map(bits[i*c.bits : (i+1)*c.bits])
	}
	return out
}

// DemapSymbols converts received points back to hard bits.
func (c *Constellation) DemapSymbols(syms []complex128) []byte {
	out := make([]byte, 0, len(syms)*c.bits)
	for _, s := range syms {
		out = append(out, c.Demap(s)...)
	}
	return out
}
