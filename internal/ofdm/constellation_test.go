package ofdm

import (
	"math"
	"testing"
)

func TestConstellationRoundTrip(t *testing.T) {
	for _, order := range []int{2, 4, 16} {
		c := NewConstellation(order)
		n := c.BitsPerPoint()
		for v := 0; v < order; v++ {
			bits := make([]byte, n)
			for i := 0; i < n; i++ {
				bits[i] = byte(v >> (n - 1 - i) & 1)
			}
			got := c.Demap(c.Map(bits))
			for i := range bits {
				if got[i] != bits[i] {
					t.Fatalf("order %d value %d: bit %d flipped", order, v, i)
				}
			}
		}
	}
}

func TestConstellationUnitPower(t *testing.T) {
	for _, order := range []int{2, 4, 16} {
		c := NewConstellation(order)
		var power float64
		for _, p := range c.points {
			power += real(p)*real(p) + imag(p)*imag(p)
		}
		power /= float64(len(c.points))
		if math.Abs(power-1) > 1e-12 {
			t.Errorf("order %d: average power %g, want 1", order, power)
		}
	}
}

func TestGrayNeighborsDifferByOneBit(t *testing.T) {
	// Adjacent points along one axis of the square 16-QAM grid differ in a
	// single bit, which keeps most symbol errors to one bit error.
	side := 4
	for col := 0; col+1 < side; col++ {
		a := col ^ col>>1
		b := (col + 1) ^ (col+1)>>1
		if popcount(a^b) != 1 {
			t.Errorf("columns %d and %d differ by %d bits", col, col+1, popcount(a^b))
		}
	}
}

func TestQPSKGrayLabeling(t *testing.T) {
	// Nearest neighbors on the QPSK circle share an axis sign, so their
	// labels must differ in exactly one bit.
	c := NewConstellation(4)
	for i := 0; i < 4; i++ {
		for j := i + 1; j < 4; j++ {
			d := c.points[i] - c.points[j]
			if real(d)*real(d)+imag(d)*imag(d) > 3 {
				continue // diagonal pair
			}
			if popcount(i^j) != 1 {
				t.Errorf("neighbors %02b and %02b differ by %d bits", i, j, popcount(i^j))
			}
		}
	}
}

func popcount(v int) int {
	n := 0
	for v != 0 {
		n += v & 1
		v >>= 1
	}
	return n
}
