package fec

import (
	"math/rand"
	"testing"
)

// qpskCapacity is the coded capacity of the default frame geometry:
// 64 data subcarriers, 2 bits each, 30 symbols.
const qpskCapacity = 64 * 2 * 30

func randomInfoBits(n int, seed int64) []byte {
	rng := rand.New(rand.NewSource(seed))
	bits := make([]byte, n)
	for i := range bits {
		bits[i] = byte(rng.Intn(2))
	}
	return bits
}

func TestTransportBlockSizing(t *testing.T) {
	cases := []struct {
		scheme   string
		capacity int
		want     int
	}{
		{SchemeConvolutional, qpskCapacity, 1880},
		{SchemeConvolutional, 1920, 920}, // BPSK
		{SchemeReedSolomon, 1920, 928},
	}
	for _, tc := range cases {
		c, err := New(tc.scheme, tc.capacity, 1, 2)
		if err != nil {
			t.Fatalf("%s/%d: %v", tc.scheme, tc.capacity, err)
		}
		if got := c.TransportBlockBits(); got != tc.want {
			t.Errorf("%s/%d: transport block %d bits, want %d", tc.scheme, tc.capacity, got, tc.want)
		}
		if got := c.TransportBlockBits(); got%8 != 0 {
			t.Errorf("%s/%d: transport block %d not byte aligned", tc.scheme, tc.capacity, got)
		}
	}
}

func TestNewRejectsBadInput(t *testing.T) {
	cases := []struct {
		name     string
		scheme   string
		capacity int
		num, den int
	}{
		{"unknown scheme", "turbo", qpskCapacity, 1, 2},
		{"conv rate 2/3", SchemeConvolutional, qpskCapacity, 2, 3},
		{"zero capacity", SchemeConvolutional, 0, 1, 2},
		{"tiny capacity", SchemeConvolutional, 64, 1, 2},
		{"rate above one", SchemeConvolutional, qpskCapacity, 3, 2},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := New(tc.scheme, tc.capacity, tc.num, tc.den); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestRoundTripClean(t *testing.T) {
	for _, scheme := range []string{SchemeConvolutional, SchemeReedSolomon} {
		c, err := New(scheme, qpskCapacity, 1, 2)
		if err != nil {
			t.Fatal(err)
		}
		info := randomInfoBits(c.TransportBlockBits(), 17)
		coded, err := c.Encode(info)
		if err != nil {
			t.Fatalf("%s: Encode: %v", scheme, err)
		}
		if len(coded) != qpskCapacity {
			t.Fatalf("%s: codeword %d bits, want %d", scheme, len(coded), qpskCapacity)
		}
		got, ok, err := c.Decode(coded)
		if err != nil {
			t.Fatalf("%s: Decode: %v", scheme, err)
		}
		if !ok {
			t.Fatalf("%s: CRC failed on clean codeword", scheme)
		}
		for i := range info {
			if got[i] != info[i] {
				t.Fatalf("%s: bit %d flipped", scheme, i)
			}
		}
	}
}

func TestConvolutionalCorrectsScatteredErrors(t *testing.T) {
	c, err := New(SchemeConvolutional, qpskCapacity, 1, 2)
	if err != nil {
		t.Fatal(err)
	}
	info := randomInfoBits(c.TransportBlockBits(), 19)
	coded, err := c.Encode(info)
	if err != nil {
		t.Fatal(err)
	}
	// Flip well-separated bits; the free distance of the 171/133 code
	// corrects isolated errors easily.
	rng := rand.New(rand.NewSource(5))
	for pos := rng.Intn(40); pos < 2*c.TransportBlockBits(); pos += 40 + rng.Intn(40) {
		coded[pos] ^= 1
	}
	got, ok, err := c.Decode(coded)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("CRC failed after correctable errors")
	}
	for i := range info {
		if got[i] != info[i] {
			t.Fatalf("bit %d wrong after decoding", i)
		}
	}
}

func TestCRCDetectsCorruption(t *testing.T) {
	c, err := New(SchemeConvolutional, qpskCapacity, 1, 2)
	if err != nil {
		t.Fatal(err)
	}
	info := randomInfoBits(c.TransportBlockBits(), 23)
	coded, err := c.Encode(info)
	if err != nil {
		t.Fatal(err)
	}
	// A dense burst overwhelms the code; the CRC must flag the block.
	for i := 100; i < 260; i++ {
		coded[i] ^= 1
	}
	_, ok, err := c.Decode(coded)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("CRC passed on an uncorrectable burst")
	}
}

func TestReedSolomonErasureReconstruction(t *testing.T) {
	c, err := New(SchemeReedSolomon, 1920, 1, 2)
	if err != nil {
		t.Fatal(err)
	}
	rs := c.(*rsCoder)
	info := randomInfoBits(rs.TransportBlockBits(), 29)
	coded, err := rs.Encode(info)
	if err != nil {
		t.Fatal(err)
	}
	// Zero a run of data shards and hand the decoder their indices.
	erased := []int{10, 11, 12, 40, 77}
	for _, s := range erased {
		for b := 0; b < 8; b++ {
			coded[s*8+b] = 0
		}
	}
	got, ok, err := rs.DecodeErasures(coded, erased)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("CRC failed after erasure reconstruction")
	}
	for i := range info {
		if got[i] != info[i] {
			t.Fatalf("bit %d wrong after reconstruction", i)
		}
	}
}

func TestCRCBitPacking(t *testing.T) {
	info := randomInfoBits(64, 31)
	withCRC := appendCRC(info)
	if len(withCRC) != 96 {
		t.Fatalf("CRC block is %d bits, want 96", len(withCRC))
	}
	payload, ok := splitCRC(withCRC)
	if !ok {
		t.Fatal("fresh CRC does not verify")
	}
	for i := range info {
		if payload[i] != info[i] {
			t.Fatalf("payload bit %d changed", i)
		}
	}
	withCRC[3] ^= 1
	if _, ok := splitCRC(withCRC); ok {
		t.Error("CRC passed on corrupted payload")
	}
}
