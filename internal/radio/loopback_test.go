package radio

import (
	"context"
	"math"
	"math/cmplx"
	"testing"

	"pgregory.net/rapid"
)

func TestTile(t *testing.T) {
	cases := []struct {
		name    string
		samples int
		min     int
		want    int
	}{
		{"already long enough", 48000, 48000, 48000},
		{"frame into pluto minimum", 4960, 48000, 49600},
		{"single repetition short", 100, 100, 100},
		{"exact multiple", 1000, 3000, 3000},
		{"empty", 0, 48000, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in := make([]complex64, tc.samples)
			got := Tile(in, tc.min)
			if len(got) != tc.want {
				t.Errorf("Tile(%d, %d) = %d samples, want %d", tc.samples, tc.min, len(got), tc.want)
			}
		})
	}
}

func TestTileProperties(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(1, 500).Draw(t, "n")
		min := rapid.IntRange(0, 5000).Draw(t, "min")
		in := make([]complex64, n)
		for i := range in {
			in[i] = complex(float32(i), -float32(i))
		}
		out := Tile(in, min)
		if len(out) < min && len(out) < n {
			t.Fatalf("tiled %d below both min %d and input %d", len(out), min, n)
		}
		if len(out)%n != 0 {
			t.Fatalf("tiled length %d not a whole multiple of %d", len(out), n)
		}
		if len(out)-n >= min && len(out) > n {
			t.Fatalf("tiled %d has a spare repetition above min %d", len(out), min)
		}
		for i, s := range out {
			if s != in[i%n] {
				t.Fatalf("sample %d is not a repetition of the input", i)
			}
		}
	})
}

func TestLoopbackCleanWire(t *testing.T) {
	lb := NewLoopback(LoopbackConfig{})
	ctx := context.Background()

	in := make([]complex64, 256)
	for i := range in {
		in[i] = complex(float32(i)/256, 0.5)
	}
	if _, err := lb.Transmit(ctx, in); err != nil {
		t.Fatal(err)
	}
	out, err := lb.Receive(ctx, len(in))
	if err != nil {
		t.Fatal(err)
	}
	for i := range in {
		if out[i] != in[i] {
			t.Fatalf("sample %d changed on a clean wire", i)
		}
	}
}

func TestLoopbackDelay(t *testing.T) {
	lb := NewLoopback(LoopbackConfig{DelaySamples: 10})
	ctx := context.Background()

	in := []complex64{1, 2, 3, 4}
	if _, err := lb.Transmit(ctx, in); err != nil {
		t.Fatal(err)
	}
	out, err := lb.Receive(ctx, 14)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 10; i++ {
		if out[i] != 0 {
			t.Fatalf("expected silence at %d", i)
		}
	}
	for i, want := range in {
		if out[10+i] != want {
			t.Fatalf("delayed sample %d = %v, want %v", i, out[10+i], want)
		}
	}
}

func TestLoopbackNoiseOnlyWhenIdle(t *testing.T) {
	lb := NewLoopback(LoopbackConfig{NoiseStdDev: 0.1, Seed: 3})
	out, err := lb.Receive(context.Background(), 1000)
	if err != nil {
		t.Fatal(err)
	}
	var power float64
	for _, s := range out {
		power += float64(real(s))*float64(real(s)) + float64(imag(s))*float64(imag(s))
	}
	power /= float64(len(out))
	// Expect roughly 2*sigma^2 total power across I and Q.
	if power < 0.01 || power > 0.04 {
		t.Errorf("idle noise power %g, want near 0.02", power)
	}
}

func TestLoopbackCFORotation(t *testing.T) {
	const fs = 3.84e6
	const cfo = 1000.0
	lb := NewLoopback(LoopbackConfig{SampleRate: fs, CFOHz: cfo})
	ctx := context.Background()

	in := make([]complex64, 512)
	for i := range in {
		in[i] = 1
	}
	if _, err := lb.Transmit(ctx, in); err != nil {
		t.Fatal(err)
	}
	out, err := lb.Receive(ctx, len(in))
	if err != nil {
		t.Fatal(err)
	}
	// A constant input becomes a complex tone at the offset frequency.
	for i, s := range out {
		want := cmplx.Exp(complex(0, 2*math.Pi*cfo*float64(i)/fs))
		if cmplx.Abs(complex128(s)-want) > 1e-4 {
			t.Fatalf("sample %d = %v, want %v", i, s, want)
		}
	}
}

func TestLoopbackCorruptHeader(t *testing.T) {
	const frameLen, headerLen = 100, 20
	lb := NewLoopback(LoopbackConfig{
		CorruptHeader: true,
		FrameLength:   frameLen,
		HeaderLength:  headerLen,
		Seed:          7,
	})
	ctx := context.Background()

	in := make([]complex64, 3*frameLen)
	for i := range in {
		in[i] = 0.5
	}
	if _, err := lb.Transmit(ctx, in); err != nil {
		t.Fatal(err)
	}
	out, err := lb.Receive(ctx, len(in))
	if err != nil {
		t.Fatal(err)
	}
	for f := 0; f < 3; f++ {
		changed := 0
		for i := 0; i < headerLen; i++ {
			if out[f*frameLen+i] != 0.5 {
				changed++
			}
		}
		if changed < headerLen/2 {
			t.Errorf("frame %d header barely corrupted: %d of %d samples", f, changed, headerLen)
		}
		for i := headerLen; i < frameLen; i++ {
			if out[f*frameLen+i] != 0.5 {
				t.Fatalf("frame %d payload sample %d corrupted", f, i)
			}
		}
	}
}

func TestLoopbackMultipathTaps(t *testing.T) {
	lb := NewLoopback(LoopbackConfig{Taps: []complex64{1, 0, 0.5}})
	ctx := context.Background()

	if _, err := lb.Transmit(ctx, []complex64{1, 0, 0, 0}); err != nil {
		t.Fatal(err)
	}
	out, err := lb.Receive(ctx, 4)
	if err != nil {
		t.Fatal(err)
	}
	want := []complex64{1, 0, 0.5, 0}
	for i := range want {
		if out[i] != want[i] {
			t.Errorf("impulse response sample %d = %v, want %v", i, out[i], want[i])
		}
	}

	// The tail of one buffer spills into the next.
	if _, err := lb.Transmit(ctx, []complex64{0, 0, 0, 1}); err != nil {
		t.Fatal(err)
	}
	if _, err := lb.Transmit(ctx, []complex64{0, 0, 0, 0}); err != nil {
		t.Fatal(err)
	}
	out, err = lb.Receive(ctx, 8)
	if err != nil {
		t.Fatal(err)
	}
	if out[5] != 0.5 {
		t.Errorf("echo across buffers = %v, want 0.5", out[5])
	}
}

func TestLoopbackClose(t *testing.T) {
	lb := NewLoopback(LoopbackConfig{})
	if err := lb.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := lb.Transmit(context.Background(), []complex64{1}); err == nil {
		t.Error("Transmit succeeded after Close")
	}
	if _, err := lb.Receive(context.Background(), 1); err == nil {
		t.Error("Receive succeeded after Close")
	}
}
