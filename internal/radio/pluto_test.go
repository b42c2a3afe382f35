package radio

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"testing"
	"time"
)

// fakeIIOD is a minimal IIOD daemon: it records attribute writes and loops
// written buffers back to reads.
type fakeIIOD struct {
	ln net.Listener

	mu    sync.Mutex
	attrs map[string]string
	buf   []byte
}

func startFakeIIOD(t *testing.T) *fakeIIOD {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	s := &fakeIIOD{ln: ln, attrs: make(map[string]string)}
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go s.session(conn)
		}
	}()
	t.Cleanup(func() { ln.Close() })
	return s
}

func (s *fakeIIOD) attr(key string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attrs[key]
}

func (s *fakeIIOD) session(conn net.Conn) {
	defer conn.Close()
	r := bufio.NewReader(conn)
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		fields := strings.Fields(strings.TrimSpace(line))
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "WRITE":
			key := strings.Join(fields[1:len(fields)-1], "/")
			s.mu.Lock()
			s.attrs[key] = fields[len(fields)-1]
			s.mu.Unlock()
			fmt.Fprintf(conn, "OK\n")
		case "LISTDEVICES":
			fmt.Fprintf(conn, "ad9361-phy cf-ad9361-lpc cf-ad9361-dds-core-lpc\n")
		case "BUFFER_OPEN":
			fmt.Fprintf(conn, "1\n")
		case "BUFFER_WRITE":
			var id, n int
			fmt.Sscanf(strings.Join(fields[1:], " "), "%d %d", &id, &n)
			data := make([]byte, n)
			if _, err := io.ReadFull(r, data); err != nil {
				return
			}
			r.ReadString('\n')
			s.mu.Lock()
			s.buf = data
			s.mu.Unlock()
			fmt.Fprintf(conn, "%d\n", n)
		case "BUFFER_READ":
			var id, n int
			fmt.Sscanf(strings.Join(fields[1:], " "), "%d %d", &id, &n)
			out := make([]byte, n)
			s.mu.Lock()
			copy(out, s.buf)
			s.mu.Unlock()
			conn.Write(out)
			fmt.Fprintf(conn, "\n")
		case "BUFFER_CLOSE":
			fmt.Fprintf(conn, "OK\n")
		default:
			fmt.Fprintf(conn, "-22\n")
		}
	}
}

func dialTestPluto(t *testing.T, s *fakeIIOD) *Pluto {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	p, err := DialPluto(ctx, PlutoConfig{URI: s.ln.Addr().String()}, nil)
	if err != nil {
		t.Fatalf("DialPluto: %v", err)
	}
	t.Cleanup(func() { p.Close() })
	return p
}

func TestPlutoTuning(t *testing.T) {
	s := startFakeIIOD(t)
	p := dialTestPluto(t, s)
	ctx := context.Background()

	if err := p.SetCenterFrequency(ctx, 2.4e9); err != nil {
		t.Fatalf("SetCenterFrequency: %v", err)
	}
	if got := s.attr("ad9361-phy/altvoltage0/frequency"); got != "2400000000" {
		t.Errorf("tx lo = %q", got)
	}
	if got := s.attr("ad9361-phy/altvoltage1/frequency"); got != "2400000000" {
		t.Errorf("rx lo = %q", got)
	}

	if err := p.SetSampleRate(ctx, 3.84e6, 3e6); err != nil {
		t.Fatalf("SetSampleRate: %v", err)
	}
	if got := s.attr("ad9361-phy/sampling_frequency"); got != "3840000" {
		t.Errorf("sample rate = %q", got)
	}
	if got := s.attr("ad9361-phy/voltage0/rf_bandwidth"); got != "3000000" {
		t.Errorf("rx bandwidth = %q", got)
	}

	if err := p.SetGain(ctx, -10, 40); err != nil {
		t.Fatalf("SetGain: %v", err)
	}
	if got := s.attr("ad9361-phy/voltage0/gain_control_mode"); got != "manual" {
		t.Errorf("gain mode = %q", got)
	}
	if got := s.attr("ad9361-phy/voltage0/hardwaregain"); got != "40.0" {
		t.Errorf("rx gain = %q", got)
	}
	if got := s.attr("ad9361-phy/out/hardwaregain"); got != "-10.0" {
		t.Errorf("tx gain = %q", got)
	}
}

func TestPlutoStreaming(t *testing.T) {
	s := startFakeIIOD(t)
	p := dialTestPluto(t, s)
	ctx := context.Background()

	in := make([]complex64, 128)
	for i := range in {
		in[i] = complex(float32(i)/256, -float32(i)/256)
	}
	n, err := p.Transmit(ctx, in)
	if err != nil {
		t.Fatalf("Transmit: %v", err)
	}
	if n != len(in) {
		t.Errorf("transmitted %d samples, want %d", n, len(in))
	}

	out, err := p.Receive(ctx, len(in))
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	for i := range in {
		if d := complexDistance(out[i], in[i]); d > 1e-3 {
			t.Fatalf("sample %d = %v, want %v", i, out[i], in[i])
		}
	}

	id, err := p.Identity(ctx)
	if err != nil {
		t.Fatalf("Identity: %v", err)
	}
	if !strings.Contains(id, "ad9361-phy") {
		t.Errorf("identity %q missing phy device", id)
	}
}

func TestPlutoConcurrentDuplex(t *testing.T) {
	// One IIOD session carries both directions, so simultaneous transmit and
	// receive loops must interleave whole command exchanges, never bytes.
	s := startFakeIIOD(t)
	p := dialTestPluto(t, s)
	ctx := context.Background()

	buf := make([]complex64, 64)
	errs := make(chan error, 2)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			if _, err := p.Transmit(ctx, buf); err != nil {
				errs <- fmt.Errorf("transmit %d: %w", i, err)
				return
			}
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			out, err := p.Receive(ctx, len(buf))
			if err != nil {
				errs <- fmt.Errorf("receive %d: %w", i, err)
				return
			}
			if len(out) != len(buf) {
				errs <- fmt.Errorf("receive %d: %d samples, want %d", i, len(out), len(buf))
				return
			}
		}
	}()
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

func complexDistance(a, b complex64) float64 {
	dr := float64(real(a) - real(b))
	di := float64(imag(a) - imag(b))
	return dr*dr + di*di
}
