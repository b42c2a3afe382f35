package iiod

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
)

// bytesPerSample is the wire size of one complex sample: interleaved 16-bit
// little-endian I and Q.
const bytesPerSample = 4

// iqScale converts between float amplitude and the AD9361 12-in-16-bit
// sample range.
const iqScale = 32768.0

// OpenBuffer creates a streaming buffer on device holding the given sample
// count and returns its identifier.
func (c *Client) OpenBuffer(ctx context.Context, device string, samples int) (int, error) {
	if err := c.sendLine(ctx, fmt.Sprintf("BUFFER_OPEN %s %d", device, samples)); err != nil {
		return -1, fmt.Errorf("open buffer %s: %w", device, err)
	}
	reply, err := c.readLine(ctx)
	if err != nil {
		return -1, fmt.Errorf("open buffer %s: %w", device, err)
	}
	var id int
	if _, err := fmt.Sscanf(reply, "%d", &id); err != nil {
		return -1, fmt.Errorf("open buffer %s: bad id %q", device, reply)
	}
	return id, nil
}

// ReadBuffer pulls nBytes of raw sample data from an open buffer. The
// payload is binary, terminated by a newline.
func (c *Client) ReadBuffer(ctx context.Context, bufID, nBytes int) ([]byte, error) {
	if err := c.sendLine(ctx, fmt.Sprintf("BUFFER_READ %d %d", bufID, nBytes)); err != nil {
		return nil, fmt.Errorf("read buffer %d: %w", bufID, err)
	}
	c.conn.SetReadDeadline(c.deadline(ctx))
	raw := make([]byte, nBytes)
	if _, err := io.ReadFull(c.reader, raw); err != nil {
		return nil, fmt.Errorf("read buffer %d: %w", bufID, err)
	}
	c.reader.ReadString('\n')
	return raw, nil
}

// WriteBuffer pushes raw sample data into an open buffer and returns the
// byte count the server accepted.
func (c *Client) WriteBuffer(ctx context.Context, bufID int, data []byte) (int, error) {
	if err := c.sendLine(ctx, fmt.Sprintf("BUFFER_WRITE %d %d", bufID, len(data))); err != nil {
		return 0, fmt.Errorf("write buffer %d: %w", bufID, err)
	}
	c.conn.SetWriteDeadline(c.deadline(ctx))
	if _, err := c.writer.Write(data); err != nil {
		return 0, fmt.Errorf("write buffer %d: %w", bufID, err)
	}
	c.writer.WriteByte('\n')
	if err := c.writer.Flush(); err != nil {
		return 0, fmt.Errorf("write buffer %d: %w", bufID, err)
	}
	reply, err := c.readLine(ctx)
	if err != nil {
		return 0, fmt.Errorf("write buffer %d: %w", bufID, err)
	}
	var written int
	if _, err := fmt.Sscanf(reply, "%d", &written); err != nil {
		return 0, fmt.Errorf("write buffer %d: bad reply %q", bufID, reply)
	}
	return written, nil
}

// CloseBuffer releases an open buffer.
func (c *Client) CloseBuffer(ctx context.Context, bufID int) error {
	if err := c.sendLine(ctx, fmt.Sprintf("BUFFER_CLOSE %d", bufID)); err != nil {
		return fmt.Errorf("close buffer %d: %w", bufID, err)
	}
	reply, err := c.readLine(ctx)
	if err != nil {
		return fmt.Errorf("close buffer %d: %w", bufID, err)
	}
	if reply != "OK" {
		return fmt.Errorf("close buffer %d: %s", bufID, reply)
	}
	return nil
}

// PackIQ converts complex samples to the interleaved int16 wire format.
func PackIQ(samples []complex64) []byte {
	out := make([]byte, len(samples)*bytesPerSample)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[4*i:], uint16(clampInt16(real(s)*iqScale)))
		binary.LittleEndian.PutUint16(out[4*i+2:], uint16(clampInt16(imag(s)*iqScale)))
	}
	return out
}

// UnpackIQ converts interleaved int16 wire data back to complex samples.
// Trailing partial samples are dropped.
func UnpackIQ(data []byte) []complex64 {
	n := len(data) / bytesPerSample
	out := make([]complex64, n)
	for i := 0; i < n; i++ {
		re := int16(binary.LittleEndian.Uint16(data[4*i:]))
		im := int16(binary.LittleEndian.Uint16(data[4*i+2:]))
		out[i] = complex(float32(re)/iqScale, float32(im)/iqScale)
	}
	return out
}

func clampInt16(v float32) int16 {
	if v > 32767 {
		return 32767
	}
	if v < -32768 {
		return -32768
	}
	return int16(v)
}
