// Package iiod is a client for the IIOD text protocol spoken by libiio
// daemons, such as the one running on the ADALM-Pluto. It covers attribute
// access, device enumeration, context retrieval and sample buffer streaming.
package iiod

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"
)

// DefaultPort is the TCP port IIOD listens on.
const DefaultPort = 30431

// ioTimeout bounds each protocol exchange when the context carries no
// deadline of its own.
const ioTimeout = 5 * time.Second

// Client is a single IIOD session over one TCP connection. It is not safe
// for concurrent use; the radio port serializes access.
type Client struct {
	conn   net.Conn
	reader *bufio.Reader
	writer *bufio.Writer
}

// Dial connects to an IIOD endpoint. addr takes host or host:port form; the
// default port is appended when missing.
func Dial(ctx context.Context, addr string) (*Client, error) {
	if _, _, err := net.SplitHostPort(addr); err != nil {
		addr = net.JoinHostPort(addr, strconv.Itoa(DefaultPort))
	}
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial iiod %s: %w", addr, err)
	}
	return NewClient(conn), nil
}

// NewClient attaches a client to an established connection. Used directly by
// tests and by transports that tunnel the protocol.
func NewClient(conn net.Conn) *Client {
	return &Client{
		conn:   conn,
		reader: bufio.NewReader(conn),
		writer: bufio.NewWriter(conn),
	}
}

// Close terminates the session.
func (c *Client) Close() error { return c.conn.Close() }

func (c *Client) deadline(ctx context.Context) time.Time {
	if d, ok := ctx.Deadline(); ok {
		return d
	}
	return time.Now().Add(ioTimeout)
}

// sendLine writes one command line.
func (c *Client) sendLine(ctx context.Context, cmd string) error {
	c.conn.SetWriteDeadline(c.deadline(ctx))
	if !strings.HasSuffix(cmd, "\n") {
		cmd += "\n"
	}
	if _, err := c.writer.WriteString(cmd); err != nil {
		return err
	}
	return c.writer.Flush()
}

// readLine reads one reply line with \r\n trimmed.
func (c *Client) readLine(ctx context.Context) (string, error) {
	c.conn.SetReadDeadline(c.deadline(ctx))
	line, err := c.reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// ReadAttr reads a device attribute; channel may be empty for device-level
// attributes. The reply is the single-line attribute value.
func (c *Client) ReadAttr(ctx context.Context, device, channel, attr string) (string, error) {
	cmd := fmt.Sprintf("READ %s %s", device, attr)
	if channel != "" {
		cmd = fmt.Sprintf("READ %s %s %s", device, channel, attr)
	}
	if err := c.sendLine(ctx, cmd); err != nil {
		return "", fmt.Errorf("read %s/%s/%s: %w", device, channel, attr, err)
	}
	line, err := c.readLine(ctx)
	if err != nil {
		return "", fmt.Errorf("read %s/%s/%s: %w", device, channel, attr, err)
	}
	return line, nil
}

// WriteAttr writes a device attribute and checks for the OK reply.
func (c *Client) WriteAttr(ctx context.Context, device, channel, attr, value string) error {
	cmd := fmt.Sprintf("WRITE %s %s %s", device, attr, value)
	if channel != "" {
		cmd = fmt.Sprintf("WRITE %s %s %s %s", device, channel, attr, value)
	}
	if err := c.sendLine(ctx, cmd); err != nil {
		return fmt.Errorf("write %s/%s/%s: %w", device, channel, attr, err)
	}
	reply, err := c.readLine(ctx)
	if err != nil {
		return fmt.Errorf("write %s/%s/%s: %w", device, channel, attr, err)
	}
	if reply != "OK" {
		return fmt.Errorf("write %s/%s/%s rejected: %s", device, channel, attr, reply)
	}
	return nil
}

// ListDevices enumerates the context's device identifiers.
func (c *Client) ListDevices(ctx context.Context) ([]string, error) {
	if err := c.sendLine(ctx, "LISTDEVICES"); err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	line, err := c.readLine(ctx)
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	return strings.Fields(line), nil
}

// ListChannels enumerates one device's channel identifiers.
func (c *Client) ListChannels(ctx context.Context, device string) ([]string, error) {
	if err := c.sendLine(ctx, "LISTCHANNELS "+device); err != nil {
		return nil, fmt.Errorf("list channels %s: %w", device, err)
	}
	line, err := c.readLine(ctx)
	if err != nil {
		return nil, fmt.Errorf("list channels %s: %w", device, err)
	}
	return strings.Fields(line), nil
}

// GetXMLContext dumps the full XML context description. The server ends the
// dump by closing its side of the stream.
func (c *Client) GetXMLContext(ctx context.Context) (string, error) {
	if err := c.sendLine(ctx, "PRINT"); err != nil {
		return "", fmt.Errorf("print context: %w", err)
	}
	c.conn.SetReadDeadline(c.deadline(ctx))
	var sb strings.Builder
	buf := make([]byte, 4096)
	for {
		n, err := c.reader.Read(buf)
		if n > 0 {
			sb.Write(buf[:n])
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("print context: %w", err)
		}
	}
	out := sb.String()
	if i := strings.Index(out, "<"); i > 0 {
		out = out[i:]
	}
	return out, nil
}
