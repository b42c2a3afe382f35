package iiod

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"strings"
)

// Context is the parsed IIOD XML context description. The schema matches the
// PlutoSDR firmware output and stays compatible across libiio releases by
// ignoring elements it does not name.
type Context struct {
	XMLName     xml.Name      `xml:"context" json:"-"`
	Name        string        `xml:"name,attr" json:"name"`
	Description string        `xml:"description,attr" json:"description"`
	Attributes  []ContextAttr `xml:"context-attribute" json:"attributes,omitempty"`
	Devices     []Device      `xml:"device" json:"devices"`
}

// ContextAttr is a context-level key/value pair, e.g. the firmware version.
type ContextAttr struct {
	Name  string `xml:"name,attr" json:"name"`
	Value string `xml:"value,attr" json:"value"`
}

// Device is one IIO device with its channels and device-level attributes.
type Device struct {
	ID       string    `xml:"id,attr" json:"id"`
	Name     string    `xml:"name,attr" json:"name"`
	Channels []Channel `xml:"channel" json:"channels,omitempty"`
	Attrs    []Attr    `xml:"attribute" json:"attrs,omitempty"`
}

// Channel is one device channel. Type is "input" or "output".
type Channel struct {
	ID    string `xml:"id,attr" json:"id"`
	Name  string `xml:"name,attr" json:"name,omitempty"`
	Type  string `xml:"type,attr" json:"type"`
	Attrs []Attr `xml:"attribute" json:"attrs,omitempty"`
}

// Attr is a named attribute with its sysfs filename.
type Attr struct {
	Name     string `xml:"name,attr" json:"name"`
	Filename string `xml:"filename,attr" json:"filename,omitempty"`
	Value    string `xml:"value,attr" json:"value,omitempty"`
}

// ParseContext decodes a raw IIOD XML context dump.
func ParseContext(raw []byte) (*Context, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, fmt.Errorf("empty context document")
	}
	var c Context
	if err := xml.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("parse iiod context: %w", err)
	}
	return &c, nil
}

// Device looks a device up by name or id.
func (c *Context) Device(identifier string) (*Device, bool) {
	for i := range c.Devices {
		if c.Devices[i].Name == identifier || c.Devices[i].ID == identifier {
			return &c.Devices[i], true
		}
	}
	return nil, false
}

// Channel looks a channel up by name or id.
func (d *Device) Channel(identifier string) (*Channel, bool) {
	for i := range d.Channels {
		if d.Channels[i].Name == identifier || d.Channels[i].ID == identifier {
			return &d.Channels[i], true
		}
	}
	return nil, false
}

// Summary renders a one-line description for logs and discovery output.
func (c *Context) Summary() string {
	names := make([]string, 0, len(c.Devices))
	for _, d := range c.Devices {
		if d.Name != "" {
			names = append(names, d.Name)
		} else {
			names = append(names, d.ID)
		}
	}
	return fmt.Sprintf("%s: %s [%s]", c.Name, c.Description, strings.Join(names, " "))
}

// FetchContext dials addr, dumps its XML context and parses it. The PRINT
// exchange ends with the server closing the stream, so this uses a connection
// of its own instead of an existing session.
func FetchContext(ctx context.Context, addr string) (*Context, error) {
	client, err := Dial(ctx, addr)
	if err != nil {
		return nil, err
	}
	defer client.Close()
	raw, err := client.GetXMLContext(ctx)
	if err != nil {
		return nil, err
	}
	return ParseContext([]byte(raw))
}
