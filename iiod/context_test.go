package iiod

import (
	"strings"
	"testing"
)

const sampleContextXML = `<?xml version="1.0" encoding="utf-8"?>
<context name="network" version-major="0" version-minor="25" description="192.168.2.1 Linux pluto 5.10.0">
  <context-attribute name="hw_model" value="Analog Devices PlutoSDR Rev.C" />
  <device id="iio:device0" name="ad9361-phy">
    <channel id="altvoltage1" name="RX_LO" type="output">
      <attribute name="frequency" filename="out_altvoltage1_RX_LO_frequency" />
    </channel>
    <channel id="voltage0" type="input">
      <attribute name="hardwaregain" filename="in_voltage0_hardwaregain" />
      <attribute name="gain_control_mode" filename="in_voltage0_gain_control_mode" />
    </channel>
    <attribute name="dcxo_tune_coarse" />
  </device>
  <device id="iio:device2" name="cf-ad9361-lpc">
    <channel id="voltage0" type="input">
      <attribute name="sampling_frequency" filename="in_voltage_sampling_frequency" />
    </channel>
  </device>
</context>`

func TestParseContext(t *testing.T) {
	c, err := ParseContext([]byte(sampleContextXML))
	if err != nil {
		t.Fatalf("ParseContext: %v", err)
	}
	if c.Name != "network" {
		t.Errorf("context name = %q", c.Name)
	}
	if len(c.Devices) != 2 {
		t.Fatalf("parsed %d devices, want 2", len(c.Devices))
	}

	phy, ok := c.Device("ad9361-phy")
	if !ok {
		t.Fatal("phy device not found by name")
	}
	if _, ok := c.Device("iio:device2"); !ok {
		t.Error("capture device not found by id")
	}

	lo, ok := phy.Channel("RX_LO")
	if !ok {
		t.Fatal("RX_LO channel not found by name")
	}
	if lo.Type != "output" {
		t.Errorf("RX_LO type = %q", lo.Type)
	}
	if _, ok := phy.Channel("voltage0"); !ok {
		t.Error("voltage0 channel not found by id")
	}

	sum := c.Summary()
	if !strings.Contains(sum, "ad9361-phy") || !strings.Contains(sum, "cf-ad9361-lpc") {
		t.Errorf("summary %q missing device names", sum)
	}
}

func TestParseContextRejectsGarbage(t *testing.T) {
	if _, err := ParseContext(nil); err == nil {
		t.Error("empty document accepted")
	}
	if _, err := ParseContext([]byte("not xml at all <")); err == nil {
		t.Error("malformed document accepted")
	}
}
