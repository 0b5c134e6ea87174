package signal

import (
	"strings"
	"testing"
)

func TestParseLinkURI(t *testing.T) {
	tests := []struct {
		line string
		want string
		ok   bool
	}{
		{"sgnl://linkdevice?uuid=abc&pub_key=def", "sgnl://linkdevice?uuid=abc&pub_key=def", true},
		{"  tsdevice:/?uuid=abc&pub_key=def\r", "tsdevice:/?uuid=abc&pub_key=def", true},
		{"INFO  ProvisioningManager - waiting", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		got, ok := parseLinkURI(tt.line)
		if got != tt.want || ok != tt.ok {
			t.Errorf("parseLinkURI(%q) = %q, %v; want %q, %v", tt.line, got, ok, tt.want, tt.ok)
		}
	}
}

func TestReadLinkURI(t *testing.T) {
	out := "Starting...\nsgnl://linkdevice?uuid=x&pub_key=y\nAssociated with: +15551234567\n"
	uri, err := readLinkURI(strings.NewReader(out))
	if err != nil {
		t.Fatalf("readLinkURI: %v", err)
	}
	if uri != "sgnl://linkdevice?uuid=x&pub_key=y" {
		t.Errorf("uri = %q", uri)
	}

	if _, err := readLinkURI(strings.NewReader("error: no account\n")); err == nil {
		t.Error("missing URI should be an error")
	}
}

func TestRenderQR(t *testing.T) {
	qr, err := RenderQR("sgnl://linkdevice?uuid=x&pub_key=y")
	if err != nil {
		t.Fatalf("RenderQR: %v", err)
	}
	lines := strings.Split(strings.TrimRight(qr, "\n"), "\n")
	if len(lines) < 10 {
		t.Errorf("QR has %d lines, expected a full code", len(lines))
	}
}
