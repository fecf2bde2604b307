package dedup

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewFingerprint_Deterministic(t *testing.T) {
	a := NewFingerprint(net.ParseIP("10.0.0.2"), 443, 1000, 2000, 512)
	b := NewFingerprint(net.IPv4(10, 0, 0, 2), 443, 1000, 2000, 512)
	assert.Equal(t, a, b)
	assert.Equal(t, hashFingerprint(a), hashFingerprint(b))
	assert.Equal(t, "10.0.0.2,443,1000,2000,512", a.String())
}

func TestNewFingerprint_EachComponentMatters(t *testing.T) {
	base := NewFingerprint(net.ParseIP("10.0.0.2"), 443, 1000, 2000, 512)
	variants := map[string]interface{}{
		"dst":  NewFingerprint(net.ParseIP("10.0.0.3"), 443, 1000, 2000, 512),
		"port": NewFingerprint(net.ParseIP("10.0.0.2"), 444, 1000, 2000, 512),
		"seq":  NewFingerprint(net.ParseIP("10.0.0.2"), 443, 1001, 2000, 512),
		"ack":  NewFingerprint(net.ParseIP("10.0.0.2"), 443, 1000, 2001, 512),
		"size": NewFingerprint(net.ParseIP("10.0.0.2"), 443, 1000, 2000, 513),
	}
	for name, v := range variants {
		assert.NotEqual(t, base, v, name)
	}
}
