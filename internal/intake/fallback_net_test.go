package intake

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseHexAddress_DecodesLittleEndianIPv4(t *testing.T) {
	// 0100007F is 127.0.0.1 in the kernel's little-endian hex encoding,
	// 1F90 is port 8080.
	got := parseHexAddress("0100007F:1F90")
	assert.Equal(t, "127.0.0.1:8080", got)
}

func TestParseHexAddress_PassesThroughMalformedInput(t *testing.T) {
	got := parseHexAddress("not-an-address")
	assert.Equal(t, "not-an-address", got)
}

func TestSplitAddress_SeparatesHostAndPort(t *testing.T) {
	host, port := splitAddress("93.184.216.34:443")
	assert.Equal(t, "93.184.216.34", host)
	assert.Equal(t, 443, port)
}

func TestSplitAddress_NoColonReturnsZeroPort(t *testing.T) {
	host, port := splitAddress("nohost")
	assert.Equal(t, "nohost", host)
	assert.Equal(t, 0, port)
}

func TestNetFallbackPoller_DedupsRepeatedConnections(t *testing.T) {
	p := NewNetFallbackPoller(0, func() []int { return nil })
	assert.Empty(t, p.seen)

	p.seen["1|127.0.0.1:443"] = true
	assert.True(t, p.seen["1|127.0.0.1:443"])
	assert.False(t, p.seen["2|127.0.0.1:443"])
}

func TestSocketInodes_MissingPidReturnsEmpty(t *testing.T) {
	// pid 999999999 should never exist; the fd directory read fails and
	// the poller must degrade to an empty set rather than erroring.
	inodes := socketInodes(999999999)
	assert.Empty(t, inodes)
}
