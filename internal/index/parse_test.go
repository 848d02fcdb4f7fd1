package index

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentic-research/frpfleet/api"
)

func TestParseEntry_ClientTOML(t *testing.T) {
	content := []byte(`serverAddr = "10.0.0.5"
serverPort = 7000

[[proxies]]
name = "ssh"
type = "tcp"
localPort = 22
remotePort = 6022

[[proxies]]
name = "web"
type = "http"
localPort = 8080
`)
	mtime := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	entry, err := ParseEntry("sites/edge-a.toml", content, mtime)
	require.NoError(t, err)

	assert.Equal(t, api.KindClient, entry.Kind)
	assert.Equal(t, "10.0.0.5", entry.ServerAddr)
	assert.Equal(t, 7000, entry.ServerPort)
	assert.Equal(t, 0, entry.BindPort)
	assert.Equal(t, 2, entry.ProxyCount)
	assert.Equal(t, mtime, entry.LastModified)
	assert.NotEmpty(t, entry.Hash)
}

func TestParseEntry_ServerTOML(t *testing.T) {
	entry, err := ParseEntry("frps.toml", []byte("bindPort = 7000\n"), time.Now())
	require.NoError(t, err)
	assert.Equal(t, api.KindServer, entry.Kind)
	assert.Equal(t, 7000, entry.BindPort)
	assert.Empty(t, entry.ServerAddr)
	assert.Zero(t, entry.ServerPort)
}

func TestParseEntry_SnakeCaseKeys(t *testing.T) {
	entry, err := ParseEntry("c.toml", []byte("server_addr = \"1.2.3.4\"\nserver_port = 7100\n"), time.Now())
	require.NoError(t, err)
	assert.Equal(t, api.KindClient, entry.Kind)
	assert.Equal(t, "1.2.3.4", entry.ServerAddr)
	assert.Equal(t, 7100, entry.ServerPort)
}

func TestParseEntry_LegacyINIFallback(t *testing.T) {
	// Bare values make this invalid TOML, so the constrained line
	// matcher takes over.
	content := []byte(`[common]
server_addr = 192.168.1.10
server_port = 7000

[ssh]
type = tcp
local_port = 22

[dns]
type = udp
local_port = 53
`)
	entry, err := ParseEntry("legacy.ini", content, time.Now())
	require.NoError(t, err)

	assert.Equal(t, api.KindClient, entry.Kind)
	assert.Equal(t, "192.168.1.10", entry.ServerAddr)
	assert.Equal(t, 7000, entry.ServerPort)
	assert.Equal(t, 2, entry.ProxyCount, "[common] must not count as a proxy")
}

func TestParseEntry_NoRecognizableFields(t *testing.T) {
	_, err := ParseEntry("junk.toml", []byte("\x00\x01 not a config ==="), time.Now())
	assert.Error(t, err)
}

func TestParseEntry_PartialEntry(t *testing.T) {
	// Valid TOML without any allow-listed field: readable, so it indexes
	// as a partial entry with undetermined kind.
	entry, err := ParseEntry("odd.toml", []byte("description = \"spare\"\n"), time.Now())
	require.NoError(t, err)
	assert.Equal(t, "", entry.Kind)
	assert.Equal(t, 0, entry.ProxyCount)
}

func TestParseEntry_HashIsStable(t *testing.T) {
	content := []byte("bindPort = 7000\n")
	a, err := ParseEntry("s.toml", content, time.Now())
	require.NoError(t, err)
	b, err := ParseEntry("s.toml", content, time.Now())
	require.NoError(t, err)
	assert.Equal(t, a.Hash, b.Hash)

	c, err := ParseEntry("s.toml", []byte("bindPort = 7001\n"), time.Now())
	require.NoError(t, err)
	assert.NotEqual(t, a.Hash, c.Hash)
}

func TestDetectKind_ServerWinsOverClient(t *testing.T) {
	// A config carrying both bind and server fields is classified as a
	// server — bindPort is the stronger signal.
	entry, err := ParseEntry("both.toml", []byte("bindPort = 7000\nserverAddr = \"x\"\n"), time.Now())
	require.NoError(t, err)
	assert.Equal(t, api.KindServer, entry.Kind)
}
