package api

import (
	"errors"
	"net"
	"strconv"
	"time"
)

// Kind of a tunnel endpoint described by a configuration file.
const (
	KindServer = "server"
	KindClient = "client"
)

// ErrNotIndexed is returned when an operation references a configuration
// file that is not present in the metadata index. Tagging is not a
// back-door way to register a config — index it first.
var ErrNotIndexed = errors.New("config not indexed")

// ConfigEntry mirrors the semantic fields of one tunnel-endpoint
// configuration file as of the last time it was indexed.
// Fields that could not be extracted are left at their zero value —
// a partial entry is valid as long as the file itself was readable.
type ConfigEntry struct {
	// ID is the index rowid. Zero for entries produced by the
	// degraded-mode filesystem scan, which bypasses the store.
	ID int64 `json:"id"`
	// Path uniquely identifies the entry.
	Path string `json:"path"`
	// Hash is the SHA-256 of the file content as of LastIndexed.
	Hash string `json:"hash"`
	// Kind is "server", "client", or "" when undetermined.
	Kind string `json:"kind,omitempty"`

	ServerAddr string `json:"server_addr,omitempty"`
	ServerPort int    `json:"server_port,omitempty"`
	BindPort   int    `json:"bind_port,omitempty"`
	ProxyCount int    `json:"proxy_count"`

	LastModified time.Time `json:"last_modified"`
	LastIndexed  time.Time `json:"last_indexed"`
}

// ProbeAddr returns the TCP address used to check reachability of the
// endpoint this config describes: the remote server for clients, the
// local bind port for servers. Empty when the entry lacks the fields.
func (e ConfigEntry) ProbeAddr() string {
	switch e.Kind {
	case KindClient:
		if e.ServerAddr == "" || e.ServerPort == 0 {
			return ""
		}
		return net.JoinHostPort(e.ServerAddr, strconv.Itoa(e.ServerPort))
	case KindServer:
		if e.BindPort == 0 {
			return ""
		}
		return net.JoinHostPort("127.0.0.1", strconv.Itoa(e.BindPort))
	}
	return ""
}

// Tag is a key/value label attached to a ConfigEntry.
// (config, key) is unique — writes to the same key overwrite.
type Tag struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Snapshot is a cached aggregate summary combining index data and
// observed service state. It is fully derived: deleting the persisted
// snapshot is always safe and triggers a synchronous rebuild.
type Snapshot struct {
	Payload    SnapshotPayload `json:"payload"`
	CapturedAt time.Time       `json:"captured_at"`
}

// SnapshotPayload holds the aggregate counts served to latency-sensitive
// reads. It is always a complete prior computation, never partial.
type SnapshotPayload struct {
	TotalConfigs int    `json:"total_configs"`
	Servers      int    `json:"servers"`
	Clients      int    `json:"clients"`
	TotalProxies int    `json:"total_proxies"`
	Active       int    `json:"active"`
	Failed       int    `json:"failed"`
	ToolVersion  string `json:"tool_version,omitempty"`
}
