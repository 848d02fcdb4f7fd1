package index

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/agentic-research/frpfleet/api"
)

// Field extraction is deliberately constrained: instead of interpreting the
// full frp configuration grammar, only an allow-list of top-level and dotted
// keys is mapped into ConfigEntry fields. The primary path is a structured
// TOML decode; files the decoder rejects (legacy INI-style configs, stray
// syntax) fall back to line-level pattern matching over the same allow-list.
// Absent fields are left at their zero value — not errors.

// Allow-listed key spellings per field. Covers frp's camelCase TOML keys,
// the snake_case legacy keys, and the [common] section of INI-era files.
var (
	serverAddrKeys = []string{"serverAddr", "server_addr", "common.server_addr"}
	serverPortKeys = []string{"serverPort", "server_port", "common.server_port"}
	bindPortKeys   = []string{"bindPort", "bind_port", "common.bind_port"}
)

// fallbackAssignRe matches a single allow-listed assignment line.
var fallbackAssignRe = regexp.MustCompile(
	`^\s*(serverAddr|server_addr|serverPort|server_port|bindPort|bind_port)\s*=\s*"?([^"\s#]+)"?`)

// fallbackSectionRe matches an INI section header that names a proxy
// (anything but [common]) or a TOML [[proxies]] array element.
var fallbackSectionRe = regexp.MustCompile(`^\s*\[{1,2}([^\[\]]+)\]{1,2}\s*$`)

// ParseEntry extracts the allow-listed fields from one config file's
// content. It returns an error only when neither the TOML decoder nor the
// fallback matcher recognizes anything — a file like that is skipped by
// Rebuild, it never aborts it.
func ParseEntry(path string, content []byte, mtime time.Time) (api.ConfigEntry, error) {
	entry := api.ConfigEntry{
		Path:         path,
		Hash:         hashContent(content),
		LastModified: mtime,
		LastIndexed:  time.Now(),
	}

	var raw map[string]any
	if _, err := toml.Decode(string(content), &raw); err == nil {
		extractStructured(&entry, raw)
	} else if !extractFallback(&entry, content) {
		return api.ConfigEntry{}, fmt.Errorf("parse %s: no recognizable fields (%v)", path, err)
	}

	entry.Kind = detectKind(entry)
	return entry, nil
}

func hashContent(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

func extractStructured(entry *api.ConfigEntry, raw map[string]any) {
	if v, ok := lookupAny(raw, serverAddrKeys); ok {
		entry.ServerAddr, _ = v.(string)
	}
	if v, ok := lookupAny(raw, serverPortKeys); ok {
		entry.ServerPort = asInt(v)
	}
	if v, ok := lookupAny(raw, bindPortKeys); ok {
		entry.BindPort = asInt(v)
	}
	entry.ProxyCount = countProxies(raw)
}

// lookupAny resolves the first allow-listed key present. Dotted keys
// descend into nested tables.
func lookupAny(raw map[string]any, keys []string) (any, bool) {
	for _, key := range keys {
		current := any(raw)
		found := true
		for _, part := range strings.Split(key, ".") {
			m, ok := current.(map[string]any)
			if !ok {
				found = false
				break
			}
			current, ok = m[part]
			if !ok {
				found = false
				break
			}
		}
		if found {
			return current, true
		}
	}
	return nil, false
}

func asInt(v any) int {
	switch n := v.(type) {
	case int64:
		return int(n)
	case int:
		return n
	case float64:
		return int(n)
	case string:
		i, _ := strconv.Atoi(n)
		return i
	}
	return 0
}

// countProxies counts [[proxies]] entries in modern configs and, for
// INI-era files decoded as tables, any section other than [common]
// carrying a "type" key.
func countProxies(raw map[string]any) int {
	if v, ok := raw["proxies"]; ok {
		switch proxies := v.(type) {
		case []map[string]any:
			return len(proxies)
		case []any:
			return len(proxies)
		}
	}
	count := 0
	for name, v := range raw {
		if name == "common" {
			continue
		}
		if section, ok := v.(map[string]any); ok {
			if _, hasType := section["type"]; hasType {
				count++
			}
		}
	}
	return count
}

// extractFallback is the constrained line matcher for files the TOML
// decoder rejects. Returns false when no allow-listed field matched.
func extractFallback(entry *api.ConfigEntry, content []byte) bool {
	matched := false
	for _, line := range strings.Split(string(content), "\n") {
		if m := fallbackAssignRe.FindStringSubmatch(line); m != nil {
			matched = true
			switch m[1] {
			case "serverAddr", "server_addr":
				entry.ServerAddr = m[2]
			case "serverPort", "server_port":
				entry.ServerPort, _ = strconv.Atoi(m[2])
			case "bindPort", "bind_port":
				entry.BindPort, _ = strconv.Atoi(m[2])
			}
			continue
		}
		// Any section other than [common] names a proxy in INI-era files;
		// each [[proxies]] occurrence is one proxy in TOML files.
		if m := fallbackSectionRe.FindStringSubmatch(line); m != nil {
			if name := strings.TrimSpace(m[1]); name != "common" {
				entry.ProxyCount++
			}
		}
	}
	return matched
}

// detectKind classifies the endpoint: a bind port marks a server, a
// remote server address marks a client. Neither present leaves the kind
// undetermined — still a valid (partial) entry.
func detectKind(entry api.ConfigEntry) string {
	if entry.BindPort != 0 {
		return api.KindServer
	}
	if entry.ServerAddr != "" || entry.ServerPort != 0 {
		return api.KindClient
	}
	return ""
}
