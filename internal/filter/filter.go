// Package filter translates a filter expression into a concrete set of
// index entries. Explicit prefixes (type:, tag:, name:, ip:, port:) are
// the primary interface; bare tokens go through documented auto-detection.
package filter

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/agentic-research/frpfleet/api"
	"github.com/agentic-research/frpfleet/internal/index"
	"github.com/agentic-research/frpfleet/internal/tags"
)

// Kind of filter a spec resolves with.
type Kind int

const (
	All Kind = iota
	ByType
	ByTag
	ByName
	ByIP
	ByPort
)

// Spec is a parsed filter expression.
type Spec struct {
	Kind Kind
	Arg  string
}

var ipv4Re = regexp.MustCompile(`^(\d{1,3})\.(\d{1,3})\.(\d{1,3})\.(\d{1,3})$`)

// Parse turns a filter string into a Spec. Recognized forms:
// "all", "type:<kind>", "tag:<expr>", "name:<substr>", "ip:<addr>",
// "port:<n>"; anything else is auto-detected via Detect.
func Parse(s string) (Spec, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "all" {
		return Spec{Kind: All}, nil
	}
	if prefix, arg, ok := strings.Cut(s, ":"); ok {
		switch prefix {
		case "type":
			if arg != api.KindServer && arg != api.KindClient {
				return Spec{}, fmt.Errorf("unknown type %q (want server or client)", arg)
			}
			return Spec{Kind: ByType, Arg: arg}, nil
		case "tag":
			return Spec{Kind: ByTag, Arg: arg}, nil
		case "name":
			return Spec{Kind: ByName, Arg: arg}, nil
		case "ip":
			if !isIPv4(arg) {
				return Spec{}, fmt.Errorf("invalid ip %q", arg)
			}
			return Spec{Kind: ByIP, Arg: arg}, nil
		case "port":
			if _, ok := parsePort(arg); !ok {
				return Spec{}, fmt.Errorf("invalid port %q", arg)
			}
			return Spec{Kind: ByPort, Arg: arg}, nil
		}
	}
	return Detect(s), nil
}

// Detect classifies a bare token. Precedence is evaluated in order, first
// match wins: IPv4 literal, then port number (1–65535), then tag
// expression (contains ':'), then name substring. Consequence: a purely
// numeric config name cannot be reached here — use the explicit "name:"
// prefix for that.
func Detect(token string) Spec {
	if isIPv4(token) {
		return Spec{Kind: ByIP, Arg: token}
	}
	if _, ok := parsePort(token); ok {
		return Spec{Kind: ByPort, Arg: token}
	}
	if strings.Contains(token, ":") {
		return Spec{Kind: ByTag, Arg: token}
	}
	return Spec{Kind: ByName, Arg: token}
}

func isIPv4(s string) bool {
	m := ipv4Re.FindStringSubmatch(s)
	if m == nil {
		return false
	}
	for _, octet := range m[1:] {
		n, err := strconv.Atoi(octet)
		if err != nil || n > 255 {
			return false
		}
	}
	return true
}

func parsePort(s string) (int, bool) {
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 || n > 65535 {
		return 0, false
	}
	return n, true
}

// Engine resolves Specs against the metadata index and tag store.
type Engine struct {
	Index *index.Store
	Tags  *tags.Store
}

// Resolve returns the entries matching the spec. An empty match is an
// empty set, never an error — callers decide whether that is a warning.
func (e *Engine) Resolve(spec Spec) ([]api.ConfigEntry, error) {
	switch spec.Kind {
	case All:
		return e.Index.All()
	case ByType:
		return e.Index.ByKind(spec.Arg)
	case ByTag:
		paths, err := e.Tags.Query(spec.Arg)
		if err != nil {
			return nil, err
		}
		var entries []api.ConfigEntry
		for _, p := range paths {
			entry, err := e.Index.Get(p)
			if err != nil {
				return nil, err
			}
			entries = append(entries, entry)
		}
		return entries, nil
	case ByName:
		return e.filterAll(func(entry api.ConfigEntry) bool {
			return strings.Contains(filepath.Base(entry.Path), spec.Arg)
		})
	case ByIP:
		return e.filterAll(func(entry api.ConfigEntry) bool {
			return entry.ServerAddr == spec.Arg
		})
	case ByPort:
		port, _ := parsePort(spec.Arg)
		return e.filterAll(func(entry api.ConfigEntry) bool {
			return entry.ServerPort == port || entry.BindPort == port
		})
	}
	return nil, fmt.Errorf("unknown filter kind %d", spec.Kind)
}

func (e *Engine) filterAll(keep func(api.ConfigEntry) bool) ([]api.ConfigEntry, error) {
	entries, err := e.Index.All()
	if err != nil {
		return nil, err
	}
	var matched []api.ConfigEntry
	for _, entry := range entries {
		if keep(entry) {
			matched = append(matched, entry)
		}
	}
	return matched, nil
}
