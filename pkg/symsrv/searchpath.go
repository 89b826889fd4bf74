// Package symsrv locates and downloads PDB files the way the Windows symbol
// server client does: search paths of the form "srv*<cache>*<server>",
// symbol-store directory layouts keyed by GUID and age, and HTTP stores.
package symsrv

import (
	"strings"
)

// DefaultServer is the public Microsoft symbol server.
const DefaultServer = "https://msdl.microsoft.com/download/symbols"

// Element is one entry of a symbol search path. A plain directory sets only
// Dir. A "srv*" entry sets Cache, the downstream store that receives downloads
// and is searched first, and Stores, the upstream stores in order.
type Element struct {
	Dir    string
	Cache  string
	Stores []string
}

// IsServer reports whether the element came from a "srv*" entry.
func (e Element) IsServer() bool {
	return e.Dir == ""
}

func (e Element) String() string {
	if !e.IsServer() {
		return e.Dir
	}
	return "srv*" + e.Cache + "*" + strings.Join(e.Stores, "*")
}

// ParseSearchPath splits a search path such as
// "srv*C:\sym*https://msdl.microsoft.com/download/symbols;D:\pdbs".
// "srv*<dir>*" names a local cache with no upstream store and "srv*<url>"
// an upstream store with no cache. "cache*<dir>" is accepted as a cache-only
// entry. Empty entries are dropped.
func ParseSearchPath(s string) []Element {
	var out []Element
	for _, raw := range strings.Split(s, ";") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		prefix, rest, found := strings.Cut(raw, "*")
		if !found {
			out = append(out, Element{Dir: raw})
			continue
		}
		var parts []string
		for _, p := range strings.Split(rest, "*") {
			if p = strings.TrimSpace(p); p != "" {
				parts = append(parts, p)
			}
		}
		switch strings.ToLower(prefix) {
		case "srv", "symsrv":
			if len(parts) == 0 {
				continue
			}
			if len(parts) == 1 && isURL(parts[0]) {
				out = append(out, Element{Stores: parts})
				continue
			}
			out = append(out, Element{Cache: parts[0], Stores: parts[1:]})
		case "cache":
			if len(parts) > 0 {
				out = append(out, Element{Cache: parts[0]})
			}
		default:
			out = append(out, Element{Dir: raw})
		}
	}
	return out
}

// CacheSearchPath returns the search path that treats dir as a local symbol
// cache searched recursively.
func CacheSearchPath(dir string) string {
	return "srv*" + dir + "*"
}

// ServerSearchPath returns the search path that downloads from server into cache.
func ServerSearchPath(cache, server string) string {
	if server == "" {
		server = DefaultServer
	}
	return "srv*" + cache + "*" + server
}

func isURL(s string) bool {
	l := strings.ToLower(s)
	return strings.HasPrefix(l, "http://") || strings.HasPrefix(l, "https://")
}
