// Package scopes maps HTTP routes to the API key scope they require.
package scopes

import (
	"fmt"
	"net/http"
	"strings"
)

const (
	AdminRead      = "admin:read"
	AdminWrite     = "admin:write"
	WorkspaceRead  = "workspace:read"
	WorkspaceWrite = "workspace:write"
	WorkspaceChat  = "workspace:chat"
	DocumentsRead  = "documents:read"
	DocumentsWrite = "documents:write"
	UsageRead      = "usage:read"
	UsageWrite     = "usage:write"

	// ChatImpersonate lets a key gate chats on behalf of another user.
	ChatImpersonate = "chat:impersonate"
)

// Rule binds a path prefix pattern to scopes. Segments equal to "*" match
// any single segment. Read applies to GET, HEAD and OPTIONS, Write to every
// other method. A rule with both empty marks the prefix as open.
type Rule struct {
	Pattern string
	Read    string
	Write   string
}

// Scope returns a rule that requires the same scope for every method.
func Scope(pattern, scope string) Rule {
	return Rule{Pattern: pattern, Read: scope, Write: scope}
}

type route struct {
	segments  []string
	wildcards int
	read      string
	write     string
}

// Catalog is an immutable, compiled route table.
type Catalog struct {
	routes []route
}

func Compile(rules []Rule) (*Catalog, error) {
	c := &Catalog{routes: make([]route, 0, len(rules))}
	for _, r := range rules {
		if !strings.HasPrefix(r.Pattern, "/") {
			return nil, fmt.Errorf("scope pattern %q must start with /", r.Pattern)
		}
		segs := splitPath(r.Pattern)
		if len(segs) == 0 {
			return nil, fmt.Errorf("scope pattern %q has no segments", r.Pattern)
		}
		rt := route{segments: segs, read: r.Read, write: r.Write}
		for _, s := range segs {
			if s == "*" {
				rt.wildcards++
			}
		}
		c.routes = append(c.routes, rt)
	}
	return c, nil
}

func MustCompile(rules []Rule) *Catalog {
	c, err := Compile(rules)
	if err != nil {
		panic(err)
	}
	return c
}

// DefaultRules is the route table served by the API.
var DefaultRules = []Rule{
	{Pattern: "/api/v1/auth"},
	{Pattern: "/api/v1/admin", Read: AdminRead, Write: AdminWrite},
	{Pattern: "/api/v1/workspace", Read: WorkspaceRead, Write: WorkspaceWrite},
	Scope("/api/v1/workspace/*/chat", WorkspaceChat),
	Scope("/api/v1/workspace/*/stream-chat", WorkspaceChat),
	Scope("/api/v1/workspace/*/thread/*/chat", WorkspaceChat),
	Scope("/api/v1/workspace/*/thread/*/stream-chat", WorkspaceChat),
	{Pattern: "/api/v1/documents", Read: DocumentsRead, Write: DocumentsWrite},
	{Pattern: "/api/v1/usage", Read: UsageRead, Write: UsageWrite},
}

var defaultCatalog = MustCompile(DefaultRules)

func Default() *Catalog {
	return defaultCatalog
}

// RequiredScope returns the scope needed for method and path. The boolean is
// false when no scope is required. The most specific matching pattern wins:
// more segments first, then fewer wildcards, then table order.
func (c *Catalog) RequiredScope(method, path string) (string, bool) {
	if c == nil {
		return "", false
	}
	segs := splitPath(path)

	var best *route
	for i := range c.routes {
		rt := &c.routes[i]
		if !rt.matches(segs) {
			continue
		}
		if best == nil ||
			len(rt.segments) > len(best.segments) ||
			(len(rt.segments) == len(best.segments) && rt.wildcards < best.wildcards) {
			best = rt
		}
	}
	if best == nil {
		return "", false
	}

	scope := best.write
	if isReadMethod(method) {
		scope = best.read
	}
	return scope, scope != ""
}

func (r *route) matches(segs []string) bool {
	if len(segs) < len(r.segments) {
		return false
	}
	for i, s := range r.segments {
		if s != "*" && s != segs[i] {
			return false
		}
	}
	return true
}

func isReadMethod(method string) bool {
	switch strings.ToUpper(method) {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	}
	return false
}

// splitPath drops the query string and empty segments, so trailing and
// doubled slashes are ignored.
func splitPath(path string) []string {
	if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}
	parts := strings.Split(path, "/")
	segs := parts[:0]
	for _, p := range parts {
		if p != "" {
			segs = append(segs, p)
		}
	}
	return segs
}
