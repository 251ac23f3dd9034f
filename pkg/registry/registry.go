// Package registry holds the immutable name to tool mapping that routes
// tool calls to their servers.
package registry

import (
	"fmt"
	"sort"
	"strings"

	mcperrors "github.com/ajitpratap0/toolmesh/pkg/errors"
	"github.com/ajitpratap0/toolmesh/pkg/protocol"
)

// Registry maps tool names to descriptors. It is built once and never
// mutated, so reads need no locking. Descriptors are copied on the way in
// and out.
type Registry struct {
	tools   map[string]protocol.ToolDescriptor
	servers map[string]struct{}
	names   []string
}

// New builds a registry. Every tool must name a server in serverIDs and tool
// names must be unique; violations are configuration errors.
func New(serverIDs []string, tools []protocol.ToolDescriptor) (*Registry, error) {
	r := &Registry{
		tools:   make(map[string]protocol.ToolDescriptor, len(tools)),
		servers: make(map[string]struct{}, len(serverIDs)),
	}
	for _, id := range serverIDs {
		r.servers[NormalizeID(id)] = struct{}{}
	}

	var orphans []string
	for _, t := range tools {
		if t.Name == "" {
			return nil, mcperrors.InvalidConfig("tools", "tool name must not be empty")
		}
		if _, dup := r.tools[t.Name]; dup {
			return nil, mcperrors.InvalidConfig("tools", fmt.Sprintf("duplicate tool name %q", t.Name))
		}
		if _, ok := r.servers[NormalizeID(t.ServerID)]; !ok {
			orphans = append(orphans, fmt.Sprintf("%s -> %s", t.Name, t.ServerID))
			continue
		}
		if err := t.Parameters.Check(); err != nil {
			return nil, mcperrors.InvalidConfig("tools."+t.Name, err.Error())
		}
		t.ServerID = NormalizeID(t.ServerID)
		r.tools[t.Name] = clone(t)
		r.names = append(r.names, t.Name)
	}
	if len(orphans) > 0 {
		return nil, mcperrors.InvalidConfig("tools",
			"tools reference unknown servers: "+strings.Join(orphans, ", ")).
			WithHint("declare the servers these tools use, or remove the tools")
	}

	sort.Strings(r.names)
	return r, nil
}

// NormalizeID is the canonical form of a server id. Ids are case-insensitive
// because environment variable names are upper-cased.
func NormalizeID(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}

// clone copies t so callers never share the registry's parameter maps
func clone(t protocol.ToolDescriptor) protocol.ToolDescriptor {
	t.Parameters = t.Parameters.Clone()
	return t
}

// Lookup returns a copy of the descriptor for name
func (r *Registry) Lookup(name string) (protocol.ToolDescriptor, bool) {
	t, ok := r.tools[name]
	if !ok {
		return protocol.ToolDescriptor{}, false
	}
	return clone(t), true
}

// Get returns a copy of the descriptor for name or a ToolNotFound error
func (r *Registry) Get(name string) (protocol.ToolDescriptor, error) {
	t, ok := r.tools[name]
	if !ok {
		return protocol.ToolDescriptor{}, mcperrors.ToolNotFound(name)
	}
	return clone(t), nil
}

// Tools returns a copy of every descriptor sorted by name
func (r *Registry) Tools() []protocol.ToolDescriptor {
	out := make([]protocol.ToolDescriptor, 0, len(r.names))
	for _, name := range r.names {
		out = append(out, clone(r.tools[name]))
	}
	return out
}

// ByServer returns the descriptors served by serverID, sorted by name
func (r *Registry) ByServer(serverID string) []protocol.ToolDescriptor {
	id := NormalizeID(serverID)
	var out []protocol.ToolDescriptor
	for _, name := range r.names {
		if t := r.tools[name]; t.ServerID == id {
			out = append(out, clone(t))
		}
	}
	return out
}

// Servers returns the known server ids, sorted
func (r *Registry) Servers() []string {
	out := make([]string, 0, len(r.servers))
	for id := range r.servers {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// HasServer reports whether id is a known server
func (r *Registry) HasServer(id string) bool {
	_, ok := r.servers[NormalizeID(id)]
	return ok
}

// Len returns the number of registered tools
func (r *Registry) Len() int {
	return len(r.names)
}
