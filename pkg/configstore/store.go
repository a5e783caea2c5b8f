// Package configstore provides the hierarchical configuration store the
// monitor reads the service registry from and writes online flags to. Keys
// are slash separated paths; every leaf holds a string.
package configstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound is returned by GetConf for a path with no value or children
	ErrNotFound = errors.New("configstore: not found")
	// ErrInvalidPath is returned for empty or malformed paths
	ErrInvalidPath = errors.New("configstore: invalid path")
)

// ServicesKey is the short key for the service registry subtree
const ServicesKey = "services"

// servicesPath is where ServicesKey resolves to
const servicesPath = "/system/services"

// Configurator is the store collaborator the monitor consumes
type Configurator interface {
	// GetConf returns a copy of the subtree at key
	GetConf(ctx context.Context, key string) (*Node, error)
	// SetConf writes value to the leaf at path, creating parents as needed
	SetConf(ctx context.Context, path, value string) error
}

// Node is one element of the configuration tree. Children keep insertion
// order, which is the registration order of services and instances.
type Node struct {
	Name     string
	Value    string
	Children []*Node
}

// Child returns the direct child called name, or nil
func (n *Node) Child(name string) *Node {
	if n == nil {
		return nil
	}
	for _, c := range n.Children {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// Lookup follows a relative path of child names
func (n *Node) Lookup(names ...string) *Node {
	cur := n
	for _, name := range names {
		cur = cur.Child(name)
		if cur == nil {
			return nil
		}
	}
	return cur
}

// Clone returns a deep copy
func (n *Node) Clone() *Node {
	if n == nil {
		return nil
	}
	out := &Node{Name: n.Name, Value: n.Value}
	if len(n.Children) > 0 {
		out.Children = make([]*Node, len(n.Children))
		for i, c := range n.Children {
			out.Children[i] = c.Clone()
		}
	}
	return out
}

// ensure returns the child called name, appending it if absent
func (n *Node) ensure(name string) *Node {
	if c := n.Child(name); c != nil {
		return c
	}
	c := &Node{Name: name}
	n.Children = append(n.Children, c)
	return c
}

// Walk calls fn for every node holding a value, depth first in insertion
// order, with the node's absolute path
func (n *Node) Walk(prefix string, fn func(path, value string) error) error {
	path := prefix
	if n.Name != "" {
		path = prefix + "/" + n.Name
	}
	if len(n.Children) == 0 {
		if path == "" {
			return nil
		}
		return fn(path, n.Value)
	}
	for _, c := range n.Children {
		if err := c.Walk(path, fn); err != nil {
			return err
		}
	}
	return nil
}

// SplitPath normalises a key into path segments. The ServicesKey alias maps
// to /system/services.
func SplitPath(key string) ([]string, error) {
	if key == ServicesKey {
		key = servicesPath
	}
	trimmed := strings.Trim(key, "/")
	if trimmed == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidPath, key)
	}
	parts := strings.Split(trimmed, "/")
	for _, p := range parts {
		if p == "" || p == "." || p == ".." {
			return nil, fmt.Errorf("%w: %q", ErrInvalidPath, key)
		}
	}
	return parts, nil
}

// JoinPath renders segments as an absolute path
func JoinPath(parts ...string) string {
	return "/" + strings.Join(parts, "/")
}

// InstanceOnlinePath is where an instance's online flag lives
func InstanceOnlinePath(service, uuid string) string {
	return JoinPath("system", "services", service, "cluster", uuid, "online")
}
