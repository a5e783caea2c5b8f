package configstore

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

// MemoryStore is an in-process Configurator. It is the default store for
// single-host deployments and tests, seeded from a YAML document.
type MemoryStore struct {
	mu   sync.RWMutex
	root *Node
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{root: &Node{}}
}

// LoadMemoryStore creates a store seeded from a YAML file
func LoadMemoryStore(path string) (*MemoryStore, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open seed: %w", err)
	}
	defer f.Close()

	s := NewMemoryStore()
	if err := s.LoadYAML(f); err != nil {
		return nil, fmt.Errorf("load seed %s: %w", path, err)
	}
	return s, nil
}

// LoadYAML merges a YAML mapping into the store, keeping document order.
// Scalars become leaf values verbatim, so `online: true` is stored as "true".
func (s *MemoryStore) LoadYAML(r io.Reader) error {
	root, err := ParseYAML(r)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return root.Walk("", func(path, value string) error {
		parts, err := SplitPath(path)
		if err != nil {
			return err
		}
		s.set(parts, value)
		return nil
	})
}

// ParseYAML converts a YAML mapping document into a Node tree
func ParseYAML(r io.Reader) (*Node, error) {
	var doc yaml.Node
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
		if err == io.EOF {
			return &Node{}, nil
		}
		return nil, fmt.Errorf("decode yaml: %w", err)
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 {
		return nil, fmt.Errorf("decode yaml: expected a document")
	}
	root := &Node{}
	if err := fromYAML(root, doc.Content[0]); err != nil {
		return nil, err
	}
	return root, nil
}

func fromYAML(dst *Node, src *yaml.Node) error {
	switch src.Kind {
	case yaml.ScalarNode:
		dst.Value = src.Value
		return nil
	case yaml.MappingNode:
		for i := 0; i+1 < len(src.Content); i += 2 {
			key := src.Content[i].Value
			if err := fromYAML(dst.ensure(key), src.Content[i+1]); err != nil {
				return err
			}
		}
		return nil
	case yaml.AliasNode:
		return fromYAML(dst, src.Alias)
	default:
		return fmt.Errorf("decode yaml: line %d: sequences are not supported in the configuration tree", src.Line)
	}
}

// GetConf returns a copy of the subtree at key
func (s *MemoryStore) GetConf(ctx context.Context, key string) (*Node, error) {
	parts, err := SplitPath(key)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	n := s.root.Lookup(parts...)
	if n == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, JoinPath(parts...))
	}
	return n.Clone(), nil
}

// SetConf writes value at path
func (s *MemoryStore) SetConf(ctx context.Context, path, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	parts, err := SplitPath(path)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.set(parts, value)
	return nil
}

func (s *MemoryStore) set(parts []string, value string) {
	n := s.root
	for _, p := range parts {
		n = n.ensure(p)
	}
	n.Value = value
}

// Ping always succeeds
func (s *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

func (s *MemoryStore) Close() error {
	return nil
}
