// Package params provides get/set-by-name access to instrument
// configuration parameters.
//
// The instrument exposes its parameters as a tree of nodes addressed by
// dotted paths. Integer nodes hold int32 values; enumerated nodes hold one
// of a small set of textual tokens.
package params

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
)

var (
	// ErrUnavailable is returned while the parameter service cannot be reached
	ErrUnavailable = errors.New("params: parameter service unavailable")
	// ErrNodeNotFound is returned for paths that do not exist
	ErrNodeNotFound = errors.New("params: node not found")
	// ErrWrongType is returned when accessing a node with the wrong value type
	ErrWrongType = errors.New("params: node type mismatch")
)

// Access is the get/set contract of the parameter service
type Access interface {
	GetInt(path string) (int32, error)
	SetInt(path string, v int32) error
	GetToken(path string) (string, error)
	SetToken(path string, token string) error
}

// Kind is the value type of a node
type Kind int

const (
	KindInt Kind = iota
	KindToken
)

// String returns the kind name
func (k Kind) String() string {
	if k == KindToken {
		return "token"
	}
	return "int"
}

// NodeSpec declares a node and its initial value (textual)
type NodeSpec struct {
	Path    string
	Kind    Kind
	Initial string
}

type node struct {
	kind  Kind
	i     int32
	token string
}

// Memory is an in-process parameter tree.
// It is safe for concurrent use.
type Memory struct {
	mu    sync.RWMutex
	nodes map[string]*node

	online atomic.Bool
	gets   atomic.Uint64
	sets   atomic.Uint64
}

// NewMemory creates an empty, offline parameter tree
func NewMemory() *Memory {
	return &Memory{nodes: make(map[string]*node)}
}

// Define adds a node. Redefining an existing path is an error.
func (m *Memory) Define(spec NodeSpec) error {
	if spec.Path == "" {
		return fmt.Errorf("params: node path is required")
	}

	n := &node{kind: spec.Kind}
	switch spec.Kind {
	case KindInt:
		if spec.Initial != "" {
			v, err := strconv.ParseInt(spec.Initial, 10, 32)
			if err != nil {
				return fmt.Errorf("params: node %q: invalid int32 initial value %q: %w", spec.Path, spec.Initial, err)
			}
			n.i = int32(v)
		}
	case KindToken:
		n.token = spec.Initial
	default:
		return fmt.Errorf("params: node %q: unknown kind %d", spec.Path, spec.Kind)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.nodes[spec.Path]; exists {
		return fmt.Errorf("params: node %q already defined", spec.Path)
	}
	m.nodes[spec.Path] = n
	return nil
}

// Connect brings the tree online after checking that every required path exists
func (m *Memory) Connect(required ...string) error {
	m.mu.RLock()
	for _, path := range required {
		if _, ok := m.nodes[path]; !ok {
			m.mu.RUnlock()
			return fmt.Errorf("params: required node %q: %w", path, ErrNodeNotFound)
		}
	}
	count := len(m.nodes)
	m.mu.RUnlock()

	m.online.Store(true)
	slog.Info("params: parameter service connected", "nodes", count)
	return nil
}

// SetOnline switches availability; offline access fails with ErrUnavailable
func (m *Memory) SetOnline(online bool) {
	if m.online.Swap(online) != online {
		slog.Warn("params: availability changed", "online", online)
	}
}

// Online reports whether the tree is reachable
func (m *Memory) Online() bool {
	return m.online.Load()
}

// Paths returns all defined node paths, sorted
func (m *Memory) Paths() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	paths := make([]string, 0, len(m.nodes))
	for p := range m.nodes {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// GetInt reads an integer node
func (m *Memory) GetInt(path string) (int32, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n, err := m.lookup(path, KindInt)
	if err != nil {
		return 0, err
	}
	m.gets.Add(1)
	return n.i, nil
}

// SetInt writes an integer node
func (m *Memory) SetInt(path string, v int32) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	n, err := m.lookup(path, KindInt)
	if err != nil {
		return err
	}
	n.i = v
	m.sets.Add(1)
	return nil
}

// GetToken reads an enumerated node
func (m *Memory) GetToken(path string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n, err := m.lookup(path, KindToken)
	if err != nil {
		return "", err
	}
	m.gets.Add(1)
	return n.token, nil
}

// SetToken writes an enumerated node
func (m *Memory) SetToken(path string, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	n, err := m.lookup(path, KindToken)
	if err != nil {
		return err
	}
	n.token = token
	m.sets.Add(1)
	return nil
}

// Stats returns the number of successful gets and sets
func (m *Memory) Stats() (gets, sets uint64) {
	return m.gets.Load(), m.sets.Load()
}

// lookup must be called with mu held
func (m *Memory) lookup(path string, kind Kind) (*node, error) {
	if !m.online.Load() {
		return nil, ErrUnavailable
	}
	n, ok := m.nodes[path]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNodeNotFound, path)
	}
	if n.kind != kind {
		return nil, fmt.Errorf("%w: %q is %s, not %s", ErrWrongType, path, n.kind, kind)
	}
	return n, nil
}
