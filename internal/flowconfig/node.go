// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package flowconfig implements the hierarchical configuration collaborator
// the flow engine reads its tuning parameters from: a tree of named nodes,
// each with an optional scalar value and an ordered list of children, plus
// the two lookups the engine needs (GetValue, FindChild).
package flowconfig

import (
	"strings"
	"sync"

	"grimm.is/flowengine/internal/errors"
)

// Node is the contract the flow engine requires from its configuration
// collaborator. Both the HCL-backed tree (Tree) and the in-memory mock used
// by tests (MapNode) implement it.
type Node interface {
	// GetValue resolves a dotted key path (e.g. "flow.hash-size") to its
	// scalar string value, walking children as path segments.
	GetValue(key string) (string, bool)
	// FindChild returns the immediate child with the given name.
	FindChild(name string) (Node, bool)
}

// Tree is a generic, read-only configuration node backed by values parsed
// once at load time. It is the shape the HCL loader produces.
type Tree struct {
	name     string
	value    string
	hasValue bool
	children map[string]*Tree
	order    []string
}

// NewTree creates an empty root tree node.
func NewTree(name string) *Tree {
	return &Tree{name: name, children: make(map[string]*Tree)}
}

// Name returns the node's own name.
func (t *Tree) Name() string { return t.name }

// SetValue assigns this node's scalar value.
func (t *Tree) SetValue(v string) { t.value = v; t.hasValue = true }

// Child returns (creating if necessary) the named child node.
func (t *Tree) Child(name string) *Tree {
	if c, ok := t.children[name]; ok {
		return c
	}
	c := NewTree(name)
	t.children[name] = c
	t.order = append(t.order, name)
	return c
}

// FindChild implements Node.
func (t *Tree) FindChild(name string) (Node, bool) {
	c, ok := t.children[name]
	if !ok {
		return nil, false
	}
	return c, true
}

// Children returns the node's children in insertion order.
func (t *Tree) Children() []*Tree {
	out := make([]*Tree, 0, len(t.order))
	for _, name := range t.order {
		out = append(out, t.children[name])
	}
	return out
}

// GetValue implements Node, walking dotted path segments through children.
func (t *Tree) GetValue(key string) (string, bool) {
	node := t
	segments := strings.Split(key, ".")
	for i, seg := range segments {
		child, ok := node.children[seg]
		if !ok {
			return "", false
		}
		node = child
		if i == len(segments)-1 {
			if !node.hasValue {
				return "", false
			}
			return node.value, true
		}
	}
	return "", false
}

// MapNode is an in-memory, mutable Node used by tests. A value set with
// allowOverride=false cannot be replaced by a later Set call.
type MapNode struct {
	mu       sync.Mutex
	value    string
	hasValue bool
	override bool
	children map[string]*MapNode
}

// NewMapNode creates an empty root mock node.
func NewMapNode() *MapNode {
	return &MapNode{override: true, children: make(map[string]*MapNode)}
}

// Set assigns value at the dotted key path, creating intermediate nodes as
// needed. If an existing node at that path was set with allowOverride=false,
// Set returns an error and leaves the value unchanged.
func (n *MapNode) Set(key, value string, allowOverride bool) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	node := n
	for _, seg := range strings.Split(key, ".") {
		child, ok := node.children[seg]
		if !ok {
			child = &MapNode{override: true, children: make(map[string]*MapNode)}
			node.children[seg] = child
		}
		node = child
	}

	if node.hasValue && !node.override {
		return errors.Attr(
			errors.Errorf(errors.KindConflict, "flowconfig: %q is locked against override", key),
			"key", key)
	}
	node.value = value
	node.hasValue = true
	node.override = allowOverride
	return nil
}

// GetValue implements Node.
func (n *MapNode) GetValue(key string) (string, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()

	node := n
	segments := strings.Split(key, ".")
	for i, seg := range segments {
		child, ok := node.children[seg]
		if !ok {
			return "", false
		}
		node = child
		if i == len(segments)-1 {
			if !node.hasValue {
				return "", false
			}
			return node.value, true
		}
	}
	return "", false
}

// FindChild implements Node.
func (n *MapNode) FindChild(name string) (Node, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	c, ok := n.children[name]
	if !ok {
		return nil, false
	}
	return c, true
}
