// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package kinematics

import (
	"errors"
	"fmt"
	"sort"
)

// ErrInvalidTopology wraps every skeleton validation failure.
var ErrInvalidTopology = errors.New("invalid topology")

// DefaultRoot is the segment every skeleton hangs from unless configured
// otherwise.
const DefaultRoot = "torso"

// Topology is a validated segment tree. It is immutable.
type Topology struct {
	root     string
	parents  map[string]string
	children map[string][]string
	order    []string // root first, breadth first
}

// NewTopology validates a segment -> parent map. The root is the single
// segment with an empty parent and must be named root (DefaultRoot when
// empty).
func NewTopology(root string, parents map[string]string) (*Topology, error) {
	if root == "" {
		root = DefaultRoot
	}
	if len(parents) == 0 {
		return nil, fmt.Errorf("%w: no segments", ErrInvalidTopology)
	}

	var roots []string
	for seg, parent := range parents {
		if seg == "" {
			return nil, fmt.Errorf("%w: empty segment id", ErrInvalidTopology)
		}
		if parent == "" {
			roots = append(roots, seg)
			continue
		}
		if parent == seg {
			return nil, fmt.Errorf("%w: segment %q is its own parent", ErrInvalidTopology, seg)
		}
		if _, ok := parents[parent]; !ok {
			return nil, fmt.Errorf("%w: segment %q has unknown parent %q", ErrInvalidTopology, seg, parent)
		}
	}
	sort.Strings(roots)
	switch {
	case len(roots) == 0:
		return nil, fmt.Errorf("%w: no root segment (cycle through every segment)", ErrInvalidTopology)
	case len(roots) > 1:
		return nil, fmt.Errorf("%w: multiple roots %v", ErrInvalidTopology, roots)
	case roots[0] != root:
		return nil, fmt.Errorf("%w: root is %q, want %q", ErrInvalidTopology, roots[0], root)
	}

	t := &Topology{
		root:     root,
		parents:  make(map[string]string, len(parents)),
		children: make(map[string][]string, len(parents)),
	}
	for seg, parent := range parents {
		t.parents[seg] = parent
		if parent != "" {
			t.children[parent] = append(t.children[parent], seg)
		}
	}
	for _, c := range t.children {
		sort.Strings(c)
	}

	// Walk from the root; anything not reached sits on a cycle.
	seen := map[string]bool{root: true}
	queue := []string{root}
	for len(queue) > 0 {
		seg := queue[0]
		queue = queue[1:]
		t.order = append(t.order, seg)
		for _, c := range t.children[seg] {
			if !seen[c] {
				seen[c] = true
				queue = append(queue, c)
			}
		}
	}
	if len(t.order) != len(parents) {
		var lost []string
		for seg := range parents {
			if !seen[seg] {
				lost = append(lost, seg)
			}
		}
		sort.Strings(lost)
		return nil, fmt.Errorf("%w: segments %v not connected to %q (cycle)", ErrInvalidTopology, lost, root)
	}
	return t, nil
}

// Root returns the root segment id.
func (t *Topology) Root() string { return t.root }

// Parent returns seg's parent; the root has none.
func (t *Topology) Parent(seg string) (string, bool) {
	p, ok := t.parents[seg]
	return p, ok && p != ""
}

// Has reports whether seg belongs to the skeleton.
func (t *Topology) Has(seg string) bool {
	_, ok := t.parents[seg]
	return ok
}

// Segments returns all segments, root first.
func (t *Topology) Segments() []string {
	return append([]string(nil), t.order...)
}

// Edges returns (parent, child) pairs in breadth-first order.
func (t *Topology) Edges() [][2]string {
	out := make([][2]string, 0, len(t.order)-1)
	for _, seg := range t.order[1:] {
		out = append(out, [2]string{t.parents[seg], seg})
	}
	return out
}
