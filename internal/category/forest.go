// Package category owns the category hierarchy: an explicit adjacency
// structure over the flat parent relation plus the service that mutates it.
package category

import (
	"sort"
	"strings"

	"classifieds-catalog/internal/domain"
)

// Forest indexes a flat category list by id and by parent. It is rebuilt from
// the store for every operation that needs traversal and is never mutated in place.
type Forest struct {
	nodes    map[int64]domain.Category
	children map[int64][]int64 // parent id -> child ids, sorted by name
	roots    []int64
}

// NewForest builds the adjacency index. A node whose parent is not in the list
// is treated as a root so a partial list still yields a usable forest.
func NewForest(categories []domain.Category) *Forest {
	f := &Forest{
		nodes:    make(map[int64]domain.Category, len(categories)),
		children: make(map[int64][]int64),
	}
	for _, c := range categories {
		f.nodes[c.ID] = c
	}
	for _, c := range categories {
		if c.ParentID != nil {
			if _, ok := f.nodes[*c.ParentID]; ok {
				f.children[*c.ParentID] = append(f.children[*c.ParentID], c.ID)
				continue
			}
		}
		f.roots = append(f.roots, c.ID)
	}
	f.sortByName(f.roots)
	for parent := range f.children {
		f.sortByName(f.children[parent])
	}
	return f
}

func (f *Forest) sortByName(ids []int64) {
	sort.SliceStable(ids, func(i, j int) bool {
		a, b := f.nodes[ids[i]], f.nodes[ids[j]]
		if an, bn := strings.ToLower(a.Name), strings.ToLower(b.Name); an != bn {
			return an < bn
		}
		return a.ID < b.ID
	})
}

// Get returns the category with the given id.
func (f *Forest) Get(id int64) (domain.Category, bool) {
	c, ok := f.nodes[id]
	return c, ok
}

// Len is the number of nodes in the forest.
func (f *Forest) Len() int {
	return len(f.nodes)
}

// Children returns the direct children of id ordered by name.
func (f *Forest) Children(id int64) []int64 {
	return f.children[id]
}

// Descendants returns every node below id (id itself excluded), collected with
// an iterative depth-first walk over the children index. The visited set makes
// the walk terminate even on a corrupted relation that already contains a cycle.
func (f *Forest) Descendants(id int64) map[int64]struct{} {
	seen := make(map[int64]struct{})
	stack := append([]int64(nil), f.children[id]...)
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, ok := seen[n]; ok || n == id {
			continue
		}
		seen[n] = struct{}{}
		stack = append(stack, f.children[n]...)
	}
	return seen
}

// CanMove reports whether id may be reparented under newParent: the new parent
// must be neither id itself nor one of its descendants. A nil parent (make root)
// is always allowed.
func (f *Forest) CanMove(id int64, newParent *int64) bool {
	if newParent == nil {
		return true
	}
	if *newParent == id {
		return false
	}
	_, inSubtree := f.Descendants(id)[*newParent]
	return !inSubtree
}

// Tree returns the nested view: one node per root with children attached
// recursively, siblings ordered by name.
func (f *Forest) Tree() []*domain.CategoryNode {
	out := make([]*domain.CategoryNode, 0, len(f.roots))
	for _, id := range f.roots {
		out = append(out, f.subtree(id, map[int64]struct{}{}))
	}
	return out
}

func (f *Forest) subtree(id int64, path map[int64]struct{}) *domain.CategoryNode {
	node := &domain.CategoryNode{Category: f.nodes[id]}
	path[id] = struct{}{}
	for _, child := range f.children[id] {
		if _, onPath := path[child]; onPath {
			continue
		}
		node.Children = append(node.Children, f.subtree(child, path))
	}
	delete(path, id)
	return node
}
