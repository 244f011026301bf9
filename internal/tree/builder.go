package tree

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

var (
	ErrDuplicateID = errors.New("duplicate node id")
	ErrCycle       = errors.New("parent cycle")
)

// Node is one entry of a flat parent-pointer listing. An empty ParentID marks a root.
type Node struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	ParentID string `json:"parent_id,omitempty"`
}

// TreeNode is a Node with its children attached.
type TreeNode struct {
	ID       string      `json:"id"`
	Name     string      `json:"name"`
	ParentID string      `json:"parent_id,omitempty"`
	Children []*TreeNode `json:"children"`
}

// Builder turns flat node listings into name-sorted forests.
type Builder struct {
	lang language.Tag
}

// NewBuilder returns a Builder that orders siblings using the collation rules of lang.
func NewBuilder(lang language.Tag) *Builder {
	return &Builder{lang: lang}
}

// DefaultLanguage is the collation used by Build.
var DefaultLanguage = language.English

var defaultBuilder = NewBuilder(DefaultLanguage)

// Build uses English collation.
func Build(nodes []Node) ([]*TreeNode, error) {
	return defaultBuilder.Build(nodes)
}

// Build indexes every node by id, then links each node under its parent.
// Nodes whose parent is absent from the input become roots. Children and
// roots are ordered by name at every level.
func (b *Builder) Build(nodes []Node) ([]*TreeNode, error) {
	index := make(map[string]*TreeNode, len(nodes))
	for _, n := range nodes {
		if _, exists := index[n.ID]; exists {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateID, n.ID)
		}
		index[n.ID] = &TreeNode{
			ID:       n.ID,
			Name:     n.Name,
			ParentID: n.ParentID,
			Children: []*TreeNode{},
		}
	}

	roots := make([]*TreeNode, 0)
	for _, n := range nodes {
		node := index[n.ID]
		if parent, ok := index[n.ParentID]; ok && n.ParentID != "" {
			parent.Children = append(parent.Children, node)
		} else {
			roots = append(roots, node)
		}
	}

	if cyclic := unreachable(roots, index); len(cyclic) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrCycle, strings.Join(cyclic, ", "))
	}

	// collators keep internal buffers, one per call keeps Build safe for concurrent use
	c := collate.New(b.lang)
	sortLevel(c, roots)

	return roots, nil
}

func sortLevel(c *collate.Collator, level []*TreeNode) {
	sort.SliceStable(level, func(i, j int) bool {
		if cmp := c.CompareString(level[i].Name, level[j].Name); cmp != 0 {
			return cmp < 0
		}
		return level[i].ID < level[j].ID
	})
	for _, n := range level {
		sortLevel(c, n.Children)
	}
}

// unreachable lists, sorted, the ids that no root leads to. Every such node
// sits on or below a parent cycle.
func unreachable(roots []*TreeNode, index map[string]*TreeNode) []string {
	seen := make(map[string]bool, len(index))
	stack := append([]*TreeNode(nil), roots...)
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		seen[n.ID] = true
		stack = append(stack, n.Children...)
	}

	ids := make([]string, 0)
	for id := range index {
		if !seen[id] {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// Walk visits every node depth-first in display order.
func Walk(roots []*TreeNode, fn func(n *TreeNode, depth int)) {
	var visit func(level []*TreeNode, depth int)
	visit = func(level []*TreeNode, depth int) {
		for _, n := range level {
			fn(n, depth)
			visit(n.Children, depth+1)
		}
	}
	visit(roots, 0)
}
