package tree

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"
)

func names(level []*TreeNode) []string {
	out := make([]string, len(level))
	for i, n := range level {
		out[i] = n.Name
	}
	return out
}

func TestBuildDanglingParentBecomesRoot(t *testing.T) {
	roots, err := Build([]Node{
		{ID: "b", Name: "Bravo", ParentID: "a"},
		{ID: "a", Name: "Alpha"},
		{ID: "c", Name: "Charlie", ParentID: "zzz"},
	})
	require.NoError(t, err)

	require.Equal(t, []string{"Alpha", "Charlie"}, names(roots))
	assert.Equal(t, []string{"Bravo"}, names(roots[0].Children))
	assert.Empty(t, roots[1].Children)
	assert.Equal(t, "zzz", roots[1].ParentID)
}

func TestBuildEmpty(t *testing.T) {
	roots, err := Build(nil)
	require.NoError(t, err)
	assert.NotNil(t, roots)
	assert.Empty(t, roots)
}

func TestBuildSortsEveryLevel(t *testing.T) {
	roots, err := Build([]Node{
		{ID: "pub2", Name: "zine"},
		{ID: "pub1", Name: "Atlantic"},
		{ID: "a3", Name: "Whales", ParentID: "pub1"},
		{ID: "a1", Name: "apples", ParentID: "pub1"},
		{ID: "a2", Name: "Bananas", ParentID: "pub1"},
		{ID: "x2", Name: "second excerpt", ParentID: "a1"},
		{ID: "x1", Name: "First excerpt", ParentID: "a1"},
	})
	require.NoError(t, err)

	require.Equal(t, []string{"Atlantic", "zine"}, names(roots))
	articles := roots[0].Children
	require.Equal(t, []string{"apples", "Bananas", "Whales"}, names(articles))
	assert.Equal(t, []string{"First excerpt", "second excerpt"}, names(articles[0].Children))
}

func TestBuildIsInputOrderIndependent(t *testing.T) {
	nodes := []Node{
		{ID: "leaf", Name: "Leaf", ParentID: "mid"},
		{ID: "mid", Name: "Mid", ParentID: "root"},
		{ID: "root", Name: "Root"},
		{ID: "other", Name: "Other"},
	}
	reversed := make([]Node, len(nodes))
	for i, n := range nodes {
		reversed[len(nodes)-1-i] = n
	}

	a, err := Build(nodes)
	require.NoError(t, err)
	b, err := Build(reversed)
	require.NoError(t, err)

	assert.Equal(t, a, b)
	require.Equal(t, []string{"Other", "Root"}, names(a))
	assert.Equal(t, "Leaf", a[1].Children[0].Children[0].Name)
}

func TestBuildEqualNamesFallBackToID(t *testing.T) {
	roots, err := Build([]Node{
		{ID: "2", Name: "Same"},
		{ID: "1", Name: "Same"},
	})
	require.NoError(t, err)
	assert.Equal(t, "1", roots[0].ID)
	assert.Equal(t, "2", roots[1].ID)
}

func TestBuildRejectsDuplicateIDs(t *testing.T) {
	_, err := Build([]Node{
		{ID: "a", Name: "Alpha"},
		{ID: "a", Name: "Again"},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDuplicateID)
	assert.Contains(t, err.Error(), `"a"`)
}

func TestBuildRejectsCycles(t *testing.T) {
	tests := []struct {
		name  string
		nodes []Node
		ids   string
	}{
		{
			name: "two node cycle",
			nodes: []Node{
				{ID: "a", Name: "A", ParentID: "b"},
				{ID: "b", Name: "B", ParentID: "a"},
				{ID: "c", Name: "C"},
			},
			ids: "a, b",
		},
		{
			name: "self parent",
			nodes: []Node{
				{ID: "self", Name: "Self", ParentID: "self"},
			},
			ids: "self",
		},
		{
			name: "node hanging below a cycle",
			nodes: []Node{
				{ID: "a", Name: "A", ParentID: "b"},
				{ID: "b", Name: "B", ParentID: "a"},
				{ID: "d", Name: "D", ParentID: "a"},
			},
			ids: "a, b, d",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Build(tt.nodes)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrCycle)
			assert.Contains(t, err.Error(), tt.ids)
		})
	}
}

func TestBuilderLanguage(t *testing.T) {
	nodes := []Node{
		{ID: "1", Name: "ö"},
		{ID: "2", Name: "z"},
	}

	// Swedish sorts ö after z, German sorts it with o
	sv, err := NewBuilder(language.Swedish).Build(nodes)
	require.NoError(t, err)
	assert.Equal(t, []string{"z", "ö"}, names(sv))

	de, err := NewBuilder(language.German).Build(nodes)
	require.NoError(t, err)
	assert.Equal(t, []string{"ö", "z"}, names(de))
}

func TestBuildConcurrent(t *testing.T) {
	nodes := []Node{
		{ID: "a", Name: "Alpha"},
		{ID: "b", Name: "Bravo", ParentID: "a"},
		{ID: "c", Name: "charlie", ParentID: "a"},
	}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			roots, err := Build(nodes)
			assert.NoError(t, err)
			assert.Equal(t, []string{"Bravo", "charlie"}, names(roots[0].Children))
		}()
	}
	wg.Wait()
}

func TestWalk(t *testing.T) {
	roots, err := Build([]Node{
		{ID: "a", Name: "A"},
		{ID: "b", Name: "B", ParentID: "a"},
		{ID: "c", Name: "C", ParentID: "b"},
		{ID: "d", Name: "D"},
	})
	require.NoError(t, err)

	var visited []string
	var depths []int
	Walk(roots, func(n *TreeNode, depth int) {
		visited = append(visited, n.ID)
		depths = append(depths, depth)
	})

	assert.Equal(t, []string{"a", "b", "c", "d"}, visited)
	assert.Equal(t, []int{0, 1, 2, 0}, depths)
}
