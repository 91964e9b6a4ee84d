package tree

// Leaf marks a missing child in Tree.Left and Tree.Right
const Leaf = -1

// Tree is the array representation of a fitted binary decision tree.
// Node 0 is the root and nodes are numbered in depth-first, left-first order.
// For a leaf, Left and Right are Leaf and Feature is -1.
type Tree struct {
	Feature   []int
	Threshold []float64
	Left      []int
	Right     []int
	// Value holds the weighted class distribution of each node, normalised to sum to 1
	Value [][]float64
	// WeightedNSamples is the total sample weight reaching each node
	WeightedNSamples []float64
	// NSamples is the number of distinct training rows reaching each node
	NSamples []int
	Impurity []float64
	MaxDepth int
}

// NodeCount returns the number of nodes
func (t *Tree) NodeCount() int {
	return len(t.Feature)
}

// IsLeaf reports whether node has no children
func (t *Tree) IsLeaf(node int) bool {
	return t.Left[node] == Leaf
}

// NLeaves returns the number of leaves
func (t *Tree) NLeaves() int {
	n := 0
	for node := range t.Left {
		if t.IsLeaf(node) {
			n++
		}
	}
	return n
}

// Apply returns the leaf reached by a feature row.
// Rows go left when row[feature] <= threshold.
func (t *Tree) Apply(row []float64) int {
	node := 0
	for !t.IsLeaf(node) {
		if row[t.Feature[node]] <= t.Threshold[node] {
			node = t.Left[node]
		} else {
			node = t.Right[node]
		}
	}
	return node
}

func (t *Tree) addNode(feature int, threshold float64, value []float64, weighted float64, n int, impurity float64) int {
	t.Feature = append(t.Feature, feature)
	t.Threshold = append(t.Threshold, threshold)
	t.Left = append(t.Left, Leaf)
	t.Right = append(t.Right, Leaf)
	t.Value = append(t.Value, value)
	t.WeightedNSamples = append(t.WeightedNSamples, weighted)
	t.NSamples = append(t.NSamples, n)
	t.Impurity = append(t.Impurity, impurity)
	return len(t.Feature) - 1
}
