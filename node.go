package psd

import (
	"image"
	"strings"
)

// NodeType distinguishes the nodes of the layer tree.
type NodeType string

// Node types
const (
	NodeTypeRoot  NodeType = "root"
	NodeTypeGroup NodeType = "group"
	NodeTypeLayer NodeType = "layer"
)

// Node represents a node in the layer tree. Children are ordered top-most
// first, the way the layers panel shows them.
type Node struct {
	Type      NodeType `json:"type"`
	Name      string   `json:"name"`
	Layer     *Layer   `json:"-"`
	Parent    *Node    `json:"-"`
	Children  []*Node  `json:"children,omitempty"`
	Visible   bool     `json:"visible"`
	Opacity   uint8    `json:"opacity"`
	BlendMode string   `json:"blend_mode,omitempty"`
	Left      int32    `json:"left"`
	Top       int32    `json:"top"`
	Right     int32    `json:"right"`
	Bottom    int32    `json:"bottom"`
}

func newLayerNode(t NodeType, l *Layer) *Node {
	return &Node{
		Type:      t,
		Name:      l.Name,
		Layer:     l,
		Visible:   l.Visible(),
		Opacity:   l.Opacity,
		BlendMode: blendModeName(l.BlendModeKey),
		Left:      l.Left,
		Top:       l.Top,
		Right:     l.Right,
		Bottom:    l.Bottom,
	}
}

func (n *Node) add(child *Node) {
	child.Parent = n
	n.Children = append(n.Children, child)
}

// buildTree nests the layers by their section dividers. Walking from the
// top-most layer down, a folder record opens a group and the bounding
// divider below its children closes it.
func (lm *LayerMask) buildTree(h *Header) {
	root := &Node{
		Type:    NodeTypeRoot,
		Name:    "Root",
		Visible: true,
		Opacity: 255,
		Right:   int32(h.Width()),
		Bottom:  int32(h.Height()),
	}

	stack := []*Node{root}
	for i := len(lm.Layers) - 1; i >= 0; i-- {
		layer := lm.Layers[i]
		parent := stack[len(stack)-1]
		switch {
		case layer.IsFolderEnd():
			if len(stack) > 1 {
				stack = stack[:len(stack)-1]
			}
		case layer.IsFolder():
			group := newLayerNode(NodeTypeGroup, layer)
			parent.add(group)
			stack = append(stack, group)
		default:
			parent.add(newLayerNode(NodeTypeLayer, layer))
		}
	}

	root.UpdateDimensions()
	lm.tree = root
}

// IsRoot returns whether this is the root node
func (n *Node) IsRoot() bool {
	return n.Type == NodeTypeRoot
}

// Walk visits n and its descendants depth first until fn returns false.
func (n *Node) Walk(fn func(*Node) bool) bool {
	if !fn(n) {
		return false
	}
	for _, child := range n.Children {
		if !child.Walk(fn) {
			return false
		}
	}
	return true
}

// Descendants returns all descendant nodes (not including this node)
func (n *Node) Descendants() []*Node {
	var result []*Node
	for _, child := range n.Children {
		child.Walk(func(d *Node) bool {
			result = append(result, d)
			return true
		})
	}
	return result
}

func (n *Node) descendantsOfType(t NodeType) []*Node {
	var result []*Node
	for _, d := range n.Descendants() {
		if d.Type == t {
			result = append(result, d)
		}
	}
	return result
}

// DescendantLayers returns all descendant layer nodes
func (n *Node) DescendantLayers() []*Node {
	return n.descendantsOfType(NodeTypeLayer)
}

// DescendantGroups returns all descendant group nodes
func (n *Node) DescendantGroups() []*Node {
	return n.descendantsOfType(NodeTypeGroup)
}

// Depth returns the depth of this node in the tree (root is 0)
func (n *Node) Depth() int {
	depth := 0
	for p := n.Parent; p != nil; p = p.Parent {
		depth++
	}
	return depth
}

// Path returns the slash separated names from the root to n.
func (n *Node) Path() string {
	var parts []string
	for cur := n; cur.Parent != nil; cur = cur.Parent {
		parts = append([]string{cur.Name}, parts...)
	}
	return strings.Join(parts, "/")
}

// ChildrenAtPath finds nodes at the given path
func (n *Node) ChildrenAtPath(path string) []*Node {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil
	}
	nodes := []*Node{n}
	for _, name := range strings.Split(path, "/") {
		var next []*Node
		for _, node := range nodes {
			for _, child := range node.Children {
				if child.Name == name {
					next = append(next, child)
				}
			}
		}
		nodes = next
	}
	return nodes
}

// Bounds returns the node rectangle.
func (n *Node) Bounds() image.Rectangle {
	return image.Rect(int(n.Left), int(n.Top), int(n.Right), int(n.Bottom))
}

// Width returns the width of the node
func (n *Node) Width() int32 {
	return n.Right - n.Left
}

// Height returns the height of the node
func (n *Node) Height() int32 {
	return n.Bottom - n.Top
}

// IsEmpty returns whether this node is empty (zero size)
func (n *Node) IsEmpty() bool {
	return n.Width() == 0 || n.Height() == 0
}

// UpdateDimensions sets the rectangle of every group to the union of its
// non-empty children. The root keeps the document size.
func (n *Node) UpdateDimensions() {
	if n.Type == NodeTypeLayer {
		return
	}
	for _, child := range n.Children {
		child.UpdateDimensions()
	}
	if n.Type == NodeTypeRoot {
		return
	}

	var union image.Rectangle
	for _, child := range n.Children {
		if !child.IsEmpty() {
			union = union.Union(child.Bounds())
		}
	}
	n.Left, n.Top = int32(union.Min.X), int32(union.Min.Y)
	n.Right, n.Bottom = int32(union.Max.X), int32(union.Max.Y)
}
