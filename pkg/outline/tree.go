// Package outline models the per-variant structure snapshot of a shifu and
// the traversal rules that move a learner from one outline item to the next.
package outline

import (
	"encoding/json"
	"fmt"
)

// Node types appearing in a structure snapshot.
const (
	NodeTypeShifu   = "shifu"
	NodeTypeOutline = "outline"
	NodeTypeBlock   = "block"
)

// Node is one entry of the structure snapshot tree. Outline nodes carry a
// bid; block nodes only an internal id. Children are ordered.
type Node struct {
	BID      string  `json:"bid,omitempty"`
	ID       int64   `json:"id,omitempty"`
	Type     string  `json:"type"`
	Children []*Node `json:"children,omitempty"`
}

// ParseTree decodes a structure snapshot from its stored JSON form.
func ParseTree(raw []byte) (*Node, error) {
	var root Node
	if err := json.Unmarshal(raw, &root); err != nil {
		return nil, fmt.Errorf("failed to parse structure snapshot: %w", err)
	}
	return &root, nil
}

// IsLeafOutline reports whether the node is a leaf outline: its first child
// is a block, or it has no children at all.
func (n *Node) IsLeafOutline() bool {
	if len(n.Children) == 0 {
		return true
	}
	return n.Children[0].Type == NodeTypeBlock
}

// OutlineChildren returns the node's direct children of type outline, in
// declared order.
func (n *Node) OutlineChildren() []*Node {
	var out []*Node
	for _, c := range n.Children {
		if c.Type == NodeTypeOutline {
			out = append(out, c)
		}
	}
	return out
}

// FindOutline locates the outline node with the given bid, or nil.
func (n *Node) FindOutline(bid string) *Node {
	if n.Type == NodeTypeOutline && n.BID == bid {
		return n
	}
	for _, c := range n.Children {
		if c.Type == NodeTypeBlock {
			continue
		}
		if found := c.FindOutline(bid); found != nil {
			return found
		}
	}
	return nil
}

// PathTo returns the chain of outline nodes from the tree root down to the
// outline with the given bid, excluding the shifu root itself. Returns nil
// when the bid is not in the tree.
func (n *Node) PathTo(bid string) []*Node {
	if n.Type == NodeTypeOutline {
		if n.BID == bid {
			return []*Node{n}
		}
	}
	for _, c := range n.Children {
		if c.Type == NodeTypeBlock {
			continue
		}
		if rest := c.PathTo(bid); rest != nil {
			if n.Type == NodeTypeOutline {
				return append([]*Node{n}, rest...)
			}
			return rest
		}
	}
	return nil
}
