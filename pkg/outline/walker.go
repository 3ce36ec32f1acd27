package outline

import (
	"github.com/markdownflow/flowrun/pkg/models"
)

// Meta carries the outline item attributes the walker needs beyond the bare
// structure snapshot.
type Meta struct {
	Title  string
	Hidden bool
}

// Update describes one progress transition produced by a traversal step. It
// maps directly onto an outline item update event.
type Update struct {
	OutlineBID  string `json:"outline_bid"`
	Title       string `json:"title"`
	Status      string `json:"status"`
	HasChildren bool   `json:"has_children"`
}

// EnterUpdates returns the transitions for entering the target outline: every
// node on the root-to-target path that is not already in progress or
// completed is marked in progress, ancestors first. Hidden nodes produce no
// update.
func EnterUpdates(root *Node, statusByBID map[string]string, meta map[string]Meta, targetBID string) []Update {
	path := root.PathTo(targetBID)
	if len(path) == 0 {
		return nil
	}
	var updates []Update
	for _, n := range path {
		if meta[n.BID].Hidden {
			continue
		}
		switch statusByBID[n.BID] {
		case models.ProgressInProgress, models.ProgressCompleted:
			continue
		}
		updates = append(updates, startUpdate(n, meta))
	}
	return updates
}

// CompleteUpdates returns the transitions for finishing the current leaf: the
// leaf is completed, ancestors with no further visible children are completed
// bottom-up, and the next visible sibling (if any) is entered down its
// leftmost visible chain. Children are consumed strictly in declared order.
func CompleteUpdates(root *Node, meta map[string]Meta, currentBID string) []Update {
	path := root.PathTo(currentBID)
	if len(path) == 0 {
		return nil
	}
	leaf := path[len(path)-1]
	updates := []Update{completedUpdate(leaf, meta)}

	child := leaf
	for i := len(path) - 2; i >= -1; i-- {
		parent := root
		if i >= 0 {
			parent = path[i]
		}
		if next := nextVisibleSibling(parent, child, meta); next != nil {
			return append(updates, descendUpdates(next, meta)...)
		}
		if parent.Type != NodeTypeOutline {
			return updates
		}
		updates = append(updates, completedUpdate(parent, meta))
		child = parent
	}
	return updates
}

// NextLeaf returns the leaf outline the learner would enter after finishing
// the current one, or nil when the shifu is exhausted.
func NextLeaf(root *Node, meta map[string]Meta, currentBID string) *Node {
	path := root.PathTo(currentBID)
	if len(path) == 0 {
		return nil
	}
	child := path[len(path)-1]
	for i := len(path) - 2; i >= -1; i-- {
		parent := root
		if i >= 0 {
			parent = path[i]
		}
		if next := nextVisibleSibling(parent, child, meta); next != nil {
			for !next.IsLeafOutline() {
				down := firstVisibleOutlineChild(next, meta)
				if down == nil {
					break
				}
				next = down
			}
			return next
		}
		if parent.Type != NodeTypeOutline {
			return nil
		}
		child = parent
	}
	return nil
}

func nextVisibleSibling(parent, child *Node, meta map[string]Meta) *Node {
	sibs := parent.OutlineChildren()
	idx := -1
	for i, s := range sibs {
		if s == child {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil
	}
	for j := idx + 1; j < len(sibs); j++ {
		if !meta[sibs[j].BID].Hidden {
			return sibs[j]
		}
	}
	return nil
}

func firstVisibleOutlineChild(n *Node, meta map[string]Meta) *Node {
	for _, c := range n.OutlineChildren() {
		if !meta[c.BID].Hidden {
			return c
		}
	}
	return nil
}

// descendUpdates enters a subtree along its leftmost visible chain: internal
// nodes are started on the way down and the final leaf is started last.
func descendUpdates(n *Node, meta map[string]Meta) []Update {
	var updates []Update
	for !n.IsLeafOutline() {
		next := firstVisibleOutlineChild(n, meta)
		if next == nil {
			break
		}
		updates = append(updates, startUpdate(n, meta))
		n = next
	}
	return append(updates, startUpdate(n, meta))
}

func startUpdate(n *Node, meta map[string]Meta) Update {
	return Update{
		OutlineBID:  n.BID,
		Title:       meta[n.BID].Title,
		Status:      models.ProgressInProgress,
		HasChildren: !n.IsLeafOutline(),
	}
}

func completedUpdate(n *Node, meta map[string]Meta) Update {
	return Update{
		OutlineBID:  n.BID,
		Title:       meta[n.BID].Title,
		Status:      models.ProgressCompleted,
		HasChildren: !n.IsLeafOutline(),
	}
}
