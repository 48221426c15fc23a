package imageop

import "container/list"

// retention keeps recently released nodes that still hold a bitmap, bounded
// by the total bitmap bytes. It is guarded by Cache.mu.
type retention struct {
	capacity    int64
	currentSize int64
	evictList   *list.List
}

type retainedEntry struct {
	node *node
	size int64
}

func newRetention(capacity int64) *retention {
	return &retention{capacity: capacity, evictList: list.New()}
}

func (r *retention) enabled() bool {
	return r.capacity > 0
}

// push adds n at the front and returns the nodes evicted to stay within capacity.
// A bitmap larger than the whole capacity is not admitted and n itself is returned.
func (r *retention) push(n *node, size int64) []*node {
	if size > r.capacity {
		return []*node{n}
	}
	n.retained = r.evictList.PushFront(&retainedEntry{node: n, size: size})
	r.currentSize += size

	var evicted []*node
	for r.currentSize > r.capacity {
		back := r.evictList.Back()
		if back == nil {
			break
		}
		evicted = append(evicted, r.removeElement(back))
	}
	return evicted
}

// remove takes n off the list if present.
func (r *retention) remove(n *node) {
	if n.retained != nil {
		r.removeElement(n.retained)
	}
}

// drain empties the list and returns every node that was on it, oldest first.
func (r *retention) drain() []*node {
	nodes := make([]*node, 0, r.evictList.Len())
	for e := r.evictList.Back(); e != nil; e = r.evictList.Back() {
		nodes = append(nodes, r.removeElement(e))
	}
	return nodes
}

func (r *retention) removeElement(e *list.Element) *node {
	entry := r.evictList.Remove(e).(*retainedEntry)
	r.currentSize -= entry.size
	entry.node.retained = nil
	return entry.node
}

func (r *retention) len() int {
	return r.evictList.Len()
}

func (r *retention) size() int64 {
	return r.currentSize
}
