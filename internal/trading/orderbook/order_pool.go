// Node pool for resting-order links
// Filled and cancelled orders hand their FIFO node back; new resting orders
// reuse it. Falls back to allocation when the pool is empty.

package orderbook

const nodePoolSize = 4096

// nodePool is owned by one book and shares its single-writer rule.
type nodePool struct {
	free []*orderNode
}

func (p *nodePool) get() *orderNode {
	if n := len(p.free); n > 0 {
		node := p.free[n-1]
		p.free[n-1] = nil
		p.free = p.free[:n-1]
		return node
	}
	return &orderNode{} // fallback if pool exhausted
}

func (p *nodePool) put(node *orderNode) {
	*node = orderNode{}
	if len(p.free) < nodePoolSize {
		p.free = append(p.free, node)
	}
	// pool full, let GC reclaim
}
