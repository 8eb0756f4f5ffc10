package orderbook

import "github.com/Aidin1998/pincex_matching/internal/trading/model"

// orderNode links a resting order into its price level. The id index points
// at nodes so cancel can unlink in O(1).
type orderNode struct {
	order *model.Order
	prev  *orderNode
	next  *orderNode
	level *PriceLevel
}

// PriceLevel holds all resting orders at one price in arrival order.
// A level with no orders never stays in the book.
type PriceLevel struct {
	Price int64
	head  *orderNode
	tail  *orderNode
	count int
	total int64 // sum of Remaining over the FIFO
}

func newPriceLevel(price int64) *PriceLevel {
	return &PriceLevel{Price: price}
}

// Len returns the number of resting orders.
func (pl *PriceLevel) Len() int { return pl.count }

// Total returns the resting quantity at this price.
func (pl *PriceLevel) Total() int64 { return pl.total }

// Orders returns the FIFO contents, oldest first. Allocates; use for views only.
func (pl *PriceLevel) Orders() []*model.Order {
	out := make([]*model.Order, 0, pl.count)
	for n := pl.head; n != nil; n = n.next {
		out = append(out, n.order)
	}
	return out
}

func (pl *PriceLevel) append(n *orderNode) {
	n.level = pl
	if pl.tail == nil {
		pl.head = n
		pl.tail = n
	} else {
		n.prev = pl.tail
		pl.tail.next = n
		pl.tail = n
	}
	pl.count++
	pl.total += n.order.Remaining
}

func (pl *PriceLevel) remove(n *orderNode) {
	pl.total -= n.order.Remaining
	pl.count--
	if n.prev != nil {
		n.prev.next = n.next
	} else {
		pl.head = n.next
	}
	if n.next != nil {
		n.next.prev = n.prev
	} else {
		pl.tail = n.prev
	}
	n.prev, n.next, n.level = nil, nil, nil
}
