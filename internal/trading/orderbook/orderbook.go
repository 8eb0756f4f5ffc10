// =============================
// Matching Core Order Book
// =============================
// Price-time priority book for a single instrument.
//
// How it works:
// - Each side is a B-tree of price levels keyed by integer tick price.
// - Each level is a FIFO of resting orders; arrival order is the dequeue order of the engine.
// - An id index points at FIFO nodes for O(1) cancel.
//
// Concurrency Model:
// - The book has no locks. It is owned by the matching loop goroutine and is
//   never handed to another goroutine. Readers elsewhere use the quote and
//   depth snapshots the loop publishes.

package orderbook

import (
	"errors"
	"fmt"

	"github.com/Aidin1998/pincex_matching/internal/trading/model"
	"github.com/tidwall/btree"
)

const btreeDegree = 32

var (
	// ErrDuplicateOrderID is returned when an incoming order reuses the id of a resting order.
	ErrDuplicateOrderID = errors.New("order id already resting in book")
	// ErrCorrupted wraps every invariant violation found by Validate.
	ErrCorrupted = errors.New("order book invariant violated")
)

// OrderBook is a single-owner limit order book.
type OrderBook struct {
	Symbol string

	bids   *btree.Map[int64, *PriceLevel] // best = Max
	asks   *btree.Map[int64, *PriceLevel] // best = Min
	orders map[uint64]*orderNode
	nodes  nodePool

	bestBid, bestAsk int64
	hasBid, hasAsk   bool

	fillSeq uint64
}

// NewOrderBook creates an empty book.
func NewOrderBook(symbol string) *OrderBook {
	return &OrderBook{
		Symbol: symbol,
		bids:   btree.NewMap[int64, *PriceLevel](btreeDegree),
		asks:   btree.NewMap[int64, *PriceLevel](btreeDegree),
		orders: make(map[uint64]*orderNode),
	}
}

// Match runs the crossing algorithm for an incoming limit order.
//
// The incoming order is swept against the opposite side while its limit
// crosses the best level, consuming each level from the FIFO head. Every fill
// executes at the resting level's price. Any remainder rests at the tail of
// its own side's level at its limit price. incoming.Remaining is updated in
// place; the book keeps the pointer if the order rests.
func (ob *OrderBook) Match(incoming *model.Order) ([]model.Fill, error) {
	if incoming == nil {
		return nil, fmt.Errorf("nil order")
	}
	switch {
	case !incoming.Side.Valid():
		return nil, model.ErrInvalidSide
	case incoming.Price <= 0:
		return nil, model.ErrInvalidPrice
	case incoming.Quantity <= 0:
		return nil, model.ErrInvalidQuantity
	}
	if incoming.Remaining <= 0 || incoming.Remaining > incoming.Quantity {
		return nil, fmt.Errorf("order %d: remaining %d outside (0, %d]", incoming.ID, incoming.Remaining, incoming.Quantity)
	}
	if _, exists := ob.orders[incoming.ID]; exists {
		return nil, fmt.Errorf("order %d: %w", incoming.ID, ErrDuplicateOrderID)
	}

	var fills []model.Fill
	opposite := incoming.Side.Opposite()

	for incoming.Remaining > 0 {
		level, ok := ob.best(opposite)
		if !ok || !crosses(incoming, level.Price) {
			break
		}
		for incoming.Remaining > 0 && level.head != nil {
			maker := level.head.order
			qty := min(incoming.Remaining, maker.Remaining)

			ob.fillSeq++
			fills = append(fills, model.Fill{
				Seq:        ob.fillSeq,
				MakerID:    maker.ID,
				TakerID:    incoming.ID,
				MakerOwner: maker.OwnerID,
				TakerOwner: incoming.OwnerID,
				TakerSide:  incoming.Side,
				Price:      level.Price,
				Quantity:   qty,
			})

			incoming.Remaining -= qty
			maker.Remaining -= qty
			level.total -= qty

			if maker.Remaining == 0 {
				head := level.head
				level.remove(head)
				delete(ob.orders, maker.ID)
				ob.nodes.put(head)
			}
		}
		if level.count == 0 {
			ob.removeLevel(opposite, level.Price)
		}
	}

	if incoming.Remaining > 0 {
		ob.rest(incoming)
	}
	return fills, nil
}

// crosses reports whether an incoming order's limit reaches a resting price p.
func crosses(incoming *model.Order, p int64) bool {
	if incoming.Side == model.Buy {
		return p <= incoming.Price
	}
	return p >= incoming.Price
}

// Cancel removes a resting order. It returns false, leaving the book
// untouched, when the id is unknown or the order is no longer resting.
func (ob *OrderBook) Cancel(orderID uint64) bool {
	node, ok := ob.orders[orderID]
	if !ok {
		return false
	}
	level := node.level
	side := node.order.Side
	level.remove(node)
	delete(ob.orders, orderID)
	ob.nodes.put(node)
	if level.count == 0 {
		ob.removeLevel(side, level.Price)
	}
	return true
}

// BestBid returns the highest bid price, if any.
func (ob *OrderBook) BestBid() (int64, bool) { return ob.bestBid, ob.hasBid }

// BestAsk returns the lowest ask price, if any.
func (ob *OrderBook) BestAsk() (int64, bool) { return ob.bestAsk, ob.hasAsk }

// Quote returns both sides of the top of book.
func (ob *OrderBook) Quote() model.Quote {
	return model.Quote{BidPrice: ob.bestBid, BidOK: ob.hasBid, AskPrice: ob.bestAsk, AskOK: ob.hasAsk}
}

// Order returns a copy of a resting order.
func (ob *OrderBook) Order(orderID uint64) (model.Order, bool) {
	node, ok := ob.orders[orderID]
	if !ok {
		return model.Order{}, false
	}
	return *node.order, true
}

// Len returns the number of resting orders.
func (ob *OrderBook) Len() int { return len(ob.orders) }

// Level returns the resting level at price on side.
func (ob *OrderBook) Level(side model.Side, price int64) (*PriceLevel, bool) {
	return ob.tree(side).Get(price)
}

// Depth aggregates up to n levels per side, best price first. n <= 0 means all levels.
func (ob *OrderBook) Depth(n int) model.Depth {
	var d model.Depth
	collect := func(dst *[]model.Level) func(int64, *PriceLevel) bool {
		return func(price int64, lvl *PriceLevel) bool {
			*dst = append(*dst, model.Level{Price: price, Quantity: lvl.total, Orders: lvl.count})
			return n <= 0 || len(*dst) < n
		}
	}
	ob.bids.Reverse(collect(&d.Bids))
	ob.asks.Scan(collect(&d.Asks))
	return d
}

// RestingQuantity sums Remaining over every resting order.
func (ob *OrderBook) RestingQuantity() int64 {
	var total int64
	sum := func(_ int64, lvl *PriceLevel) bool {
		total += lvl.total
		return true
	}
	ob.bids.Scan(sum)
	ob.asks.Scan(sum)
	return total
}

func (ob *OrderBook) tree(side model.Side) *btree.Map[int64, *PriceLevel] {
	if side == model.Buy {
		return ob.bids
	}
	return ob.asks
}

func (ob *OrderBook) best(side model.Side) (*PriceLevel, bool) {
	if side == model.Buy {
		if !ob.hasBid {
			return nil, false
		}
		return ob.bids.Get(ob.bestBid)
	}
	if !ob.hasAsk {
		return nil, false
	}
	return ob.asks.Get(ob.bestAsk)
}

func (ob *OrderBook) rest(o *model.Order) {
	tree := ob.tree(o.Side)
	level, ok := tree.Get(o.Price)
	if !ok {
		level = newPriceLevel(o.Price)
		tree.Set(o.Price, level)
		ob.levelAdded(o.Side, o.Price)
	}
	n := ob.nodes.get()
	n.order = o
	level.append(n)
	ob.orders[o.ID] = n
}

func (ob *OrderBook) levelAdded(side model.Side, price int64) {
	if side == model.Buy {
		if !ob.hasBid || price > ob.bestBid {
			ob.bestBid, ob.hasBid = price, true
		}
		return
	}
	if !ob.hasAsk || price < ob.bestAsk {
		ob.bestAsk, ob.hasAsk = price, true
	}
}

func (ob *OrderBook) removeLevel(side model.Side, price int64) {
	tree := ob.tree(side)
	tree.Delete(price)
	if side == model.Buy {
		if price == ob.bestBid {
			ob.bestBid, _, ob.hasBid = tree.Max()
		}
		return
	}
	if price == ob.bestAsk {
		ob.bestAsk, _, ob.hasAsk = tree.Min()
	}
}

// Validate walks the whole book and reports the first invariant violation.
// It is O(n) and meant for tests and the engine's optional per-request check.
func (ob *OrderBook) Validate() error {
	bidCount, err := ob.validateSide(model.Buy)
	if err != nil {
		return err
	}
	askCount, err := ob.validateSide(model.Sell)
	if err != nil {
		return err
	}
	if seen := bidCount + askCount; seen != len(ob.orders) {
		return fmt.Errorf("%w: index holds %d orders, levels hold %d", ErrCorrupted, len(ob.orders), seen)
	}

	maxBid, _, okBid := ob.bids.Max()
	minAsk, _, okAsk := ob.asks.Min()
	if okBid != ob.hasBid || (okBid && maxBid != ob.bestBid) {
		return fmt.Errorf("%w: cached best bid stale", ErrCorrupted)
	}
	if okAsk != ob.hasAsk || (okAsk && minAsk != ob.bestAsk) {
		return fmt.Errorf("%w: cached best ask stale", ErrCorrupted)
	}
	if okBid && okAsk && maxBid >= minAsk {
		return fmt.Errorf("%w: crossed book bid=%d ask=%d", ErrCorrupted, maxBid, minAsk)
	}
	return nil
}

func (ob *OrderBook) validateSide(side model.Side) (int, error) {
	var err error
	seen := 0
	ob.tree(side).Scan(func(price int64, lvl *PriceLevel) bool {
		err = ob.validateLevel(side, price, lvl)
		seen += lvl.count
		return err == nil
	})
	return seen, err
}

func (ob *OrderBook) validateLevel(side model.Side, price int64, lvl *PriceLevel) error {
	if lvl.count == 0 || lvl.head == nil {
		return fmt.Errorf("%w: empty %s level at %d", ErrCorrupted, side, price)
	}
	count, total := 0, int64(0)
	for n := lvl.head; n != nil; n = n.next {
		o := n.order
		switch {
		case o.Side != side:
			return fmt.Errorf("%w: order %d on wrong side", ErrCorrupted, o.ID)
		case o.Price != price:
			return fmt.Errorf("%w: order %d price %d in level %d", ErrCorrupted, o.ID, o.Price, price)
		case o.Remaining <= 0:
			return fmt.Errorf("%w: order %d resting with remaining %d", ErrCorrupted, o.ID, o.Remaining)
		case ob.orders[o.ID] != n || n.level != lvl:
			return fmt.Errorf("%w: order %d not indexed", ErrCorrupted, o.ID)
		}
		count++
		total += o.Remaining
	}
	if count != lvl.count || total != lvl.total {
		return fmt.Errorf("%w: level %d accounting count=%d/%d total=%d/%d",
			ErrCorrupted, price, count, lvl.count, total, lvl.total)
	}
	return nil
}
