package orderbook

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/Aidin1998/pincex_matching/internal/trading/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type bookHarness struct {
	t      *testing.T
	ob     *OrderBook
	nextID uint64
}

func newHarness(t *testing.T) *bookHarness {
	return &bookHarness{t: t, ob: NewOrderBook("TEST")}
}

func (h *bookHarness) order(side model.Side, price, qty int64, owner string) *model.Order {
	h.nextID++
	return &model.Order{
		ID:             h.nextID,
		Side:           side,
		Price:          price,
		Quantity:       qty,
		Remaining:      qty,
		OwnerID:        owner,
		IdempotencyKey: fmt.Sprintf("key-%d", h.nextID),
		Seq:            h.nextID,
	}
}

func (h *bookHarness) match(side model.Side, price, qty int64, owner string) (*model.Order, []model.Fill) {
	o := h.order(side, price, qty, owner)
	fills, err := h.ob.Match(o)
	require.NoError(h.t, err)
	require.NoError(h.t, h.ob.Validate())
	return o, fills
}

func TestOrderBook_CrossingAgainstAsk(t *testing.T) {
	h := newHarness(t)
	_, fills := h.match(model.Buy, 100, 10, "u1")
	assert.Empty(t, fills)
	ask, fills := h.match(model.Sell, 101, 5, "u2")
	assert.Empty(t, fills, "100 < 101 must not cross")

	bid, ok := h.ob.BestBid()
	require.True(t, ok)
	assert.Equal(t, int64(100), bid)
	best, ok := h.ob.BestAsk()
	require.True(t, ok)
	assert.Equal(t, int64(101), best)

	taker, fills := h.match(model.Buy, 101, 3, "u3")
	require.Len(t, fills, 1)
	assert.Equal(t, int64(101), fills[0].Price)
	assert.Equal(t, int64(3), fills[0].Quantity)
	assert.Equal(t, ask.ID, fills[0].MakerID)
	assert.Equal(t, taker.ID, fills[0].TakerID)
	assert.Equal(t, model.Buy, fills[0].TakerSide)

	lvl, ok := h.ob.Level(model.Sell, 101)
	require.True(t, ok)
	assert.Equal(t, int64(2), lvl.Total())
	assert.Zero(t, taker.Remaining)
	_, resting := h.ob.Order(taker.ID)
	assert.False(t, resting, "fully filled taker must not rest")
}

func TestOrderBook_RestingRemainder(t *testing.T) {
	h := newHarness(t)
	maker, _ := h.match(model.Buy, 100, 10, "u1")

	taker, fills := h.match(model.Sell, 99, 15, "u2")
	require.Len(t, fills, 1)
	assert.Equal(t, model.Fill{
		Seq: 1, MakerID: maker.ID, TakerID: taker.ID, MakerOwner: "u1", TakerOwner: "u2",
		TakerSide: model.Sell, Price: 100, Quantity: 10,
	}, fills[0])

	_, ok := h.ob.BestBid()
	assert.False(t, ok, "bid level 100 must be gone")
	ask, ok := h.ob.BestAsk()
	require.True(t, ok)
	assert.Equal(t, int64(99), ask)

	rested, ok := h.ob.Order(taker.ID)
	require.True(t, ok)
	assert.Equal(t, int64(5), rested.Remaining)
}

func TestOrderBook_Cancel(t *testing.T) {
	h := newHarness(t)
	o, _ := h.match(model.Buy, 100, 10, "u1")

	assert.True(t, h.ob.Cancel(o.ID))
	_, ok := h.ob.Level(model.Buy, 100)
	assert.False(t, ok)
	_, ok = h.ob.BestBid()
	assert.False(t, ok)
	assert.False(t, h.ob.Cancel(o.ID), "second cancel must fail")
	assert.False(t, h.ob.Cancel(9999), "unknown id must fail")
	require.NoError(t, h.ob.Validate())
}

func TestOrderBook_CancelFilledOrderLeavesBookUnchanged(t *testing.T) {
	h := newHarness(t)
	maker, _ := h.match(model.Sell, 50, 4, "m")
	h.match(model.Sell, 51, 4, "m")
	h.match(model.Buy, 50, 4, "t")

	before := h.ob.Depth(0)
	assert.False(t, h.ob.Cancel(maker.ID))
	assert.Equal(t, before, h.ob.Depth(0))
}

func TestOrderBook_CancelMiddleKeepsFIFO(t *testing.T) {
	h := newHarness(t)
	a, _ := h.match(model.Sell, 10, 1, "a")
	b, _ := h.match(model.Sell, 10, 1, "b")
	c, _ := h.match(model.Sell, 10, 1, "c")
	require.True(t, h.ob.Cancel(b.ID))
	require.NoError(t, h.ob.Validate())

	_, fills := h.match(model.Buy, 10, 2, "t")
	require.Len(t, fills, 2)
	assert.Equal(t, a.ID, fills[0].MakerID)
	assert.Equal(t, c.ID, fills[1].MakerID)
}

func TestOrderBook_PriceTimePriority(t *testing.T) {
	h := newHarness(t)
	first, _ := h.match(model.Sell, 100, 5, "early")
	second, _ := h.match(model.Sell, 100, 5, "late")
	better, _ := h.match(model.Sell, 99, 2, "better")

	_, fills := h.match(model.Buy, 100, 9, "taker")
	require.Len(t, fills, 3)
	assert.Equal(t, better.ID, fills[0].MakerID, "better price first")
	assert.Equal(t, int64(99), fills[0].Price)
	assert.Equal(t, first.ID, fills[1].MakerID, "earlier arrival next")
	assert.Equal(t, int64(5), fills[1].Quantity)
	assert.Equal(t, second.ID, fills[2].MakerID)
	assert.Equal(t, int64(2), fills[2].Quantity)

	assert.Equal(t, int64(3), second.Remaining)
	for i := 1; i < len(fills); i++ {
		assert.Greater(t, fills[i].Seq, fills[i-1].Seq)
	}
}

func TestOrderBook_SweepsMultipleLevelsAtMakerPrices(t *testing.T) {
	h := newHarness(t)
	h.match(model.Buy, 105, 1, "m")
	h.match(model.Buy, 104, 1, "m")
	h.match(model.Buy, 103, 1, "m")

	_, fills := h.match(model.Sell, 100, 5, "t")
	require.Len(t, fills, 3)
	assert.Equal(t, []int64{105, 104, 103}, []int64{fills[0].Price, fills[1].Price, fills[2].Price})

	ask, ok := h.ob.BestAsk()
	require.True(t, ok)
	assert.Equal(t, int64(100), ask)
	_, ok = h.ob.BestBid()
	assert.False(t, ok)
}

func TestOrderBook_RejectsMalformed(t *testing.T) {
	ob := NewOrderBook("TEST")
	_, err := ob.Match(&model.Order{ID: 1, Side: model.Buy, Price: 0, Quantity: 1, Remaining: 1})
	assert.ErrorIs(t, err, model.ErrInvalidPrice)
	_, err = ob.Match(&model.Order{ID: 1, Side: model.Buy, Price: 1, Quantity: 0})
	assert.ErrorIs(t, err, model.ErrInvalidQuantity)

	o := &model.Order{ID: 7, Side: model.Buy, Price: 1, Quantity: 1, Remaining: 1}
	_, err = ob.Match(o)
	require.NoError(t, err)
	dup := *o
	_, err = ob.Match(&dup)
	assert.ErrorIs(t, err, ErrDuplicateOrderID)
	assert.Equal(t, 1, ob.Len())
}

func TestOrderBook_Depth(t *testing.T) {
	h := newHarness(t)
	h.match(model.Buy, 98, 1, "a")
	h.match(model.Buy, 99, 2, "a")
	h.match(model.Buy, 99, 3, "b")
	h.match(model.Sell, 101, 4, "c")
	h.match(model.Sell, 103, 5, "c")

	d := h.ob.Depth(1)
	assert.Equal(t, []model.Level{{Price: 99, Quantity: 5, Orders: 2}}, d.Bids)
	assert.Equal(t, []model.Level{{Price: 101, Quantity: 4, Orders: 1}}, d.Asks)

	all := h.ob.Depth(0)
	assert.Len(t, all.Bids, 2)
	assert.Len(t, all.Asks, 2)
}

func TestOrderBook_ValidateDetectsCorruption(t *testing.T) {
	h := newHarness(t)
	o, _ := h.match(model.Buy, 100, 10, "u1")
	o.Remaining = 0
	assert.ErrorIs(t, h.ob.Validate(), ErrCorrupted)
}

func TestOrderBook_RecyclesNodes(t *testing.T) {
	h := newHarness(t)
	a, _ := h.match(model.Buy, 100, 1, "u1")
	b, _ := h.match(model.Buy, 100, 1, "u2")
	assert.Empty(t, h.ob.nodes.free)

	require.True(t, h.ob.Cancel(a.ID))
	require.Len(t, h.ob.nodes.free, 1)
	recycled := h.ob.nodes.free[0]
	assert.Nil(t, recycled.order, "returned node must be reset")

	c, _ := h.match(model.Buy, 100, 1, "u3")
	assert.Empty(t, h.ob.nodes.free)
	assert.Same(t, recycled, h.ob.orders[c.ID])

	lvl, ok := h.ob.Level(model.Buy, 100)
	require.True(t, ok)
	ids := []uint64{}
	for _, o := range lvl.Orders() {
		ids = append(ids, o.ID)
	}
	assert.Equal(t, []uint64{b.ID, c.ID}, ids)

	// A fully filled maker hands its node back too.
	h.match(model.Sell, 100, 1, "u4")
	assert.Len(t, h.ob.nodes.free, 1)
}

// Randomized run checking conservation, adverse price and priority properties.
func TestOrderBook_RandomizedProperties(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	h := newHarness(t)

	var submitted, filled int64
	resting := map[uint64]*model.Order{}

	for i := 0; i < 5000; i++ {
		side := model.Buy
		if rng.Intn(2) == 0 {
			side = model.Sell
		}
		o := h.order(side, 95+rng.Int63n(11), 1+rng.Int63n(20), "p")
		submitted += o.Quantity

		// Snapshot opposite FIFO heads to check priority of the first fill.
		bestLevel, hasBest := h.ob.best(side.Opposite())
		var head uint64
		if hasBest {
			head = bestLevel.head.order.ID
		}

		fills, err := h.ob.Match(o)
		require.NoError(t, err)

		for j, f := range fills {
			filled += f.Quantity
			maker, ok := resting[f.MakerID]
			require.True(t, ok, "fill against non-resting maker %d", f.MakerID)
			assert.Equal(t, maker.Price, f.Price, "fill must execute at maker price")
			assert.NotEqual(t, side, maker.Side)
			if j == 0 {
				assert.Equal(t, head, f.MakerID, "first fill must hit the best level FIFO head")
			}
		}
		if o.Remaining > 0 {
			resting[o.ID] = o
		}
		for id, r := range resting {
			if r.Remaining == 0 {
				delete(resting, id)
			}
		}

		// Every fill consumes its quantity from both the maker and the taker.
		require.Equal(t, submitted, h.ob.RestingQuantity()+2*filled, "conservation")
		require.NoError(t, h.ob.Validate())
	}
}

func BenchmarkOrderBook_Match(b *testing.B) {
	ob := NewOrderBook("BENCH")
	rng := rand.New(rand.NewSource(1))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		side := model.Buy
		if i%2 == 0 {
			side = model.Sell
		}
		qty := 1 + rng.Int63n(10)
		_, _ = ob.Match(&model.Order{
			ID:        uint64(i + 1),
			Side:      side,
			Price:     1000 + rng.Int63n(20),
			Quantity:  qty,
			Remaining: qty,
		})
	}
}
