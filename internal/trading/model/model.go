// Package model holds the value types shared by the matching core:
// orders, fills, top-of-book quotes and aggregated depth rows.
package model

import (
	"errors"
	"fmt"
	"time"
)

// Side is the direction of an order.
type Side uint8

const (
	Buy Side = iota + 1
	Sell
)

func (s Side) String() string {
	switch s {
	case Buy:
		return "BUY"
	case Sell:
		return "SELL"
	default:
		return "UNKNOWN"
	}
}

// Valid reports whether s is Buy or Sell.
func (s Side) Valid() bool { return s == Buy || s == Sell }

// Opposite returns the side an order of side s matches against.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

// ParseSide accepts "buy"/"sell" in any case.
func ParseSide(v string) (Side, error) {
	switch v {
	case "buy", "BUY", "Buy", "bid", "BID":
		return Buy, nil
	case "sell", "SELL", "Sell", "ask", "ASK":
		return Sell, nil
	}
	return 0, fmt.Errorf("unknown side %q", v)
}

// Validation errors reported for malformed submissions.
var (
	ErrInvalidSide     = errors.New("side must be buy or sell")
	ErrInvalidPrice    = errors.New("price must be positive")
	ErrInvalidQuantity = errors.New("quantity must be positive")
	ErrMissingKey      = errors.New("idempotency key is required")
)

// Order is a simple limit order. Prices are integer ticks and quantities
// integer lots. Remaining only ever decreases; an order with Remaining == 0
// is not present in the book.
type Order struct {
	ID             uint64    `json:"id"`
	Side           Side      `json:"side"`
	Price          int64     `json:"price"`
	Quantity       int64     `json:"quantity"`
	Remaining      int64     `json:"remaining"`
	OwnerID        string    `json:"owner_id"`
	IdempotencyKey string    `json:"idempotency_key"`
	Seq            uint64    `json:"seq"` // arrival sequence, assigned at dequeue
	CreatedAt      time.Time `json:"created_at"`
}

// Validate checks the fields a submission must carry before it may reach the book.
func (o *Order) Validate() error {
	if !o.Side.Valid() {
		return ErrInvalidSide
	}
	if o.Price <= 0 {
		return ErrInvalidPrice
	}
	if o.Quantity <= 0 {
		return ErrInvalidQuantity
	}
	if o.IdempotencyKey == "" {
		return ErrMissingKey
	}
	return nil
}

// Filled returns the executed quantity so far.
func (o *Order) Filled() int64 { return o.Quantity - o.Remaining }

// Fill is one execution between a resting (maker) and an incoming (taker) order.
// It is a value type; nothing mutates it after the book emits it.
type Fill struct {
	Seq        uint64 `json:"seq"`
	MakerID    uint64 `json:"maker_id"`
	TakerID    uint64 `json:"taker_id"`
	MakerOwner string `json:"maker_owner"`
	TakerOwner string `json:"taker_owner"`
	TakerSide  Side   `json:"taker_side"`
	Price      int64  `json:"price"` // always the maker's price
	Quantity   int64  `json:"quantity"`
}

// Quote is the top of book as published by the matching loop after each request.
type Quote struct {
	BidPrice int64
	BidOK    bool
	AskPrice int64
	AskOK    bool
	Seq      uint64 // arrival sequence of the last request applied
}

// Level is one aggregated row of book depth.
type Level struct {
	Price    int64 `json:"price"`
	Quantity int64 `json:"quantity"`
	Orders   int   `json:"orders"`
}

// Depth is an aggregated view of both sides, best price first.
type Depth struct {
	Bids []Level `json:"bids"`
	Asks []Level `json:"asks"`
	Seq  uint64  `json:"seq"`
}
