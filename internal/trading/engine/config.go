package engine

import (
	"time"

	"github.com/Aidin1998/pincex_matching/internal/trading/fillsink"
	"github.com/Aidin1998/pincex_matching/internal/trading/orderqueue"
)

// Config holds the matching loop settings for one instrument.
type Config struct {
	Symbol string

	IngressCapacity int
	IngressPolicy   orderqueue.Policy

	FillCapacity int
	FillPolicy   fillsink.Policy

	// PollTimeout bounds how long the loop waits for work before it checks
	// the stop flag again.
	PollTimeout time.Duration
	// DrainOnStop processes requests already queued at Stop. When false they
	// are discarded and discarded submissions end REJECTED.
	DrainOnStop bool
	// CheckInvariants runs OrderBook.Validate after every book mutation. A
	// violation halts the engine.
	CheckInvariants bool
}

// DefaultConfig returns the settings used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		Symbol:          "BTC-USD",
		IngressCapacity: 4096,
		IngressPolicy:   orderqueue.PolicyBlock,
		FillCapacity:    8192,
		FillPolicy:      fillsink.PolicyBlock,
		PollTimeout:     50 * time.Millisecond,
		DrainOnStop:     true,
	}
}

func (c *Config) applyDefaults() {
	def := DefaultConfig()
	if c.Symbol == "" {
		c.Symbol = def.Symbol
	}
	if c.IngressCapacity <= 0 {
		c.IngressCapacity = def.IngressCapacity
	}
	if c.FillCapacity <= 0 {
		c.FillCapacity = def.FillCapacity
	}
	if c.PollTimeout <= 0 {
		c.PollTimeout = def.PollTimeout
	}
}
