package models

import (
	"context"
	"sync"
)

// ChannelStats counts messages moved through (or dropped at) the pipeline
// channels since startup.
type ChannelStats struct {
	QuotesSent    int64
	QuotesDropped int64
	EventsSent    int64
	EventsDropped int64
}

// Channels bundles the buffered channels connecting the scan pass to the
// asynchronous sinks: Quotes feeds the archive writer with every observed
// snapshot, Events feeds the stream publisher with flagged trades.
type Channels struct {
	Quotes chan OptionSnapshot
	Events chan TradeEvent

	stats      ChannelStats
	statsMutex sync.RWMutex
}

func NewChannels(quoteBufferSize, eventBufferSize int) *Channels {
	return &Channels{
		Quotes: make(chan OptionSnapshot, quoteBufferSize),
		Events: make(chan TradeEvent, eventBufferSize),
	}
}

func (c *Channels) Close() {
	close(c.Quotes)
	close(c.Events)
}

// SendQuote attempts a non-blocking send. A full buffer drops the message so a
// slow sink can never stall a scan.
func (c *Channels) SendQuote(ctx context.Context, q OptionSnapshot) bool {
	select {
	case c.Quotes <- q:
		c.statsMutex.Lock()
		c.stats.QuotesSent++
		c.statsMutex.Unlock()
		return true
	case <-ctx.Done():
		return false
	default:
		c.statsMutex.Lock()
		c.stats.QuotesDropped++
		c.statsMutex.Unlock()
		return false
	}
}

// SendEvent attempts a non-blocking send of a flagged trade event.
func (c *Channels) SendEvent(ctx context.Context, ev TradeEvent) bool {
	select {
	case c.Events <- ev:
		c.statsMutex.Lock()
		c.stats.EventsSent++
		c.statsMutex.Unlock()
		return true
	case <-ctx.Done():
		return false
	default:
		c.statsMutex.Lock()
		c.stats.EventsDropped++
		c.statsMutex.Unlock()
		return false
	}
}

func (c *Channels) GetStats() ChannelStats {
	c.statsMutex.RLock()
	defer c.statsMutex.RUnlock()
	return c.stats
}
