package models

import (
	"github.com/shopspring/decimal"
)

// PriceLevel is a single (price, size) pair exactly as the upstream sent it.
type PriceLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

// OrderBookSnapshot is the full replacement view of the book built from one
// depth frame. Levels keep upstream order and string form.
type OrderBookSnapshot struct {
	Symbol    string       `json:"symbol"`
	Bids      []PriceLevel `json:"bids"`
	Asks      []PriceLevel `json:"asks"`
	Timestamp int64        `json:"timestamp"` // local receipt time, epoch ms
}

// BestBid returns the first bid level, which is the best bid when the upstream
// sends bids sorted descending.
func (s *OrderBookSnapshot) BestBid() (PriceLevel, bool) {
	if s == nil || len(s.Bids) == 0 {
		return PriceLevel{}, false
	}
	return s.Bids[0], true
}

// BestAsk returns the first ask level.
func (s *OrderBookSnapshot) BestAsk() (PriceLevel, bool) {
	if s == nil || len(s.Asks) == 0 {
		return PriceLevel{}, false
	}
	return s.Asks[0], true
}

// Spread returns best ask minus best bid. ok is false when either side is
// missing or a price does not parse as a decimal.
func (s *OrderBookSnapshot) Spread() (spread decimal.Decimal, ok bool) {
	bid, hasBid := s.BestBid()
	ask, hasAsk := s.BestAsk()
	if !hasBid || !hasAsk {
		return decimal.Zero, false
	}
	b, err := decimal.NewFromString(bid.Price)
	if err != nil {
		return decimal.Zero, false
	}
	a, err := decimal.NewFromString(ask.Price)
	if err != nil {
		return decimal.Zero, false
	}
	return a.Sub(b), true
}

// Clone returns a deep copy so callers can't mutate a published snapshot.
func (s *OrderBookSnapshot) Clone() *OrderBookSnapshot {
	if s == nil {
		return nil
	}
	out := &OrderBookSnapshot{Symbol: s.Symbol, Timestamp: s.Timestamp}
	out.Bids = append([]PriceLevel(nil), s.Bids...)
	out.Asks = append([]PriceLevel(nil), s.Asks...)
	return out
}
