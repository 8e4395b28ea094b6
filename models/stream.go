package models

import (
	"encoding/json"
	"fmt"
)

// ConnectionState reports whether the upstream socket is open.
type ConnectionState string

const (
	StateDisconnected ConnectionState = "disconnected"
	StateConnected    ConnectionState = "connected"
)

// TradeRecord is the raw text of a trade frame, kept verbatim.
type TradeRecord string

// SubscribeRequest is the outbound control frame for one channel.
type SubscribeRequest struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
	ID     int      `json:"id"`
}

// TradeEvent is the decoded payload of a trade frame. Only the fields the
// feed tools display are kept.
type TradeEvent struct {
	Stream     string `json:"stream"`
	Symbol     string `json:"symbol"`
	Price      string `json:"price"`
	Quantity   string `json:"quantity"`
	TradeID    int64  `json:"trade_id"`
	Timestamp  int64  `json:"timestamp"`
	BuyerMaker bool   `json:"buyer_maker"`
}

type tradeFrame struct {
	Stream string `json:"stream"`
	Data   struct {
		Symbol     string `json:"s"`
		Price      string `json:"p"`
		Quantity   string `json:"q"`
		TradeID    int64  `json:"t"`
		Timestamp  int64  `json:"T"`
		BuyerMaker bool   `json:"m"`
	} `json:"data"`
}

// Decode parses the raw frame. Records are stored undecoded, so this is the
// first point a bad payload is noticed.
func (r TradeRecord) Decode() (TradeEvent, error) {
	var f tradeFrame
	if err := json.Unmarshal([]byte(r), &f); err != nil {
		return TradeEvent{}, fmt.Errorf("decode trade: %w", err)
	}
	return TradeEvent{
		Stream:     f.Stream,
		Symbol:     f.Data.Symbol,
		Price:      f.Data.Price,
		Quantity:   f.Data.Quantity,
		TradeID:    f.Data.TradeID,
		Timestamp:  f.Data.Timestamp,
		BuyerMaker: f.Data.BuyerMaker,
	}, nil
}
