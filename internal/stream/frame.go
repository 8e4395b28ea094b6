package stream

import (
	"bytes"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"cfdfeed/internal/symbols"
	"cfdfeed/models"
)

// Disposition is the routing outcome for one inbound frame.
type Disposition int

const (
	DispositionUnrecognized Disposition = iota
	DispositionTrade
	DispositionOrderBook
	DispositionAck
	DispositionError
	DispositionMalformed
	DispositionPanic
)

func (d Disposition) String() string {
	switch d {
	case DispositionTrade:
		return "trade"
	case DispositionOrderBook:
		return "orderbook"
	case DispositionAck:
		return "ack"
	case DispositionError:
		return "error"
	case DispositionMalformed:
		return "malformed"
	case DispositionPanic:
		return "panic"
	default:
		return "unrecognized"
	}
}

// Dropped reports whether the frame was discarded because it could not be
// used, as opposed to acks and error replies which are expected traffic.
func (d Disposition) Dropped() bool {
	return d == DispositionMalformed || d == DispositionUnrecognized || d == DispositionPanic
}

// Shown when a depth frame carries no levels on either side.
var (
	placeholderBids = []models.PriceLevel{
		{Price: "112250.00", Size: "0.1"},
		{Price: "112249.00", Size: "0.5"},
	}
	placeholderAsks = []models.PriceLevel{
		{Price: "112252.00", Size: "0.2"},
		{Price: "112253.00", Size: "0.3"},
	}
)

var errNotArray = errors.New("levels are not an array")

type frameFields map[string]json.RawMessage

// decodedFrame is the classification of one frame. book is set only for
// DispositionOrderBook.
type decodedFrame struct {
	disposition Disposition
	stream      string
	book        *models.OrderBookSnapshot
}

// decodeFrame classifies raw and builds the order book snapshot when the
// frame carries one. It never mutates client state.
func decodeFrame(raw []byte, defaultSymbol string, now time.Time) decodedFrame {
	var obj frameFields
	if err := json.Unmarshal(raw, &obj); err != nil || obj == nil {
		return decodedFrame{disposition: DispositionMalformed}
	}

	if truthy(obj["id"]) && truthy(obj["result"]) {
		return decodedFrame{disposition: DispositionAck}
	}
	if truthy(obj["error"]) {
		return decodedFrame{disposition: DispositionError}
	}

	if truthy(obj["stream"]) {
		var stream string
		if err := json.Unmarshal(obj["stream"], &stream); err != nil {
			return decodedFrame{disposition: DispositionMalformed}
		}
		return decodeChannelFrame(obj, stream, defaultSymbol, now)
	}

	return decodeFlatFrame(obj, defaultSymbol, now)
}

func decodeChannelFrame(obj frameFields, stream, defaultSymbol string, now time.Time) decodedFrame {
	switch {
	case strings.Contains(stream, symbols.KindTrade) && truthy(obj["data"]):
		return decodedFrame{disposition: DispositionTrade, stream: stream}
	case strings.Contains(stream, symbols.KindDepth) || strings.Contains(stream, "orderbook"):
	default:
		return decodedFrame{disposition: DispositionUnrecognized, stream: stream}
	}

	var rawBids, rawAsks json.RawMessage
	if truthy(obj["data"]) {
		data := objectFields(obj["data"])
		rawBids = firstTruthy(data["bids"], data["b"])
		rawAsks = firstTruthy(data["asks"], data["a"])
	} else if truthy(obj["bids"]) || truthy(obj["asks"]) {
		rawBids = firstTruthy(obj["bids"])
		rawAsks = firstTruthy(obj["asks"])
	}

	bids, bidCount, err := parseLevels(rawBids)
	if err != nil {
		return decodedFrame{disposition: DispositionMalformed, stream: stream}
	}
	asks, askCount, err := parseLevels(rawAsks)
	if err != nil {
		return decodedFrame{disposition: DispositionMalformed, stream: stream}
	}

	if bidCount == 0 && askCount == 0 {
		bids = append([]models.PriceLevel(nil), placeholderBids...)
		asks = append([]models.PriceLevel(nil), placeholderAsks...)
	}

	return decodedFrame{
		disposition: DispositionOrderBook,
		stream:      stream,
		book: &models.OrderBookSnapshot{
			Symbol:    symbolFromStream(stream, defaultSymbol),
			Bids:      bids,
			Asks:      asks,
			Timestamp: now.UnixMilli(),
		},
	}
}

// decodeFlatFrame handles frames without a stream name. Levels come from the
// top level or a nested data object and only under the full key names.
func decodeFlatFrame(obj frameFields, defaultSymbol string, now time.Time) decodedFrame {
	var nested frameFields
	if truthy(obj["data"]) {
		nested = objectFields(obj["data"])
	}

	if !truthy(obj["bids"]) && !truthy(obj["asks"]) && !truthy(nested["bids"]) && !truthy(nested["asks"]) {
		return decodedFrame{disposition: DispositionUnrecognized}
	}

	bids, _, err := parseLevels(firstTruthy(obj["bids"], nested["bids"]))
	if err != nil {
		return decodedFrame{disposition: DispositionMalformed}
	}
	asks, _, err := parseLevels(firstTruthy(obj["asks"], nested["asks"]))
	if err != nil {
		return decodedFrame{disposition: DispositionMalformed}
	}

	return decodedFrame{
		disposition: DispositionOrderBook,
		book: &models.OrderBookSnapshot{
			Symbol:    defaultSymbol,
			Bids:      bids,
			Asks:      asks,
			Timestamp: now.UnixMilli(),
		},
	}
}

// symbolFromStream returns the segment after the first '.', so
// "depth.BTC_USDC" yields "BTC_USDC".
func symbolFromStream(stream, defaultSymbol string) string {
	if sym := symbols.FromChannel(stream); sym != "" {
		return sym
	}
	return defaultSymbol
}

// parseLevels decodes an array of [price, size, ...] entries. Prices and sizes
// may be JSON strings or numbers; numbers keep their literal text. Entries
// that are not arrays of at least two scalars are skipped. count is the
// length of the array before skipping.
func parseLevels(raw json.RawMessage) (levels []models.PriceLevel, count int, err error) {
	if !truthy(raw) {
		return []models.PriceLevel{}, 0, nil
	}

	var entries []json.RawMessage
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, 0, errNotArray
	}

	levels = make([]models.PriceLevel, 0, len(entries))
	for _, entry := range entries {
		var pair []json.RawMessage
		if err := json.Unmarshal(entry, &pair); err != nil || len(pair) < 2 {
			continue
		}
		price, ok := scalarText(pair[0])
		if !ok {
			continue
		}
		size, ok := scalarText(pair[1])
		if !ok {
			continue
		}
		levels = append(levels, models.PriceLevel{Price: price, Size: size})
	}
	return levels, len(entries), nil
}

func scalarText(raw json.RawMessage) (string, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return "", false
	}
	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", false
		}
		return s, true
	case '-', '0', '1', '2', '3', '4', '5', '6', '7', '8', '9':
		return string(raw), true
	default:
		return "", false
	}
}

// objectFields decodes raw as an object. Anything else yields no fields.
func objectFields(raw json.RawMessage) frameFields {
	var fields frameFields
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil
	}
	return fields
}

func firstTruthy(candidates ...json.RawMessage) json.RawMessage {
	for _, c := range candidates {
		if truthy(c) {
			return c
		}
	}
	return nil
}

// truthy applies loose truthiness to a JSON value: absent, null, false, 0 and
// "" are false; everything else, including empty arrays and objects, is true.
func truthy(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return false
	}
	switch raw[0] {
	case 'n', 'f':
		return false
	case '"':
		return len(raw) > 2
	case '-', '0', '1', '2', '3', '4', '5', '6', '7', '8', '9':
		v, err := strconv.ParseFloat(string(raw), 64)
		return err != nil || v != 0
	default:
		return true
	}
}
